// Package graph maintains the per-workflow task DAG and its scheduler.
//
// The graph tracks dependency edges and unmet-predecessor counters; the
// scheduler layers admission control on top: bounded concurrency, file
// path locking, priority ordering and retry backoff.
package graph

import (
	"fmt"
	"sync"

	"github.com/aurora-dev/aurora/internal/core"
)

// TaskGraph is a dependency DAG over tasks. Mutations reject anything that
// would create a cycle; the graph can only ever hold a valid partial order.
// Safe for concurrent use.
type TaskGraph struct {
	mu    sync.Mutex
	tasks map[core.TaskID]*core.Task

	// succ[d] lists tasks that depend on d. unmet[t] counts t's
	// dependencies that have not yet succeeded.
	succ  map[core.TaskID][]core.TaskID
	unmet map[core.TaskID]int
}

// NewTaskGraph creates an empty task graph.
func NewTaskGraph() *TaskGraph {
	return &TaskGraph{
		tasks: make(map[core.TaskID]*core.Task),
		succ:  make(map[core.TaskID][]core.TaskID),
		unmet: make(map[core.TaskID]int),
	}
}

// AddTask inserts a task and its dependency edges. All dependencies must
// already be present. Returns the task IDs that became ready, which is the
// task itself when every dependency has already succeeded.
func (g *TaskGraph) AddTask(t *core.Task) ([]core.TaskID, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.tasks[t.ID]; exists {
		return nil, core.ErrState(core.CodeDuplicateTask,
			fmt.Sprintf("task %s already exists in graph", t.ID))
	}

	deps := t.AllDeps()
	for _, dep := range deps {
		if _, ok := g.tasks[dep]; !ok {
			return nil, core.ErrValidation("UNKNOWN_DEPENDENCY",
				fmt.Sprintf("task %s depends on unknown task %s", t.ID, dep))
		}
	}

	g.tasks[t.ID] = t
	pending := 0
	for _, dep := range deps {
		g.succ[dep] = append(g.succ[dep], t.ID)
		if !g.tasks[dep].IsSuccess() {
			pending++
		}
	}
	g.unmet[t.ID] = pending

	if pending == 0 {
		if err := t.MarkReady(); err != nil {
			return nil, err
		}
		return []core.TaskID{t.ID}, nil
	}
	return nil, nil
}

// AddDependency inserts an edge from task to dep after both exist, used by
// dynamic decomposition. Rejected with CYCLE_DETECTED when dep is reachable
// from task.
func (g *TaskGraph) AddDependency(taskID, depID core.TaskID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[taskID]
	if !ok {
		return core.ErrNotFound("task", string(taskID))
	}
	dep, ok := g.tasks[depID]
	if !ok {
		return core.ErrNotFound("task", string(depID))
	}
	if taskID == depID || g.reachable(taskID, depID) {
		return core.ErrCycleDetected(string(taskID))
	}
	if t.Status != core.TaskStatusPending {
		return core.ErrState(core.CodeInvalidState,
			fmt.Sprintf("cannot add dependency to task in %s state", t.Status))
	}

	t.HardDeps = append(t.HardDeps, depID)
	g.succ[depID] = append(g.succ[depID], taskID)
	if !dep.IsSuccess() {
		g.unmet[taskID]++
	}
	return nil
}

// reachable walks successor edges from start looking for target.
// Caller holds the lock.
func (g *TaskGraph) reachable(start, target core.TaskID) bool {
	seen := map[core.TaskID]bool{start: true}
	stack := []core.TaskID{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range g.succ[n] {
			if next == target {
				return true
			}
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// Get returns a task by ID.
func (g *TaskGraph) Get(id core.TaskID) (*core.Task, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	return t, ok
}

// Status returns a task's current status. Task state only ever changes
// under the graph lock, so this is the one safe way to observe it while
// workers run.
func (g *TaskGraph) Status(id core.TaskID) (core.TaskStatus, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	if !ok {
		return "", false
	}
	return t.Status, true
}

// MarkRunning transitions a ready task to running and returns its attempt
// counter for event payloads.
func (g *TaskGraph) MarkRunning(id core.TaskID, agent core.AgentID) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	if !ok {
		return 0, core.ErrNotFound("task", string(id))
	}
	if err := t.MarkRunning(agent); err != nil {
		return 0, err
	}
	return t.Attempts, nil
}

// MarkBlocked parks a ready task for human decomposition and returns its
// token estimate for event payloads.
func (g *TaskGraph) MarkBlocked(id core.TaskID) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	if !ok {
		return 0, core.ErrNotFound("task", string(id))
	}
	if err := t.MarkBlockedContext(); err != nil {
		return 0, err
	}
	return t.EstimatedTokens, nil
}

// MarkFailed records a failed attempt. Reports whether the retry policy
// may reset the task and how many attempts it has consumed.
func (g *TaskGraph) MarkFailed(id core.TaskID, cause error) (canRetry bool, attempts int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	if !ok {
		return false, 0, core.ErrNotFound("task", string(id))
	}
	if err := t.MarkFailed(cause); err != nil {
		return false, 0, err
	}
	return t.CanRetry(), t.Attempts, nil
}

// Reset returns a retryably failed task to the ready queue.
func (g *TaskGraph) Reset(id core.TaskID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	if !ok {
		return core.ErrNotFound("task", string(id))
	}
	return t.Reset()
}

// Requeue hands a running task back to the ready queue after its lease
// was revoked, consuming an attempt. A task whose next attempt would cross
// its cap is left running and TASK_EXHAUSTED is returned; the caller fails
// it terminally instead.
func (g *TaskGraph) Requeue(id core.TaskID) (attempt int, agent core.AgentID, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	if !ok {
		return 0, "", core.ErrNotFound("task", string(id))
	}
	if t.Attempts+1 >= t.MaxAttempts {
		return 0, "", core.ErrTaskExhausted(string(id), t.Attempts+1)
	}
	agent = t.AssignedTo
	if err := t.Requeue(); err != nil {
		return 0, "", err
	}
	return t.Attempts, agent, nil
}

// MarkSucceeded records a success and returns the dependents that became
// ready as a result.
func (g *TaskGraph) MarkSucceeded(id core.TaskID, result *core.TaskResult) ([]core.TaskID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[id]
	if !ok {
		return nil, core.ErrNotFound("task", string(id))
	}
	if err := t.MarkSucceeded(result); err != nil {
		return nil, err
	}

	var ready []core.TaskID
	for _, succID := range g.succ[id] {
		g.unmet[succID]--
		next := g.tasks[succID]
		if g.unmet[succID] == 0 && next.Status == core.TaskStatusPending {
			if err := next.MarkReady(); err != nil {
				return nil, err
			}
			ready = append(ready, succID)
		}
	}
	return ready, nil
}

// CancelDescendants cascades cancellation from a terminally failed task to
// every transitive dependent that has not started. Returns cancelled IDs.
func (g *TaskGraph) CancelDescendants(id core.TaskID, reason string) []core.TaskID {
	g.mu.Lock()
	defer g.mu.Unlock()

	var cancelled []core.TaskID
	seen := map[core.TaskID]bool{}
	stack := append([]core.TaskID{}, g.succ[id]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true

		t := g.tasks[n]
		if t.Status == core.TaskStatusPending || t.Status == core.TaskStatusReady {
			if err := t.MarkCancelled(reason); err == nil {
				cancelled = append(cancelled, n)
			}
		}
		stack = append(stack, g.succ[n]...)
	}
	return cancelled
}

// Ready returns all tasks currently in the ready state.
func (g *TaskGraph) Ready() []*core.Task {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []*core.Task
	for _, t := range g.tasks {
		if t.Status == core.TaskStatusReady {
			out = append(out, t)
		}
	}
	return out
}

// Counts returns task totals by status.
func (g *TaskGraph) Counts() map[core.TaskStatus]int {
	g.mu.Lock()
	defer g.mu.Unlock()

	counts := make(map[core.TaskStatus]int)
	for _, t := range g.tasks {
		counts[t.Status]++
	}
	return counts
}

// Len returns the number of tasks in the graph.
func (g *TaskGraph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tasks)
}

// AllSettled reports whether every task reached a terminal or blocked
// state, meaning the phase can be evaluated.
func (g *TaskGraph) AllSettled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range g.tasks {
		if !t.IsTerminal() && t.Status != core.TaskStatusBlockedContext {
			return false
		}
	}
	return true
}

// AllSucceeded reports whether every task succeeded.
func (g *TaskGraph) AllSucceeded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range g.tasks {
		if !t.IsSuccess() {
			return false
		}
	}
	return len(g.tasks) > 0
}
