package graph

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/aurora-dev/aurora/internal/core"
	"github.com/aurora-dev/aurora/internal/events"
	"github.com/aurora-dev/aurora/internal/logging"
)

// Scheduler defaults per configuration.
const (
	DefaultMaxConcurrent  = 4
	DefaultReadySoftLimit = 128
	retryBackoffBase      = time.Second
	retryJitterFraction   = 0.20
)

// Scheduler drives one workflow's task graph: bounded concurrency, file
// path locking between concurrent tasks, priority claiming and retry with
// exponential backoff.
type Scheduler struct {
	workflowID     core.WorkflowID
	graph          *TaskGraph
	bus            *events.Bus
	log            *logging.Logger
	maxConcurrent  int
	readySoftLimit int

	// after schedules deferred retries; replaced in tests.
	after func(time.Duration, func())

	// drained wakes a Submit blocked on ready-queue backpressure.
	drained chan struct{}

	mu             sync.Mutex
	running        int
	pendingRetries int
	claimed        map[core.TaskID]bool
	lockedPaths    map[string]core.TaskID
	rng            *rand.Rand
}

// SchedulerOption configures the scheduler.
type SchedulerOption func(*Scheduler)

// WithMaxConcurrent bounds simultaneously running tasks.
func WithMaxConcurrent(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithReadySoftLimit bounds the ready queue before submissions block.
func WithReadySoftLimit(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.readySoftLimit = n
		}
	}
}

// WithAfterFunc overrides the retry timer, used in tests.
func WithAfterFunc(after func(time.Duration, func())) SchedulerOption {
	return func(s *Scheduler) { s.after = after }
}

// NewScheduler creates a scheduler over a fresh task graph.
func NewScheduler(workflowID core.WorkflowID, bus *events.Bus, log *logging.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		workflowID:     workflowID,
		graph:          NewTaskGraph(),
		bus:            bus,
		log:            log.WithWorkflow(string(workflowID)),
		maxConcurrent:  DefaultMaxConcurrent,
		readySoftLimit: DefaultReadySoftLimit,
		after:          func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		drained:        make(chan struct{}, 1),
		claimed:        make(map[core.TaskID]bool),
		lockedPaths:    make(map[string]core.TaskID),
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Graph exposes the underlying task graph for read-side queries.
func (s *Scheduler) Graph() *TaskGraph { return s.graph }

// Submit adds a task to the graph. While the ready queue sits at its soft
// limit the call blocks until claims drain it below the limit, or the
// context is cancelled.
func (s *Scheduler) Submit(ctx context.Context, t *core.Task) error {
	for {
		s.mu.Lock()
		saturated := len(s.readyUnclaimedLocked()) >= s.readySoftLimit
		s.mu.Unlock()
		if !saturated {
			break
		}
		select {
		case <-ctx.Done():
			return core.ErrCancelled("task submission cancelled").WithCause(ctx.Err())
		case <-s.drained:
		}
	}

	ready, err := s.graph.AddTask(t)
	if err != nil {
		return err
	}

	if s.bus != nil {
		s.bus.Publish(events.NewTaskCreatedEvent(
			string(s.workflowID), string(t.ID), string(t.Phase), t.Title))
		for _, id := range ready {
			s.bus.Publish(events.NewTaskReadyEvent(string(s.workflowID), string(id)))
		}
	}
	return nil
}

// readyUnclaimedLocked lists ready tasks not yet claimed. Caller holds the lock.
func (s *Scheduler) readyUnclaimedLocked() []*core.Task {
	var out []*core.Task
	for _, t := range s.graph.Ready() {
		if !s.claimed[t.ID] {
			out = append(out, t)
		}
	}
	return out
}

// ClaimNext picks the next runnable task: highest complexity first, then
// longest-waiting. A task is runnable when a concurrency slot is free and
// its declared write paths are disjoint from every running task's. The
// claim reserves the slot and the paths; follow with Start or Unclaim.
func (s *Scheduler) ClaimNext() (*core.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running >= s.maxConcurrent {
		return nil, false
	}

	candidates := s.readyUnclaimedLocked()
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Complexity != candidates[j].Complexity {
			return candidates[i].Complexity > candidates[j].Complexity
		}
		return readyTime(candidates[i]).Before(readyTime(candidates[j]))
	})

	for _, t := range candidates {
		if s.pathsFreeLocked(t) {
			s.claimed[t.ID] = true
			s.running++
			s.lockPathsLocked(t)
			s.signalDrain()
			return t, true
		}
	}
	return nil, false
}

// signalDrain wakes one blocked Submit. Non-blocking; the buffered slot
// coalesces signals so no wakeup is lost.
func (s *Scheduler) signalDrain() {
	select {
	case s.drained <- struct{}{}:
	default:
	}
}

func readyTime(t *core.Task) time.Time {
	if t.ReadyAt != nil {
		return *t.ReadyAt
	}
	return t.CreatedAt
}

func (s *Scheduler) pathsFreeLocked(t *core.Task) bool {
	for _, p := range t.FilePaths {
		if _, held := s.lockedPaths[p]; held {
			return false
		}
	}
	return true
}

func (s *Scheduler) lockPathsLocked(t *core.Task) {
	for _, p := range t.FilePaths {
		s.lockedPaths[p] = t.ID
	}
}

func (s *Scheduler) releaseLocked(id core.TaskID) {
	if s.claimed[id] {
		delete(s.claimed, id)
		if s.running > 0 {
			s.running--
		}
	}
	for p, holder := range s.lockedPaths {
		if holder == id {
			delete(s.lockedPaths, p)
		}
	}
}

// Start marks a claimed task running under the given agent.
func (s *Scheduler) Start(id core.TaskID, agent core.AgentID) error {
	attempts, err := s.graph.MarkRunning(id, agent)
	if err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(events.NewTaskClaimedEvent(
			string(s.workflowID), string(id), string(agent), attempts))
	}
	return nil
}

// Unclaim returns a claimed-but-unstarted task's slot and path locks, used
// when no agent can take the task right now.
func (s *Scheduler) Unclaim(id core.TaskID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(id)
}

// Block parks a claimed task whose context exceeds every agent's window.
// The task surfaces for human decomposition; the workflow continues.
func (s *Scheduler) Block(id core.TaskID) error {
	tokens, err := s.graph.MarkBlocked(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.releaseLocked(id)
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(events.NewTaskBlockedEvent(
			string(s.workflowID), string(id), tokens))
	}
	return nil
}

// Complete records a success, releases the task's slot and locks, and
// announces any dependents that became ready.
func (s *Scheduler) Complete(id core.TaskID, result *core.TaskResult) error {
	newlyReady, err := s.graph.MarkSucceeded(id, result)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.releaseLocked(id)
	s.mu.Unlock()

	t, _ := s.graph.Get(id)
	if s.bus != nil {
		s.bus.Publish(events.NewTaskCompleteEvent(
			string(s.workflowID), string(id), string(t.AssignedTo), t.Attempts+1, resultCost(result)))
		for _, rid := range newlyReady {
			s.bus.Publish(events.NewTaskReadyEvent(string(s.workflowID), string(rid)))
		}
	}
	return nil
}

func resultCost(r *core.TaskResult) float64 {
	if r == nil {
		return 0
	}
	return r.CostUSD
}

// Fail records a failed attempt. Retryable failures under the attempt cap
// re-enter the ready queue after exponential backoff with jitter; terminal
// failures cascade cancellation to unstarted descendants.
func (s *Scheduler) Fail(id core.TaskID, cause error) error {
	canRetry, attempts, err := s.graph.MarkFailed(id, cause)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.releaseLocked(id)
	s.mu.Unlock()

	if core.IsRetryable(cause) && canRetry {
		attempt := attempts + 1
		delay := s.backoff(attempt)
		s.log.WithTask(string(id)).Info("task retry scheduled",
			"attempt", attempt, "backoff", delay.String())
		if s.bus != nil {
			s.bus.Publish(events.NewTaskRetryEvent(
				string(s.workflowID), string(id), attempt, delay.String()))
		}
		s.mu.Lock()
		s.pendingRetries++
		s.mu.Unlock()
		s.after(delay, func() {
			s.mu.Lock()
			s.pendingRetries--
			s.mu.Unlock()
			if err := s.graph.Reset(id); err != nil {
				return
			}
			if s.bus != nil {
				s.bus.Publish(events.NewTaskReadyEvent(string(s.workflowID), string(id)))
			}
		})
		return nil
	}

	s.log.WithTask(string(id)).Error("task failed terminally",
		"error", cause.Error(), "attempts", attempts+1)
	if s.bus != nil {
		s.bus.Publish(events.NewTaskFailedEvent(
			string(s.workflowID), string(id), core.GetCode(cause), cause))
	}

	for _, cid := range s.graph.CancelDescendants(id, fmt.Sprintf("dependency %s failed", id)) {
		if s.bus != nil {
			s.bus.Publish(events.NewTaskCancelledEvent(
				string(s.workflowID), string(cid),
				core.ErrDependencyFailed(string(cid), string(id)).Message))
		}
	}
	return nil
}

// RequeueStuck returns a running task to the ready queue after a stuck
// detection. The requeue consumes an attempt; a task over its cap fails
// terminally instead.
func (s *Scheduler) RequeueStuck(id core.TaskID) error {
	attempt, agent, err := s.graph.Requeue(id)
	if err != nil {
		if core.GetCode(err) == core.CodeTaskExhausted {
			return s.Fail(id, err)
		}
		return err
	}

	s.mu.Lock()
	s.releaseLocked(id)
	s.mu.Unlock()

	s.log.WithTask(string(id)).WithAgent(string(agent)).
		Warn("task requeued after stuck detection", "attempt", attempt)
	if s.bus != nil {
		s.bus.Publish(events.NewTaskReadyEvent(string(s.workflowID), string(id)))
	}
	return nil
}

// CancelAll cancels every non-terminal task, used on workflow cancellation.
func (s *Scheduler) CancelAll(reason string) []core.TaskID {
	s.mu.Lock()
	s.claimed = make(map[core.TaskID]bool)
	s.lockedPaths = make(map[string]core.TaskID)
	s.running = 0
	s.mu.Unlock()
	s.signalDrain()

	var cancelled []core.TaskID
	s.graph.mu.Lock()
	for _, t := range s.graph.tasks {
		if !t.IsTerminal() && t.Status != core.TaskStatusBlockedContext {
			if err := t.MarkCancelled(reason); err == nil {
				cancelled = append(cancelled, t.ID)
			}
		}
	}
	s.graph.mu.Unlock()

	if s.bus != nil {
		for _, id := range cancelled {
			s.bus.Publish(events.NewTaskCancelledEvent(string(s.workflowID), string(id), reason))
		}
	}
	return cancelled
}

// Settled reports whether the phase can be evaluated: every task is
// terminal or blocked and no retry timer is pending.
func (s *Scheduler) Settled() bool {
	s.mu.Lock()
	pending := s.pendingRetries
	s.mu.Unlock()
	return pending == 0 && s.graph.AllSettled()
}

// Running returns the number of claimed concurrency slots.
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// backoff returns 1s, 2s, 4s for attempts 1..3 with up to 20% jitter.
func (s *Scheduler) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := retryBackoffBase << (attempt - 1)

	s.mu.Lock()
	jitter := (s.rng.Float64()*2 - 1) * retryJitterFraction
	s.mu.Unlock()
	return time.Duration(float64(base) * (1 + jitter))
}
