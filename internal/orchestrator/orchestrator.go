package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aurora-dev/aurora/internal/assign"
	"github.com/aurora-dev/aurora/internal/core"
	"github.com/aurora-dev/aurora/internal/events"
	"github.com/aurora-dev/aurora/internal/graph"
	"github.com/aurora-dev/aurora/internal/health"
	"github.com/aurora-dev/aurora/internal/logging"
	"github.com/aurora-dev/aurora/internal/machine"
)

// claimPollInterval paces workers waiting for a runnable task.
const claimPollInterval = 200 * time.Millisecond

// Executor runs one task end to end. Satisfied by the reflexion loop.
type Executor interface {
	Run(ctx context.Context, workflowID core.WorkflowID, projectID core.ProjectID, ag *core.Agent, task *core.Task) (*core.TaskResult, error)
}

// AgentPool yields assignment candidates. Satisfied by the agent registry.
type AgentPool interface {
	All() []*core.Agent
	Get(id core.AgentID) (*core.Agent, bool)
}

// ProjectBudget registers per-project spending caps. Satisfied by the
// budget governor.
type ProjectBudget interface {
	RegisterProject(id core.ProjectID, capUSD float64)
}

// run is one live workflow execution: its scheduler, its worker pool
// context and the in-memory workflow object the machine mutates.
type run struct {
	workflow *core.Workflow
	project  *core.Project
	sched    *graph.Scheduler
	cancel   context.CancelFunc
}

// Orchestrator owns live workflow executions.
type Orchestrator struct {
	state    core.StateManager
	bus      *events.Bus
	machine  *machine.Machine
	pool     AgentPool
	assigner *assign.Assigner
	executor Executor
	planner  Planner
	monitor  *health.Monitor
	budget   ProjectBudget
	log      *logging.Logger

	maxParallel int
	schedOpts   []graph.SchedulerOption

	mu   sync.Mutex
	runs map[core.WorkflowID]*run
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithMaxParallel bounds workers per workflow.
func WithMaxParallel(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxParallel = n
		}
	}
}

// WithSchedulerOptions forwards options to per-workflow schedulers.
func WithSchedulerOptions(opts ...graph.SchedulerOption) Option {
	return func(o *Orchestrator) { o.schedOpts = opts }
}

// WithBudget wires the governor so project caps are registered when a
// workflow launches.
func WithBudget(b ProjectBudget) Option {
	return func(o *Orchestrator) { o.budget = b }
}

// New creates an orchestrator. The health monitor is created here so its
// stuck handler can reach the live schedulers.
func New(state core.StateManager, bus *events.Bus, m *machine.Machine, pool AgentPool,
	assigner *assign.Assigner, executor Executor, planner Planner,
	log *logging.Logger, monitorOpts []health.Option, opts ...Option) *Orchestrator {

	o := &Orchestrator{
		state:       state,
		bus:         bus,
		machine:     m,
		pool:        pool,
		assigner:    assigner,
		executor:    executor,
		planner:     planner,
		log:         log,
		maxParallel: graph.DefaultMaxConcurrent,
		runs:        make(map[core.WorkflowID]*run),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.monitor = health.NewMonitor(bus, log, o.onStuck, monitorOpts...)
	return o
}

// Monitor exposes the heartbeat monitor for wiring into the reflexion loop.
func (o *Orchestrator) Monitor() *health.Monitor { return o.monitor }

// Run operates the background loops until the context is cancelled: the
// heartbeat sweep and the budget-pause watcher.
func (o *Orchestrator) Run(ctx context.Context) {
	exceeded := o.bus.SubscribePriority()
	defer o.bus.Unsubscribe(exceeded)

	go o.monitor.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-exceeded:
			if !ok {
				return
			}
			if ev.EventType() == events.TypeBudgetExceeded {
				o.pauseAll(ctx, "budget_exceeded")
			}
		}
	}
}

// StartWorkflow persists the project, starts a workflow through the
// machine and launches its execution.
func (o *Orchestrator) StartWorkflow(ctx context.Context, project *core.Project, mode core.Mode) (*core.Workflow, error) {
	if err := project.Validate(); err != nil {
		return nil, err
	}
	if err := o.state.SaveProject(ctx, project); err != nil {
		return nil, err
	}

	w, err := o.machine.Start(ctx, project, mode)
	if err != nil {
		return nil, err
	}
	o.launch(w, project)
	return w, nil
}

// ResumeFromDisk relaunches workflows that were running when the process
// stopped. Suspended workflows stay parked until approval or resume.
func (o *Orchestrator) ResumeFromDisk(ctx context.Context) error {
	workflows, err := o.state.ListWorkflows(ctx)
	if err != nil {
		return err
	}
	for _, w := range workflows {
		if w.Status != core.WorkflowStatusRunning {
			continue
		}
		project, err := o.state.LoadProject(ctx, w.ProjectID)
		if err != nil {
			o.log.WithWorkflow(string(w.ID)).Error("cannot reload project", "error", err.Error())
			continue
		}
		o.log.WithWorkflow(string(w.ID)).Info("resuming workflow from disk", "phase", w.Phase)
		o.launch(w, project)
	}
	return nil
}

// Workflow returns the live workflow object, falling back to the stored
// snapshot.
func (o *Orchestrator) Workflow(ctx context.Context, id core.WorkflowID) (*core.Workflow, error) {
	o.mu.Lock()
	rn, live := o.runs[id]
	o.mu.Unlock()
	if live {
		return rn.workflow, nil
	}
	return o.state.LoadWorkflow(ctx, id)
}

// ResolveApproval applies a reviewer decision and relaunches the workflow
// when the decision puts it back into running.
func (o *Orchestrator) ResolveApproval(ctx context.Context, id core.WorkflowID, record core.ApprovalRecord) (*core.Workflow, error) {
	w, err := o.Workflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := o.machine.ResolveApproval(ctx, w, record); err != nil {
		return nil, err
	}
	if w.Status == core.WorkflowStatusRunning {
		project, err := o.state.LoadProject(ctx, w.ProjectID)
		if err != nil {
			return nil, err
		}
		o.launch(w, project)
	}
	return w, nil
}

// Pause suspends a workflow and cancels its in-flight tasks.
func (o *Orchestrator) Pause(ctx context.Context, id core.WorkflowID, reason string) (*core.Workflow, error) {
	w, err := o.Workflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := o.machine.Pause(ctx, w, reason); err != nil {
		return nil, err
	}
	o.stop(id, fmt.Sprintf("workflow paused: %s", reason))
	return w, nil
}

// Resume returns a paused workflow to execution.
func (o *Orchestrator) Resume(ctx context.Context, id core.WorkflowID) (*core.Workflow, error) {
	w, err := o.Workflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := o.machine.Resume(ctx, w); err != nil {
		return nil, err
	}
	project, err := o.state.LoadProject(ctx, w.ProjectID)
	if err != nil {
		return nil, err
	}
	o.launch(w, project)
	return w, nil
}

// Cancel terminates a workflow and its tasks.
func (o *Orchestrator) Cancel(ctx context.Context, id core.WorkflowID, reason string) (*core.Workflow, error) {
	w, err := o.Workflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := o.machine.Cancel(ctx, w, reason); err != nil {
		return nil, err
	}
	o.stop(id, fmt.Sprintf("workflow cancelled: %s", reason))
	return w, nil
}

// pauseAll pauses every live workflow, used on budget exhaustion.
func (o *Orchestrator) pauseAll(ctx context.Context, reason string) {
	o.mu.Lock()
	ids := make([]core.WorkflowID, 0, len(o.runs))
	for id := range o.runs {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		if _, err := o.Pause(ctx, id, reason); err != nil {
			o.log.WithWorkflow(string(id)).Error("pause failed", "error", err.Error())
		}
	}
}

// launch starts (or restarts) the phase-execution goroutine for a workflow.
func (o *Orchestrator) launch(w *core.Workflow, project *core.Project) {
	if o.budget != nil && project.BudgetCapUSD > 0 {
		o.budget.RegisterProject(project.ID, project.BudgetCapUSD)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rn := &run{workflow: w, project: project, cancel: cancel}

	o.mu.Lock()
	if prev, ok := o.runs[w.ID]; ok {
		prev.cancel()
	}
	o.runs[w.ID] = rn
	o.mu.Unlock()

	go func() {
		defer o.retire(w.ID, rn)
		o.drive(ctx, rn)
	}()
}

// stop cancels a live run and its tasks.
func (o *Orchestrator) stop(id core.WorkflowID, reason string) {
	o.mu.Lock()
	rn, ok := o.runs[id]
	if ok {
		delete(o.runs, id)
	}
	o.mu.Unlock()
	if !ok {
		return
	}

	rn.cancel()
	if rn.sched != nil {
		for _, tid := range rn.sched.CancelAll(reason) {
			o.monitor.Untrack(tid)
		}
	}
}

func (o *Orchestrator) retire(id core.WorkflowID, rn *run) {
	o.mu.Lock()
	if o.runs[id] == rn {
		delete(o.runs, id)
	}
	o.mu.Unlock()
}

// drive executes phases until the workflow suspends or terminates.
func (o *Orchestrator) drive(ctx context.Context, rn *run) {
	w := rn.workflow
	log := o.log.WithWorkflow(string(w.ID))

	for w.Status == core.WorkflowStatusRunning {
		if ctx.Err() != nil {
			return
		}
		if err := o.runPhase(ctx, rn); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithPhase(string(w.Phase)).Error("phase execution failed", "error", err.Error())
			if ferr := o.machine.Fail(ctx, w, err); ferr != nil {
				log.Error("recording workflow failure failed", "error", ferr.Error())
			}
			return
		}
	}
}

// runPhase plans the current phase, executes its task set and reports the
// outcome to the machine.
func (o *Orchestrator) runPhase(ctx context.Context, rn *run) error {
	w := rn.workflow
	log := o.log.WithWorkflow(string(w.ID)).WithPhase(string(w.Phase))

	tasks, err := o.planner.Plan(ctx, w, rn.project)
	if err != nil {
		return fmt.Errorf("planning phase %s: %w", w.Phase, err)
	}

	sched := graph.NewScheduler(w.ID, o.bus, o.log, o.schedOpts...)
	rn.sched = sched
	for _, t := range tasks {
		if err := sched.Submit(ctx, t); err != nil {
			return fmt.Errorf("submitting task %s: %w", t.ID, err)
		}
	}
	log.Info("phase task set emitted", "tasks", len(tasks))

	g, wctx := errgroup.WithContext(ctx)
	for i := 0; i < o.maxParallel; i++ {
		g.Go(func() error { return o.worker(wctx, rn) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	graphView := sched.Graph()
	if !graphView.AllSucceeded() {
		counts := graphView.Counts()
		reason := fmt.Sprintf("phase %s did not complete: %d failed, %d blocked, %d cancelled",
			w.Phase,
			counts[core.TaskStatusFailed],
			counts[core.TaskStatusBlockedContext],
			counts[core.TaskStatusCancelled])
		log.Warn("phase incomplete, awaiting human decision", "reason", reason)
		return o.machine.SuspendForGateFailure(ctx, w, reason)
	}

	return o.machine.CompletePhase(ctx, w, phaseResult(tasks, sched))
}

// worker claims and dispatches tasks until the graph settles.
func (o *Orchestrator) worker(ctx context.Context, rn *run) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		t, ok := rn.sched.ClaimNext()
		if !ok {
			if rn.sched.Settled() && rn.sched.Running() == 0 {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(claimPollInterval):
			}
			continue
		}

		o.dispatch(ctx, rn, t)
	}
}

// dispatch assigns one claimed task to an agent and runs it through the
// executor.
func (o *Orchestrator) dispatch(ctx context.Context, rn *run, t *core.Task) {
	w := rn.workflow
	log := o.log.WithWorkflow(string(w.ID)).WithTask(string(t.ID))

	ag, err := o.assigner.Pick(t, o.pool.All())
	if err != nil {
		if core.GetCode(err) == core.CodeContextTooLarge {
			log.Warn("task context exceeds every agent window", "estimated_tokens", t.EstimatedTokens)
			if berr := rn.sched.Block(t.ID); berr != nil {
				log.Error("blocking task failed", "error", berr.Error())
			}
			return
		}
		// Every agent is busy or quarantined; back off before the claim
		// returns to the pool.
		rn.sched.Unclaim(t.ID)
		select {
		case <-ctx.Done():
		case <-time.After(claimPollInterval):
		}
		return
	}

	if !ag.Acquire(time.Now()) {
		rn.sched.Unclaim(t.ID)
		return
	}
	if err := rn.sched.Start(t.ID, ag.ID); err != nil {
		ag.Release(false)
		rn.sched.Unclaim(t.ID)
		return
	}

	o.monitor.Track(w.ID, t.ID, ag)
	result, err := o.executor.Run(ctx, w.ID, w.ProjectID, ag, t)
	o.monitor.Untrack(t.ID)

	// The stuck sweep may have requeued the task while the executor ran.
	// The transition then rejects the verdict with INVALID_STATE: the
	// lease was revoked and the outcome belongs to nobody.
	if err != nil {
		ag.Release(false)
		if ferr := rn.sched.Fail(t.ID, err); ferr != nil {
			if core.GetCode(ferr) == core.CodeInvalidState {
				log.Warn("discarding failure for a revoked task")
			} else {
				log.Error("recording task failure failed", "error", ferr.Error())
			}
		}
		return
	}
	if cerr := rn.sched.Complete(t.ID, result); cerr != nil {
		ag.Release(false)
		if core.GetCode(cerr) == core.CodeInvalidState {
			log.Warn("discarding result for a revoked task")
		} else {
			log.Error("recording task completion failed", "error", cerr.Error())
		}
		return
	}
	ag.Release(true)
}

// onStuck hands a revoked lease back to the owning scheduler.
func (o *Orchestrator) onStuck(workflowID core.WorkflowID, taskID core.TaskID, agentID core.AgentID) {
	o.mu.Lock()
	rn, ok := o.runs[workflowID]
	o.mu.Unlock()
	if !ok || rn.sched == nil {
		return
	}
	if err := rn.sched.RequeueStuck(taskID); err != nil {
		o.log.WithWorkflow(string(workflowID)).WithTask(string(taskID)).
			Error("requeueing stuck task failed", "agent_id", agentID, "error", err.Error())
	}
}

// phaseResult aggregates the task outcomes into the phase record.
func phaseResult(tasks []*core.Task, sched *graph.Scheduler) *core.PhaseResult {
	result := &core.PhaseResult{}
	var artifacts []string
	for _, t := range tasks {
		stored, ok := sched.Graph().Get(t.ID)
		if !ok || stored.LastResult == nil {
			continue
		}
		result.CostUSD += stored.LastResult.CostUSD
		artifacts = append(artifacts, stored.LastResult.Artifacts...)
	}
	result.Artifacts = artifacts
	result.Summary = fmt.Sprintf("%d tasks completed", len(tasks))
	return result
}
