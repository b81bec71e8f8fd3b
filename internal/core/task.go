package core

import (
	"fmt"
	"time"
)

// TaskID uniquely identifies a task within a workflow.
type TaskID string

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusReady     TaskStatus = "ready"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"

	// TaskStatusBlockedContext marks a task whose estimated context exceeds
	// every agent's window. Surfaced for human decomposition.
	TaskStatusBlockedContext TaskStatus = "blocked_context"
)

// ModelTier selects the model capability class used for a task attempt.
type ModelTier string

const (
	TierCheap    ModelTier = "cheap"
	TierStandard ModelTier = "standard"
	TierHigh     ModelTier = "high"
)

// TaskResult captures the outcome of the last attempt.
type TaskResult struct {
	Output    string    `json:"output,omitempty"`
	Artifacts []string  `json:"artifacts,omitempty"`
	TokensIn  int       `json:"tokens_in"`
	TokensOut int       `json:"tokens_out"`
	CostUSD   float64   `json:"cost_usd"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	EndedAt   time.Time `json:"ended_at"`
}

// Task represents an atomic unit of work emitted by a workflow phase.
type Task struct {
	ID          TaskID
	Phase       Phase
	Title       string
	Description string
	Criteria    []string // acceptance criteria
	Role        AgentRole

	// Complexity is a 1-10 integer driving priority and model-tier routing.
	Complexity      int
	EstimatedTokens int
	Tier            ModelTier

	// FilePaths are the declared write paths. Concurrently running tasks
	// must hold pairwise disjoint path sets.
	FilePaths []string

	// HardDeps must all be succeeded before the task becomes ready.
	// SoftDeps are scheduled identically to hard deps.
	HardDeps []TaskID
	SoftDeps []TaskID

	Status      TaskStatus
	AssignedTo  AgentID
	Attempts    int
	MaxAttempts int
	LastResult  *TaskResult

	CreatedAt   time.Time
	ReadyAt     *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
}

// NewTask creates a new task with required fields.
func NewTask(id TaskID, title string, phase Phase) *Task {
	return &Task{
		ID:          id,
		Phase:       phase,
		Title:       title,
		Status:      TaskStatusPending,
		Complexity:  5,
		Tier:        TierStandard,
		MaxAttempts: 3,
		CreatedAt:   time.Now(),
	}
}

// WithDescription sets the task description.
func (t *Task) WithDescription(desc string) *Task {
	t.Description = desc
	return t
}

// WithCriteria sets the acceptance criteria.
func (t *Task) WithCriteria(criteria ...string) *Task {
	t.Criteria = criteria
	return t
}

// WithRole sets the agent role the task prefers.
func (t *Task) WithRole(role AgentRole) *Task {
	t.Role = role
	return t
}

// WithComplexity sets the complexity score, clamped to [1,10].
func (t *Task) WithComplexity(c int) *Task {
	if c < 1 {
		c = 1
	}
	if c > 10 {
		c = 10
	}
	t.Complexity = c
	return t
}

// WithEstimatedTokens sets the estimated token budget.
func (t *Task) WithEstimatedTokens(n int) *Task {
	t.EstimatedTokens = n
	return t
}

// WithFilePaths declares the file paths the task will write.
func (t *Task) WithFilePaths(paths ...string) *Task {
	t.FilePaths = paths
	return t
}

// WithHardDeps sets the hard dependency set.
func (t *Task) WithHardDeps(deps ...TaskID) *Task {
	t.HardDeps = deps
	return t
}

// WithSoftDeps sets the soft dependency set.
func (t *Task) WithSoftDeps(deps ...TaskID) *Task {
	t.SoftDeps = deps
	return t
}

// WithMaxAttempts sets the retry cap.
func (t *Task) WithMaxAttempts(n int) *Task {
	t.MaxAttempts = n
	return t
}

// AllDeps returns hard plus soft dependencies. Soft edges are scheduled
// as hard to minimize rework.
func (t *Task) AllDeps() []TaskID {
	if len(t.SoftDeps) == 0 {
		return t.HardDeps
	}
	deps := make([]TaskID, 0, len(t.HardDeps)+len(t.SoftDeps))
	deps = append(deps, t.HardDeps...)
	deps = append(deps, t.SoftDeps...)
	return deps
}

// MarkReady transitions the task from pending to ready.
func (t *Task) MarkReady() error {
	if t.Status != TaskStatusPending {
		return ErrState(CodeInvalidState, fmt.Sprintf("cannot ready task in %s state", t.Status))
	}
	t.Status = TaskStatusReady
	now := time.Now()
	t.ReadyAt = &now
	return nil
}

// MarkRunning transitions the task to running state.
func (t *Task) MarkRunning(agent AgentID) error {
	if t.Status != TaskStatusReady {
		return ErrState(CodeInvalidState, fmt.Sprintf("cannot start task in %s state", t.Status))
	}
	t.Status = TaskStatusRunning
	t.AssignedTo = agent
	now := time.Now()
	t.StartedAt = &now
	return nil
}

// MarkSucceeded transitions the task to succeeded state.
func (t *Task) MarkSucceeded(result *TaskResult) error {
	if t.Status != TaskStatusRunning {
		return ErrState(CodeInvalidState, fmt.Sprintf("cannot complete task in %s state", t.Status))
	}
	t.Status = TaskStatusSucceeded
	t.LastResult = result
	now := time.Now()
	t.CompletedAt = &now
	return nil
}

// MarkFailed transitions the task to failed state.
func (t *Task) MarkFailed(err error) error {
	if t.Status != TaskStatusRunning {
		return ErrState(CodeInvalidState, fmt.Sprintf("cannot fail task in %s state", t.Status))
	}
	t.Status = TaskStatusFailed
	t.Error = err.Error()
	now := time.Now()
	t.CompletedAt = &now
	return nil
}

// MarkCancelled transitions the task to cancelled state. Valid from any
// non-terminal state: cascade cancellation reaches pending descendants.
func (t *Task) MarkCancelled(reason string) error {
	if t.IsTerminal() {
		return ErrState(CodeInvalidState, fmt.Sprintf("cannot cancel task in %s state", t.Status))
	}
	t.Status = TaskStatusCancelled
	t.Error = reason
	now := time.Now()
	t.CompletedAt = &now
	return nil
}

// MarkBlockedContext parks the task for human decomposition.
func (t *Task) MarkBlockedContext() error {
	if t.Status != TaskStatusReady {
		return ErrState(CodeInvalidState, fmt.Sprintf("cannot block task in %s state", t.Status))
	}
	t.Status = TaskStatusBlockedContext
	return nil
}

// CanRetry returns true if the task can re-enter the ready queue.
func (t *Task) CanRetry() bool {
	return t.Status == TaskStatusFailed && t.Attempts < t.MaxAttempts
}

// Reset prepares the task for retry, incrementing the attempt counter.
func (t *Task) Reset() error {
	if !t.CanRetry() {
		return ErrState(CodeInvalidState,
			fmt.Sprintf("cannot retry task: attempts=%d, max=%d", t.Attempts, t.MaxAttempts))
	}
	t.Attempts++
	t.Status = TaskStatusReady
	t.AssignedTo = ""
	t.Error = ""
	t.StartedAt = nil
	t.CompletedAt = nil
	now := time.Now()
	t.ReadyAt = &now
	return nil
}

// Requeue returns a running task to the ready queue after a stuck
// detection, incrementing the attempt counter.
func (t *Task) Requeue() error {
	if t.Status != TaskStatusRunning {
		return ErrState(CodeInvalidState, fmt.Sprintf("cannot requeue task in %s state", t.Status))
	}
	t.Attempts++
	t.Status = TaskStatusReady
	t.AssignedTo = ""
	t.StartedAt = nil
	now := time.Now()
	t.ReadyAt = &now
	return nil
}

// IsTerminal returns true if the task is in a terminal state.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusSucceeded ||
		t.Status == TaskStatusFailed ||
		t.Status == TaskStatusCancelled
}

// IsSuccess returns true if the task succeeded.
func (t *Task) IsSuccess() bool {
	return t.Status == TaskStatusSucceeded
}

// Duration returns the task execution duration.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if t.CompletedAt != nil {
		end = *t.CompletedAt
	}
	return end.Sub(*t.StartedAt)
}

// Validate checks task invariants.
func (t *Task) Validate() error {
	if t.ID == "" {
		return ErrValidation("TASK_ID_REQUIRED", "task ID cannot be empty")
	}
	if t.Title == "" {
		return ErrValidation("TASK_TITLE_REQUIRED", "task title cannot be empty")
	}
	if t.Complexity < 1 || t.Complexity > 10 {
		return ErrValidation("TASK_COMPLEXITY_RANGE",
			fmt.Sprintf("complexity %d outside [1,10]", t.Complexity))
	}
	for _, dep := range t.AllDeps() {
		if dep == t.ID {
			return ErrValidation("TASK_SELF_DEPENDENCY", "task cannot depend on itself")
		}
	}
	return nil
}
