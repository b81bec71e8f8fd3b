package events

// Event type constants for task events.
const (
	TypeTaskCreated   = "task_created"
	TypeTaskReady     = "task_ready"
	TypeTaskClaimed   = "task_claimed"
	TypeTaskComplete  = "task_complete"
	TypeTaskFailed    = "task_failed"
	TypeTaskRetry     = "task_retry"
	TypeTaskCancelled = "task_cancelled"
	TypeTaskStuck     = "task_stuck"
	TypeTaskBlocked   = "task_blocked"
)

// TaskCreatedEvent is emitted when a phase emits a task into the graph.
type TaskCreatedEvent struct {
	BaseEvent
	TaskID string `json:"task_id"`
	Phase  string `json:"phase"`
	Title  string `json:"title"`
}

// NewTaskCreatedEvent creates a new task created event.
func NewTaskCreatedEvent(workflowID, taskID, phase, title string) TaskCreatedEvent {
	return TaskCreatedEvent{
		BaseEvent: NewBaseEvent(TypeTaskCreated, workflowID),
		TaskID:    taskID,
		Phase:     phase,
		Title:     title,
	}
}

// TaskReadyEvent is emitted when a task's dependencies are satisfied.
type TaskReadyEvent struct {
	BaseEvent
	TaskID string `json:"task_id"`
}

// NewTaskReadyEvent creates a new task ready event.
func NewTaskReadyEvent(workflowID, taskID string) TaskReadyEvent {
	return TaskReadyEvent{
		BaseEvent: NewBaseEvent(TypeTaskReady, workflowID),
		TaskID:    taskID,
	}
}

// TaskClaimedEvent is emitted when the scheduler hands a task to an agent.
type TaskClaimedEvent struct {
	BaseEvent
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent"`
	Attempt int    `json:"attempt"`
}

// NewTaskClaimedEvent creates a new task claimed event.
func NewTaskClaimedEvent(workflowID, taskID, agentID string, attempt int) TaskClaimedEvent {
	return TaskClaimedEvent{
		BaseEvent: NewBaseEvent(TypeTaskClaimed, workflowID),
		TaskID:    taskID,
		AgentID:   agentID,
		Attempt:   attempt,
	}
}

// TaskCompleteEvent is emitted when a task succeeds.
type TaskCompleteEvent struct {
	BaseEvent
	TaskID   string  `json:"task_id"`
	AgentID  string  `json:"agent"`
	Attempts int     `json:"attempts"`
	CostUSD  float64 `json:"cost_usd"`
}

// NewTaskCompleteEvent creates a new task complete event.
func NewTaskCompleteEvent(workflowID, taskID, agentID string, attempts int, costUSD float64) TaskCompleteEvent {
	return TaskCompleteEvent{
		BaseEvent: NewBaseEvent(TypeTaskComplete, workflowID),
		TaskID:    taskID,
		AgentID:   agentID,
		Attempts:  attempts,
		CostUSD:   costUSD,
	}
}

// TaskFailedEvent is emitted when a task fails terminally.
type TaskFailedEvent struct {
	BaseEvent
	TaskID string `json:"task_id"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
}

// NewTaskFailedEvent creates a new task failed event.
func NewTaskFailedEvent(workflowID, taskID, kind string, err error) TaskFailedEvent {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	return TaskFailedEvent{
		BaseEvent: NewBaseEvent(TypeTaskFailed, workflowID),
		TaskID:    taskID,
		Kind:      kind,
		Error:     errStr,
	}
}

// TaskRetryEvent is emitted when a failed task re-enters the ready queue.
type TaskRetryEvent struct {
	BaseEvent
	TaskID  string `json:"task_id"`
	Attempt int    `json:"attempt"`
	Backoff string `json:"backoff"`
}

// NewTaskRetryEvent creates a new task retry event.
func NewTaskRetryEvent(workflowID, taskID string, attempt int, backoff string) TaskRetryEvent {
	return TaskRetryEvent{
		BaseEvent: NewBaseEvent(TypeTaskRetry, workflowID),
		TaskID:    taskID,
		Attempt:   attempt,
		Backoff:   backoff,
	}
}

// TaskCancelledEvent is emitted when cancellation cascades to a task.
type TaskCancelledEvent struct {
	BaseEvent
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// NewTaskCancelledEvent creates a new task cancelled event.
func NewTaskCancelledEvent(workflowID, taskID, reason string) TaskCancelledEvent {
	return TaskCancelledEvent{
		BaseEvent: NewBaseEvent(TypeTaskCancelled, workflowID),
		TaskID:    taskID,
		Reason:    reason,
	}
}

// TaskStuckEvent is emitted when the health monitor detects a missing
// heartbeat on a running task.
type TaskStuckEvent struct {
	BaseEvent
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent"`
}

// NewTaskStuckEvent creates a new task stuck event.
func NewTaskStuckEvent(workflowID, taskID, agentID string) TaskStuckEvent {
	return TaskStuckEvent{
		BaseEvent: NewBaseEvent(TypeTaskStuck, workflowID),
		TaskID:    taskID,
		AgentID:   agentID,
	}
}

// TaskBlockedEvent is emitted when no agent's context window fits a task.
type TaskBlockedEvent struct {
	BaseEvent
	TaskID          string `json:"task_id"`
	EstimatedTokens int    `json:"estimated_tokens"`
}

// NewTaskBlockedEvent creates a new task blocked event.
func NewTaskBlockedEvent(workflowID, taskID string, estimatedTokens int) TaskBlockedEvent {
	return TaskBlockedEvent{
		BaseEvent:       NewBaseEvent(TypeTaskBlocked, workflowID),
		TaskID:          taskID,
		EstimatedTokens: estimatedTokens,
	}
}
