package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input
	ErrCatExecution  ErrorCategory = "execution"  // Runtime failure
	ErrCatTimeout    ErrorCategory = "timeout"    // Operation timed out
	ErrCatBudget     ErrorCategory = "budget"     // Cost cap exceeded
	ErrCatGraph      ErrorCategory = "graph"      // Task graph mutation rejected
	ErrCatContext    ErrorCategory = "context"    // Context window overflow
	ErrCatSandbox    ErrorCategory = "sandbox"    // Sandbox infrastructure failure
	ErrCatState      ErrorCategory = "state"      // State corruption/conflict
	ErrCatHealth     ErrorCategory = "health"     // Heartbeat/stuck detection
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatConflict   ErrorCategory = "conflict"   // Concurrent modification
	ErrCatCancelled  ErrorCategory = "cancelled"  // Cooperative cancellation
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
// The Category+Code pair is stable across the API surface; no raw stack
// traces cross the API boundary.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Stable error codes.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeBudgetExceeded     = "BUDGET_EXCEEDED"
	CodeContextTooLarge    = "CONTEXT_TOO_LARGE"
	CodeTaskExhausted      = "TASK_EXHAUSTED"
	CodeSandboxUnavailable = "SANDBOX_UNAVAILABLE"
	CodeDependencyFailed   = "DEPENDENCY_FAILED"
	CodeCycleDetected      = "CYCLE_DETECTED"
	CodeStuckAgent         = "STUCK_AGENT"
	CodeConsensusRequired  = "CONSENSUS_REQUIRED"
	CodeCancelled          = "CANCELLED"

	CodeWorkflowNotFound = "WORKFLOW_NOT_FOUND"
	CodeProjectNotFound  = "PROJECT_NOT_FOUND"
	CodeTaskNotFound     = "TASK_NOT_FOUND"
	CodeAgentNotFound    = "AGENT_NOT_FOUND"
	CodeInvalidState     = "INVALID_STATE"
	CodeStateCorrupted   = "STATE_CORRUPTED"
	CodeDuplicateTask    = "DUPLICATE_TASK"
	CodeFilePathConflict = "FILE_PATH_CONFLICT"
	CodeApprovalResolved = "APPROVAL_ALREADY_RESOLVED"
)

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrExecution creates a retryable execution error.
func ErrExecution(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// ErrCycleDetected creates a graph mutation rejection.
// The caller must re-model the dependency edges.
func ErrCycleDetected(taskID string) *DomainError {
	return &DomainError{
		Category:  ErrCatGraph,
		Code:      CodeCycleDetected,
		Message:   fmt.Sprintf("adding task %s would create a dependency cycle", taskID),
		Retryable: false,
		Details:   map[string]interface{}{"task_id": taskID},
	}
}

// ErrBudgetExceeded indicates a cost cap would be crossed.
// Operator-resolvable: affected workflows pause rather than fail.
func ErrBudgetExceeded(scope string, current, limit float64) *DomainError {
	return &DomainError{
		Category:  ErrCatBudget,
		Code:      CodeBudgetExceeded,
		Message:   fmt.Sprintf("%s cost $%.4f would exceed cap $%.2f", scope, current, limit),
		Retryable: false,
		Details: map[string]interface{}{
			"scope":   scope,
			"current": current,
			"limit":   limit,
		},
	}
}

// ErrContextTooLarge indicates no agent's context window fits the task.
// The task surfaces for human decomposition.
func ErrContextTooLarge(taskID string, estimated int) *DomainError {
	return &DomainError{
		Category:  ErrCatContext,
		Code:      CodeContextTooLarge,
		Message:   fmt.Sprintf("task %s estimated at %d tokens exceeds every agent's context window", taskID, estimated),
		Retryable: false,
		Details: map[string]interface{}{
			"task_id":          taskID,
			"estimated_tokens": estimated,
		},
	}
}

// ErrTaskExhausted indicates the self-correction loop gave up.
func ErrTaskExhausted(taskID string, attempts int) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      CodeTaskExhausted,
		Message:   fmt.Sprintf("task %s failed after %d attempts", taskID, attempts),
		Retryable: false,
		Details: map[string]interface{}{
			"task_id":  taskID,
			"attempts": attempts,
		},
	}
}

// ErrSandboxUnavailable indicates sandbox infrastructure failure, distinct
// from the executed command's own behavior. Retried with backoff.
func ErrSandboxUnavailable(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatSandbox,
		Code:      CodeSandboxUnavailable,
		Message:   message,
		Retryable: true,
	}
}

// ErrDependencyFailed indicates an upstream task failed terminally.
// Cancellation cascades to unstarted descendants.
func ErrDependencyFailed(taskID, depID string) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      CodeDependencyFailed,
		Message:   fmt.Sprintf("task %s cancelled: dependency %s failed", taskID, depID),
		Retryable: false,
		Details: map[string]interface{}{
			"task_id":       taskID,
			"dependency_id": depID,
		},
	}
}

// ErrStuckAgent indicates a heartbeat timeout; the task is rescheduled.
func ErrStuckAgent(agentID, taskID string) *DomainError {
	return &DomainError{
		Category:  ErrCatHealth,
		Code:      CodeStuckAgent,
		Message:   fmt.Sprintf("agent %s stopped heartbeating on task %s", agentID, taskID),
		Retryable: true,
		Details: map[string]interface{}{
			"agent_id": agentID,
			"task_id":  taskID,
		},
	}
}

// ErrConsensusRequired indicates a design conflict between agents.
// Escalated to the architect role as judge; non-fatal.
func ErrConsensusRequired(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatConflict,
		Code:      CodeConsensusRequired,
		Message:   message,
		Retryable: false,
	}
}

// ErrCancelled is terminal; no side effects beyond lock release.
func ErrCancelled(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatCancelled,
		Code:      CodeCancelled,
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// GetCode extracts the stable error code, or empty string.
func GetCode(err error) string {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Code
	}
	return ""
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}
