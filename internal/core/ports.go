package core

import (
	"context"
	"encoding/json"
	"time"
)

// =============================================================================
// Persistence port
// =============================================================================

// EventRecord is one committed entry in a workflow's append-only log.
type EventRecord struct {
	Seq         int64           `json:"seq"`
	WorkflowID  WorkflowID      `json:"workflow_id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CommittedAt time.Time       `json:"committed_at"`
}

// StateManager persists workflow snapshots and the per-workflow event log.
// Every state transition is written before being acknowledged to callers;
// a paused or awaiting_approval workflow survives a process restart.
type StateManager interface {
	// SaveProject persists a project record.
	SaveProject(ctx context.Context, p *Project) error

	// LoadProject loads a project by ID.
	LoadProject(ctx context.Context, id ProjectID) (*Project, error)

	// SaveWorkflow persists the latest committed workflow snapshot.
	// The snapshot's Version must be strictly greater than the stored one.
	SaveWorkflow(ctx context.Context, w *Workflow) error

	// LoadWorkflow loads the latest snapshot for a workflow.
	LoadWorkflow(ctx context.Context, id WorkflowID) (*Workflow, error)

	// ListWorkflows returns all workflow snapshots, newest first.
	ListWorkflows(ctx context.Context) ([]*Workflow, error)

	// ListAwaitingApproval returns workflows suspended at a breakpoint,
	// optionally filtered by project.
	ListAwaitingApproval(ctx context.Context, projectID ProjectID) ([]*Workflow, error)

	// AppendEvent appends to the workflow's durable event log and returns
	// the committed sequence number.
	AppendEvent(ctx context.Context, rec *EventRecord) (int64, error)

	// LoadEvents returns committed events for a workflow after the given
	// sequence number, in commit order.
	LoadEvents(ctx context.Context, id WorkflowID, afterSeq int64) ([]*EventRecord, error)

	// Close releases storage resources.
	Close() error
}

// =============================================================================
// LLM port
// =============================================================================

// GeneratedFile is a file produced by an agent invocation.
type GeneratedFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// CompletionRequest is a single LLM invocation.
type CompletionRequest struct {
	AgentID      AgentID
	Model        string
	Tier         ModelTier
	SystemPrompt string
	Prompt       string
	MaxTokens    int
	Temperature  float64
}

// CompletionResult is the outcome of an LLM invocation. Cost is reported
// even for failure responses that incurred spend.
type CompletionResult struct {
	Output    string
	Files     []GeneratedFile
	TokensIn  int
	TokensOut int
	CostUSD   float64
	Model     string
	Duration  time.Duration
}

// LLMClient is the transport to the model provider. The actual API client
// is an external collaborator; the core sees only this contract.
type LLMClient interface {
	// Complete runs one model invocation. Implementations must honor
	// context cancellation.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)

	// Ping verifies provider reachability at startup.
	Ping(ctx context.Context) error
}

// =============================================================================
// Embedding port
// =============================================================================

// Embedder generates vectors for semantic memory indexing. The memory
// layer chains providers: remote endpoint, local encoder, then a
// deterministic hash bucketing fallback.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Name() string
}

// Reranker reorders retrieval candidates with a cross-encoder. Optional:
// when unavailable, retrieval passes candidates through unchanged.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []string) ([]int, error)
}
