package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aurora-dev/aurora/internal/core"
)

// startWorkflowRequest starts a project workflow.
type startWorkflowRequest struct {
	ProjectID   string  `json:"project_id"`
	Mode        string  `json:"mode"`
	Description string  `json:"description"`
	BudgetUSD   float64 `json:"budget_usd,omitempty"`
}

func (s *Server) handleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	var req startWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, core.ErrValidation(core.CodeValidation, "malformed request body"))
		return
	}
	mode, err := core.ParseMode(req.Mode)
	if err != nil {
		writeError(w, s.log, core.ErrValidation("WORKFLOW_MODE_INVALID", err.Error()))
		return
	}
	if req.Description == "" {
		writeError(w, s.log, core.ErrValidation("DESCRIPTION_REQUIRED", "description cannot be empty"))
		return
	}

	projectID := core.ProjectID(req.ProjectID)
	if projectID == "" {
		projectID = core.ProjectID(uuid.NewString())
	}
	project := core.NewProject(projectID, req.Description, mode)
	if req.BudgetUSD > 0 {
		project.WithBudgetCap(req.BudgetUSD)
	}

	wf, err := s.svc.StartWorkflow(r.Context(), project, mode)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"workflow_id": string(wf.ID),
		"project_id":  string(project.ID),
		"status":      string(wf.Status),
	})
}

// workflowState is the full current state of one workflow.
type workflowState struct {
	WorkflowID     string                           `json:"workflow_id"`
	ProjectID      string                           `json:"project_id"`
	Mode           string                           `json:"mode"`
	Phase          string                           `json:"phase"`
	Status         string                           `json:"status"`
	Version        int64                            `json:"version"`
	Progress       float64                          `json:"progress"`
	PauseReason    string                           `json:"pause_reason,omitempty"`
	Breakpoint     *core.Breakpoint                 `json:"breakpoint,omitempty"`
	Approvals      []core.ApprovalRecord            `json:"approvals,omitempty"`
	PhaseResults   map[core.Phase]*core.PhaseResult `json:"phase_results,omitempty"`
	ReworkComments string                           `json:"rework_comments,omitempty"`
	TotalCostUSD   float64                          `json:"total_cost_usd"`
	StartedAt      time.Time                        `json:"started_at"`
	UpdatedAt      time.Time                        `json:"updated_at"`
	CompletedAt    *time.Time                       `json:"completed_at,omitempty"`
	Error          string                           `json:"error,omitempty"`
}

func stateOf(wf *core.Workflow) workflowState {
	return workflowState{
		WorkflowID:     string(wf.ID),
		ProjectID:      string(wf.ProjectID),
		Mode:           string(wf.Mode),
		Phase:          string(wf.Phase),
		Status:         string(wf.Status),
		Version:        wf.Version,
		Progress:       wf.Progress,
		PauseReason:    wf.PauseReason,
		Breakpoint:     wf.Breakpoint,
		Approvals:      wf.Approvals,
		PhaseResults:   wf.PhaseResults,
		ReworkComments: wf.ReworkComments,
		TotalCostUSD:   wf.TotalCostUSD,
		StartedAt:      wf.StartedAt,
		UpdatedAt:      wf.UpdatedAt,
		CompletedAt:    wf.CompletedAt,
		Error:          wf.Error,
	}
}

func (s *Server) handleWorkflowState(w http.ResponseWriter, r *http.Request) {
	id := core.WorkflowID(chi.URLParam(r, "id"))
	wf, err := s.svc.Workflow(r.Context(), id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, stateOf(wf))
}

// pendingApproval is one suspended workflow awaiting review.
type pendingApproval struct {
	WorkflowID string          `json:"workflow_id"`
	ProjectID  string          `json:"project_id"`
	ApprovalID string          `json:"approval_id"`
	Checkpoint string          `json:"checkpoint"`
	Phase      string          `json:"phase"`
	Reason     string          `json:"reason"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Since      time.Time       `json:"since"`
}

func (s *Server) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	projectID := core.ProjectID(r.URL.Query().Get("project_id"))
	workflows, err := s.state.ListAwaitingApproval(r.Context(), projectID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	pending := make([]pendingApproval, 0, len(workflows))
	for _, wf := range workflows {
		if wf.Breakpoint == nil {
			continue
		}
		pending = append(pending, pendingApproval{
			WorkflowID: string(wf.ID),
			ProjectID:  string(wf.ProjectID),
			ApprovalID: wf.Breakpoint.ID,
			Checkpoint: wf.Breakpoint.Checkpoint,
			Phase:      string(wf.Breakpoint.Phase),
			Reason:     wf.Breakpoint.Reason,
			Payload:    wf.Breakpoint.Payload,
			Since:      wf.Breakpoint.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending": pending,
		"total":   len(pending),
	})
}

// approvalRequest resolves a breakpoint.
type approvalRequest struct {
	ApprovalID    string          `json:"approval_id"`
	Approved      bool            `json:"approved"`
	ReviewerID    string          `json:"reviewer_id"`
	Comments      string          `json:"comments,omitempty"`
	Modifications json.RawMessage `json:"modifications,omitempty"`
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	id := core.WorkflowID(chi.URLParam(r, "id"))
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, core.ErrValidation(core.CodeValidation, "malformed request body"))
		return
	}

	// The approval ID defaults to the pending breakpoint so simple
	// clients can omit it.
	if req.ApprovalID == "" {
		wf, err := s.svc.Workflow(r.Context(), id)
		if err != nil {
			writeError(w, s.log, err)
			return
		}
		if wf.Breakpoint == nil {
			writeError(w, s.log, core.ErrState(core.CodeApprovalResolved, "workflow has no pending approval"))
			return
		}
		req.ApprovalID = wf.Breakpoint.ID
	}

	wf, err := s.svc.ResolveApproval(r.Context(), id, core.ApprovalRecord{
		ApprovalID:    req.ApprovalID,
		Approved:      req.Approved,
		ReviewerID:    req.ReviewerID,
		Comments:      req.Comments,
		Modifications: req.Modifications,
		DecidedAt:     time.Now(),
	})
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	resp := map[string]interface{}{"status": "rejected"}
	if req.Approved {
		resp["status"] = "resumed"
		resp["resumed_at"] = wf.UpdatedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := core.WorkflowID(chi.URLParam(r, "id"))
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "manual pause"
	}
	wf, err := s.svc.Pause(r.Context(), id, reason)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"paused_at": wf.UpdatedAt})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := core.WorkflowID(chi.URLParam(r, "id"))
	wf, err := s.svc.Resume(r.Context(), id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resumed_at": wf.UpdatedAt})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := core.WorkflowID(chi.URLParam(r, "id"))
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "cancelled by operator"
	}
	wf, err := s.svc.Cancel(r.Context(), id, reason)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cancelled_at": wf.UpdatedAt})
}

// dashboardStats aggregates workflow, agent and budget metrics.
type dashboardStats struct {
	Workflows    map[string]int    `json:"workflows"`
	TotalCostUSD float64           `json:"total_cost_usd"`
	Agents       []core.AgentStats `json:"agents,omitempty"`
	Budget       *BudgetStats      `json:"budget,omitempty"`
	PeriodDays   int               `json:"period_days"`
}

func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	periodDays := 7
	if v := r.URL.Query().Get("period_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, s.log, core.ErrValidation("PERIOD_INVALID", "period_days must be a positive integer"))
			return
		}
		periodDays = n
	}
	projectID := core.ProjectID(r.URL.Query().Get("project_id"))

	workflows, err := s.state.ListWorkflows(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	cutoff := time.Now().AddDate(0, 0, -periodDays)
	stats := dashboardStats{Workflows: make(map[string]int), PeriodDays: periodDays}
	for _, wf := range workflows {
		if projectID != "" && wf.ProjectID != projectID {
			continue
		}
		if wf.UpdatedAt.Before(cutoff) {
			continue
		}
		stats.Workflows[string(wf.Status)]++
		stats.TotalCostUSD += wf.TotalCostUSD
	}

	if s.stats != nil {
		stats.Agents = s.stats.AgentStats()
		budget := s.stats.BudgetStats()
		stats.Budget = &budget
	}
	writeJSON(w, http.StatusOK, stats)
}
