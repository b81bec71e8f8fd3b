// Package testutil provides shared test doubles: a scripted LLM client,
// an in-memory state manager and a controllable clock.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aurora-dev/aurora/internal/core"
)

// ScriptedLLM replays canned completions in order. When the script is
// exhausted it repeats the last entry.
type ScriptedLLM struct {
	mu       sync.Mutex
	script   []ScriptStep
	calls    []core.CompletionRequest
	position int
}

// ScriptStep is one canned response or error.
type ScriptStep struct {
	Result *core.CompletionResult
	Err    error
}

// Respond appends a successful step with the given output.
func (s *ScriptedLLM) Respond(output string, costUSD float64) *ScriptedLLM {
	s.script = append(s.script, ScriptStep{Result: &core.CompletionResult{
		Output:    output,
		TokensIn:  100,
		TokensOut: 200,
		CostUSD:   costUSD,
		Model:     "scripted",
	}})
	return s
}

// Fail appends an error step.
func (s *ScriptedLLM) Fail(err error) *ScriptedLLM {
	s.script = append(s.script, ScriptStep{Err: err})
	return s
}

// Complete implements core.LLMClient.
func (s *ScriptedLLM) Complete(_ context.Context, req core.CompletionRequest) (*core.CompletionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, req)
	if len(s.script) == 0 {
		return &core.CompletionResult{Output: "ok", Model: "scripted"}, nil
	}
	step := s.script[s.position]
	if s.position < len(s.script)-1 {
		s.position++
	}
	if step.Err != nil {
		return nil, step.Err
	}
	out := *step.Result
	return &out, nil
}

// Ping implements core.LLMClient.
func (s *ScriptedLLM) Ping(context.Context) error { return nil }

// Calls returns every request seen so far.
func (s *ScriptedLLM) Calls() []core.CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.CompletionRequest(nil), s.calls...)
}

// MemoryState is an in-memory core.StateManager.
type MemoryState struct {
	mu        sync.Mutex
	projects  map[core.ProjectID]*core.Project
	workflows map[core.WorkflowID]*core.Workflow
	events    map[core.WorkflowID][]*core.EventRecord
}

// NewMemoryState creates an empty in-memory state manager.
func NewMemoryState() *MemoryState {
	return &MemoryState{
		projects:  make(map[core.ProjectID]*core.Project),
		workflows: make(map[core.WorkflowID]*core.Workflow),
		events:    make(map[core.WorkflowID][]*core.EventRecord),
	}
}

// SaveProject implements core.StateManager.
func (m *MemoryState) SaveProject(_ context.Context, p *core.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

// LoadProject implements core.StateManager.
func (m *MemoryState) LoadProject(_ context.Context, id core.ProjectID) (*core.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, core.ErrNotFound("project", string(id))
	}
	cp := *p
	return &cp, nil
}

// SaveWorkflow implements core.StateManager with the same stale-version
// rejection as the SQLite implementation.
func (m *MemoryState) SaveWorkflow(_ context.Context, w *core.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stored, ok := m.workflows[w.ID]; ok && w.Version <= stored.Version {
		return core.ErrState(core.CodeInvalidState, "stale workflow snapshot")
	}
	cp := *w
	m.workflows[w.ID] = &cp
	return nil
}

// LoadWorkflow implements core.StateManager.
func (m *MemoryState) LoadWorkflow(_ context.Context, id core.WorkflowID) (*core.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workflows[id]
	if !ok {
		return nil, core.ErrNotFound("workflow", string(id))
	}
	cp := *w
	return &cp, nil
}

// ListWorkflows implements core.StateManager.
func (m *MemoryState) ListWorkflows(context.Context) ([]*core.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*core.Workflow, 0, len(m.workflows))
	for _, w := range m.workflows {
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// ListAwaitingApproval implements core.StateManager.
func (m *MemoryState) ListAwaitingApproval(_ context.Context, projectID core.ProjectID) ([]*core.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.Workflow
	for _, w := range m.workflows {
		if w.Status != core.WorkflowStatusAwaitingApproval {
			continue
		}
		if projectID != "" && w.ProjectID != projectID {
			continue
		}
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// AppendEvent implements core.StateManager.
func (m *MemoryState) AppendEvent(_ context.Context, rec *core.EventRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := int64(len(m.events[rec.WorkflowID]) + 1)
	rec.Seq = seq
	if rec.CommittedAt.IsZero() {
		rec.CommittedAt = time.Now().UTC()
	}
	cp := *rec
	m.events[rec.WorkflowID] = append(m.events[rec.WorkflowID], &cp)
	return seq, nil
}

// LoadEvents implements core.StateManager.
func (m *MemoryState) LoadEvents(_ context.Context, id core.WorkflowID, afterSeq int64) ([]*core.EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.EventRecord
	for _, rec := range m.events[id] {
		if rec.Seq > afterSeq {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Close implements core.StateManager.
func (m *MemoryState) Close() error { return nil }

// Clock is a controllable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock at the given instant.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
