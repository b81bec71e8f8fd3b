package core

import "time"

// MemoryKind distinguishes the tiers of the hierarchical memory.
type MemoryKind string

const (
	// MemoryWorking is ephemeral, TTL-bound intra-phase scratch state.
	MemoryWorking MemoryKind = "working"

	// MemoryPattern is a long-term code/design pattern with an embedding.
	MemoryPattern MemoryKind = "pattern"

	// MemoryReflection is an episodic failure+lesson record.
	MemoryReflection MemoryKind = "reflection"

	// MemoryArtifact is a file snapshot.
	MemoryArtifact MemoryKind = "artifact"
)

// MemoryItem is the unit stored in hierarchical memory. ProjectID is empty
// for global items. Embedding is nil until the item is indexed.
type MemoryItem struct {
	ID         string     `json:"id"`
	Kind       MemoryKind `json:"kind"`
	ProjectID  ProjectID  `json:"project_id,omitempty"`
	TaskID     TaskID     `json:"task_id,omitempty"`
	Attempt    int        `json:"attempt,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	Content    string     `json:"content"`
	// Sources lists the IDs of the episodic reflections a promoted
	// pattern was distilled from.
	Sources []string `json:"sources,omitempty"`
	Embedding  []float32  `json:"-"`
	Relevance  float64    `json:"relevance,omitempty"`
	Promotions int        `json:"promotions,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the item's TTL has elapsed.
func (m *MemoryItem) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}

// HasTag reports whether the item carries the given tag.
func (m *MemoryItem) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Reflection is the structured self-critique an agent produces after a
// failed attempt. LessonTag identifies recurring lessons for promotion.
type Reflection struct {
	TaskID               TaskID `json:"task_id"`
	Attempt              int    `json:"attempt"`
	RootCause            string `json:"root_cause"`
	IncorrectAssumptions string `json:"incorrect_assumptions"`
	ImprovedStrategy     string `json:"improved_strategy"`
	GeneralizableLesson  string `json:"generalizable_lesson"`
	LessonTag            string `json:"lesson_tag"`
}
