package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aurora-dev/aurora/internal/core"
	"github.com/aurora-dev/aurora/internal/logging"
)

// DefaultPromotionThreshold is how many episodic reflections must share a
// lesson tag before the lesson is promoted to a long-term pattern.
const DefaultPromotionThreshold = 3

// Hierarchical is the facade over the memory tiers.
type Hierarchical struct {
	working            *Working
	store              *Store
	retriever          *Retriever
	embedder           core.Embedder
	log                *logging.Logger
	promotionThreshold int
}

// Config tunes the hierarchical memory.
type Config struct {
	WorkingTTL         time.Duration
	PromotionThreshold int
}

// NewHierarchical assembles the memory tiers. reranker may be nil.
func NewHierarchical(store *Store, embedder core.Embedder, reranker core.Reranker, log *logging.Logger, cfg Config) *Hierarchical {
	threshold := cfg.PromotionThreshold
	if threshold <= 0 {
		threshold = DefaultPromotionThreshold
	}
	return &Hierarchical{
		working:            NewWorking(cfg.WorkingTTL, nil),
		store:              store,
		retriever:          NewRetriever(store, embedder, reranker),
		embedder:           embedder,
		log:                log,
		promotionThreshold: threshold,
	}
}

// Working exposes the ephemeral tier.
func (h *Hierarchical) Working() *Working { return h.working }

// Retriever exposes the recall pipeline.
func (h *Hierarchical) Retriever() *Retriever { return h.retriever }

// StorePattern indexes a long-term pattern.
func (h *Hierarchical) StorePattern(ctx context.Context, item *core.MemoryItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.Kind = core.MemoryPattern

	vec, err := h.embedder.Embed(ctx, item.Content)
	if err != nil {
		return fmt.Errorf("embedding pattern: %w", err)
	}
	item.Embedding = vec
	return h.store.Put(ctx, item)
}

// StoreReflection records a failed attempt's self-critique: appended to
// the episodic log and indexed as a recallable reflection item.
func (h *Hierarchical) StoreReflection(ctx context.Context, projectID core.ProjectID, r *core.Reflection) error {
	if err := h.store.AppendEpisode(ctx, r); err != nil {
		return err
	}
	if r.GeneralizableLesson == "" {
		return nil
	}

	item := &core.MemoryItem{
		ID:        uuid.NewString(),
		Kind:      core.MemoryReflection,
		ProjectID: projectID,
		TaskID:    r.TaskID,
		Attempt:   r.Attempt,
		Content:   r.GeneralizableLesson,
		CreatedAt: time.Now().UTC(),
	}
	if r.LessonTag != "" {
		item.Tags = []string{r.LessonTag}
	}

	vec, err := h.embedder.Embed(ctx, item.Content)
	if err != nil {
		return fmt.Errorf("embedding reflection: %w", err)
	}
	item.Embedding = vec
	if err := h.store.Put(ctx, item); err != nil {
		return err
	}

	if r.LessonTag != "" {
		count, err := h.store.RecordLesson(ctx, r.LessonTag)
		if err != nil {
			h.log.Warn("lesson count update failed", "tag", r.LessonTag, "error", err.Error())
			return nil
		}
		if count == h.promotionThreshold {
			if err := h.promote(ctx, item, r.LessonTag); err != nil {
				h.log.Warn("lesson promotion failed", "tag", r.LessonTag, "error", err.Error())
			}
		}
	}
	return nil
}

// Episodes returns a task's reflection history in attempt order.
func (h *Hierarchical) Episodes(ctx context.Context, taskID core.TaskID) ([]*core.Reflection, error) {
	return h.store.Episodes(ctx, taskID)
}

// Recall runs the retrieval pipeline for any memory kind.
func (h *Hierarchical) Recall(ctx context.Context, query string, projectID core.ProjectID, kind core.MemoryKind, k int) ([]Match, error) {
	return h.retriever.Recall(ctx, query, projectID, kind, k)
}

// RecallLessons retrieves reflection lessons for a query.
func (h *Hierarchical) RecallLessons(ctx context.Context, query string, projectID core.ProjectID, k int) ([]Match, error) {
	return h.retriever.Recall(ctx, query, projectID, core.MemoryReflection, k)
}

// promote copies a recurring reflection into the pattern tier, citing the
// episodic reflections that share its lesson tag.
func (h *Hierarchical) promote(ctx context.Context, src *core.MemoryItem, tag string) error {
	episodes, err := h.store.ReflectionsByTag(ctx, tag)
	if err != nil {
		return err
	}
	sources := make([]string, 0, len(episodes))
	for _, e := range episodes {
		sources = append(sources, e.ID)
	}

	pattern := &core.MemoryItem{
		ID:         uuid.NewString(),
		Kind:       core.MemoryPattern,
		ProjectID:  src.ProjectID,
		Tags:       src.Tags,
		Content:    src.Content,
		Sources:    sources,
		Embedding:  src.Embedding,
		Promotions: src.Promotions + 1,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.store.Put(ctx, pattern); err != nil {
		return err
	}
	h.log.Info("lesson promoted to pattern", "tag", tag, "item_id", pattern.ID,
		"episodes", len(sources))
	return nil
}
