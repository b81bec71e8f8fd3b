package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/aurora-dev/aurora/internal/core"
)

// Retrieval pipeline constants.
const (
	// overfetchFactor widens the vector search so downstream filters still
	// have enough candidates to choose from.
	overfetchFactor = 3

	// recencyWindow is how long an item counts as fresh.
	recencyWindow = 24 * time.Hour

	// recencyBoost is added to a fresh item's score.
	recencyBoost = 0.1

	// fuzzyWeight blends the keyword match score into the vector score.
	fuzzyWeight = 0.2

	// truncationMarker replaces the removed middle of an oversized item.
	truncationMarker = "\n[... truncated ...]\n"
)

// Retriever runs the recall pipeline: vector search with overfetch, fuzzy
// keyword blending, optional cross-encoder rerank, recency boost and
// token-budget packing.
type Retriever struct {
	store    *Store
	embedder core.Embedder
	reranker core.Reranker // nil disables the rerank stage
	now      func() time.Time
}

// NewRetriever creates a retriever. reranker may be nil.
func NewRetriever(store *Store, embedder core.Embedder, reranker core.Reranker) *Retriever {
	return &Retriever{
		store:    store,
		embedder: embedder,
		reranker: reranker,
		now:      time.Now,
	}
}

// WithClock overrides the time source, used in tests.
func (r *Retriever) WithClock(now func() time.Time) *Retriever {
	r.now = now
	return r
}

// Recall returns up to k items relevant to the query, scored and sorted
// most relevant first.
func (r *Retriever) Recall(ctx context.Context, query string, projectID core.ProjectID, kind core.MemoryKind, k int) ([]Match, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := r.store.Search(ctx, vec, projectID, kind, k*overfetchFactor)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	r.blendFuzzy(query, matches)
	r.boostRecent(matches)

	if r.reranker != nil {
		matches = r.rerank(ctx, query, matches)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// blendFuzzy folds a keyword match score into each candidate.
func (r *Retriever) blendFuzzy(query string, matches []Match) {
	haystack := make([]string, len(matches))
	for i, m := range matches {
		haystack[i] = m.Item.Content + " " + strings.Join(m.Item.Tags, " ")
	}

	hits := fuzzy.Find(query, haystack)
	if len(hits) == 0 {
		return
	}
	best := hits[0].Score
	if best <= 0 {
		best = 1
	}
	for _, hit := range hits {
		frac := float64(hit.Score) / float64(best)
		if frac < 0 {
			frac = 0
		}
		matches[hit.Index].Score += fuzzyWeight * frac
	}
}

// boostRecent lifts items created inside the recency window.
func (r *Retriever) boostRecent(matches []Match) {
	cutoff := r.now().Add(-recencyWindow)
	for i := range matches {
		if matches[i].Item.CreatedAt.After(cutoff) {
			matches[i].Score += recencyBoost
		}
	}
}

// rerank reorders the top candidates with the cross-encoder. A rerank
// failure keeps the original order; rerank is best-effort.
func (r *Retriever) rerank(ctx context.Context, query string, matches []Match) []Match {
	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Item.Content
	}
	order, err := r.reranker.Rerank(ctx, query, texts)
	if err != nil || len(order) != len(matches) {
		return matches
	}

	reordered := make([]Match, 0, len(matches))
	for _, idx := range order {
		if idx < 0 || idx >= len(matches) {
			return matches
		}
		reordered = append(reordered, matches[idx])
	}
	// Preserve rerank order through the final sort by descending scores.
	for i := range reordered {
		reordered[i].Score = float64(len(reordered) - i)
	}
	return reordered
}

// Pack fits recalled items into a token budget for prompt injection.
// Items are admitted most relevant first; an item larger than the
// remaining budget is middle-truncated once, then skipped if still too
// large. The returned slice is ordered least relevant first so the most
// relevant content sits closest to the end of the prompt.
func Pack(matches []Match, budgetTokens int) []string {
	var admitted []string
	remaining := budgetTokens

	for _, m := range matches {
		content := m.Item.Content
		cost := estimateTokens(content)
		if cost > remaining {
			content = truncateMiddle(content, remaining)
			cost = estimateTokens(content)
			if content == "" || cost > remaining {
				continue
			}
		}
		admitted = append(admitted, content)
		remaining -= cost
		if remaining <= 0 {
			break
		}
	}

	// Reverse: least relevant first, most relevant last.
	for i, j := 0, len(admitted)-1; i < j; i, j = i+1, j-1 {
		admitted[i], admitted[j] = admitted[j], admitted[i]
	}
	return admitted
}

func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// truncateMiddle keeps the head and tail of oversized content, dropping
// the middle. Head and tail tend to carry the framing and the conclusion.
func truncateMiddle(content string, budgetTokens int) string {
	budgetChars := budgetTokens * 4
	overhead := len(truncationMarker)
	if budgetChars <= overhead*2 {
		return ""
	}
	keep := budgetChars - overhead
	head := keep * 2 / 3
	tail := keep - head
	if head+tail >= len(content) {
		return content
	}
	return content[:head] + truncationMarker + content[len(content)-tail:]
}
