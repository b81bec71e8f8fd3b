package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aurora-dev/aurora/internal/core"
)

// DefaultWorkingTTL bounds how long intra-phase scratch state lives.
const DefaultWorkingTTL = time.Hour

// Working is the ephemeral tier: per-workflow scratch state with a TTL.
// Expired items are dropped lazily on read and by Prune.
type Working struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	items map[string]*core.MemoryItem
}

// NewWorking creates a working memory with the given TTL.
func NewWorking(ttl time.Duration, now func() time.Time) *Working {
	if ttl <= 0 {
		ttl = DefaultWorkingTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Working{
		ttl:   ttl,
		now:   now,
		items: make(map[string]*core.MemoryItem),
	}
}

// Put stores or replaces an item, stamping its expiry.
func (w *Working) Put(item *core.MemoryItem) {
	expires := w.now().Add(w.ttl)
	item.Kind = core.MemoryWorking
	item.ExpiresAt = &expires
	if item.CreatedAt.IsZero() {
		item.CreatedAt = w.now()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.items[item.ID] = item
}

// Get returns a live item by ID.
func (w *Working) Get(id string) (*core.MemoryItem, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	item, ok := w.items[id]
	if !ok {
		return nil, false
	}
	if item.Expired(w.now()) {
		delete(w.items, id)
		return nil, false
	}
	return item, true
}

// Search returns live items whose content or tags contain the query,
// newest first up to limit. Working memory is small enough for a scan.
func (w *Working) Search(query string, limit int) []*core.MemoryItem {
	q := strings.ToLower(query)
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	var out []*core.MemoryItem
	for id, item := range w.items {
		if item.Expired(now) {
			delete(w.items, id)
			continue
		}
		if strings.Contains(strings.ToLower(item.Content), q) || tagMatch(item, q) {
			out = append(out, item)
		}
	}
	sortByCreatedDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func tagMatch(item *core.MemoryItem, q string) bool {
	for _, t := range item.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

func sortByCreatedDesc(items []*core.MemoryItem) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

// Prune drops expired items and returns how many were removed.
func (w *Working) Prune() int {
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0
	for id, item := range w.items {
		if item.Expired(now) {
			delete(w.items, id)
			removed++
		}
	}
	return removed
}

// Len returns the live item count.
func (w *Working) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}
