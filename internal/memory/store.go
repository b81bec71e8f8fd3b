package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aurora-dev/aurora/internal/core"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS memory_items (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    project_id TEXT NOT NULL DEFAULT '',
    task_id TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',
    content TEXT NOT NULL,
    sources TEXT NOT NULL DEFAULT '[]',
    embedding BLOB,
    promotions INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_kind ON memory_items(kind);
CREATE INDEX IF NOT EXISTS idx_memory_project ON memory_items(project_id);

CREATE TABLE IF NOT EXISTS lesson_counts (
    lesson_tag TEXT PRIMARY KEY,
    count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS episodes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id TEXT NOT NULL,
    attempt INTEGER NOT NULL,
    reflection TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_episodes_task ON episodes(task_id);
`

// Store is the durable tier: long-term vector items and the episodic
// reflection log, both in SQLite. Vector search is a brute-force cosine
// scan; at orchestrator scale the corpus stays small enough.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenStore opens or creates the memory database.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating memory directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening memory database: %w", err)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying memory schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Put upserts a long-term item with its embedding.
func (s *Store) Put(ctx context.Context, item *core.MemoryItem) error {
	tags, err := json.Marshal(item.Tags)
	if err != nil {
		return fmt.Errorf("marshaling tags: %w", err)
	}
	sources, err := json.Marshal(item.Sources)
	if err != nil {
		return fmt.Errorf("marshaling sources: %w", err)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_items (id, kind, project_id, task_id, tags, content, sources, embedding, promotions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			tags = excluded.tags,
			content = excluded.content,
			sources = excluded.sources,
			embedding = excluded.embedding,
			promotions = excluded.promotions`,
		item.ID, string(item.Kind), string(item.ProjectID), string(item.TaskID),
		string(tags), item.Content, string(sources), encodeVector(item.Embedding), item.Promotions,
		item.CreatedAt)
	if err != nil {
		return fmt.Errorf("storing memory item %s: %w", item.ID, err)
	}
	return nil
}

// Match is one scored search hit.
type Match struct {
	Item  *core.MemoryItem
	Score float64
}

// Search returns the top-k items by cosine similarity to the query vector,
// scoped to a project plus global items. Kind filters when non-empty.
func (s *Store) Search(ctx context.Context, query []float32, projectID core.ProjectID, kind core.MemoryKind, k int) ([]Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := `SELECT id, kind, project_id, task_id, tags, content, sources, embedding, promotions, created_at
		FROM memory_items WHERE (project_id = '' OR project_id = ?)`
	args := []interface{}{string(projectID)}
	if kind != "" {
		q += " AND kind = ?"
		args = append(args, string(kind))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("scanning memory items: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		if len(item.Embedding) == 0 {
			continue
		}
		score := cosine(query, item.Embedding)
		item.Relevance = score
		matches = append(matches, Match{Item: item, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func scanItem(rows *sql.Rows) (*core.MemoryItem, error) {
	var item core.MemoryItem
	var kind, projectID, taskID, tags, sources string
	var embedding []byte
	if err := rows.Scan(&item.ID, &kind, &projectID, &taskID, &tags,
		&item.Content, &sources, &embedding, &item.Promotions, &item.CreatedAt); err != nil {
		return nil, fmt.Errorf("scanning memory row: %w", err)
	}
	item.Kind = core.MemoryKind(kind)
	item.ProjectID = core.ProjectID(projectID)
	item.TaskID = core.TaskID(taskID)
	if err := json.Unmarshal([]byte(tags), &item.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags for %s: %w", item.ID, err)
	}
	if err := json.Unmarshal([]byte(sources), &item.Sources); err != nil {
		return nil, fmt.Errorf("decoding sources for %s: %w", item.ID, err)
	}
	item.Embedding = decodeVector(embedding)
	return &item, nil
}

// RecordLesson bumps a lesson tag's occurrence counter and returns the new
// count. Counted once per stored reflection carrying the tag; promotion
// fires when the count reaches the threshold.
func (s *Store) RecordLesson(ctx context.Context, lessonTag string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lesson_counts (lesson_tag, count) VALUES (?, 1)
		ON CONFLICT(lesson_tag) DO UPDATE SET count = count + 1`, lessonTag)
	if err != nil {
		return 0, fmt.Errorf("recording lesson %s: %w", lessonTag, err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT count FROM lesson_counts WHERE lesson_tag = ?", lessonTag).Scan(&count); err != nil {
		return 0, fmt.Errorf("reading lesson count: %w", err)
	}
	return count, nil
}

// ReflectionsByTag returns the reflection items carrying the tag, oldest
// first, so a promoted pattern can cite its originating episodes.
func (s *Store) ReflectionsByTag(ctx context.Context, tag string) ([]*core.MemoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, project_id, task_id, tags, content, sources, embedding, promotions, created_at
		FROM memory_items WHERE kind = ? AND tags LIKE ? ORDER BY created_at ASC`,
		string(core.MemoryReflection), `%"`+tag+`"%`)
	if err != nil {
		return nil, fmt.Errorf("loading reflections for %s: %w", tag, err)
	}
	defer rows.Close()

	var out []*core.MemoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		if item.HasTag(tag) {
			out = append(out, item)
		}
	}
	return out, rows.Err()
}

// AppendEpisode records a reflection in the episodic log.
func (s *Store) AppendEpisode(ctx context.Context, r *core.Reflection) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling reflection: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO episodes (task_id, attempt, reflection, created_at) VALUES (?, ?, ?, ?)",
		string(r.TaskID), r.Attempt, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("appending episode: %w", err)
	}
	return nil
}

// Episodes returns a task's reflections in attempt order.
func (s *Store) Episodes(ctx context.Context, taskID core.TaskID) ([]*core.Reflection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT reflection FROM episodes WHERE task_id = ? ORDER BY attempt ASC, id ASC",
		string(taskID))
	if err != nil {
		return nil, fmt.Errorf("loading episodes: %w", err)
	}
	defer rows.Close()

	var out []*core.Reflection
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var r core.Reflection
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, fmt.Errorf("decoding reflection: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// encodeVector packs float32s little-endian for BLOB storage.
func encodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// cosine returns the cosine similarity of two vectors, 0 on mismatch.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
