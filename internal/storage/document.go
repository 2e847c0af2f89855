package storage

import (
	"fmt"
	"strings"
	"time"
)

// Learning is a stored knowledge snippet with its metadata.
type Learning struct {
	ID        string    `db:"id" json:"id"`
	Content   string    `db:"content" json:"content"`
	Scope     string    `db:"scope" json:"scope"`
	Repo      string    `db:"repo" json:"repo"`
	FilePath  string    `db:"file_path" json:"file_path"`
	Topic     string    `db:"topic" json:"topic"`
	Tags      string    `db:"tags" json:"tags"`
	Keywords  string    `db:"keywords" json:"keywords"`
	Type      string    `db:"learning_type" json:"type"`
	Summary   string    `db:"summary" json:"summary"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Scope values for learnings.
const (
	ScopeGlobal = "global"
	ScopeRepo   = "repo"
)

// IsCorrection reports whether this learning flags something to avoid.
// Gotcha and security learnings always count as corrections.
func (l *Learning) IsCorrection() bool {
	return l.Type == "gotcha" || l.Type == "security"
}

// TagList returns the comma-separated tags as a slice.
func (l *Learning) TagList() []string {
	return splitCSV(l.Tags)
}

// KeywordList returns the comma-separated keywords as a slice.
func (l *Learning) KeywordList() []string {
	return splitCSV(l.Keywords)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ScopeFilter restricts which learnings a query may see. The zero value
// means global-only; All disables filtering entirely (maintenance scans).
type ScopeFilter struct {
	Repos []string
	All   bool
}

// where renders the filter as a SQL condition over aliased table a.
func (f ScopeFilter) where(alias string) (string, []any) {
	if f.All {
		return "1=1", nil
	}
	conds := []string{fmt.Sprintf("%s.scope = '%s'", alias, ScopeGlobal)}
	var args []any
	for _, repo := range f.Repos {
		conds = append(conds, fmt.Sprintf("(%s.scope = '%s' AND %s.repo = ?)", alias, ScopeRepo, alias))
		args = append(args, repo)
	}
	return "(" + strings.Join(conds, " OR ") + ")", args
}

// Upsert inserts or fully replaces the learning with the given id, together
// with its embedding. Virtual tables don't support ON CONFLICT cleanly, so
// this is a delete-then-insert inside one transaction.
func (s *Store) Upsert(l Learning, embedding []float64) error {
	if len(embedding) == 0 {
		return fmt.Errorf("upsert %s: empty embedding", l.ID)
	}
	if err := s.checkDimension(len(embedding)); err != nil {
		return err
	}

	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM learnings WHERE id = ?",
		"DELETE FROM learning_embeddings WHERE learning_id = ?",
		"DELETE FROM learnings_fts WHERE id = ?",
	} {
		if _, err := tx.Exec(q, l.ID); err != nil {
			return fmt.Errorf("upsert %s: %w", l.ID, err)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO learnings (id, content, scope, repo, file_path, topic, tags, keywords, learning_type, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.Content, l.Scope, l.Repo, l.FilePath, l.Topic, l.Tags, l.Keywords, l.Type, l.Summary, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", l.ID, err)
	}

	_, err = tx.Exec(`
		INSERT INTO learning_embeddings (learning_id, embedding, model, dimensions)
		VALUES (?, ?, ?, ?)
	`, l.ID, encodeEmbedding(embedding), "", len(embedding))
	if err != nil {
		return fmt.Errorf("upsert %s: storing embedding: %w", l.ID, err)
	}

	_, err = tx.Exec("INSERT INTO learnings_fts (id, content) VALUES (?, ?)", l.ID, l.Content)
	if err != nil {
		return fmt.Errorf("upsert %s: fts: %w", l.ID, err)
	}

	return tx.Commit()
}

// checkDimension enforces a single embedding dimension across the store.
func (s *Store) checkDimension(dim int) error {
	var existing int
	err := s.db.Get(&existing, "SELECT dimensions FROM learning_embeddings LIMIT 1")
	if err != nil {
		return nil // empty store, any dimension is fine
	}
	if existing != dim {
		return fmt.Errorf("%w: store has %d, got %d", ErrDimensionMismatch, existing, dim)
	}
	return nil
}

// Get fetches learnings by id, preserving request order. Missing ids are
// silently omitted, not an error.
func (s *Store) Get(ids []string) ([]Learning, error) {
	if len(ids) == 0 {
		return []Learning{}, nil
	}

	query, args, err := sqlxIn("SELECT * FROM learnings WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}

	var rows []Learning
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("get learnings: %w", err)
	}

	byID := make(map[string]Learning, len(rows))
	for _, l := range rows {
		byID[l.ID] = l
	}

	result := make([]Learning, 0, len(rows))
	for _, id := range ids {
		if l, ok := byID[id]; ok {
			result = append(result, l)
		}
	}
	return result, nil
}

// Delete removes the learnings with the given ids from all tables.
// Deleting a non-existent id is a no-op.
func (s *Store) Delete(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []struct{ query string }{
		{"DELETE FROM learnings WHERE id IN (?)"},
		{"DELETE FROM learning_embeddings WHERE learning_id IN (?)"},
		{"DELETE FROM learnings_fts WHERE id IN (?)"},
	} {
		query, args, err := sqlxIn(table.query, ids)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(query, args...); err != nil {
			return fmt.Errorf("delete learnings: %w", err)
		}
	}

	return tx.Commit()
}

// All returns every learning visible through the filter.
func (s *Store) All(filter ScopeFilter) ([]Learning, error) {
	cond, args := filter.where("learnings")
	var rows []Learning
	err := s.db.Select(&rows, "SELECT * FROM learnings WHERE "+cond+" ORDER BY created_at, id", args...)
	if err != nil {
		return nil, fmt.Errorf("list learnings: %w", err)
	}
	return rows, nil
}

// Count returns the total number of indexed learnings.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.Get(&n, "SELECT COUNT(*) FROM learnings"); err != nil {
		return 0, err
	}
	return n, nil
}

// ScopeTopicCount is one row of the stats breakdown.
type ScopeTopicCount struct {
	Scope string `db:"scope"`
	Repo  string `db:"repo"`
	Topic string `db:"topic"`
	Count int    `db:"cnt"`
}

// Stats returns per-scope, per-topic counts, most populous first.
func (s *Store) Stats() ([]ScopeTopicCount, error) {
	var rows []ScopeTopicCount
	err := s.db.Select(&rows, `
		SELECT scope, repo, topic, COUNT(*) as cnt
		FROM learnings
		GROUP BY scope, repo, topic
		ORDER BY cnt DESC
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
