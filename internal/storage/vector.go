package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/jmoiron/sqlx"
)

// encodeEmbedding serializes a float64 vector as little-endian bytes for
// BLOB storage.
func encodeEmbedding(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding deserializes a BLOB back into a float64 vector.
func decodeEmbedding(data []byte) ([]float64, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("invalid embedding blob: %d bytes", len(data))
	}
	vec := make([]float64, len(data)/8)
	for i := range vec {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return vec, nil
}

// CosineDistance returns 1 minus the cosine similarity of a and b.
// 0 is identical direction, 1 is orthogonal, 2 is opposite. Zero-magnitude
// vectors are maximally distant from everything.
func CosineDistance(a, b []float64) float64 {
	if len(a) != len(b) {
		return 2.0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 2.0
	}
	return 1.0 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// Match is one similarity hit with its distance from the query.
type Match struct {
	Learning
	Distance float64
}

// embeddingRow carries the columns needed for a scan, including rowid as a
// proxy for indexing recency (upserts delete then insert, so a re-indexed
// learning always gets a fresh, higher rowid).
type embeddingRow struct {
	Learning
	Embedding []byte `db:"embedding"`
	RowID     int64  `db:"rid"`
}

// QueryVector scans every embedding visible through the filter and returns
// the k nearest learnings by cosine distance. Ties break toward the more
// recently indexed learning, then lexically by id. Excluded ids are removed
// before the result is cut to k, never after.
func (s *Store) QueryVector(query []float64, filter ScopeFilter, excludeIDs []string, k int) ([]Match, error) {
	if k <= 0 {
		return []Match{}, nil
	}

	cond, args := filter.where("l")
	var rows []embeddingRow
	err := s.db.Select(&rows, `
		SELECT l.*, e.embedding, e.rowid AS rid
		FROM learnings l
		JOIN learning_embeddings e ON e.learning_id = l.id
		WHERE `+cond, args...)
	if err != nil {
		return nil, fmt.Errorf("vector scan: %w", err)
	}

	excluded := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}

	type scored struct {
		Match
		rowid int64
	}
	results := make([]scored, 0, len(rows))
	for _, row := range rows {
		if excluded[row.ID] {
			continue
		}
		vec, err := decodeEmbedding(row.Embedding)
		if err != nil {
			return nil, fmt.Errorf("learning %s: %w", row.ID, err)
		}
		results = append(results, scored{
			Match: Match{Learning: row.Learning, Distance: CosineDistance(query, vec)},
			rowid: row.RowID,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		if results[i].rowid != results[j].rowid {
			return results[i].rowid > results[j].rowid
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > k {
		results = results[:k]
	}
	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = r.Match
	}
	return matches, nil
}

// AllEmbeddings returns every learning in the filter with its decoded
// vector, for pairwise scans during consolidation.
func (s *Store) AllEmbeddings(filter ScopeFilter) ([]Learning, [][]float64, error) {
	cond, args := filter.where("l")
	var rows []embeddingRow
	err := s.db.Select(&rows, `
		SELECT l.*, e.embedding, e.rowid AS rid
		FROM learnings l
		JOIN learning_embeddings e ON e.learning_id = l.id
		WHERE `+cond+`
		ORDER BY l.id`, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("embedding scan: %w", err)
	}

	learnings := make([]Learning, len(rows))
	vectors := make([][]float64, len(rows))
	for i, row := range rows {
		vec, err := decodeEmbedding(row.Embedding)
		if err != nil {
			return nil, nil, fmt.Errorf("learning %s: %w", row.ID, err)
		}
		learnings[i] = row.Learning
		vectors[i] = vec
	}
	return learnings, vectors, nil
}

// GetEmbedding returns the stored vector for one learning.
func (s *Store) GetEmbedding(id string) ([]float64, error) {
	var blob []byte
	if err := s.db.Get(&blob, "SELECT embedding FROM learning_embeddings WHERE learning_id = ?", id); err != nil {
		return nil, fmt.Errorf("%w: embedding for %s", ErrNotFound, id)
	}
	return decodeEmbedding(blob)
}

// Dimension returns the embedding dimension of the store, or 0 when empty.
func (s *Store) Dimension() int {
	var dim int
	if err := s.db.Get(&dim, "SELECT dimensions FROM learning_embeddings LIMIT 1"); err != nil {
		return 0
	}
	return dim
}

// sqlxIn expands an IN (?) query for a slice of ids.
func sqlxIn(query string, ids []string) (string, []any, error) {
	q, args, err := sqlx.In(query, ids)
	if err != nil {
		return "", nil, fmt.Errorf("expanding query: %w", err)
	}
	return q, args, nil
}
