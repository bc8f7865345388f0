package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/lazypower/keepsake/internal/memory"
)

// VectorRecord holds the embedding of a fact.
type VectorRecord struct {
	FactID     string
	Owner      memory.Owner
	Embedding  []float32
	Model      string
	Dimensions int
	CreatedAt  time.Time
}

// encodeEmbedding converts a []float32 to a binary BLOB (4 bytes per float32).
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float32.
func decodeEmbedding(buf []byte) []float32 {
	n := len(buf) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// SaveVector stores or replaces the embedding for a fact.
func (db *DB) SaveVector(ctx context.Context, factID string, embedding []float32, model string) error {
	now := time.Now().UnixMilli()
	blob := encodeEmbedding(embedding)

	_, err := db.ExecContext(ctx, `
		INSERT INTO fact_vectors (fact_id, embedding, model, dimensions, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fact_id) DO UPDATE SET embedding = excluded.embedding, model = excluded.model,
			dimensions = excluded.dimensions, created_at = excluded.created_at
	`, factID, blob, model, len(embedding), now)
	if err != nil {
		return fmt.Errorf("save vector: %w", err)
	}
	return nil
}

// GetVector returns the embedding for a fact, or nil if not found.
func (db *DB) GetVector(ctx context.Context, factID string) (*VectorRecord, error) {
	var v VectorRecord
	var blob []byte
	var created int64

	err := db.QueryRowContext(ctx, `
		SELECT fact_id, embedding, model, dimensions, created_at
		FROM fact_vectors WHERE fact_id = ?
	`, factID).Scan(&v.FactID, &blob, &v.Model, &v.Dimensions, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vector: %w", err)
	}
	v.Embedding = decodeEmbedding(blob)
	v.CreatedAt = fromMillis(created)
	return &v, nil
}

// LiveVectors returns the vectors of every non-discarded fact with its owner,
// used to hydrate the in-process similarity index.
func (db *DB) LiveVectors(ctx context.Context) ([]VectorRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT v.fact_id, f.user_id, f.project_id, v.embedding, v.model, v.dimensions, v.created_at
		FROM fact_vectors v JOIN memory_facts f ON f.id = v.fact_id
		WHERE f.discarded_at IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("live vectors: %w", err)
	}
	defer rows.Close()

	var records []VectorRecord
	for rows.Next() {
		var v VectorRecord
		var project sql.NullString
		var blob []byte
		var created int64
		if err := rows.Scan(&v.FactID, &v.Owner.UserID, &project, &blob, &v.Model, &v.Dimensions, &created); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		v.Owner.ProjectID = project.String
		v.Embedding = decodeEmbedding(blob)
		v.CreatedAt = fromMillis(created)
		records = append(records, v)
	}
	return records, rows.Err()
}

// FactsMissingVectors returns live facts with no vector, or one from another model.
func (db *DB) FactsMissingVectors(ctx context.Context, model string, limit int) ([]*memory.Fact, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+prefixed("f.", factColumns)+`
		FROM memory_facts f LEFT JOIN fact_vectors v ON v.fact_id = f.id
		WHERE f.discarded_at IS NULL AND (v.fact_id IS NULL OR v.model != ?)
		ORDER BY f.updated_at DESC
		LIMIT ?
	`, model, limit)
	if err != nil {
		return nil, fmt.Errorf("facts missing vectors: %w", err)
	}
	return scanFacts(rows)
}

// DeleteVector removes the embedding for a fact.
func (db *DB) DeleteVector(ctx context.Context, factID string) error {
	_, err := db.ExecContext(ctx, "DELETE FROM fact_vectors WHERE fact_id = ?", factID)
	if err != nil {
		return fmt.Errorf("delete vector: %w", err)
	}
	return nil
}
