package engine

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"github.com/lazypower/keepsake/internal/memory"
	"github.com/lazypower/keepsake/internal/store"
)

// Match is one nearest-neighbour hit.
type Match struct {
	FactID     string
	Similarity float64
}

// ChromemIndex is the in-process nearest-neighbour index over fact vectors.
// Each owner scope gets its own collection, so a query never sees another
// user's facts. SQLite stays the source of truth; the index is rebuilt from
// it at startup.
type ChromemIndex struct {
	db          *chromem.DB
	mu          sync.RWMutex
	collections map[memory.Owner]*chromem.Collection
}

// NewChromemIndex creates an empty index.
func NewChromemIndex() *ChromemIndex {
	return &ChromemIndex{
		db:          chromem.NewDB(),
		collections: make(map[memory.Owner]*chromem.Collection),
	}
}

func collectionName(owner memory.Owner) string {
	return fmt.Sprintf("facts:%q:%q", owner.UserID, owner.ProjectID)
}

func (x *ChromemIndex) collection(owner memory.Owner, create bool) (*chromem.Collection, error) {
	x.mu.RLock()
	col, ok := x.collections[owner]
	x.mu.RUnlock()
	if ok || !create {
		return col, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if col, ok := x.collections[owner]; ok {
		return col, nil
	}
	// We always supply embeddings, so no embedding func is configured.
	col, err := x.db.GetOrCreateCollection(collectionName(owner), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	x.collections[owner] = col
	return col, nil
}

// Upsert adds or replaces the vector for a fact.
func (x *ChromemIndex) Upsert(ctx context.Context, owner memory.Owner, factID string, vec []float32) error {
	if len(vec) == 0 || isZero(vec) {
		return x.Delete(ctx, owner, factID)
	}
	col, err := x.collection(owner, true)
	if err != nil {
		return err
	}
	// The index keeps its own copy of the vector.
	emb := append([]float32(nil), vec...)
	if err := col.AddDocument(ctx, chromem.Document{
		ID:        factID,
		Content:   factID,
		Embedding: emb,
	}); err != nil {
		return fmt.Errorf("index fact %s: %w", factID, err)
	}
	return nil
}

// Delete drops a fact from the owner's collection. Missing entries are fine.
func (x *ChromemIndex) Delete(ctx context.Context, owner memory.Owner, factID string) error {
	col, err := x.collection(owner, false)
	if err != nil || col == nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, factID); err != nil {
		return fmt.Errorf("unindex fact %s: %w", factID, err)
	}
	return nil
}

// Query returns up to n facts of the owner whose similarity to vec is at
// least threshold, most similar first.
func (x *ChromemIndex) Query(ctx context.Context, owner memory.Owner, vec []float32, n int, threshold float64) ([]Match, error) {
	if n <= 0 || len(vec) == 0 || isZero(vec) {
		return nil, nil
	}
	col, err := x.collection(owner, false)
	if err != nil || col == nil {
		return nil, err
	}
	// chromem rejects nResults larger than the collection.
	if c := col.Count(); c == 0 {
		return nil, nil
	} else if n > c {
		n = c
	}

	results, err := col.QueryEmbedding(ctx, append([]float32(nil), vec...), n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	matches := make([]Match, 0, len(results))
	for _, r := range results {
		if float64(r.Similarity) < threshold {
			continue
		}
		matches = append(matches, Match{FactID: r.ID, Similarity: float64(r.Similarity)})
	}
	return matches, nil
}

// Len returns the number of indexed vectors for an owner.
func (x *ChromemIndex) Len(owner memory.Owner) int {
	col, _ := x.collection(owner, false)
	if col == nil {
		return 0
	}
	return col.Count()
}

// Hydrate loads persisted vectors produced by model. Vectors from other
// models are skipped; they are re-embedded by Engine.EmbedMissing.
func (x *ChromemIndex) Hydrate(ctx context.Context, records []store.VectorRecord, model string) int {
	loaded := 0
	for _, rec := range records {
		if rec.Model != model {
			continue
		}
		if err := x.Upsert(ctx, rec.Owner, rec.FactID, rec.Embedding); err != nil {
			log.Warn().Err(err).Str("fact_id", rec.FactID).Msg("index: skip vector")
			continue
		}
		loaded++
	}
	return loaded
}
