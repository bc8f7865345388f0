package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/keepsake/internal/memory"
	"github.com/lazypower/keepsake/internal/store"
)

func TestIndexQueryOrdersAndFilters(t *testing.T) {
	x := NewChromemIndex()
	ctx := context.Background()

	require.NoError(t, x.Upsert(ctx, alice, "exact", []float32{1, 0, 0}))
	require.NoError(t, x.Upsert(ctx, alice, "close", []float32{0.9, 0.1, 0}))
	require.NoError(t, x.Upsert(ctx, alice, "far", []float32{0, 0, 1}))

	matches, err := x.Query(ctx, alice, []float32{1, 0, 0}, 10, 0.75)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "exact", matches[0].FactID)
	assert.Equal(t, "close", matches[1].FactID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-5)
}

func TestIndexOwnerIsolation(t *testing.T) {
	x := NewChromemIndex()
	ctx := context.Background()
	bob := memory.Owner{UserID: "bob"}

	require.NoError(t, x.Upsert(ctx, alice, "a1", []float32{1, 0}))
	require.NoError(t, x.Upsert(ctx, bob, "b1", []float32{1, 0}))

	matches, err := x.Query(ctx, bob, []float32{1, 0}, 5, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b1", matches[0].FactID)

	matches, err = x.Query(ctx, memory.Owner{UserID: "carol"}, []float32{1, 0}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestIndexUpsertReplacesAndDeletes(t *testing.T) {
	x := NewChromemIndex()
	ctx := context.Background()

	require.NoError(t, x.Upsert(ctx, alice, "f1", []float32{1, 0}))
	require.NoError(t, x.Upsert(ctx, alice, "f1", []float32{0, 1}))
	assert.Equal(t, 1, x.Len(alice))

	matches, err := x.Query(ctx, alice, []float32{0, 1}, 1, 0.9)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	require.NoError(t, x.Delete(ctx, alice, "f1"))
	assert.Equal(t, 0, x.Len(alice))
	require.NoError(t, x.Delete(ctx, memory.Owner{UserID: "nobody"}, "f1"))
}

func TestIndexZeroVectors(t *testing.T) {
	x := NewChromemIndex()
	ctx := context.Background()

	require.NoError(t, x.Upsert(ctx, alice, "f1", []float32{1, 0}))
	require.NoError(t, x.Upsert(ctx, alice, "f1", []float32{0, 0}))
	assert.Equal(t, 0, x.Len(alice), "a zero vector removes the entry")

	matches, err := x.Query(ctx, alice, []float32{0, 0}, 3, 0)
	require.NoError(t, err)
	assert.Nil(t, matches)
}

func TestIndexHydrateFiltersModel(t *testing.T) {
	x := NewChromemIndex()
	n := x.Hydrate(context.Background(), []store.VectorRecord{
		{FactID: "f1", Owner: alice, Embedding: []float32{1, 0}, Model: "current"},
		{FactID: "f2", Owner: alice, Embedding: []float32{0, 1}, Model: "current"},
		{FactID: "f3", Owner: alice, Embedding: []float32{1, 1, 1}, Model: "old"},
	}, "current")
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, x.Len(alice))
}
