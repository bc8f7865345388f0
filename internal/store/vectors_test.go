package store

import (
	"context"
	"math"
	"testing"

	"github.com/lazypower/keepsake/internal/memory"
)

func TestEncodeDecodeEmbedding(t *testing.T) {
	original := []float32{1.0, -0.5, 0.333, math.Pi, 0.0}
	decoded := decodeEmbedding(encodeEmbedding(original))

	if len(decoded) != len(original) {
		t.Fatalf("length mismatch: %d vs %d", len(decoded), len(original))
	}
	for i := range original {
		if decoded[i] != original[i] {
			t.Errorf("index %d: got %f, want %f", i, decoded[i], original[i])
		}
	}
}

func seedFact(t *testing.T, fs *FactStore, owner memory.Owner, key string) *memory.Fact {
	t.Helper()
	m, err := fs.Upsert(context.Background(), owner, key, memory.Candidate{Value: "v"})
	if err != nil {
		t.Fatalf("Upsert %s: %v", key, err)
	}
	return m.Fact
}

func TestSaveAndGetVector(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	f := seedFact(t, NewFactStore(db, nil), memory.Owner{UserID: "u1"}, "pet.Ember")

	embedding := []float32{0.1, 0.2, 0.3, 0.4, 0.5}
	if err := db.SaveVector(ctx, f.ID, embedding, "test-model"); err != nil {
		t.Fatalf("SaveVector: %v", err)
	}

	v, err := db.GetVector(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetVector: %v", err)
	}
	if v == nil {
		t.Fatal("expected vector, got nil")
	}
	if v.Model != "test-model" {
		t.Errorf("model = %q, want %q", v.Model, "test-model")
	}
	if v.Dimensions != 5 {
		t.Errorf("dimensions = %d, want 5", v.Dimensions)
	}
	for i := range embedding {
		if v.Embedding[i] != embedding[i] {
			t.Errorf("embedding[%d] = %f, want %f", i, v.Embedding[i], embedding[i])
		}
	}
}

func TestSaveVectorReplace(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	f := seedFact(t, NewFactStore(db, nil), memory.Owner{UserID: "u1"}, "pet.Ember")

	db.SaveVector(ctx, f.ID, []float32{0.1, 0.2}, "model-a")
	db.SaveVector(ctx, f.ID, []float32{0.3, 0.4, 0.5}, "model-b")

	v, _ := db.GetVector(ctx, f.ID)
	if v.Model != "model-b" {
		t.Errorf("model = %q, want %q", v.Model, "model-b")
	}
	if v.Dimensions != 3 {
		t.Errorf("dimensions = %d, want 3", v.Dimensions)
	}
}

func TestGetVectorMissing(t *testing.T) {
	db := testDB(t)
	v, err := db.GetVector(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetVector: %v", err)
	}
	if v != nil {
		t.Error("expected nil for missing vector")
	}
}

func TestLiveVectorsSkipDiscarded(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	fs := NewFactStore(db, nil)
	owner := memory.Owner{UserID: "u1", ProjectID: "p1"}
	keep := seedFact(t, fs, owner, "pet.Ember")
	gone := seedFact(t, fs, owner, "pet.Rex")

	db.SaveVector(ctx, keep.ID, []float32{1, 0}, "m")
	db.SaveVector(ctx, gone.ID, []float32{0, 1}, "m")
	if _, err := fs.Discard(ctx, owner, gone.ID); err != nil {
		t.Fatalf("Discard: %v", err)
	}

	vecs, err := db.LiveVectors(ctx)
	if err != nil {
		t.Fatalf("LiveVectors: %v", err)
	}
	if len(vecs) != 1 || vecs[0].FactID != keep.ID {
		t.Fatalf("LiveVectors = %+v, want only %s", vecs, keep.ID)
	}
	if vecs[0].Owner != owner {
		t.Errorf("owner = %+v, want %+v", vecs[0].Owner, owner)
	}
}

func TestVectorCascadeOnForget(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	fs := NewFactStore(db, nil)
	owner := memory.Owner{UserID: "u1"}
	f := seedFact(t, fs, owner, "pet.Ember")
	db.SaveVector(ctx, f.ID, []float32{1, 0}, "m")

	if _, err := fs.Forget(ctx, owner, "pet.Ember"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	v, _ := db.GetVector(ctx, f.ID)
	if v != nil {
		t.Error("vector should be deleted with its fact")
	}
}

func TestFactsMissingVectors(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	fs := NewFactStore(db, nil)
	owner := memory.Owner{UserID: "u1"}
	a := seedFact(t, fs, owner, "pet.Ember")
	b := seedFact(t, fs, owner, "pet.Rex")
	c := seedFact(t, fs, owner, "pet.Tom")

	db.SaveVector(ctx, a.ID, []float32{1}, "current")
	db.SaveVector(ctx, b.ID, []float32{1}, "old")

	missing, err := db.FactsMissingVectors(ctx, "current", 10)
	if err != nil {
		t.Fatalf("FactsMissingVectors: %v", err)
	}
	got := map[string]bool{}
	for _, f := range missing {
		got[f.ID] = true
	}
	if len(got) != 2 || !got[b.ID] || !got[c.ID] {
		t.Errorf("missing = %v, want %s and %s", got, b.ID, c.ID)
	}
}
