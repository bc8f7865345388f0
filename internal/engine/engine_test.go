package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/keepsake/internal/llm"
	"github.com/lazypower/keepsake/internal/memory"
	"github.com/lazypower/keepsake/internal/store"
)

var (
	clock = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	alice = memory.Owner{UserID: "alice", ProjectID: "companion"}
)

// fakeClock is a settable time source shared by the store and the engine.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock { return &fakeClock{t: clock} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testFacts(t *testing.T, clk *fakeClock) *store.FactStore {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	fs := store.NewFactStore(db, nil)
	fs.Now = clk.Now
	return fs
}

func testEngine(t *testing.T, client llm.Client, emb Embedder, opts Options) (*Engine, *fakeClock) {
	t.Helper()
	clk := newClock()
	e, err := New(testFacts(t, clk), client, emb, opts)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e, clk
}

// keywordEmbedder maps a fixed vocabulary onto dimensions, so similarity in
// tests is exact and readable.
type keywordEmbedder struct {
	words []string
	err   error
}

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{words: []string{"dog", "ember", "violin", "maya", "coffee", "work"}}
}

func (k *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if k.err != nil {
		return nil, k.err
	}
	text = strings.ToLower(text)
	vec := make([]float32, len(k.words))
	for i, w := range k.words {
		vec[i] = float32(strings.Count(text, w))
	}
	return vec, nil
}

func (k *keywordEmbedder) Model() string   { return "keywords" }
func (k *keywordEmbedder) Dimensions() int { return len(k.words) }

func intp(i int) *int         { return &i }
func f64p(f float64) *float64 { return &f }

func mustKey(t *testing.T, e *Engine, owner memory.Owner, key string) *memory.Fact {
	t.Helper()
	f, err := e.Facts.FindByKey(context.Background(), owner, key)
	require.NoError(t, err)
	require.NotNil(t, f, "fact %s", key)
	return f
}

func TestProcessTurnHeuristicsOnly(t *testing.T) {
	e, _ := testEngine(t, nil, nil, Options{})

	res, err := e.ProcessTurn(context.Background(), alice, Turn{User: "my daughter Maya starts school tomorrow"})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, memory.OutcomeCreated, res.Results[0].Outcome)
	assert.Empty(t, res.Question)

	f := mustKey(t, e, alice, "people.Maya")
	assert.Equal(t, "Maya is the user's daughter", f.DisplayText)
	assert.Equal(t, []memory.RelationalTag{"child"}, f.RelationalContext)
	assert.InDelta(t, 3.0, f.Strength, 1e-9)
}

const extractionJSON = `{"ops": [
	{"op": "UPSERT", "key": "pet.Ember", "value": {"species": "dog"}, "triggerTerms": ["Ember"], "importance": 8, "confidence": 0.95},
	{"op": "UPSERT", "key": "preferences.color", "value": "green", "confidence": 0.3, "importance": 4},
	{"op": "UPSERT", "key": "ab", "value": "too short"}
]}`

func TestProcessTurnWithCollaborator(t *testing.T) {
	mock := &llm.MockClient{Respond: func(prompt string) (*llm.Response, error) {
		if strings.Contains(prompt, "UNCONFIRMED MEMORY OPERATIONS") {
			return &llm.Response{Content: `{"shouldAsk": true, "question": "Is green your favourite colour?", "key": "preferences.color"}`}, nil
		}
		return &llm.Response{Content: extractionJSON}, nil
	}}
	e, _ := testEngine(t, mock, nil, Options{})

	res, err := e.ProcessTurn(context.Background(), alice, Turn{User: "our dog Ember loves the beach, and I guess I like green"})
	require.NoError(t, err)

	// pet.Ember from the collaborator wins over the heuristic duplicate.
	require.Len(t, res.Results, 1)
	assert.Equal(t, "pet.Ember", res.Results[0].Key)
	assert.Equal(t, 1, res.Rejected)
	require.Len(t, res.Pending, 1)
	assert.Equal(t, "preferences.color", res.Pending[0].Key)
	assert.Equal(t, "Is green your favourite colour?", res.Question)
	assert.Equal(t, 2, mock.CallCount())

	f := mustKey(t, e, alice, "pet.Ember")
	assert.InDelta(t, 2.5, f.Strength, 1e-9)
	assert.JSONEq(t, `{"species":"dog"}`, f.Value)

	held, err := e.Facts.FindByKey(context.Background(), alice, "preferences.color")
	require.NoError(t, err)
	assert.Nil(t, held, "low-confidence op must not be stored")
}

func TestProcessTurnCollaboratorDown(t *testing.T) {
	mock := &llm.MockClient{Err: errors.New("connection refused")}
	e, _ := testEngine(t, mock, nil, Options{})

	res, err := e.ProcessTurn(context.Background(), alice, Turn{User: "my friend Sam is visiting"})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "people.Sam", res.Results[0].Key)
}

func TestProcessTurnCorrectionPromotes(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{
		Content: `[{"op": "UPSERT", "key": "people.Jane", "value": "cousin"}]`,
	}}
	e, _ := testEngine(t, mock, nil, Options{})
	ctx := context.Background()

	e.Apply(ctx, alice, []memory.Operation{{Op: memory.OpUpsert, Key: "people.Jane", Value: "sister"}})

	res, err := e.ProcessTurn(ctx, alice, Turn{User: "no that's not right, Jane is my cousin"})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, memory.OpCorrect, res.Results[0].Op)
	assert.Equal(t, memory.OutcomeCorrected, res.Results[0].Outcome)

	f := mustKey(t, e, alice, "people.Jane")
	assert.Equal(t, "cousin", f.Value)
	assert.True(t, f.Pinned)
	assert.Equal(t, 1, f.CorrectionCount)
}

func TestProcessTurnValidation(t *testing.T) {
	e, _ := testEngine(t, nil, nil, Options{})

	_, err := e.ProcessTurn(context.Background(), memory.Owner{}, Turn{User: "hi"})
	assert.True(t, memory.IsValidation(err))

	_, err = e.ProcessTurn(context.Background(), alice, Turn{User: "   "})
	assert.True(t, memory.IsValidation(err))
}

func TestUpsertScenarioStrength(t *testing.T) {
	e, _ := testEngine(t, nil, nil, Options{})
	ctx := context.Background()

	r := e.Apply(ctx, alice, []memory.Operation{{Op: memory.OpUpsert, Key: "pet.Ember", Value: map[string]any{"species": "dog"}, Importance: intp(8)}})
	require.NoError(t, r[0].Err)
	assert.InDelta(t, 2.5, mustKey(t, e, alice, "pet.Ember").Strength, 1e-9)

	r = e.Apply(ctx, alice, []memory.Operation{{Op: memory.OpUpsert, Key: "pet.Ember", Value: map[string]any{"species": "dog"}, Importance: intp(5)}})
	require.NoError(t, r[0].Err)
	assert.Equal(t, memory.OutcomeUpdated, r[0].Outcome)
	assert.InDelta(t, 2.7, mustKey(t, e, alice, "pet.Ember").Strength, 1e-9)
}

func TestCorrectionsLockAgainstUpsert(t *testing.T) {
	e, _ := testEngine(t, nil, nil, Options{})
	ctx := context.Background()

	first, err := e.Protocol.Correct(ctx, alice, "people.Jane", "cousin", "")
	require.NoError(t, err)
	assert.False(t, first.Locked)

	second, err := e.Protocol.Correct(ctx, alice, "people.Jane", "second cousin", "")
	require.NoError(t, err)
	assert.True(t, second.Locked)
	assert.Equal(t, memory.OutcomeLocked, second.Outcome)

	r := e.Apply(ctx, alice, []memory.Operation{{Op: memory.OpUpsert, Key: "people.Jane", Value: "sister"}})
	assert.Equal(t, memory.OutcomeLockedIgnore, r[0].Outcome)

	f := mustKey(t, e, alice, "people.Jane")
	assert.Equal(t, "second cousin", f.Value)
	assert.Equal(t, 2, f.CorrectionCount)
	assert.True(t, f.IsLocked)
}

func TestContextRevealGating(t *testing.T) {
	e, _ := testEngine(t, nil, nil, Options{})
	ctx := context.Background()

	r := e.Apply(ctx, alice, []memory.Operation{{
		Op:           memory.OpUpsert,
		Key:          "pet.Ember",
		Value:        "dog who had surgery",
		TriggerTerms: []string{"Ember"},
		RevealPolicy: memory.RevealUserTriggerOnly,
	}})
	require.NoError(t, r[0].Err)

	out, err := e.Context(ctx, alice, "how's work going")
	require.NoError(t, err)
	assert.Empty(t, out.Context.People)
	assert.Contains(t, out.Prompt, memory.UncertaintyInstruction)

	out, err = e.Context(ctx, alice, "how's Ember doing")
	require.NoError(t, err)
	require.Len(t, out.Context.People, 1)
	assert.Contains(t, out.Prompt, "## People")
	assert.Equal(t, ModeLexical, out.Mode)
}

func TestContextFallbackPrompt(t *testing.T) {
	e, _ := testEngine(t, nil, nil, Options{})
	ctx := context.Background()

	for _, k := range []string{"hypotheses.job", "hypotheses.move", "hypotheses.sleep"} {
		r := e.Apply(ctx, alice, []memory.Operation{{Op: memory.OpUpsert, Key: k, Value: "maybe", Status: "open"}})
		require.NoError(t, r[0].Err)
	}

	out, err := e.Context(ctx, alice, "what should I do")
	require.NoError(t, err)
	assert.Len(t, out.Context.Hypotheses, 3)
	assert.Equal(t, memory.FallbackPrompt, out.FallbackPrompt)
	assert.Contains(t, out.Prompt, "(open)")
}

func TestContextDecayWindow(t *testing.T) {
	e, clk := testEngine(t, nil, nil, Options{DecayWindow: 90 * 24 * time.Hour, CacheTTL: -1})
	ctx := context.Background()

	e.Apply(ctx, alice, []memory.Operation{
		{Op: memory.OpUpsert, Key: "notes.old", Value: "stale"},
	})
	_, err := e.Protocol.Correct(ctx, alice, "notes.kept", "corrected", "")
	require.NoError(t, err)

	clk.Advance(100 * 24 * time.Hour)
	out, err := e.Context(ctx, alice, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.kept: corrected"}, out.Context.Notes)
}

func TestReinforce(t *testing.T) {
	e, _ := testEngine(t, nil, nil, Options{})
	ctx := context.Background()

	e.Apply(ctx, alice, []memory.Operation{{Op: memory.OpUpsert, Key: "pet.Ember", Value: "dog"}})

	res, err := e.Reinforce(ctx, alice, []string{"pet.Ember", "pet.Ember", "pet.Ghost"})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, memory.OutcomeReinforced, res[0].Outcome)
	assert.Equal(t, memory.OutcomeSkipped, res[1].Outcome)
	assert.NoError(t, res[1].Err)

	assert.InDelta(t, 1.9, mustKey(t, e, alice, "pet.Ember").Strength, 1e-9)
	ghost, err := e.Facts.FindByKey(ctx, alice, "pet.Ghost")
	require.NoError(t, err)
	assert.Nil(t, ghost)
}

func TestSimilarityContext(t *testing.T) {
	e, _ := testEngine(t, nil, newKeywordEmbedder(), Options{Retrieval: RetrieverOptions{Mode: ModeSimilarity}})
	ctx := context.Background()

	e.Apply(ctx, alice, []memory.Operation{
		{Op: memory.OpUpsert, Key: "pet.Ember", Value: "dog"},
		{Op: memory.OpUpsert, Key: "people.Maya", Value: "plays violin"},
	})
	assert.Equal(t, 2, e.Index.Len(alice))

	out, err := e.Context(ctx, alice, "is ember still the goodest dog")
	require.NoError(t, err)
	assert.Equal(t, ModeSimilarity, out.Mode)
	assert.Equal(t, []string{"pet.Ember: dog"}, out.Context.People)
}

func TestForgetDropsVectors(t *testing.T) {
	e, _ := testEngine(t, nil, newKeywordEmbedder(), Options{Retrieval: RetrieverOptions{Mode: ModeSimilarity}})
	ctx := context.Background()

	e.Apply(ctx, alice, []memory.Operation{{Op: memory.OpUpsert, Key: "pet.Ember", Value: "dog"}})
	require.Equal(t, 1, e.Index.Len(alice))

	n, err := e.Forget(ctx, alice, "pet.Ember")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, e.Index.Len(alice))
}

func TestDiscardUnindexes(t *testing.T) {
	e, _ := testEngine(t, nil, newKeywordEmbedder(), Options{Retrieval: RetrieverOptions{Mode: ModeSimilarity}})
	ctx := context.Background()

	e.Apply(ctx, alice, []memory.Operation{{Op: memory.OpUpsert, Key: "pet.Ember", Value: "dog"}})
	r := e.Apply(ctx, alice, []memory.Operation{{Op: memory.OpDiscard, Key: "pet.Ember"}})
	require.NoError(t, r[0].Err)
	assert.Equal(t, 0, e.Index.Len(alice))
}

func TestLoadIndexAndEmbedMissing(t *testing.T) {
	clk := newClock()
	fs := testFacts(t, clk)
	ctx := context.Background()

	// Facts written before any embedder existed.
	_, err := fs.Upsert(ctx, alice, "pet.Ember", memory.Candidate{Value: "dog"})
	require.NoError(t, err)
	_, err = fs.Upsert(ctx, alice, "people.Maya", memory.Candidate{Value: "violin"})
	require.NoError(t, err)

	e, err := New(fs, nil, newKeywordEmbedder(), Options{})
	require.NoError(t, err)
	defer e.Close()

	n, err := e.LoadIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = e.EmbedMissing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, e.Index.Len(alice))

	// A fresh engine hydrates from the persisted vectors.
	e2, err := New(fs, nil, newKeywordEmbedder(), Options{})
	require.NoError(t, err)
	defer e2.Close()
	n, err = e2.LoadIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = e2.EmbedMissing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestNewRejectsUnknownPolicy(t *testing.T) {
	_, err := New(testFacts(t, newClock()), nil, nil, Options{DecayPolicy: "linear"})
	assert.True(t, memory.IsValidation(err))
}
