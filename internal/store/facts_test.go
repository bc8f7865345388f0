package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/keepsake/internal/memory"
)

var clock = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type spyRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (s *spyRecorder) Record(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *spyRecorder) types() []memory.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]memory.Outcome, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func testFacts(t *testing.T) (*FactStore, *spyRecorder) {
	t.Helper()
	spy := &spyRecorder{}
	fs := NewFactStore(testDB(t), spy)
	fs.Now = func() time.Time { return clock }
	return fs, spy
}

var alice = memory.Owner{UserID: "alice", ProjectID: "companion"}

func TestUpsertCreate(t *testing.T) {
	fs, spy := testFacts(t)
	ctx := context.Background()

	m, err := fs.Upsert(ctx, alice, "people.Jane", memory.Candidate{Value: "sister", Importance: 9})
	require.NoError(t, err)
	assert.Equal(t, memory.OutcomeCreated, m.Outcome)
	assert.NotEmpty(t, m.Fact.ID)
	assert.InDelta(t, 2.75, m.Fact.Strength, 1e-9)
	assert.False(t, m.Fact.IsLocked)
	assert.Equal(t, "people.Jane: sister", m.Fact.DisplayText)
	assert.Equal(t, memory.CategoryPeople, m.Fact.Category)
	assert.Equal(t, clock, m.Fact.LastReinforcedAt)

	got, err := fs.FindByKey(ctx, alice, "people.Jane")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, m.Fact.ID, got.ID)
	assert.Equal(t, "sister", got.Value)
	assert.Equal(t, []memory.Outcome{memory.OutcomeCreated}, spy.types())
}

func TestUpsertUnlockedMerges(t *testing.T) {
	fs, _ := testFacts(t)
	ctx := context.Background()

	_, err := fs.Upsert(ctx, alice, "issues.job", memory.Candidate{Value: "interviewing", TriggerTerms: []string{"job"}})
	require.NoError(t, err)

	m, err := fs.Upsert(ctx, alice, "issues.job", memory.Candidate{Value: "got the offer"})
	require.NoError(t, err)
	assert.Equal(t, memory.OutcomeUpdated, m.Outcome)
	assert.Equal(t, "interviewing", m.Before)
	assert.Equal(t, "got the offer", m.Fact.Value)
	assert.Equal(t, []string{"job"}, m.Fact.TriggerTerms, "absent fields are retained")
	assert.InDelta(t, 1.95, m.Fact.Strength, 1e-9)
}

func TestUpsertClampsAtMax(t *testing.T) {
	fs, _ := testFacts(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := fs.Upsert(ctx, alice, "notes.tea", memory.Candidate{Value: "green", Importance: 10})
		require.NoError(t, err)
	}
	f, err := fs.FindByKey(ctx, alice, "notes.tea")
	require.NoError(t, err)
	assert.Equal(t, memory.MaxStrength, f.Strength)
}

func TestCorrectThenUpsertStrength(t *testing.T) {
	fs, _ := testFacts(t)
	ctx := context.Background()

	_, err := fs.Upsert(ctx, alice, "people.Sam", memory.Candidate{Value: "brother"})
	require.NoError(t, err)

	m, err := fs.Correct(ctx, alice, "people.Sam", memory.Candidate{Value: "cousin"})
	require.NoError(t, err)
	assert.Equal(t, memory.OutcomeCorrected, m.Outcome)
	assert.InDelta(t, 2.5, m.Fact.Strength, 1e-9)
	assert.Equal(t, 1, m.Fact.CorrectionCount)
	assert.True(t, m.Fact.Pinned)
	assert.False(t, m.Fact.IsLocked)

	m, err = fs.Upsert(ctx, alice, "people.Sam", memory.Candidate{Value: "cousin, lives nearby"})
	require.NoError(t, err)
	assert.Equal(t, memory.OutcomeUpdated, m.Outcome)
	assert.InDelta(t, 2.7, m.Fact.Strength, 1e-9)
}

func TestCorrectCreate(t *testing.T) {
	fs, _ := testFacts(t)

	m, err := fs.Correct(context.Background(), alice, "people.Jane", memory.Candidate{Value: "sister"})
	require.NoError(t, err)
	assert.Equal(t, memory.OutcomeCorrectCreate, m.Outcome)
	assert.Equal(t, memory.MaxStrength, m.Fact.Strength)
	assert.Equal(t, 1, m.Fact.CorrectionCount)
	assert.True(t, m.Fact.Pinned)
	assert.False(t, m.Fact.IsLocked)
}

func TestTwoCorrectionsLock(t *testing.T) {
	fs, spy := testFacts(t)
	ctx := context.Background()

	_, err := fs.Correct(ctx, alice, "people.Jane", memory.Candidate{Value: "sister"})
	require.NoError(t, err)
	m, err := fs.Correct(ctx, alice, "people.Jane", memory.Candidate{Value: "older sister"})
	require.NoError(t, err)

	assert.Equal(t, memory.OutcomeLocked, m.Outcome)
	assert.True(t, m.Fact.IsLocked)
	assert.True(t, m.Locked)
	assert.Equal(t, 2, m.Fact.CorrectionCount)

	// A locked fact ignores automatic upserts apart from a small bump.
	m, err = fs.Upsert(ctx, alice, "people.Jane", memory.Candidate{Value: "friend"})
	require.NoError(t, err)
	assert.Equal(t, memory.OutcomeLockedIgnore, m.Outcome)
	assert.Equal(t, "older sister", m.Fact.Value)
	assert.InDelta(t, 3.0, m.Fact.Strength, 1e-9)

	stored, err := fs.FindByKey(ctx, alice, "people.Jane")
	require.NoError(t, err)
	assert.Equal(t, "older sister", stored.Value)

	// Corrections still overwrite.
	m, err = fs.Correct(ctx, alice, "people.Jane", memory.Candidate{Value: "sister-in-law"})
	require.NoError(t, err)
	assert.Equal(t, memory.OutcomeCorrected, m.Outcome)
	assert.Equal(t, "sister-in-law", m.Fact.Value)
	assert.Equal(t, 3, m.Fact.CorrectionCount)
	assert.True(t, m.Fact.IsLocked)

	assert.Equal(t, []memory.Outcome{
		memory.OutcomeCorrectCreate, memory.OutcomeLocked, memory.OutcomeLockedIgnore, memory.OutcomeCorrected,
	}, spy.types())
}

func TestLockedUpsertBump(t *testing.T) {
	fs, _ := testFacts(t)
	ctx := context.Background()

	_, err := fs.Upsert(ctx, alice, "constraints.diet", memory.Candidate{Value: "vegetarian"})
	require.NoError(t, err)
	_, err = fs.Correct(ctx, alice, "constraints.diet", memory.Candidate{Value: "vegan"})
	require.NoError(t, err)
	_, err = fs.Correct(ctx, alice, "constraints.diet", memory.Candidate{Value: "vegan"})
	require.NoError(t, err)

	// Push strength back down to observe the +0.05 step.
	require.NoError(t, fs.ApplyDecay(ctx, mustFind(t, fs, "constraints.diet").ID, 2.5, clock))

	m, err := fs.Upsert(ctx, alice, "constraints.diet", memory.Candidate{Value: "pescatarian"})
	require.NoError(t, err)
	assert.Equal(t, memory.OutcomeLockedIgnore, m.Outcome)
	assert.InDelta(t, 2.55, m.Fact.Strength, 1e-9)
	assert.Equal(t, "vegan", m.Fact.Value)
}

func mustFind(t *testing.T, fs *FactStore, key string) *memory.Fact {
	t.Helper()
	f, err := fs.FindByKey(context.Background(), alice, key)
	require.NoError(t, err)
	require.NotNil(t, f, key)
	return f
}

func TestReinforce(t *testing.T) {
	fs, _ := testFacts(t)
	ctx := context.Background()

	_, err := fs.Upsert(ctx, alice, "notes.tea", memory.Candidate{Value: "green"})
	require.NoError(t, err)

	later := clock.Add(time.Hour)
	fs.Now = func() time.Time { return later }
	m, err := fs.Reinforce(ctx, alice, "notes.tea")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.InDelta(t, 1.9, m.Fact.Strength, 1e-9)
	assert.Equal(t, later, m.Fact.LastReinforcedAt)
}

func TestReinforceMissingIsNoop(t *testing.T) {
	fs, spy := testFacts(t)

	m, err := fs.Reinforce(context.Background(), alice, "notes.nothing")
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.Empty(t, spy.types())
}

func TestDiscardHidesFact(t *testing.T) {
	fs, _ := testFacts(t)
	ctx := context.Background()

	m, err := fs.Upsert(ctx, alice, "notes.tea", memory.Candidate{Value: "green"})
	require.NoError(t, err)

	f, err := fs.Discard(ctx, alice, m.Fact.ID)
	require.NoError(t, err)
	require.NotNil(t, f.DiscardedAt)

	live, err := fs.ListItems(ctx, alice, false)
	require.NoError(t, err)
	assert.Empty(t, live)

	all, err := fs.ListItems(ctx, alice, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Discarded())

	found, err := fs.FindByKey(ctx, alice, "notes.tea")
	require.NoError(t, err)
	assert.Nil(t, found)

	// Discarding again keeps the original timestamp.
	fs.Now = func() time.Time { return clock.Add(time.Hour) }
	again, err := fs.Discard(ctx, alice, m.Fact.ID)
	require.NoError(t, err)
	assert.Equal(t, *f.DiscardedAt, *again.DiscardedAt)
}

func TestUpsertRevivesDiscarded(t *testing.T) {
	fs, _ := testFacts(t)
	ctx := context.Background()

	m, err := fs.Upsert(ctx, alice, "notes.tea", memory.Candidate{Value: "green"})
	require.NoError(t, err)
	_, err = fs.Discard(ctx, alice, m.Fact.ID)
	require.NoError(t, err)

	revived, err := fs.Upsert(ctx, alice, "notes.tea", memory.Candidate{Value: "oolong"})
	require.NoError(t, err)
	assert.Equal(t, memory.OutcomeUpdated, revived.Outcome)
	assert.Equal(t, "green", revived.Before)
	assert.Equal(t, m.Fact.ID, revived.Fact.ID)
	assert.False(t, revived.Fact.Discarded())
	assert.Equal(t, "oolong", revived.Fact.Value)
	assert.InDelta(t, 1.75, revived.Fact.Strength, 1e-9)
}

func TestUpsertDiscardedLockedKeepsCorrection(t *testing.T) {
	fs, spy := testFacts(t)
	ctx := context.Background()

	_, err := fs.Correct(ctx, alice, "people.Jane", memory.Candidate{Value: "sister"})
	require.NoError(t, err)
	locked, err := fs.Correct(ctx, alice, "people.Jane", memory.Candidate{Value: "older sister"})
	require.NoError(t, err)
	require.True(t, locked.Fact.IsLocked)
	_, err = fs.Discard(ctx, alice, locked.Fact.ID)
	require.NoError(t, err)

	m, err := fs.Upsert(ctx, alice, "people.Jane", memory.Candidate{Value: "cousin"})
	require.NoError(t, err)
	assert.Equal(t, memory.OutcomeLockedIgnore, m.Outcome)
	assert.Equal(t, locked.Fact.ID, m.Fact.ID)
	assert.False(t, m.Fact.Discarded())
	assert.True(t, m.Fact.IsLocked)
	assert.True(t, m.Fact.Pinned)
	assert.Equal(t, 2, m.Fact.CorrectionCount)
	assert.Equal(t, "older sister", m.Fact.Value)

	found, err := fs.FindByKey(ctx, alice, "people.Jane")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "older sister", found.Value)
	assert.True(t, found.IsLocked)
	assert.Equal(t, 2, found.CorrectionCount)

	assert.NotContains(t, spy.types(), memory.OutcomeCreated)
}

func TestUpsertDiscardedKeepsCorrectionCount(t *testing.T) {
	fs, _ := testFacts(t)
	ctx := context.Background()

	c, err := fs.Correct(ctx, alice, "pet.Miso", memory.Candidate{Value: "cat"})
	require.NoError(t, err)
	require.False(t, c.Fact.IsLocked)
	_, err = fs.Discard(ctx, alice, c.Fact.ID)
	require.NoError(t, err)

	m, err := fs.Upsert(ctx, alice, "pet.Miso", memory.Candidate{Value: "kitten"})
	require.NoError(t, err)
	assert.Equal(t, memory.OutcomeUpdated, m.Outcome)
	assert.Equal(t, "kitten", m.Fact.Value)
	assert.Equal(t, 1, m.Fact.CorrectionCount)
	assert.True(t, m.Fact.Pinned)

	// the count carries over, so the next correction locks
	again, err := fs.Correct(ctx, alice, "pet.Miso", memory.Candidate{Value: "old cat"})
	require.NoError(t, err)
	assert.Equal(t, memory.OutcomeLocked, again.Outcome)
}

func TestMutationsByIDNotFound(t *testing.T) {
	fs, _ := testFacts(t)
	ctx := context.Background()

	_, err := fs.Discard(ctx, alice, "missing")
	assert.ErrorIs(t, err, memory.ErrNotFound)
	_, err = fs.Pin(ctx, alice, "missing", true)
	assert.ErrorIs(t, err, memory.ErrNotFound)
	_, err = fs.Confirm(ctx, alice, "missing")
	assert.ErrorIs(t, err, memory.ErrNotFound)
	_, err = fs.Get(ctx, alice, "missing")
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestMutationsRespectOwner(t *testing.T) {
	fs, _ := testFacts(t)
	ctx := context.Background()

	m, err := fs.Upsert(ctx, alice, "notes.tea", memory.Candidate{Value: "green"})
	require.NoError(t, err)

	bob := memory.Owner{UserID: "bob", ProjectID: "companion"}
	_, err = fs.Pin(ctx, bob, m.Fact.ID, true)
	assert.ErrorIs(t, err, memory.ErrNotFound)
	_, err = fs.Discard(ctx, memory.Owner{UserID: "alice"}, m.Fact.ID)
	assert.ErrorIs(t, err, memory.ErrNotFound, "global scope is distinct from the project")
}

func TestPinAndConfirm(t *testing.T) {
	fs, _ := testFacts(t)
	ctx := context.Background()

	m, err := fs.Upsert(ctx, alice, "hypotheses.burnout", memory.Candidate{Value: "stressed at work", Status: "open"})
	require.NoError(t, err)
	strength := m.Fact.Strength

	f, err := fs.Pin(ctx, alice, m.Fact.ID, true)
	require.NoError(t, err)
	assert.True(t, f.Pinned)
	assert.Equal(t, strength, f.Strength, "pin is metadata only")

	f, err = fs.Confirm(ctx, alice, m.Fact.ID)
	require.NoError(t, err)
	require.NotNil(t, f.ConfirmedAt)
	assert.Equal(t, clock, *f.ConfirmedAt)
	assert.Equal(t, "confirmed", f.Status)
	assert.Equal(t, strength, f.Strength)

	f, err = fs.Pin(ctx, alice, m.Fact.ID, false)
	require.NoError(t, err)
	assert.False(t, f.Pinned)
}

func TestGlobalScopeDuplicateKeys(t *testing.T) {
	fs, _ := testFacts(t)
	ctx := context.Background()
	global := memory.Owner{UserID: "alice"}

	first, err := fs.Upsert(ctx, global, "people.Jane", memory.Candidate{Value: "sister"})
	require.NoError(t, err)

	// The store merges into the existing global fact rather than adding a row.
	second, err := fs.Upsert(ctx, global, "people.Jane", memory.Candidate{Value: "older sister"})
	require.NoError(t, err)
	assert.Equal(t, first.Fact.ID, second.Fact.ID)

	// Rows written outside the store may still duplicate a global key; the
	// most recently updated one wins on lookup.
	_, err = fs.DB().Exec(`INSERT INTO memory_facts (id, user_id, project_id, key, value, last_reinforced_at, created_at, updated_at)
		VALUES ('legacy', 'alice', NULL, 'people.Jane', 'neighbor', 1, 1, ?)`, clock.Add(time.Hour).UnixMilli())
	require.NoError(t, err)

	f, err := fs.FindByKey(ctx, global, "people.Jane")
	require.NoError(t, err)
	assert.Equal(t, "legacy", f.ID)

	n, err := fs.Forget(ctx, global, "people.Jane")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestForget(t *testing.T) {
	fs, spy := testFacts(t)
	ctx := context.Background()

	m, err := fs.Upsert(ctx, alice, "notes.tea", memory.Candidate{Value: "green"})
	require.NoError(t, err)

	n, err := fs.Forget(ctx, alice, "notes.tea")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = fs.Get(ctx, alice, m.Fact.ID)
	assert.ErrorIs(t, err, memory.ErrNotFound)

	n, err = fs.Forget(ctx, alice, "notes.tea")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []memory.Outcome{memory.OutcomeCreated, memory.OutcomeForgotten}, spy.types())
}

func TestListItemsOrder(t *testing.T) {
	fs, _ := testFacts(t)
	ctx := context.Background()

	at := func(d time.Duration) { fs.Now = func() time.Time { return clock.Add(d) } }
	at(0)
	a, _ := fs.Upsert(ctx, alice, "notes.a", memory.Candidate{Value: "a"})
	at(time.Minute)
	fs.Upsert(ctx, alice, "notes.b", memory.Candidate{Value: "b"})
	at(2 * time.Minute)
	fs.Upsert(ctx, alice, "notes.c", memory.Candidate{Value: "c"})
	at(3 * time.Minute)
	fs.Pin(ctx, alice, a.Fact.ID, true)

	items, err := fs.ListItems(ctx, alice, false)
	require.NoError(t, err)
	keys := make([]string, len(items))
	for i, f := range items {
		keys[i] = f.Key
	}
	assert.Equal(t, []string{"notes.a", "notes.c", "notes.b"}, keys)
}

func TestListForRetrievalOrder(t *testing.T) {
	fs, _ := testFacts(t)
	ctx := context.Background()

	fs.Upsert(ctx, alice, "notes.low", memory.Candidate{Value: "low", Importance: 1})
	fs.Upsert(ctx, alice, "notes.high", memory.Candidate{Value: "high", Importance: 10})
	pinned, _ := fs.Upsert(ctx, alice, "notes.pinned", memory.Candidate{Value: "pinned", Importance: 1})
	fs.Pin(ctx, alice, pinned.Fact.ID, true)
	gone, _ := fs.Upsert(ctx, alice, "notes.gone", memory.Candidate{Value: "gone", Importance: 10})
	fs.Discard(ctx, alice, gone.Fact.ID)

	facts, err := fs.ListForRetrieval(ctx, alice, 50)
	require.NoError(t, err)
	keys := make([]string, len(facts))
	for i, f := range facts {
		keys[i] = f.Key
	}
	assert.Equal(t, []string{"notes.pinned", "notes.high", "notes.low"}, keys)

	limited, err := fs.ListForRetrieval(ctx, alice, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestGetManyKeepsOrder(t *testing.T) {
	fs, _ := testFacts(t)
	ctx := context.Background()

	a, _ := fs.Upsert(ctx, alice, "notes.a", memory.Candidate{Value: "a"})
	b, _ := fs.Upsert(ctx, alice, "notes.b", memory.Candidate{Value: "b"})
	c, _ := fs.Upsert(ctx, alice, "notes.c", memory.Candidate{Value: "c"})
	fs.Discard(ctx, alice, b.Fact.ID)

	facts, err := fs.GetMany(ctx, alice, []string{c.Fact.ID, "unknown", b.Fact.ID, a.Fact.ID})
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, c.Fact.ID, facts[0].ID)
	assert.Equal(t, a.Fact.ID, facts[1].ID)

	none, err := fs.GetMany(ctx, alice, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListForDecayScopes(t *testing.T) {
	fs, _ := testFacts(t)
	ctx := context.Background()

	fs.Upsert(ctx, alice, "notes.a", memory.Candidate{Value: "a"})
	fs.Upsert(ctx, memory.Owner{UserID: "alice"}, "notes.b", memory.Candidate{Value: "b"})
	fs.Upsert(ctx, memory.Owner{UserID: "bob"}, "notes.c", memory.Candidate{Value: "c"})

	all, err := fs.ListForDecay(ctx, memory.Owner{}, 100)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	user, err := fs.ListForDecay(ctx, memory.Owner{UserID: "alice"}, 100)
	require.NoError(t, err)
	assert.Len(t, user, 2)

	project, err := fs.ListForDecay(ctx, alice, 100)
	require.NoError(t, err)
	require.Len(t, project, 1)
	assert.Equal(t, "notes.a", project[0].Key)

	// Decayed facts move to the back of the queue.
	require.NoError(t, fs.ApplyDecay(ctx, all[0].ID, 1.0, clock))
	next, err := fs.ListForDecay(ctx, memory.Owner{}, 2)
	require.NoError(t, err)
	for _, f := range next {
		assert.NotEqual(t, all[0].ID, f.ID)
	}
}

func TestApplyDecayClampsAndSetsBaseline(t *testing.T) {
	fs, _ := testFacts(t)
	ctx := context.Background()

	m, err := fs.Upsert(ctx, alice, "notes.a", memory.Candidate{Value: "a"})
	require.NoError(t, err)

	at := clock.Add(24 * time.Hour)
	require.NoError(t, fs.ApplyDecay(ctx, m.Fact.ID, 0.01, at))

	f, err := fs.Get(ctx, alice, m.Fact.ID)
	require.NoError(t, err)
	assert.Equal(t, memory.MinStrength, f.Strength)
	require.NotNil(t, f.DecayedAt)
	assert.Equal(t, at, *f.DecayedAt)
	assert.Equal(t, at, f.DecayBaseline())
}

func TestFactListsRoundTrip(t *testing.T) {
	fs, _ := testFacts(t)
	ctx := context.Background()

	m, err := fs.Upsert(ctx, alice, "people.Mo", memory.Candidate{
		Value:             "son",
		TriggerTerms:      []string{"Mo", "school"},
		RelationalContext: []memory.RelationalTag{"child"},
		EmotionalWeight:   memory.WeightHeavy,
		RevealPolicy:      memory.RevealUserTriggerOnly,
	})
	require.NoError(t, err)

	f, err := fs.Get(ctx, alice, m.Fact.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Mo", "school"}, f.TriggerTerms)
	assert.Equal(t, []memory.RelationalTag{"child"}, f.RelationalContext)
	assert.Equal(t, memory.WeightHeavy, f.EmotionalWeight)
	assert.Equal(t, memory.RevealUserTriggerOnly, f.RevealPolicy)
	assert.Equal(t, alice, f.Owner)
}
