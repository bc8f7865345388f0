package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lazypower/keepsake/internal/memory"
	"github.com/lazypower/keepsake/internal/metrics"
)

const factColumns = `id, user_id, project_id, key, value, display_text, category, status,
	trigger_terms, emotional_weight, relational_context, reveal_policy, confidence,
	strength, correction_count, is_locked, pinned,
	confirmed_at, discarded_at, decayed_at, last_reinforced_at, created_at, updated_at`

// AuditRecorder receives audit events after a mutation commits. Recording
// is best-effort and must not block or fail the mutation.
type AuditRecorder interface {
	Record(ctx context.Context, ev Event)
}

// Mutation describes the result of a fact write.
type Mutation struct {
	Fact    *memory.Fact
	Outcome memory.Outcome
	Before  string
	Locked  bool // fact is locked after the write
}

// FactStore persists memory facts with conflict-aware merge semantics.
type FactStore struct {
	db    *DB
	audit AuditRecorder
	Retry RetryPolicy
	Now   func() time.Time
}

// NewFactStore creates a FactStore. audit may be nil.
func NewFactStore(db *DB, audit AuditRecorder) *FactStore {
	return &FactStore{
		db:    db,
		audit: audit,
		Retry: DefaultRetry,
		Now:   time.Now,
	}
}

// DB returns the underlying database.
func (s *FactStore) DB() *DB { return s.db }

func (s *FactStore) now() time.Time { return s.Now().UTC().Truncate(time.Millisecond) }

func (s *FactStore) record(ctx context.Context, ev Event) {
	metrics.FactOperations.WithLabelValues(opLabel(ev.Type), string(ev.Type)).Inc()
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, ev)
}

func opLabel(o memory.Outcome) string {
	switch o {
	case memory.OutcomeCreated, memory.OutcomeUpdated, memory.OutcomeLockedIgnore:
		return "upsert"
	case memory.OutcomeCorrectCreate, memory.OutcomeCorrected, memory.OutcomeLocked:
		return "correct"
	}
	return string(o)
}

// FindByKey returns the live fact for (owner, key), or nil. Global facts
// may share a key; the most recently updated one wins.
func (s *FactStore) FindByKey(ctx context.Context, owner memory.Owner, key string) (*memory.Fact, error) {
	var f *memory.Fact
	err := s.Retry.Do(ctx, "find_by_key", func() error {
		var err error
		f, err = findByKey(ctx, s.db, owner, key, false)
		return err
	})
	return f, err
}

// Get returns a live or discarded fact by id within the owner scope.
func (s *FactStore) Get(ctx context.Context, owner memory.Owner, id string) (*memory.Fact, error) {
	var f *memory.Fact
	err := s.Retry.Do(ctx, "get", func() error {
		row := s.db.QueryRowContext(ctx, `SELECT `+factColumns+` FROM memory_facts
			WHERE id = ? AND user_id = ? AND project_id IS ?`, id, owner.UserID, nullString(owner.ProjectID))
		var err error
		f, err = scanFact(row)
		if err == sql.ErrNoRows {
			return memory.ErrNotFound
		}
		return err
	})
	return f, err
}

// Upsert merges a candidate into the fact for (owner, key).
//
//   - absent: insert with strength from importance, unlocked
//   - locked: value untouched, strength +0.05, reinforced now (locked_ignore)
//   - otherwise: overwrite present fields, strength = max(old, new) + 0.2
//
// A discarded fact under the key is revived in place. Its lock, pin and
// correction count carry over, so a locked fact comes back with its
// corrected value (locked_ignore) and an unlocked one takes the candidate
// with strength reset from importance.
func (s *FactStore) Upsert(ctx context.Context, owner memory.Owner, key string, c memory.Candidate) (*Mutation, error) {
	var m *Mutation
	err := s.Retry.Do(ctx, "upsert", func() error {
		var err error
		m, err = s.inTx(ctx, func(tx *sql.Tx, now time.Time) (*Mutation, error) {
			existing, err := findByKey(ctx, tx, owner, key, true)
			if err != nil {
				return nil, err
			}

			switch {
			case existing == nil:
				f := memory.NewFact(owner, key, c, now)
				f.ID = uuid.NewString()
				if err := insertFact(ctx, tx, f); err != nil {
					return nil, err
				}
				return &Mutation{Fact: f, Outcome: memory.OutcomeCreated}, nil

			case existing.Discarded() && existing.IsLocked:
				existing.DiscardedAt = nil
				existing.Strength = memory.Clamp(existing.Strength + memory.LockedReinforceStep)
				existing.LastReinforcedAt = now
				existing.UpdatedAt = now
				if err := replaceFact(ctx, tx, existing); err != nil {
					return nil, err
				}
				return &Mutation{Fact: existing, Outcome: memory.OutcomeLockedIgnore, Before: existing.Value, Locked: true}, nil

			case existing.Discarded():
				before := existing.Value
				c.Apply(existing)
				existing.DiscardedAt = nil
				existing.Strength = memory.ImportanceToStrength(c.Importance)
				existing.LastReinforcedAt = now
				existing.UpdatedAt = now
				if err := replaceFact(ctx, tx, existing); err != nil {
					return nil, err
				}
				return &Mutation{Fact: existing, Outcome: memory.OutcomeUpdated, Before: before}, nil

			case existing.IsLocked:
				existing.Strength = memory.Clamp(existing.Strength + memory.LockedReinforceStep)
				existing.LastReinforcedAt = now
				if err := updateStrength(ctx, tx, existing); err != nil {
					return nil, err
				}
				return &Mutation{Fact: existing, Outcome: memory.OutcomeLockedIgnore, Before: existing.Value, Locked: true}, nil

			default:
				before := existing.Value
				next := memory.ImportanceToStrength(c.Importance)
				c.Apply(existing)
				existing.Strength = memory.Clamp(math.Max(existing.Strength, next) + memory.UpsertBonus)
				existing.LastReinforcedAt = now
				existing.UpdatedAt = now
				if err := replaceFact(ctx, tx, existing); err != nil {
					return nil, err
				}
				return &Mutation{Fact: existing, Outcome: memory.OutcomeUpdated, Before: before}, nil
			}
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, newEvent(m.Fact, m.Outcome, m.Before, m.Fact.LastReinforcedAt))
	return m, nil
}

// Correct force-writes a user correction. It is the only path that can
// overwrite a locked fact and the only path that sets the lock, which
// happens once the correction count reaches memory.LockThreshold.
func (s *FactStore) Correct(ctx context.Context, owner memory.Owner, key string, c memory.Candidate) (*Mutation, error) {
	var m *Mutation
	err := s.Retry.Do(ctx, "correct", func() error {
		var err error
		m, err = s.inTx(ctx, func(tx *sql.Tx, now time.Time) (*Mutation, error) {
			existing, err := findByKey(ctx, tx, owner, key, true)
			if err != nil {
				return nil, err
			}

			if existing == nil {
				f := memory.NewFact(owner, key, c, now)
				f.ID = uuid.NewString()
				f.Pinned = true
				f.Strength = memory.MaxStrength
				f.CorrectionCount = 1
				if err := insertFact(ctx, tx, f); err != nil {
					return nil, err
				}
				return &Mutation{Fact: f, Outcome: memory.OutcomeCorrectCreate}, nil
			}

			before := existing.Value
			wasLocked := existing.IsLocked
			c.Apply(existing)
			existing.DiscardedAt = nil
			existing.CorrectionCount++
			existing.Strength = memory.Clamp(math.Max(existing.Strength, memory.CorrectionFloor))
			existing.Pinned = true
			existing.IsLocked = existing.CorrectionCount >= memory.LockThreshold
			existing.LastReinforcedAt = now
			existing.UpdatedAt = now
			if err := replaceFact(ctx, tx, existing); err != nil {
				return nil, err
			}

			outcome := memory.OutcomeCorrected
			if existing.IsLocked && !wasLocked {
				outcome = memory.OutcomeLocked
			}
			return &Mutation{Fact: existing, Outcome: outcome, Before: before, Locked: existing.IsLocked}, nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, newEvent(m.Fact, m.Outcome, m.Before, m.Fact.UpdatedAt))
	return m, nil
}

// Reinforce bumps a used fact: +0.15, or +0.05 when locked. A missing key
// is a no-op and returns nil.
func (s *FactStore) Reinforce(ctx context.Context, owner memory.Owner, key string) (*Mutation, error) {
	var m *Mutation
	err := s.Retry.Do(ctx, "reinforce", func() error {
		var err error
		m, err = s.inTx(ctx, func(tx *sql.Tx, now time.Time) (*Mutation, error) {
			f, err := findByKey(ctx, tx, owner, key, false)
			if err != nil || f == nil {
				return nil, err
			}
			step := memory.ReinforceStep
			if f.IsLocked {
				step = memory.LockedReinforceStep
			}
			f.Strength = memory.Clamp(f.Strength + step)
			f.LastReinforcedAt = now
			if err := updateStrength(ctx, tx, f); err != nil {
				return nil, err
			}
			return &Mutation{Fact: f, Outcome: memory.OutcomeReinforced, Before: f.Value, Locked: f.IsLocked}, nil
		})
		return err
	})
	if err != nil || m == nil {
		return nil, err
	}
	s.record(ctx, newEvent(m.Fact, m.Outcome, m.Before, m.Fact.LastReinforcedAt))
	return m, nil
}

// Discard soft-deletes a fact by id. The row stays and is hidden from
// default listing and retrieval. Discarding twice keeps the first timestamp.
func (s *FactStore) Discard(ctx context.Context, owner memory.Owner, id string) (*memory.Fact, error) {
	now := s.now().UnixMilli()
	return s.mutateByID(ctx, "discard", owner, id, memory.OutcomeDiscarded,
		`discarded_at = COALESCE(discarded_at, ?), updated_at = ?`, now, now)
}

// Pin sets or clears the pinned flag.
func (s *FactStore) Pin(ctx context.Context, owner memory.Owner, id string, pinned bool) (*memory.Fact, error) {
	return s.mutateByID(ctx, "pin", owner, id, memory.OutcomePinned,
		`pinned = ?, updated_at = ?`, pinned, s.now().UnixMilli())
}

// Confirm records that the user affirmed a fact. Hypotheses become confirmed.
func (s *FactStore) Confirm(ctx context.Context, owner memory.Owner, id string) (*memory.Fact, error) {
	now := s.now().UnixMilli()
	return s.mutateByID(ctx, "confirm", owner, id, memory.OutcomeConfirmed,
		`confirmed_at = ?, updated_at = ?, status = CASE WHEN category = 'hypotheses' THEN 'confirmed' ELSE status END`,
		now, now)
}

// mutateByID applies a metadata-only SET clause to one owned fact.
func (s *FactStore) mutateByID(ctx context.Context, op string, owner memory.Owner, id string, outcome memory.Outcome, set string, setArgs ...any) (*memory.Fact, error) {
	var f *memory.Fact
	args := append(setArgs, id, owner.UserID, nullString(owner.ProjectID))
	err := s.Retry.Do(ctx, op, func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE memory_facts SET `+set+`
			WHERE id = ? AND user_id = ? AND project_id IS ?`, args...)
		if err != nil {
			return fmt.Errorf("%s fact: %w", op, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return memory.ErrNotFound
		}
		row := s.db.QueryRowContext(ctx, `SELECT `+factColumns+` FROM memory_facts WHERE id = ?`, id)
		f, err = scanFact(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, newEvent(f, outcome, f.Value, f.UpdatedAt))
	return f, nil
}

// Forget hard-deletes every fact stored under (owner, key) and returns how
// many rows were removed. This is the explicit administrative "forget this"
// path; Discard is the canonical user-facing removal.
func (s *FactStore) Forget(ctx context.Context, owner memory.Owner, key string) (int, error) {
	var removed []*memory.Fact
	err := s.Retry.Do(ctx, "forget", func() error {
		removed = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin forget: %w", err)
		}
		defer tx.Rollback()

		rows, err := tx.QueryContext(ctx, `SELECT `+factColumns+` FROM memory_facts
			WHERE user_id = ? AND project_id IS ? AND key = ?`, owner.UserID, nullString(owner.ProjectID), key)
		if err != nil {
			return fmt.Errorf("select forget: %w", err)
		}
		removed, err = scanFacts(rows)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_facts WHERE user_id = ? AND project_id IS ? AND key = ?`,
			owner.UserID, nullString(owner.ProjectID), key); err != nil {
			return fmt.Errorf("delete facts: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	now := s.now()
	for _, f := range removed {
		ev := newEvent(f, memory.OutcomeForgotten, f.Value, now)
		ev.After = ""
		s.record(ctx, ev)
	}
	return len(removed), nil
}

// ListItems returns an owner's facts, pinned first, then most recently updated.
func (s *FactStore) ListItems(ctx context.Context, owner memory.Owner, includeDiscarded bool) ([]*memory.Fact, error) {
	q := `SELECT ` + factColumns + ` FROM memory_facts WHERE user_id = ? AND project_id IS ?`
	if !includeDiscarded {
		q += ` AND discarded_at IS NULL`
	}
	q += ` ORDER BY pinned DESC, updated_at DESC, id`
	return s.query(ctx, "list_items", q, owner.UserID, nullString(owner.ProjectID))
}

// ListForRetrieval returns live facts ranked for lexical retrieval:
// pinned, then strength, then most recently reinforced.
func (s *FactStore) ListForRetrieval(ctx context.Context, owner memory.Owner, limit int) ([]*memory.Fact, error) {
	return s.query(ctx, "list_for_retrieval", `SELECT `+factColumns+` FROM memory_facts
		WHERE user_id = ? AND project_id IS ? AND discarded_at IS NULL
		ORDER BY pinned DESC, strength DESC, last_reinforced_at DESC, id
		LIMIT ?`, owner.UserID, nullString(owner.ProjectID), limit)
}

// GetMany returns the live facts among ids, in the order given.
func (s *FactStore) GetMany(ctx context.Context, owner memory.Owner, ids []string) ([]*memory.Fact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := []any{owner.UserID, nullString(owner.ProjectID)}
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	facts, err := s.query(ctx, "get_many", `SELECT `+factColumns+` FROM memory_facts
		WHERE user_id = ? AND project_id IS ? AND discarded_at IS NULL AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*memory.Fact, len(facts))
	for _, f := range facts {
		byID[f.ID] = f
	}
	ordered := make([]*memory.Fact, 0, len(facts))
	for _, id := range ids {
		if f, ok := byID[id]; ok {
			ordered = append(ordered, f)
			delete(byID, id)
		}
	}
	return ordered, nil
}

// ListForDecay returns up to limit live facts in scope, least recently
// decayed first so successive capped runs cover the whole table. An empty
// scope user selects every user; an empty scope project selects all of the
// user's projects.
func (s *FactStore) ListForDecay(ctx context.Context, scope memory.Owner, limit int) ([]*memory.Fact, error) {
	q := `SELECT ` + factColumns + ` FROM memory_facts WHERE discarded_at IS NULL`
	var args []any
	if scope.UserID != "" {
		q += ` AND user_id = ?`
		args = append(args, scope.UserID)
		if scope.ProjectID != "" {
			q += ` AND project_id = ?`
			args = append(args, scope.ProjectID)
		}
	}
	q += ` ORDER BY COALESCE(decayed_at, 0), id LIMIT ?`
	args = append(args, limit)
	return s.query(ctx, "list_for_decay", q, args...)
}

// ListLive returns up to limit live facts across every owner, most recently
// updated first. It feeds vocabulary building for the offline embedder.
func (s *FactStore) ListLive(ctx context.Context, limit int) ([]*memory.Fact, error) {
	return s.query(ctx, "list_live", `SELECT `+factColumns+` FROM memory_facts
		WHERE discarded_at IS NULL ORDER BY updated_at DESC, id LIMIT ?`, limit)
}

// ApplyDecay stores a decayed strength and moves the fact's decay baseline.
func (s *FactStore) ApplyDecay(ctx context.Context, id string, strength float64, at time.Time) error {
	return s.Retry.Do(ctx, "apply_decay", func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE memory_facts SET strength = ?, decayed_at = ?
			WHERE id = ? AND discarded_at IS NULL`, memory.Clamp(strength), at.UnixMilli(), id)
		if err != nil {
			return fmt.Errorf("apply decay: %w", err)
		}
		return nil
	})
}

func (s *FactStore) query(ctx context.Context, op, q string, args ...any) ([]*memory.Fact, error) {
	var facts []*memory.Fact
	err := s.Retry.Do(ctx, op, func() error {
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		facts, err = scanFacts(rows)
		return err
	})
	return facts, err
}

// inTx runs fn inside a transaction and commits on success.
func (s *FactStore) inTx(ctx context.Context, fn func(tx *sql.Tx, now time.Time) (*Mutation, error)) (*Mutation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	m, err := fn(tx, s.now())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findByKey(ctx context.Context, q queryer, owner memory.Owner, key string, includeDiscarded bool) (*memory.Fact, error) {
	query := `SELECT ` + factColumns + ` FROM memory_facts WHERE user_id = ? AND project_id IS ? AND key = ?`
	if !includeDiscarded {
		query += ` AND discarded_at IS NULL`
	}
	// live rows before discarded ones, then newest
	query += ` ORDER BY discarded_at IS NOT NULL, updated_at DESC LIMIT 1`

	f, err := scanFact(q.QueryRowContext(ctx, query, owner.UserID, nullString(owner.ProjectID), key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find fact by key: %w", err)
	}
	return f, nil
}

func insertFact(ctx context.Context, tx *sql.Tx, f *memory.Fact) error {
	terms, rel := encodeLists(f)
	_, err := tx.ExecContext(ctx, `INSERT INTO memory_facts (`+factColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Owner.UserID, nullString(f.Owner.ProjectID), f.Key, f.Value, f.DisplayText, f.Category, f.Status,
		terms, string(f.EmotionalWeight), rel, string(f.RevealPolicy), f.Confidence,
		f.Strength, f.CorrectionCount, f.IsLocked, f.Pinned,
		nullMillis(f.ConfirmedAt), nullMillis(f.DiscardedAt), nullMillis(f.DecayedAt),
		f.LastReinforcedAt.UnixMilli(), f.CreatedAt.UnixMilli(), f.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert fact: %w", err)
	}
	return nil
}

func replaceFact(ctx context.Context, tx *sql.Tx, f *memory.Fact) error {
	terms, rel := encodeLists(f)
	_, err := tx.ExecContext(ctx, `UPDATE memory_facts SET
			value = ?, display_text = ?, category = ?, status = ?,
			trigger_terms = ?, emotional_weight = ?, relational_context = ?, reveal_policy = ?, confidence = ?,
			strength = ?, correction_count = ?, is_locked = ?, pinned = ?,
			confirmed_at = ?, discarded_at = ?, decayed_at = ?,
			last_reinforced_at = ?, created_at = ?, updated_at = ?
		WHERE id = ?`,
		f.Value, f.DisplayText, f.Category, f.Status,
		terms, string(f.EmotionalWeight), rel, string(f.RevealPolicy), f.Confidence,
		f.Strength, f.CorrectionCount, f.IsLocked, f.Pinned,
		nullMillis(f.ConfirmedAt), nullMillis(f.DiscardedAt), nullMillis(f.DecayedAt),
		f.LastReinforcedAt.UnixMilli(), f.CreatedAt.UnixMilli(), f.UpdatedAt.UnixMilli(),
		f.ID,
	)
	if err != nil {
		return fmt.Errorf("update fact: %w", err)
	}
	return nil
}

func updateStrength(ctx context.Context, tx *sql.Tx, f *memory.Fact) error {
	_, err := tx.ExecContext(ctx, `UPDATE memory_facts SET strength = ?, last_reinforced_at = ? WHERE id = ?`,
		f.Strength, f.LastReinforcedAt.UnixMilli(), f.ID)
	if err != nil {
		return fmt.Errorf("update strength: %w", err)
	}
	return nil
}

func encodeLists(f *memory.Fact) (string, string) {
	terms := f.TriggerTerms
	if terms == nil {
		terms = []string{}
	}
	rel := f.RelationalContext
	if rel == nil {
		rel = []memory.RelationalTag{}
	}
	t, _ := json.Marshal(terms)
	r, _ := json.Marshal(rel)
	return string(t), string(r)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFact(row scanner) (*memory.Fact, error) {
	var f memory.Fact
	var project sql.NullString
	var terms, rel, weight, policy string
	var confirmed, discarded, decayed sql.NullInt64
	var reinforced, created, updated int64

	err := row.Scan(&f.ID, &f.Owner.UserID, &project, &f.Key, &f.Value, &f.DisplayText, &f.Category, &f.Status,
		&terms, &weight, &rel, &policy, &f.Confidence,
		&f.Strength, &f.CorrectionCount, &f.IsLocked, &f.Pinned,
		&confirmed, &discarded, &decayed, &reinforced, &created, &updated)
	if err != nil {
		return nil, err
	}

	f.Owner.ProjectID = project.String
	f.EmotionalWeight = memory.EmotionalWeight(weight)
	f.RevealPolicy = memory.RevealPolicy(policy)
	if err := json.Unmarshal([]byte(terms), &f.TriggerTerms); err != nil {
		log.Warn().Err(err).Str("fact_id", f.ID).Msg("store: bad trigger_terms column")
		f.TriggerTerms = []string{}
	}
	if err := json.Unmarshal([]byte(rel), &f.RelationalContext); err != nil {
		log.Warn().Err(err).Str("fact_id", f.ID).Msg("store: bad relational_context column")
		f.RelationalContext = nil
	}
	f.ConfirmedAt = millisPtr(confirmed)
	f.DiscardedAt = millisPtr(discarded)
	f.DecayedAt = millisPtr(decayed)
	f.LastReinforcedAt = fromMillis(reinforced)
	f.CreatedAt = fromMillis(created)
	f.UpdatedAt = fromMillis(updated)
	return &f, nil
}

func scanFacts(rows *sql.Rows) ([]*memory.Fact, error) {
	defer rows.Close()
	var facts []*memory.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func millisPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// prefixed qualifies each column in a comma-separated list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
