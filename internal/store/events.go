package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lazypower/keepsake/internal/memory"
)

// maxEventValueSize caps before/after snapshots stored per event.
const maxEventValueSize = 8 * 1024

// Event is one entry of the append-only fact audit log.
type Event struct {
	ID        string         `json:"id"`
	FactID    string         `json:"factId"`
	Owner     memory.Owner   `json:"owner"`
	Key       string         `json:"key"`
	Type      memory.Outcome `json:"type"`
	Before    string         `json:"before,omitempty"`
	After     string         `json:"after,omitempty"`
	Strength  float64        `json:"strength"`
	Detail    string         `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// newEvent snapshots a fact after a mutation.
func newEvent(f *memory.Fact, typ memory.Outcome, before string, now time.Time) Event {
	return Event{
		FactID:    f.ID,
		Owner:     f.Owner,
		Key:       f.Key,
		Type:      typ,
		Before:    before,
		After:     f.Value,
		Strength:  f.Strength,
		CreatedAt: now,
	}
}

func clip(s string) string {
	if len(s) > maxEventValueSize {
		return s[:maxEventValueSize]
	}
	return s
}

// InsertEvents appends events in one transaction. Events without an ID get a
// time-ordered ULID.
func (db *DB) InsertEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert events: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fact_events (id, fact_id, user_id, project_id, key, event_type, before_value, after_value, strength, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert events: %w", err)
	}
	defer stmt.Close()

	for i := range events {
		ev := &events[i]
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = time.Now()
		}
		if ev.ID == "" {
			ev.ID = ulid.MustNew(ulid.Timestamp(ev.CreatedAt), ulid.DefaultEntropy()).String()
		}
		if _, err := stmt.ExecContext(ctx,
			ev.ID, ev.FactID, ev.Owner.UserID, nullString(ev.Owner.ProjectID), ev.Key, string(ev.Type),
			clip(ev.Before), clip(ev.After), ev.Strength, ev.Detail, ev.CreatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert event %s: %w", ev.Type, err)
		}
	}
	return tx.Commit()
}

// ListEvents returns a fact's history, oldest first.
func (db *DB) ListEvents(ctx context.Context, factID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, fact_id, user_id, project_id, key, event_type, before_value, after_value, strength, detail, created_at
		FROM fact_events WHERE fact_id = ? ORDER BY created_at, id LIMIT ?
	`, factID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListOwnerEvents returns the most recent events for an owner scope.
func (db *DB) ListOwnerEvents(ctx context.Context, owner memory.Owner, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, fact_id, user_id, project_id, key, event_type, before_value, after_value, strength, detail, created_at
		FROM fact_events WHERE user_id = ? AND project_id IS ? ORDER BY created_at DESC, id DESC LIMIT ?
	`, owner.UserID, nullString(owner.ProjectID), limit)
	if err != nil {
		return nil, fmt.Errorf("list owner events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var ev Event
		var project, before, after sql.NullString
		var strength sql.NullFloat64
		var typ string
		var created int64
		if err := rows.Scan(&ev.ID, &ev.FactID, &ev.Owner.UserID, &project, &ev.Key, &typ,
			&before, &after, &strength, &ev.Detail, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Owner.ProjectID = project.String
		ev.Type = memory.Outcome(typ)
		ev.Before = before.String
		ev.After = after.String
		ev.Strength = strength.Float64
		ev.CreatedAt = fromMillis(created)
		events = append(events, ev)
	}
	return events, rows.Err()
}
