package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Decay run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunPartial   = "partial"
	RunFailed    = "failed"
)

// DecayRun records one batch decay sweep.
type DecayRun struct {
	ID        int64      `json:"id"`
	Scope     string     `json:"scope"`
	Policy    string     `json:"policy"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	Status    string     `json:"status"`
	Scanned   int        `json:"scanned"`
	Updated   int        `json:"updated"`
	Failed    int        `json:"failed"`
	Error     string     `json:"error,omitempty"`
}

// StartDecayRun inserts a running decay run.
func (db *DB) StartDecayRun(ctx context.Context, scope, policy string, now time.Time) (*DecayRun, error) {
	result, err := db.ExecContext(ctx, `
		INSERT INTO decay_runs (scope, policy, started_at, status)
		VALUES (?, ?, ?, 'running')
	`, scope, policy, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("insert decay run: %w", err)
	}

	id, _ := result.LastInsertId()
	return &DecayRun{
		ID:        id,
		Scope:     scope,
		Policy:    policy,
		StartedAt: now.UTC().Truncate(time.Millisecond),
		Status:    RunRunning,
	}, nil
}

// FinishDecayRun stores the final counts and status of a run.
func (db *DB) FinishDecayRun(ctx context.Context, run *DecayRun, now time.Time) error {
	ended := now.UTC().Truncate(time.Millisecond)
	run.EndedAt = &ended
	_, err := db.ExecContext(ctx, `
		UPDATE decay_runs SET ended_at = ?, status = ?, scanned = ?, updated = ?, failed = ?, error = ?
		WHERE id = ?
	`, ended.UnixMilli(), run.Status, run.Scanned, run.Updated, run.Failed, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("finish decay run: %w", err)
	}
	return nil
}

// RecentDecayRuns returns the most recent runs, newest first.
func (db *DB) RecentDecayRuns(ctx context.Context, limit int) ([]DecayRun, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, scope, policy, started_at, ended_at, status, scanned, updated, failed, error
		FROM decay_runs ORDER BY started_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent decay runs: %w", err)
	}
	defer rows.Close()

	var runs []DecayRun
	for rows.Next() {
		var r DecayRun
		var started int64
		var ended sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Scope, &r.Policy, &started, &ended, &r.Status,
			&r.Scanned, &r.Updated, &r.Failed, &r.Error); err != nil {
			return nil, fmt.Errorf("scan decay run: %w", err)
		}
		r.StartedAt = fromMillis(started)
		r.EndedAt = millisPtr(ended)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
