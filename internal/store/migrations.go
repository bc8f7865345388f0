package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

// Timestamps are unix milliseconds. project_id NULL is the user's global scope.
var migrations = []migration{
	{
		Version:     1,
		Description: "memory_facts: owner-scoped key/value facts",
		SQL: `
CREATE TABLE memory_facts (
    id                 TEXT PRIMARY KEY,
    user_id            TEXT NOT NULL,
    project_id         TEXT,
    key                TEXT NOT NULL,
    value              TEXT NOT NULL DEFAULT '',
    display_text       TEXT NOT NULL DEFAULT '',
    category           TEXT NOT NULL DEFAULT 'notes',
    status             TEXT NOT NULL DEFAULT '',

    -- Reveal gating
    trigger_terms      TEXT NOT NULL DEFAULT '[]',
    emotional_weight   TEXT NOT NULL DEFAULT 'neutral' CHECK (emotional_weight IN ('light', 'neutral', 'heavy')),
    relational_context TEXT NOT NULL DEFAULT '[]',
    reveal_policy      TEXT NOT NULL DEFAULT 'normal' CHECK (reveal_policy IN ('normal', 'user_trigger_only', 'never')),
    confidence         REAL NOT NULL DEFAULT 1.0,

    -- Salience and protection
    strength           REAL NOT NULL DEFAULT 1.0 CHECK (strength >= 0.1 AND strength <= 3.0),
    correction_count   INTEGER NOT NULL DEFAULT 0 CHECK (correction_count >= 0),
    is_locked          INTEGER NOT NULL DEFAULT 0,
    pinned             INTEGER NOT NULL DEFAULT 0,

    confirmed_at       INTEGER,
    discarded_at       INTEGER,
    last_reinforced_at INTEGER NOT NULL,
    created_at         INTEGER NOT NULL,
    updated_at         INTEGER NOT NULL,

    CHECK (is_locked = 0 OR correction_count >= 2)
);

-- Keys are unique per project. Global facts (NULL project) are not constrained.
CREATE UNIQUE INDEX idx_facts_project_key ON memory_facts(user_id, project_id, key) WHERE project_id IS NOT NULL;
CREATE INDEX idx_facts_owner_key  ON memory_facts(user_id, project_id, key);
CREATE INDEX idx_facts_owner_rank ON memory_facts(user_id, project_id, pinned DESC, strength DESC);
`,
	},
	{
		Version:     2,
		Description: "fact_events: append-only audit log of fact mutations",
		SQL: `
CREATE TABLE fact_events (
    id           TEXT PRIMARY KEY,
    fact_id      TEXT NOT NULL,
    user_id      TEXT NOT NULL,
    project_id   TEXT,
    key          TEXT NOT NULL,
    event_type   TEXT NOT NULL,
    before_value TEXT,
    after_value  TEXT,
    strength     REAL,
    detail       TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL
);

CREATE INDEX idx_events_fact  ON fact_events(fact_id, created_at);
CREATE INDEX idx_events_owner ON fact_events(user_id, project_id, created_at DESC);
`,
	},
	{
		Version:     3,
		Description: "fact_vectors: embeddings for similarity retrieval",
		SQL: `
CREATE TABLE fact_vectors (
    fact_id    TEXT PRIMARY KEY REFERENCES memory_facts(id) ON DELETE CASCADE,
    embedding  BLOB NOT NULL,
    model      TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
`,
	},
	{
		Version:     4,
		Description: "decay baseline and decay_runs history",
		SQL: `
ALTER TABLE memory_facts ADD COLUMN decayed_at INTEGER;

CREATE INDEX idx_facts_decayed ON memory_facts(decayed_at);

CREATE TABLE decay_runs (
    id         INTEGER PRIMARY KEY,
    scope      TEXT NOT NULL,
    policy     TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    ended_at   INTEGER,
    status     TEXT NOT NULL DEFAULT 'running' CHECK (status IN ('running', 'completed', 'partial', 'failed')),
    scanned    INTEGER NOT NULL DEFAULT 0,
    updated    INTEGER NOT NULL DEFAULT 0,
    failed     INTEGER NOT NULL DEFAULT 0,
    error      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX idx_decay_runs_started ON decay_runs(started_at DESC);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
