// Package store is the single authoritative database for every
// persistent entity: providers, tools, usage log, memory, tasks, test
// runs, guides, agents, context snapshots and sessions.
//
// All public write operations run inside a transaction; constraint
// violations surface as typed errs errors and leave state unchanged.
// In-memory caches elsewhere (the BM25 index, the live tool map) are
// derivable projections of this database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"metatool/internal/errs"
	"metatool/internal/logging"
)

// DefaultPath is the database location when DB_PATH is unset.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data.db"
	}
	return filepath.Join(home, ".awesome-plugin", "data.db")
}

// Store wraps the sqlite database.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens (or creates) the database at path and bootstraps the
// schema. ":memory:" is permitted for tests. A corrupted database file
// fails the open so startup can abort.
func Open(path string, logger logging.Logger) (*Store, error) {
	logger = logging.OrNop(logger)
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The in-memory database exists per connection; cap the pool so all
	// operations see the same schema.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	logger.Info("store opened at %s", path)
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Internal(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.Internal(err, "commit transaction")
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS providers (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    command    TEXT NOT NULL,
    args       TEXT NOT NULL DEFAULT '[]',
    env        TEXT NOT NULL DEFAULT '{}',
    score      REAL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tools (
    name         TEXT PRIMARY KEY,
    provider_id  TEXT NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
    description  TEXT NOT NULL DEFAULT '',
    input_schema TEXT NOT NULL DEFAULT '{}',
    category     TEXT,
    keywords     TEXT NOT NULL DEFAULT '[]',
    usage_count  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tools_provider ON tools(provider_id);

CREATE TABLE IF NOT EXISTS usage_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    tool_name  TEXT NOT NULL,
    arguments  TEXT NOT NULL DEFAULT '{}',
    success    INTEGER NOT NULL,
    elapsed_ms INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_usage_tool ON usage_log(tool_name, created_at DESC);

CREATE TABLE IF NOT EXISTS memory (
    id            TEXT PRIMARY KEY,
    key           TEXT NOT NULL,
    value         TEXT NOT NULL,
    category      TEXT,
    tags          TEXT NOT NULL DEFAULT '[]',
    access_count  INTEGER NOT NULL DEFAULT 0,
    created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    accessed_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_memory_category ON memory(category);
CREATE INDEX IF NOT EXISTS idx_memory_created ON memory(created_at DESC);

CREATE TABLE IF NOT EXISTS tasks (
    id           TEXT PRIMARY KEY,
    content      TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'pending',
    parent_id    TEXT REFERENCES tasks(id) ON DELETE CASCADE,
    tags         TEXT NOT NULL DEFAULT '[]',
    type         TEXT,
    tdd_phase    TEXT,
    test_path    TEXT,
    agent_id     TEXT,
    created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    completed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

CREATE TABLE IF NOT EXISTS testruns (
    id         TEXT PRIMARY KEY,
    task_id    TEXT REFERENCES tasks(id) ON DELETE SET NULL,
    test_path  TEXT NOT NULL,
    phase      TEXT NOT NULL,
    passed     INTEGER NOT NULL,
    coverage   REAL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_testruns_path ON testruns(test_path, created_at DESC);

CREATE TABLE IF NOT EXISTS guides (
    id         TEXT PRIMARY KEY,
    slug       TEXT NOT NULL UNIQUE,
    title      TEXT NOT NULL,
    category   TEXT,
    difficulty TEXT,
    content    TEXT NOT NULL DEFAULT '',
    excerpt    TEXT NOT NULL DEFAULT '',
    tags       TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_guides_category ON guides(category);

CREATE TABLE IF NOT EXISTS guide_progress (
    guide_id   TEXT NOT NULL REFERENCES guides(id) ON DELETE CASCADE,
    session_id TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'started',
    step       INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (guide_id, session_id)
);

CREATE TABLE IF NOT EXISTS agents (
    id             TEXT PRIMARY KEY,
    type           TEXT NOT NULL,
    task           TEXT NOT NULL,
    status         TEXT NOT NULL DEFAULT 'pending',
    parent_task_id TEXT,
    result         TEXT,
    created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    completed_at   TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);

CREATE TABLE IF NOT EXISTS context_snapshots (
    id         TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    data       TEXT NOT NULL,
    metadata   TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_snapshots_session ON context_snapshots(session_id, created_at DESC);

CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
