package store

import (
	"context"
	"database/sql"
	"time"

	"metatool/internal/errs"
)

// UsageEntry is one append-only usage log row.
type UsageEntry struct {
	ID        int64
	ToolName  string
	Arguments string
	Success   bool
	ElapsedMS int64
	CreatedAt time.Time
}

// RecordCall appends the usage row and bumps the tool's persistent usage
// counter inside the same transaction, so the counter can never diverge
// from the log under a crash.
func (s *Store) RecordCall(ctx context.Context, entry UsageEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO usage_log (tool_name, arguments, success, elapsed_ms) VALUES (?, ?, ?, ?)`,
			entry.ToolName, entry.Arguments, entry.Success, entry.ElapsedMS); err != nil {
			return errs.Internal(err, "append usage log for %s", entry.ToolName)
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE tools SET usage_count = usage_count + 1 WHERE name = ?`, entry.ToolName); err != nil {
			return errs.Internal(err, "increment usage count for %s", entry.ToolName)
		}
		return nil
	})
}

// ListUsage returns the most recent usage rows, optionally filtered by
// tool name. Limit must be positive.
func (s *Store) ListUsage(ctx context.Context, toolName string, limit int) ([]UsageEntry, error) {
	if limit <= 0 {
		return nil, errs.InvalidInput("usage limit must be positive, got %d", limit)
	}
	query := `
SELECT id, tool_name, arguments, success, elapsed_ms, created_at
FROM usage_log ORDER BY id DESC LIMIT ?`
	args := []any{limit}
	if toolName != "" {
		query = `
SELECT id, tool_name, arguments, success, elapsed_ms, created_at
FROM usage_log WHERE tool_name = ? ORDER BY id DESC LIMIT ?`
		args = []any{toolName, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Internal(err, "list usage log")
	}
	defer rows.Close()

	var out []UsageEntry
	for rows.Next() {
		var e UsageEntry
		if err := rows.Scan(&e.ID, &e.ToolName, &e.Arguments, &e.Success, &e.ElapsedMS, &e.CreatedAt); err != nil {
			return nil, errs.Internal(err, "scan usage row")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
