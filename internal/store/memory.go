package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"metatool/internal/errs"
)

// MemoryEntry is one persistent key/value memory row.
type MemoryEntry struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Category    string    `json:"category,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	AccessCount int64     `json:"accessCount"`
	CreatedAt   time.Time `json:"createdAt"`
	AccessedAt  time.Time `json:"accessedAt"`
}

// MemoryFilter narrows ListMemories. Zero value means no filtering.
type MemoryFilter struct {
	Category string
	Tags     []string
	Limit    int
}

// SaveMemory inserts a new entry with a fresh id and returns it.
func (s *Store) SaveMemory(ctx context.Context, key, value, category string, tags []string) (*MemoryEntry, error) {
	entry := &MemoryEntry{
		ID:       uuid.NewString(),
		Key:      key,
		Value:    value,
		Category: category,
		Tags:     tags,
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return nil, errs.Internal(err, "encode memory tags")
	}
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.AccessedAt = now

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO memory (id, key, value, category, tags, created_at, accessed_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, key, value, nullable(category), string(encoded), now, now)
		if err != nil {
			return errs.Internal(err, "save memory %s", key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// GetMemory fetches one entry by id.
func (s *Store) GetMemory(ctx context.Context, id string) (*MemoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, key, value, category, tags, access_count, created_at, accessed_at
FROM memory WHERE id = ?`, id)
	entry, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("memory not found: %s", id)
	}
	return entry, err
}

// ListMemories returns surviving entries newest-first, honoring the
// category and tag-subset filters.
func (s *Store) ListMemories(ctx context.Context, filter MemoryFilter) ([]MemoryEntry, error) {
	query := `
SELECT id, key, value, category, tags, access_count, created_at, accessed_at
FROM memory`
	var args []any
	if filter.Category != "" {
		query += ` WHERE category = ?`
		args = append(args, filter.Category)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Internal(err, "list memories")
	}
	defer rows.Close()

	var out []MemoryEntry
	for rows.Next() {
		entry, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		if !hasAllTags(entry.Tags, filter.Tags) {
			continue
		}
		out = append(out, *entry)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, rows.Err()
}

// TouchMemories bumps access counts and timestamps for recalled rows.
func (s *Store) TouchMemories(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `
UPDATE memory SET access_count = access_count + 1, accessed_at = ? WHERE id = ?`, now, id); err != nil {
				return errs.Internal(err, "touch memory %s", id)
			}
		}
		return nil
	})
}

// DeleteMemory removes one entry. Returns false when the id was absent;
// deletion is idempotent and absence is not an error.
func (s *Store) DeleteMemory(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM memory WHERE id = ?`, id)
		if err != nil {
			return errs.Internal(err, "delete memory %s", id)
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		return nil
	})
	return deleted, err
}

func hasAllTags(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

func scanMemory(row rowScanner) (*MemoryEntry, error) {
	var entry MemoryEntry
	var category sql.NullString
	var tags string
	if err := row.Scan(&entry.ID, &entry.Key, &entry.Value, &category, &tags,
		&entry.AccessCount, &entry.CreatedAt, &entry.AccessedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errs.Internal(err, "scan memory")
	}
	entry.Category = category.String
	if err := json.Unmarshal([]byte(tags), &entry.Tags); err != nil {
		return nil, errs.Internal(err, "decode memory tags")
	}
	return &entry, nil
}
