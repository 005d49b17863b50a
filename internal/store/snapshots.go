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

// ContextSnapshot is one serialized capture of memory and task state.
type ContextSnapshot struct {
	ID        string            `json:"id"`
	SessionID string            `json:"sessionId"`
	Data      string            `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// SaveSnapshot appends a context snapshot for the session.
func (s *Store) SaveSnapshot(ctx context.Context, sessionID, data string, metadata map[string]string) (*ContextSnapshot, error) {
	snap := &ContextSnapshot{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Data:      data,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, errs.Internal(err, "encode snapshot metadata")
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO context_snapshots (id, session_id, data, metadata, created_at)
VALUES (?, ?, ?, ?, ?)`, snap.ID, sessionID, data, string(meta), snap.CreatedAt)
		if err != nil {
			return errs.Internal(err, "save snapshot")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// LatestSnapshot returns the newest snapshot for the session, or
// NotFound when none exists.
func (s *Store) LatestSnapshot(ctx context.Context, sessionID string) (*ContextSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, session_id, data, metadata, created_at
FROM context_snapshots WHERE session_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, sessionID)
	var snap ContextSnapshot
	var meta string
	err := row.Scan(&snap.ID, &snap.SessionID, &snap.Data, &meta, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("no snapshot for session %s", sessionID)
	}
	if err != nil {
		return nil, errs.Internal(err, "scan snapshot")
	}
	if err := json.Unmarshal([]byte(meta), &snap.Metadata); err != nil {
		return nil, errs.Internal(err, "decode snapshot metadata")
	}
	return &snap, nil
}

// PruneSnapshots deletes snapshots older than cutoff; the janitor calls
// this periodically. Returns the number of rows removed.
func (s *Store) PruneSnapshots(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM context_snapshots WHERE created_at < ?`, cutoff.UTC())
		if err != nil {
			return errs.Internal(err, "prune snapshots")
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	return removed, err
}

// CreateSession records a caller session for log correlation.
func (s *Store) CreateSession(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO sessions (id) VALUES (?)`, id)
		if err != nil {
			return errs.Internal(err, "create session")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
