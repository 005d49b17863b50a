package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"metatool/internal/errs"
)

// AgentStatus is the lifecycle state of a spawned agent.
type AgentStatus string

const (
	AgentPending   AgentStatus = "pending"
	AgentRunning   AgentStatus = "running"
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
	AgentTimedOut  AgentStatus = "timed-out"
)

// Valid reports whether the status is one of the closed set.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentPending, AgentRunning, AgentCompleted, AgentFailed, AgentTimedOut:
		return true
	default:
		return false
	}
}

// AgentRecord is one spawned agent row.
type AgentRecord struct {
	ID           string      `json:"id"`
	Type         string      `json:"type"`
	Task         string      `json:"task"`
	Status       AgentStatus `json:"status"`
	ParentTaskID string      `json:"parentTaskId,omitempty"`
	Result       string      `json:"result,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	CompletedAt  *time.Time  `json:"completedAt,omitempty"`
}

// CreateAgent inserts a new agent record with status pending.
func (s *Store) CreateAgent(ctx context.Context, agentType, task, parentTaskID string) (*AgentRecord, error) {
	rec := &AgentRecord{
		ID:           uuid.NewString(),
		Type:         agentType,
		Task:         task,
		Status:       AgentPending,
		ParentTaskID: parentTaskID,
		CreatedAt:    time.Now().UTC(),
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO agents (id, type, task, status, parent_task_id, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Type, rec.Task, string(rec.Status), nullable(rec.ParentTaskID), rec.CreatedAt)
		if err != nil {
			return errs.Internal(err, "create agent")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateAgent moves the record to a new status, optionally attaching the
// result blob. Terminal statuses stamp completed_at.
func (s *Store) UpdateAgent(ctx context.Context, id string, status AgentStatus, result string) error {
	if !status.Valid() {
		return errs.InvalidInput("invalid agent status: %s", status)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var completed any
		switch status {
		case AgentCompleted, AgentFailed, AgentTimedOut:
			completed = time.Now().UTC()
		}
		res, err := tx.ExecContext(ctx, `
UPDATE agents SET status = ?, result = COALESCE(NULLIF(?, ''), result), completed_at = ?
WHERE id = ?`, string(status), result, completed, id)
		if err != nil {
			return errs.Internal(err, "update agent %s", id)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errs.NotFound("agent not found: %s", id)
		}
		return nil
	})
}

// GetAgent fetches one agent record by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*AgentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, type, task, status, parent_task_id, result, created_at, completed_at
FROM agents WHERE id = ?`, id)
	rec, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("agent not found: %s", id)
	}
	return rec, err
}

// ListAgents returns agents filtered by status when non-empty.
func (s *Store) ListAgents(ctx context.Context, status AgentStatus) ([]AgentRecord, error) {
	query := `
SELECT id, type, task, status, parent_task_id, result, created_at, completed_at FROM agents`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Internal(err, "list agents")
	}
	defer rows.Close()

	var out []AgentRecord
	for rows.Next() {
		rec, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanAgent(row rowScanner) (*AgentRecord, error) {
	var rec AgentRecord
	var status string
	var parentTask, result sql.NullString
	var completed sql.NullTime
	if err := row.Scan(&rec.ID, &rec.Type, &rec.Task, &status, &parentTask, &result, &rec.CreatedAt, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errs.Internal(err, "scan agent")
	}
	rec.Status = AgentStatus(status)
	rec.ParentTaskID = parentTask.String
	rec.Result = result.String
	if completed.Valid {
		v := completed.Time
		rec.CompletedAt = &v
	}
	return &rec, nil
}
