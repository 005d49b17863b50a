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

// TaskStatus is the lifecycle state of a task item.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
)

// Valid reports whether the status is one of the closed set.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted:
		return true
	default:
		return false
	}
}

// Task is one node in the persistent task forest.
type Task struct {
	ID          string     `json:"id"`
	Content     string     `json:"content"`
	Status      TaskStatus `json:"status"`
	ParentID    string     `json:"parentId,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Type        string     `json:"type,omitempty"`
	TDDPhase    string     `json:"tddPhase,omitempty"`
	TestPath    string     `json:"testPath,omitempty"`
	AgentID     string     `json:"agentId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// TaskUpdate describes a partial update; nil fields are untouched.
// SetParent distinguishes "reparent to root" (empty string) from
// "leave the parent alone".
type TaskUpdate struct {
	Content   *string
	Status    *TaskStatus
	ParentID  *string
	Tags      *[]string
	TDDPhase  *string
	TestPath  *string
	AgentID   *string
	SetParent bool
}

// CreateTask inserts a node. The caller (planning manager) is
// responsible for cycle checks; the store enforces parent existence
// through the foreign key.
func (s *Store) CreateTask(ctx context.Context, t Task) (*Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	if !t.Status.Valid() {
		return nil, errs.InvalidInput("invalid task status: %s", t.Status)
	}
	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return nil, errs.Internal(err, "encode task tags")
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO tasks (id, content, status, parent_id, tags, type, tdd_phase, test_path, agent_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Content, string(t.Status), nullable(t.ParentID), string(tags),
			nullable(t.Type), nullable(t.TDDPhase), nullable(t.TestPath), nullable(t.AgentID), now, now)
		if err != nil {
			if isConstraint(err) {
				return errs.New(errs.KindInvalidInput, "parent task not found: %s", t.ParentID)
			}
			return errs.Internal(err, "create task")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTask fetches one node by id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelect+` WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("task not found: %s", id)
	}
	return t, err
}

// ListTasks returns the forest ordered by creation time. Status filters
// when non-empty.
func (s *Store) ListTasks(ctx context.Context, status TaskStatus) ([]Task, error) {
	query := taskSelect
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Internal(err, "list tasks")
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateTask applies a partial update. Setting status to completed
// stamps completed_at; leaving completed clears it again.
func (s *Store) UpdateTask(ctx context.Context, id string, update TaskUpdate) (*Task, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		set := "updated_at = ?"
		args := []any{now}

		if update.Content != nil {
			set += ", content = ?"
			args = append(args, *update.Content)
		}
		if update.Status != nil {
			if !update.Status.Valid() {
				return errs.InvalidInput("invalid task status: %s", *update.Status)
			}
			set += ", status = ?"
			args = append(args, string(*update.Status))
			if *update.Status == TaskCompleted {
				set += ", completed_at = ?"
				args = append(args, now)
			} else {
				set += ", completed_at = NULL"
			}
		}
		if update.SetParent {
			set += ", parent_id = ?"
			var parent any
			if update.ParentID != nil && *update.ParentID != "" {
				parent = *update.ParentID
			}
			args = append(args, parent)
		}
		if update.Tags != nil {
			encoded, err := json.Marshal(*update.Tags)
			if err != nil {
				return errs.Internal(err, "encode task tags")
			}
			set += ", tags = ?"
			args = append(args, string(encoded))
		}
		if update.TDDPhase != nil {
			set += ", tdd_phase = ?"
			args = append(args, nullable(*update.TDDPhase))
		}
		if update.TestPath != nil {
			set += ", test_path = ?"
			args = append(args, nullable(*update.TestPath))
		}
		if update.AgentID != nil {
			set += ", agent_id = ?"
			args = append(args, nullable(*update.AgentID))
		}

		args = append(args, id)
		res, err := tx.ExecContext(ctx, `UPDATE tasks SET `+set+` WHERE id = ?`, args...)
		if err != nil {
			if isConstraint(err) {
				return errs.New(errs.KindInvalidInput, "parent task not found")
			}
			return errs.Internal(err, "update task %s", id)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errs.NotFound("task not found: %s", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetTask(ctx, id)
}

// DeleteTaskTree removes the node; the parent_id cascade removes the
// whole subtree. Returns the number of rows removed.
func (s *Store) DeleteTaskTree(ctx context.Context, id string) (int64, error) {
	var before, after int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&before); err != nil {
			return errs.Internal(err, "count tasks")
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return errs.Internal(err, "delete task %s", id)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errs.NotFound("task not found: %s", id)
		}
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&after); err != nil {
			return errs.Internal(err, "count tasks")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return before - after, nil
}

const taskSelect = `
SELECT id, content, status, parent_id, tags, type, tdd_phase, test_path, agent_id, created_at, updated_at, completed_at
FROM tasks`

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var status string
	var parent, typ, phase, testPath, agentID sql.NullString
	var tags string
	var completed sql.NullTime
	if err := row.Scan(&t.ID, &t.Content, &status, &parent, &tags, &typ, &phase,
		&testPath, &agentID, &t.CreatedAt, &t.UpdatedAt, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errs.Internal(err, "scan task")
	}
	t.Status = TaskStatus(status)
	t.ParentID = parent.String
	t.Type = typ.String
	t.TDDPhase = phase.String
	t.TestPath = testPath.String
	t.AgentID = agentID.String
	if completed.Valid {
		v := completed.Time
		t.CompletedAt = &v
	}
	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		return nil, errs.Internal(err, "decode task tags")
	}
	return &t, nil
}
