package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"metatool/internal/errs"
)

// TDDPhase labels a test run: the red/green/refactor cycle positions
// plus verify for out-of-cycle checks.
type TDDPhase string

const (
	PhaseRed      TDDPhase = "red"
	PhaseGreen    TDDPhase = "green"
	PhaseRefactor TDDPhase = "refactor"
	PhaseVerify   TDDPhase = "verify"
)

// Valid reports whether the phase is one of the closed set.
func (p TDDPhase) Valid() bool {
	switch p {
	case PhaseRed, PhaseGreen, PhaseRefactor, PhaseVerify:
		return true
	default:
		return false
	}
}

// TestRun is one recorded test execution, optionally tied to a task.
type TestRun struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId,omitempty"`
	TestPath  string    `json:"testPath"`
	Phase     TDDPhase  `json:"phase"`
	Passed    bool      `json:"passed"`
	Coverage  *float64  `json:"coverage,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// AddTestRun appends a run row. Historical runs are never mutated.
func (s *Store) AddTestRun(ctx context.Context, run TestRun) (*TestRun, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if !run.Phase.Valid() {
		return nil, errs.InvalidInput("invalid tdd phase: %s", run.Phase)
	}
	run.CreatedAt = time.Now().UTC()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO testruns (id, task_id, test_path, phase, passed, coverage, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, nullable(run.TaskID), run.TestPath, string(run.Phase), run.Passed, run.Coverage, run.CreatedAt)
		if err != nil {
			if isConstraint(err) {
				return errs.New(errs.KindInvalidInput, "task not found: %s", run.TaskID)
			}
			return errs.Internal(err, "add test run")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListTestRuns returns the most recent runs for a test path.
func (s *Store) ListTestRuns(ctx context.Context, testPath string, limit int) ([]TestRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, task_id, test_path, phase, passed, coverage, created_at
FROM testruns WHERE test_path = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, testPath, limit)
	if err != nil {
		return nil, errs.Internal(err, "list test runs")
	}
	defer rows.Close()

	var out []TestRun
	for rows.Next() {
		run, err := scanTestRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// LastTestRun returns the newest run for a test path, or NotFound.
func (s *Store) LastTestRun(ctx context.Context, testPath string) (*TestRun, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, task_id, test_path, phase, passed, coverage, created_at
FROM testruns WHERE test_path = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, testPath)
	run, err := scanTestRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("no test runs recorded for %s", testPath)
	}
	return run, err
}

func scanTestRun(row rowScanner) (*TestRun, error) {
	var run TestRun
	var taskID sql.NullString
	var phase string
	var coverage sql.NullFloat64
	if err := row.Scan(&run.ID, &taskID, &run.TestPath, &phase, &run.Passed, &coverage, &run.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errs.Internal(err, "scan test run")
	}
	run.TaskID = taskID.String
	run.Phase = TDDPhase(phase)
	if coverage.Valid {
		v := coverage.Float64
		run.Coverage = &v
	}
	return &run, nil
}
