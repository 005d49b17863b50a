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

// Guide is one markdown guide entry.
type Guide struct {
	ID         string   `json:"id"`
	Slug       string   `json:"slug"`
	Title      string   `json:"title"`
	Category   string   `json:"category,omitempty"`
	Difficulty string   `json:"difficulty,omitempty"`
	Content    string   `json:"content"`
	Excerpt    string   `json:"excerpt,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// ProgressStatus is the learning progress state for (guide, session).
type ProgressStatus string

const (
	ProgressStarted    ProgressStatus = "started"
	ProgressInProgress ProgressStatus = "in-progress"
	ProgressCompleted  ProgressStatus = "completed"
)

// LearningProgress tracks a session's position in one guide.
type LearningProgress struct {
	GuideID   string         `json:"guideId"`
	SessionID string         `json:"sessionId"`
	Status    ProgressStatus `json:"status"`
	Step      int            `json:"step"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// UpsertGuide inserts or replaces a guide by slug.
func (s *Store) UpsertGuide(ctx context.Context, g Guide) (*Guide, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	tags, err := json.Marshal(g.Tags)
	if err != nil {
		return nil, errs.Internal(err, "encode guide tags")
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO guides (id, slug, title, category, difficulty, content, excerpt, tags)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(slug) DO UPDATE SET
    title = excluded.title, category = excluded.category,
    difficulty = excluded.difficulty, content = excluded.content,
    excerpt = excluded.excerpt, tags = excluded.tags`,
			g.ID, g.Slug, g.Title, nullable(g.Category), nullable(g.Difficulty), g.Content, g.Excerpt, string(tags))
		if err != nil {
			return errs.Internal(err, "upsert guide %s", g.Slug)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GetGuide fetches one guide by id.
func (s *Store) GetGuide(ctx context.Context, id string) (*Guide, error) {
	row := s.db.QueryRowContext(ctx, guideSelect+` WHERE id = ?`, id)
	g, err := scanGuide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("guide not found: %s", id)
	}
	return g, err
}

// ListGuides returns all guides, optionally filtered by category.
func (s *Store) ListGuides(ctx context.Context, category string) ([]Guide, error) {
	query := guideSelect
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY slug`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Internal(err, "list guides")
	}
	defer rows.Close()

	var out []Guide
	for rows.Next() {
		g, err := scanGuide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// CountGuides reports how many guides exist; seeding runs iff zero.
func (s *Store) CountGuides(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM guides`).Scan(&n); err != nil {
		return 0, errs.Internal(err, "count guides")
	}
	return n, nil
}

// GetProgress fetches the learning progress for (guide, session), or
// NotFound when the stepper has not started.
func (s *Store) GetProgress(ctx context.Context, guideID, sessionID string) (*LearningProgress, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT guide_id, session_id, status, step, updated_at
FROM guide_progress WHERE guide_id = ? AND session_id = ?`, guideID, sessionID)
	var p LearningProgress
	var status string
	err := row.Scan(&p.GuideID, &p.SessionID, &status, &p.Step, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("no progress for guide %s", guideID)
	}
	if err != nil {
		return nil, errs.Internal(err, "scan guide progress")
	}
	p.Status = ProgressStatus(status)
	return &p, nil
}

// SaveProgress inserts or replaces the progress row.
func (s *Store) SaveProgress(ctx context.Context, p LearningProgress) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO guide_progress (guide_id, session_id, status, step, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(guide_id, session_id) DO UPDATE SET
    status = excluded.status, step = excluded.step, updated_at = excluded.updated_at`,
			p.GuideID, p.SessionID, string(p.Status), p.Step, time.Now().UTC())
		if err != nil {
			if isConstraint(err) {
				return errs.New(errs.KindInvalidInput, "guide not found: %s", p.GuideID)
			}
			return errs.Internal(err, "save guide progress")
		}
		return nil
	})
}

// DeleteProgress resets the stepper for (guide, session).
func (s *Store) DeleteProgress(ctx context.Context, guideID, sessionID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
DELETE FROM guide_progress WHERE guide_id = ? AND session_id = ?`, guideID, sessionID); err != nil {
			return errs.Internal(err, "delete guide progress")
		}
		return nil
	})
}

const guideSelect = `
SELECT id, slug, title, category, difficulty, content, excerpt, tags FROM guides`

func scanGuide(row rowScanner) (*Guide, error) {
	var g Guide
	var category, difficulty sql.NullString
	var tags string
	if err := row.Scan(&g.ID, &g.Slug, &g.Title, &category, &difficulty, &g.Content, &g.Excerpt, &tags); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errs.Internal(err, "scan guide")
	}
	g.Category = category.String
	g.Difficulty = difficulty.String
	if err := json.Unmarshal([]byte(tags), &g.Tags); err != nil {
		return nil, errs.Internal(err, "decode guide tags")
	}
	return &g, nil
}
