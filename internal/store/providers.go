package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"metatool/internal/errs"
)

// Provider is a source of tools. IDs beginning with "internal:" are
// reserved for in-process features and never stored here.
type Provider struct {
	ID        string
	Name      string
	Command   string
	Args      []string
	Env       map[string]string
	Score     *float64
	CreatedAt time.Time
}

func isConstraint(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "constraint") || strings.Contains(msg, "FOREIGN KEY")
}

// SaveProvider inserts or replaces the provider row by id.
func (s *Store) SaveProvider(ctx context.Context, p Provider) error {
	args, err := json.Marshal(p.Args)
	if err != nil {
		return errs.Internal(err, "encode provider args")
	}
	env, err := json.Marshal(p.Env)
	if err != nil {
		return errs.Internal(err, "encode provider env")
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO providers (id, name, command, args, env, score)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name, command = excluded.command,
    args = excluded.args, env = excluded.env, score = excluded.score`,
			p.ID, p.Name, p.Command, string(args), string(env), p.Score)
		if err != nil {
			return errs.Internal(err, "save provider %s", p.ID)
		}
		return nil
	})
}

// GetProvider fetches one provider by id.
func (s *Store) GetProvider(ctx context.Context, id string) (*Provider, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, name, command, args, env, score, created_at FROM providers WHERE id = ?`, id)
	p, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("provider not found: %s", id)
	}
	return p, err
}

// ListProviders returns every provider ordered by id.
func (s *Store) ListProviders(ctx context.Context) ([]Provider, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, command, args, env, score, created_at FROM providers ORDER BY id`)
	if err != nil {
		return nil, errs.Internal(err, "list providers")
	}
	defer rows.Close()

	var out []Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// DeleteProvider removes the provider and, through the cascade rule,
// all of its tool rows.
func (s *Store) DeleteProvider(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
		if err != nil {
			return errs.Internal(err, "delete provider %s", id)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errs.NotFound("provider not found: %s", id)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProvider(row rowScanner) (*Provider, error) {
	var p Provider
	var args, env string
	var score sql.NullFloat64
	if err := row.Scan(&p.ID, &p.Name, &p.Command, &args, &env, &score, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errs.Internal(err, "scan provider")
	}
	if score.Valid {
		v := score.Float64
		p.Score = &v
	}
	if err := json.Unmarshal([]byte(args), &p.Args); err != nil {
		return nil, errs.Internal(err, "decode provider args")
	}
	if err := json.Unmarshal([]byte(env), &p.Env); err != nil {
		return nil, errs.Internal(err, "decode provider env")
	}
	return &p, nil
}
