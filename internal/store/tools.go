package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"metatool/internal/errs"
	"metatool/internal/tool"
)

// UpsertTool inserts or replaces the descriptor keyed by tool name.
func (s *Store) UpsertTool(ctx context.Context, d tool.Descriptor) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return upsertToolTx(ctx, tx, d)
	})
}

// UpsertTools stores a provider's whole catalog in one transaction so a
// failed connect leaves no partial rows behind.
func (s *Store) UpsertTools(ctx context.Context, descriptors []tool.Descriptor) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, d := range descriptors {
			if err := upsertToolTx(ctx, tx, d); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertToolTx(ctx context.Context, tx *sql.Tx, d tool.Descriptor) error {
	schema, err := json.Marshal(d.InputSchema)
	if err != nil {
		return errs.Internal(err, "encode input schema for %s", d.Name)
	}
	keywords, err := json.Marshal(d.Keywords)
	if err != nil {
		return errs.Internal(err, "encode keywords for %s", d.Name)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO tools (name, provider_id, description, input_schema, category, keywords)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
    provider_id = excluded.provider_id, description = excluded.description,
    input_schema = excluded.input_schema, category = excluded.category,
    keywords = excluded.keywords`,
		d.Name, d.ProviderID, d.Description, string(schema), nullable(d.Category), string(keywords))
	if err != nil {
		if isConstraint(err) {
			return errs.Wrap(errs.KindConflict, err, "tool %s references unknown provider %s", d.Name, d.ProviderID)
		}
		return errs.Internal(err, "upsert tool %s", d.Name)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetTool fetches one descriptor by name.
func (s *Store) GetTool(ctx context.Context, name string) (*tool.Descriptor, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT name, provider_id, description, input_schema, category, keywords, usage_count
FROM tools WHERE name = ?`, name)
	d, err := scanTool(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("tool not found: %s", name)
	}
	return d, err
}

// ListTools returns the full persisted catalog ordered by name.
func (s *Store) ListTools(ctx context.Context) ([]tool.Descriptor, error) {
	return s.queryTools(ctx, `
SELECT name, provider_id, description, input_schema, category, keywords, usage_count
FROM tools ORDER BY name`)
}

// ListToolsByProvider returns all tools belonging to one provider.
func (s *Store) ListToolsByProvider(ctx context.Context, providerID string) ([]tool.Descriptor, error) {
	return s.queryTools(ctx, `
SELECT name, provider_id, description, input_schema, category, keywords, usage_count
FROM tools WHERE provider_id = ? ORDER BY name`, providerID)
}

// DeleteToolsByProvider bulk-deletes a provider's tool rows.
func (s *Store) DeleteToolsByProvider(ctx context.Context, providerID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tools WHERE provider_id = ?`, providerID); err != nil {
			return errs.Internal(err, "delete tools for provider %s", providerID)
		}
		return nil
	})
}

// UsageCounts returns the persisted usage counter per tool name, used to
// warm the loader cache at startup.
func (s *Store) UsageCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, usage_count FROM tools WHERE usage_count > 0`)
	if err != nil {
		return nil, errs.Internal(err, "load usage counts")
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, errs.Internal(err, "scan usage count")
		}
		counts[name] = count
	}
	return counts, rows.Err()
}

func (s *Store) queryTools(ctx context.Context, query string, args ...any) ([]tool.Descriptor, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Internal(err, "query tools")
	}
	defer rows.Close()

	var out []tool.Descriptor
	for rows.Next() {
		d, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func scanTool(row rowScanner) (*tool.Descriptor, error) {
	var d tool.Descriptor
	var schema, keywords string
	var category sql.NullString
	if err := row.Scan(&d.Name, &d.ProviderID, &d.Description, &schema, &category, &keywords, &d.UsageCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errs.Internal(err, "scan tool")
	}
	d.Category = category.String
	if err := json.Unmarshal([]byte(schema), &d.InputSchema); err != nil {
		return nil, errs.Internal(err, "decode input schema")
	}
	if err := json.Unmarshal([]byte(keywords), &d.Keywords); err != nil {
		return nil, errs.Internal(err, "decode keywords")
	}
	return &d, nil
}
