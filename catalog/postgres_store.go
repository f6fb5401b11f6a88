package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store and Publisher backed by PostgreSQL.
// Template definitions are stored as JSONB, one row per published version,
// with exactly one active row per code.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed catalog store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetTemplate returns the active version of a template
func (s *PostgresStore) GetTemplate(ctx context.Context, code string) (*Template, error) {
	var definition []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT definition
		FROM templates
		WHERE code = $1 AND active = true
	`, code).Scan(&definition)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	var t Template
	if err := json.Unmarshal(definition, &t); err != nil {
		return nil, fmt.Errorf("invalid definition for template %s: %w", code, err)
	}
	return &t, nil
}

// ListTemplates returns every active template ordered by code
func (s *PostgresStore) ListTemplates(ctx context.Context) ([]*Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, definition
		FROM templates
		WHERE active = true
		ORDER BY code ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		var code string
		var definition []byte
		if err := rows.Scan(&code, &definition); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		var t Template
		if err := json.Unmarshal(definition, &t); err != nil {
			return nil, fmt.Errorf("invalid definition for template %s: %w", code, err)
		}
		templates = append(templates, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}

	return templates, nil
}

// GetOverlay returns the overlay for the exact key
func (s *PostgresStore) GetOverlay(ctx context.Context, code, jurisdiction, language string) (*Overlay, error) {
	var overrides []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT overrides
		FROM overlays
		WHERE template_code = $1 AND jurisdiction = $2 AND language = $3
	`, code, NormalizeJurisdiction(jurisdiction), NormalizeLanguage(language)).Scan(&overrides)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOverlayNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get overlay: %w", err)
	}

	o := &Overlay{
		TemplateCode: code,
		Jurisdiction: NormalizeJurisdiction(jurisdiction),
		Language:     NormalizeLanguage(language),
	}
	if err := json.Unmarshal(overrides, &o.Overrides); err != nil {
		return nil, fmt.Errorf("invalid overrides for overlay %s/%s/%s: %w", code, jurisdiction, language, err)
	}
	return o, nil
}

// PublishTemplate deactivates the current version and inserts the new one in
// a single transaction, so readers see either the old or the new version
func (s *PostgresStore) PublishTemplate(ctx context.Context, t *Template) error {
	definition, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE templates
		SET active = false
		WHERE code = $1
	`, t.Code); err != nil {
		return fmt.Errorf("failed to deactivate old versions: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO templates (code, version, definition, active, published_at)
		VALUES ($1, $2, $3, true, NOW())
	`, t.Code, t.Version, definition); err != nil {
		return fmt.Errorf("failed to insert template version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit template publish: %w", err)
	}
	return nil
}

// PutOverlay upserts an overlay by its key
func (s *PostgresStore) PutOverlay(ctx context.Context, o *Overlay) error {
	overrides, err := json.Marshal(o.Overrides)
	if err != nil {
		return fmt.Errorf("failed to marshal overrides: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO overlays (template_code, jurisdiction, language, overrides, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (template_code, jurisdiction, language)
		DO UPDATE SET overrides = EXCLUDED.overrides, updated_at = NOW()
	`, o.TemplateCode, NormalizeJurisdiction(o.Jurisdiction), NormalizeLanguage(o.Language), overrides)
	if err != nil {
		return fmt.Errorf("failed to upsert overlay: %w", err)
	}
	return nil
}
