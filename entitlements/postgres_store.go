package entitlements

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store backed by PostgreSQL. The event id is unique,
// which makes replayed payment events harmless.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed entitlement store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Grant inserts a grant unless its event was already recorded
func (s *PostgresStore) Grant(ctx context.Context, g Grant) error {
	var expires sql.NullTime
	if g.ExpiresAt != nil {
		expires = sql.NullTime{Time: *g.ExpiresAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entitlements (event_id, user_id, entitlement, expires_at, granted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`, g.EventID, g.UserID, g.Entitlement, expires, g.GrantedAt)
	if err != nil {
		return fmt.Errorf("failed to insert entitlement: %w", err)
	}
	return nil
}

// ListGrants returns a user's grants ordered by grant time
func (s *PostgresStore) ListGrants(ctx context.Context, userID string) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, user_id, entitlement, expires_at, granted_at
		FROM entitlements
		WHERE user_id = $1
		ORDER BY granted_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entitlements: %w", err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		var g Grant
		var expires sql.NullTime
		if err := rows.Scan(&g.EventID, &g.UserID, &g.Entitlement, &expires, &g.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entitlement: %w", err)
		}
		if expires.Valid {
			t := expires.Time
			g.ExpiresAt = &t
		}
		grants = append(grants, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entitlements: %w", err)
	}
	return grants, nil
}
