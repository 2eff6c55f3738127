package store

import (
	"context"

	"affiliate-pipeline/internal/models"

	"github.com/jmoiron/sqlx/types"
)

// ListActiveCredentials returns every active marketplace credential row
func (s *Store) ListActiveCredentials(ctx context.Context) ([]models.MarketplaceCredentials, error) {
	var creds []models.MarketplaceCredentials
	err := s.db.SelectContext(ctx, &creds, s.q(`
		SELECT marketplace_id, credentials, is_active, updated_at
		FROM marketplace_credentials WHERE is_active = ? ORDER BY marketplace_id`), true)
	return creds, err
}

// SaveCredentials inserts or replaces a marketplace's credential blob
func (s *Store) SaveCredentials(ctx context.Context, c *models.MarketplaceCredentials) error {
	if len(c.Credentials) == 0 {
		c.Credentials = types.JSONText("{}")
	}
	c.UpdatedAt = now()

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO marketplace_credentials (marketplace_id, credentials, is_active, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (marketplace_id) DO UPDATE SET
			credentials = excluded.credentials,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`),
		c.MarketplaceID, c.Credentials, c.IsActive, c.UpdatedAt)
	return err
}
