package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"affiliate-pipeline/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const productColumns = `id, title, price, original_price, currency, image_url, marketplace, marketplace_id,
	affiliate_url, original_url, rating, review_count, status, last_checked_at, created_at, updated_at`

// SaveResult describes what an upsert changed
type SaveResult struct {
	Created      bool
	PriceChanged bool
	OldPrice     decimal.Decimal
}

// SaveProduct upserts a product on (marketplace, marketplace_id) and records a
// price_history row when the product is new or its price moved.
// Concurrent writers are last-writer-wins.
func (s *Store) SaveProduct(ctx context.Context, p *models.Product) (SaveResult, error) {
	var res SaveResult

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	prev, err := s.productByKey(ctx, tx, p.Marketplace, p.MarketplaceID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return res, err
	}

	ts := now()
	p.Price = p.Price.Round(models.PriceScale)
	if p.OriginalPrice.Valid {
		p.OriginalPrice.Decimal = p.OriginalPrice.Decimal.Round(models.PriceScale)
	}
	if p.Status == "" {
		p.Status = models.ProductStatusActive
	}
	if p.Currency == "" {
		p.Currency = models.DefaultCurrency
	}
	p.LastCheckedAt = &ts

	query := s.q(`
		INSERT INTO products (title, price, original_price, currency, image_url, marketplace, marketplace_id,
			affiliate_url, original_url, rating, review_count, status, last_checked_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (marketplace, marketplace_id) DO UPDATE SET
			title = excluded.title,
			price = excluded.price,
			original_price = excluded.original_price,
			currency = excluded.currency,
			image_url = excluded.image_url,
			affiliate_url = excluded.affiliate_url,
			original_url = excluded.original_url,
			rating = excluded.rating,
			review_count = excluded.review_count,
			status = excluded.status,
			last_checked_at = excluded.last_checked_at,
			updated_at = excluded.updated_at
		RETURNING id`)

	err = tx.GetContext(ctx, &p.ID, query,
		p.Title, p.Price, p.OriginalPrice, p.Currency, p.ImageURL, p.Marketplace, p.MarketplaceID,
		p.AffiliateURL, p.OriginalURL, p.Rating, p.ReviewCount, p.Status, ts, ts, ts)
	if err != nil {
		return res, fmt.Errorf("failed to upsert product: %w", err)
	}

	switch {
	case prev == nil:
		res.Created = true
		p.CreatedAt = ts
	case !prev.Price.Equal(p.Price):
		res.PriceChanged = true
		res.OldPrice = prev.Price
		p.CreatedAt = prev.CreatedAt
	default:
		p.CreatedAt = prev.CreatedAt
	}
	p.UpdatedAt = ts

	if res.Created || res.PriceChanged {
		if err := s.insertPriceHistory(ctx, tx, p.ID, p.Price, ts); err != nil {
			return res, err
		}
	}

	return res, tx.Commit()
}

// UpdateProductPrice stores a freshly observed price and marks the product checked.
// It returns the previous price and whether it changed.
func (s *Store) UpdateProductPrice(ctx context.Context, productID int64, price decimal.Decimal) (decimal.Decimal, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return decimal.Zero, false, err
	}
	defer tx.Rollback()

	var old decimal.Decimal
	err = tx.GetContext(ctx, &old, s.q("SELECT price FROM products WHERE id = ?"), productID)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, false, err
	}

	ts := now()
	price = price.Round(models.PriceScale)
	changed := !old.Equal(price)

	_, err = tx.ExecContext(ctx,
		s.q("UPDATE products SET price = ?, last_checked_at = ?, updated_at = ? WHERE id = ?"),
		price, ts, ts, productID)
	if err != nil {
		return old, false, fmt.Errorf("failed to update price: %w", err)
	}

	if changed {
		if err := s.insertPriceHistory(ctx, tx, productID, price, ts); err != nil {
			return old, false, err
		}
	}

	return old, changed, tx.Commit()
}

// UpdateProductStatus is a soft transition; products are never hard deleted
func (s *Store) UpdateProductStatus(ctx context.Context, productID int64, status string) error {
	ts := now()
	_, err := s.db.ExecContext(ctx,
		s.q("UPDATE products SET status = ?, last_checked_at = ?, updated_at = ? WHERE id = ?"),
		status, ts, ts, productID)
	return err
}

// TouchProduct marks a product as checked without changing anything else
func (s *Store) TouchProduct(ctx context.Context, productID int64) error {
	_, err := s.db.ExecContext(ctx,
		s.q("UPDATE products SET last_checked_at = ? WHERE id = ?"),
		now(), productID)
	return err
}

// UpdateAffiliateURL stores a rewritten affiliate url
func (s *Store) UpdateAffiliateURL(ctx context.Context, productID int64, affiliateURL string) error {
	_, err := s.db.ExecContext(ctx,
		s.q("UPDATE products SET affiliate_url = ?, updated_at = ? WHERE id = ?"),
		affiliateURL, now(), productID)
	return err
}

// GetProduct retrieves a product by ID
func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, s.q("SELECT "+productColumns+" FROM products WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductByKey retrieves a product by its marketplace identity
func (s *Store) GetProductByKey(ctx context.Context, m models.Marketplace, marketplaceID string) (*models.Product, error) {
	return s.productByKey(ctx, s.db, m, marketplaceID)
}

func (s *Store) productByKey(ctx context.Context, q sqlx.QueryerContext, m models.Marketplace, marketplaceID string) (*models.Product, error) {
	var product models.Product
	err := sqlx.GetContext(ctx, q, &product,
		s.q("SELECT "+productColumns+" FROM products WHERE marketplace = ? AND marketplace_id = ?"),
		m, marketplaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s/%s: %w", m, marketplaceID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ListProductsForMonitor returns active products, least recently checked first
func (s *Store) ListProductsForMonitor(ctx context.Context, limit int) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products, s.q(`
		SELECT `+productColumns+` FROM products
		WHERE status = ?
		ORDER BY CASE WHEN last_checked_at IS NULL THEN 0 ELSE 1 END, last_checked_at, id
		LIMIT ?`),
		models.ProductStatusActive, limit)
	return products, err
}

// ProductFilter narrows ListProducts. BeforeID is a keyset cursor: only rows
// with a smaller id are returned, so callers can walk the table page by page.
type ProductFilter struct {
	Marketplace models.Marketplace
	Status      string
	BeforeID    int64
	Limit       int
	Offset      int
}

// ListProducts returns products matching the filter, newest first
func (s *Store) ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, error) {
	qb := s.sb.Select(productColumns).From("products").OrderBy("id DESC")
	if f.Marketplace != "" {
		qb = qb.Where(sq.Eq{"marketplace": f.Marketplace})
	}
	if f.Status != "" {
		qb = qb.Where(sq.Eq{"status": f.Status})
	}
	if f.BeforeID > 0 {
		qb = qb.Where(sq.Lt{"id": f.BeforeID})
	}
	if f.Limit > 0 {
		qb = qb.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		qb = qb.Offset(uint64(f.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, err
	}

	products := []models.Product{}
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// ListPriceHistory returns a product's observations, oldest first
func (s *Store) ListPriceHistory(ctx context.Context, productID int64) ([]models.PriceHistory, error) {
	var history []models.PriceHistory
	err := s.db.SelectContext(ctx, &history,
		s.q("SELECT id, product_id, price, recorded_at FROM price_history WHERE product_id = ? ORDER BY id"),
		productID)
	return history, err
}

func (s *Store) insertPriceHistory(ctx context.Context, tx *sqlx.Tx, productID int64, price decimal.Decimal, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		s.q("INSERT INTO price_history (product_id, price, recorded_at) VALUES (?, ?, ?)"),
		productID, price, at)
	if err != nil {
		return fmt.Errorf("failed to insert price history: %w", err)
	}
	return nil
}
