package store

import (
	"context"
	"fmt"

	"affiliate-pipeline/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx/types"
)

// CreateUser inserts a user
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	u.CreatedAt = now()
	return s.db.GetContext(ctx, &u.ID,
		s.q("INSERT INTO users (email, name, created_at) VALUES (?, ?, ?) RETURNING id"),
		u.Email, u.Name, u.CreatedAt)
}

// CreateAlert inserts an active, unsent alert for an existing product
func (s *Store) CreateAlert(ctx context.Context, a *models.PriceAlert) error {
	if _, err := s.GetProduct(ctx, a.ProductID); err != nil {
		return err
	}

	a.IsActive = true
	a.NotificationSent = false
	a.CreatedAt = now()

	return s.db.GetContext(ctx, &a.ID, s.q(`
		INSERT INTO price_alerts (user_id, product_id, target_price, is_active, notification_sent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`),
		a.UserID, a.ProductID, a.TargetPrice, a.IsActive, a.NotificationSent, a.CreatedAt)
}

// GetAlert retrieves an alert by ID
func (s *Store) GetAlert(ctx context.Context, id int64) (*models.PriceAlert, error) {
	var alert models.PriceAlert
	err := s.db.GetContext(ctx, &alert, s.q(`
		SELECT id, user_id, product_id, target_price, is_active, notification_sent, triggered_at, created_at
		FROM price_alerts WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("alert %d", id))
	}
	return &alert, nil
}

// ListPendingAlerts returns active, unsent alerts whose product price has reached the
// target, joined with the user's contact. productID narrows the batch to one product when non-zero.
// Untriggered alerts are filtered here so they never fill a bounded batch.
func (s *Store) ListPendingAlerts(ctx context.Context, productID int64, limit int) ([]models.PendingAlert, error) {
	qb := s.sb.Select(
		"a.id AS alert_id",
		"a.user_id",
		"a.product_id",
		"a.target_price",
		"p.price AS current_price",
		"p.title AS product_title",
		"p.affiliate_url",
		"u.email AS user_email",
		"u.name AS user_name",
	).
		From("price_alerts a").
		Join("products p ON p.id = a.product_id").
		LeftJoin("users u ON u.id = a.user_id").
		Where(sq.Eq{"a.is_active": true, "a.notification_sent": false}).
		Where("p.price > 0 AND p.price <= a.target_price").
		OrderBy("a.id")

	if productID != 0 {
		qb = qb.Where(sq.Eq{"a.product_id": productID})
	}
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, err
	}

	var alerts []models.PendingAlert
	err = s.db.SelectContext(ctx, &alerts, query, args...)
	return alerts, err
}

// ClaimAlert consumes an alert and queues its notifications in one transaction.
// The conditional update makes the claim exactly-once: false means another run
// already consumed the alert and nothing was written. email may be nil.
func (s *Store) ClaimAlert(ctx context.Context, alertID int64, n *models.Notification, email *models.EmailQueueItem) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	ts := now()
	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE price_alerts SET is_active = ?, notification_sent = ?, triggered_at = ?
		WHERE id = ? AND is_active = ? AND notification_sent = ?`),
		false, true, ts, alertID, true, false)
	if err != nil {
		return false, fmt.Errorf("failed to claim alert: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	if len(n.Data) == 0 {
		n.Data = types.JSONText("{}")
	}
	n.CreatedAt = ts
	err = tx.GetContext(ctx, &n.ID, s.q(`
		INSERT INTO notifications (user_id, type, title, message, data, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		n.UserID, n.Type, n.Title, n.Message, n.Data, false, ts)
	if err != nil {
		return false, fmt.Errorf("failed to insert notification: %w", err)
	}

	if email != nil {
		if email.Status == "" {
			email.Status = models.EmailStatusPending
		}
		email.CreatedAt = ts
		err = tx.GetContext(ctx, &email.ID, s.q(`
			INSERT INTO email_queue (to_email, subject, body, status, created_at)
			VALUES (?, ?, ?, ?, ?)
			RETURNING id`),
			email.ToEmail, email.Subject, email.Body, email.Status, ts)
		if err != nil {
			return false, fmt.Errorf("failed to queue email: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// ListNotifications returns a user's notifications, newest first
func (s *Store) ListNotifications(ctx context.Context, userID int64) ([]models.Notification, error) {
	var notifications []models.Notification
	err := s.db.SelectContext(ctx, &notifications, s.q(`
		SELECT id, user_id, type, title, message, data, is_read, created_at
		FROM notifications WHERE user_id = ? ORDER BY id DESC`), userID)
	return notifications, err
}

// ListQueuedEmails returns emails in the given status, oldest first
func (s *Store) ListQueuedEmails(ctx context.Context, status string, limit int) ([]models.EmailQueueItem, error) {
	var emails []models.EmailQueueItem
	err := s.db.SelectContext(ctx, &emails, s.q(`
		SELECT id, to_email, subject, body, status, created_at
		FROM email_queue WHERE status = ? ORDER BY id LIMIT ?`), status, limit)
	return emails, err
}
