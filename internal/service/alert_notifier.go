package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"affiliate-pipeline/internal/broker"
	"affiliate-pipeline/internal/models"
	"affiliate-pipeline/internal/store"
	"affiliate-pipeline/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AlertRequest is the optional body of the price-alerts job
type AlertRequest struct {
	Limit int `json:"limit"`
}

// CreateAlertRequest represents a user's request to watch a product price
type CreateAlertRequest struct {
	UserID      int64           `json:"user_id" binding:"required"`
	ProductID   int64           `json:"product_id" binding:"required"`
	TargetPrice decimal.Decimal `json:"target_price"`
}

// AlertNotifier consumes price alerts whose target has been reached
type AlertNotifier struct {
	store          *store.Store
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
}

// NewAlertNotifier creates a new alert notifier
func NewAlertNotifier(store *store.Store, eventPublisher *broker.EventPublisher) *AlertNotifier {
	return &AlertNotifier{
		store:          store,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// Triggered reports whether a positive current price reached the target
func Triggered(current, target decimal.Decimal) bool {
	return current.IsPositive() && current.LessThanOrEqual(target)
}

// Run evaluates one batch of pending alerts
func (n *AlertNotifier) Run(ctx context.Context, req *AlertRequest, rec *JobRecorder) error {
	ctx, span := util.StartSpan(ctx, "AlertNotifier.Run")
	defer span.End()

	limit := MaxBatchSize
	if req != nil && req.Limit > 0 && req.Limit < MaxBatchSize {
		limit = req.Limit
	}

	alerts, err := n.store.ListPendingAlerts(ctx, 0, limit)
	if err != nil {
		return fmt.Errorf("failed to list pending alerts: %w", err)
	}

	n.evaluate(ctx, alerts, rec)
	return nil
}

// HandlePriceChanged checks the alerts of a product whose price dropped.
// Each event is handled once.
func (n *AlertNotifier) HandlePriceChanged(ctx context.Context, event *models.PriceChangedEvent) error {
	ctx, span := util.StartSpan(ctx, "AlertNotifier.HandlePriceChanged")
	defer span.End()

	processed, err := n.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event: %w", err)
	}
	if processed {
		n.logger.Debug("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	if event.Dropped() {
		alerts, err := n.store.ListPendingAlerts(ctx, event.ProductID, MaxBatchSize)
		if err != nil {
			return fmt.Errorf("failed to list pending alerts: %w", err)
		}

		rec := newJobRecorder("price-changed", DefaultMaxErrorDetails)
		n.evaluate(ctx, alerts, rec)

		res := rec.Snapshot()
		if res.Errors > 0 {
			// unmarked so the event is redelivered; claimed alerts are not sent twice
			return fmt.Errorf("%d alerts failed for product %d: %s",
				res.Errors, event.ProductID, strings.Join(res.ErrorDetails, "; "))
		}
	}

	return n.store.MarkEventProcessed(ctx, event.EventID, event.EventType)
}

func (n *AlertNotifier) evaluate(ctx context.Context, alerts []models.PendingAlert, rec *JobRecorder) {
	for i := range alerts {
		if ctx.Err() != nil {
			return
		}
		alert := &alerts[i]
		rec.Processed()

		if !Triggered(alert.CurrentPrice, alert.TargetPrice) {
			continue
		}

		sent, err := n.notify(ctx, alert)
		if err != nil {
			n.logger.Error("Failed to notify alert",
				zap.Int64("alert_id", alert.AlertID),
				zap.Error(err))
			rec.ItemError(fmt.Sprintf("alert %d", alert.AlertID), err)
			continue
		}
		if sent {
			rec.NotificationSent()
		}
	}
}

// notify claims the alert and queues its notifications atomically.
// false without error means another run consumed the alert first.
func (n *AlertNotifier) notify(ctx context.Context, alert *models.PendingAlert) (bool, error) {
	price := formatBRL(alert.CurrentPrice)
	target := formatBRL(alert.TargetPrice)

	data, err := json.Marshal(map[string]interface{}{
		"alert_id":      alert.AlertID,
		"product_id":    alert.ProductID,
		"current_price": alert.CurrentPrice,
		"target_price":  alert.TargetPrice,
		"affiliate_url": alert.AffiliateURL,
	})
	if err != nil {
		return false, err
	}

	notification := &models.Notification{
		UserID:  alert.UserID,
		Type:    models.NotificationTypePriceAlert,
		Title:   "Preço baixou!",
		Message: fmt.Sprintf("%s está por %s (seu alerta: %s)", alert.ProductTitle, price, target),
		Data:    data,
	}

	var email *models.EmailQueueItem
	if alert.UserEmail != nil && *alert.UserEmail != "" {
		name := "Olá"
		if alert.UserName != nil && *alert.UserName != "" {
			name = "Olá, " + *alert.UserName
		}
		email = &models.EmailQueueItem{
			ToEmail: *alert.UserEmail,
			Subject: fmt.Sprintf("Alerta de preço: %s", alert.ProductTitle),
			Body: fmt.Sprintf("%s!\n\n%s chegou a %s, abaixo do seu alvo de %s.\n\nConfira: %s\n",
				name, alert.ProductTitle, price, target, alert.AffiliateURL),
			Status: models.EmailStatusPending,
		}
	}

	claimed, err := n.store.ClaimAlert(ctx, alert.AlertID, notification, email)
	if err != nil {
		return false, err
	}
	if !claimed {
		n.logger.Info("Alert already consumed by another run", zap.Int64("alert_id", alert.AlertID))
		return false, nil
	}

	util.AlertsTriggeredTotal.Inc()
	util.NotificationsQueuedTotal.WithLabelValues("in_app").Inc()
	if email != nil {
		util.NotificationsQueuedTotal.WithLabelValues("email").Inc()
	}

	if err := n.eventPublisher.PublishAlertTriggered(ctx, &models.AlertTriggeredEvent{
		AlertID:      alert.AlertID,
		UserID:       alert.UserID,
		ProductID:    alert.ProductID,
		TargetPrice:  alert.TargetPrice,
		CurrentPrice: alert.CurrentPrice,
	}); err != nil {
		n.logger.Error("Failed to publish AlertTriggered event", zap.Error(err))
	}

	return true, nil
}

// CreateAlert registers a new alert for an existing product
func (n *AlertNotifier) CreateAlert(ctx context.Context, req *CreateAlertRequest) (*models.PriceAlert, error) {
	if !req.TargetPrice.IsPositive() {
		return nil, fmt.Errorf("target_price must be positive")
	}

	alert := &models.PriceAlert{
		UserID:      req.UserID,
		ProductID:   req.ProductID,
		TargetPrice: req.TargetPrice,
	}
	if err := n.store.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}

	n.logger.Info("Price alert created",
		zap.Int64("alert_id", alert.ID),
		zap.Int64("product_id", alert.ProductID))
	return alert, nil
}

// formatBRL renders 1234.5 as "R$ 1.234,50"
func formatBRL(d decimal.Decimal) string {
	s := d.StringFixed(2)
	intPart, frac := s[:len(s)-3], s[len(s)-2:]

	neg := strings.HasPrefix(intPart, "-")
	intPart = strings.TrimPrefix(intPart, "-")

	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(c)
	}

	out := "R$ " + b.String() + "," + frac
	if neg {
		out = "-" + out
	}
	return out
}
