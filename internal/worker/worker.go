package worker

import (
	"context"

	"affiliate-pipeline/internal/broker"
	"affiliate-pipeline/internal/models"
	"affiliate-pipeline/internal/service"
	"affiliate-pipeline/internal/util"

	"go.uber.org/zap"
)

// EventSource delivers pipeline events to a handler until ctx is done
type EventSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// AlertWorker evaluates price alerts as soon as a price drop is published,
// ahead of the next scheduled price-alerts run
type AlertWorker struct {
	source       EventSource
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewAlertWorker creates a new alert worker
func NewAlertWorker(source EventSource, notifier *service.AlertNotifier) *AlertWorker {
	w := &AlertWorker{
		source:       source,
		eventHandler: broker.NewEventHandler(),
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnPriceChanged(notifier.HandlePriceChanged)
	w.eventHandler.OnProductIngested(w.productIngested)

	return w
}

// Start blocks consuming events
func (w *AlertWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting alert worker")
	return w.source.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop closes the event source
func (w *AlertWorker) Stop() error {
	w.logger.Info("Stopping alert worker")
	return w.source.Close()
}

func (w *AlertWorker) productIngested(ctx context.Context, event *models.ProductIngestedEvent) error {
	if event.Created {
		w.logger.Info("New product available",
			zap.Int64("product_id", event.ProductID),
			zap.String("marketplace", string(event.Marketplace)),
			zap.String("marketplace_id", event.MarketplaceID))
	}
	return nil
}
