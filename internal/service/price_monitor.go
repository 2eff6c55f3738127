package service

import (
	"context"
	"errors"
	"fmt"

	"affiliate-pipeline/internal/broker"
	"affiliate-pipeline/internal/extractor"
	"affiliate-pipeline/internal/models"
	"affiliate-pipeline/internal/store"
	"affiliate-pipeline/internal/util"

	"go.uber.org/zap"
)

// MonitorRequest is the optional body of the price-monitor job
type MonitorRequest struct {
	Limit int `json:"limit"`
}

// PriceMonitorService re-extracts the least recently checked active products
type PriceMonitorService struct {
	store          *store.Store
	extractor      *extractor.Service
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
}

// NewPriceMonitorService creates a new price monitor
func NewPriceMonitorService(
	store *store.Store,
	extractor *extractor.Service,
	eventPublisher *broker.EventPublisher,
) *PriceMonitorService {
	return &PriceMonitorService{
		store:          store,
		extractor:      extractor,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// Run checks one batch of products
func (s *PriceMonitorService) Run(ctx context.Context, req *MonitorRequest, rec *JobRecorder) error {
	ctx, span := util.StartSpan(ctx, "PriceMonitorService.Run")
	defer span.End()

	limit := MaxBatchSize
	if req != nil && req.Limit > 0 && req.Limit < MaxBatchSize {
		limit = req.Limit
	}

	products, err := s.store.ListProductsForMonitor(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list products: %w", err)
	}

	for i := range products {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := &products[i]
		rec.Processed()

		changed, err := s.checkProduct(ctx, p)
		if err != nil {
			s.logger.Warn("Price check failed",
				zap.Int64("product_id", p.ID),
				zap.Error(err))
			rec.ItemError(fmt.Sprintf("product %d", p.ID), err)
			continue
		}
		if changed {
			rec.Updated()
		}
	}

	return nil
}

func (s *PriceMonitorService) checkProduct(ctx context.Context, p *models.Product) (bool, error) {
	fields, err := s.extractor.Extract(ctx, p.OriginalURL, p.Marketplace, nil)
	if errors.Is(err, extractor.ErrNotFound) {
		s.logger.Info("Product page gone, marking discontinued", zap.Int64("product_id", p.ID))
		if err := s.store.UpdateProductStatus(ctx, p.ID, models.ProductStatusDiscontinued); err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		// leave the row untouched except for the check time so the batch rotates
		if touchErr := s.store.TouchProduct(ctx, p.ID); touchErr != nil {
			s.logger.Error("Failed to touch product", zap.Int64("product_id", p.ID), zap.Error(touchErr))
		}
		return false, err
	}

	oldPrice, changed, err := s.store.UpdateProductPrice(ctx, p.ID, fields.Price)
	if err != nil {
		return false, err
	}
	if changed {
		s.logger.Info("Price changed",
			zap.Int64("product_id", p.ID),
			zap.String("old_price", oldPrice.String()),
			zap.String("new_price", fields.Price.String()))
		publishPriceChange(ctx, s.eventPublisher, s.logger, p.Marketplace, p.ID, oldPrice, fields.Price)
	}
	return changed, nil
}
