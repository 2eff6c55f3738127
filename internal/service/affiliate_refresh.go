package service

import (
	"context"
	"fmt"

	"affiliate-pipeline/internal/affiliate"
	"affiliate-pipeline/internal/models"
	"affiliate-pipeline/internal/store"
	"affiliate-pipeline/internal/util"

	"go.uber.org/zap"
)

// AffiliateRefreshRequest is the optional body of the affiliate-links job
type AffiliateRefreshRequest struct {
	Marketplace models.Marketplace `json:"marketplace"`
	Limit       int                `json:"limit"`
	Offset      int                `json:"offset"`
}

// AffiliateRefreshService re-applies the rewriter with freshly resolved identifiers
type AffiliateRefreshService struct {
	store    *store.Store
	resolver *affiliate.Resolver
	logger   *zap.Logger
}

// NewAffiliateRefreshService creates a new affiliate refresh service
func NewAffiliateRefreshService(store *store.Store, resolver *affiliate.Resolver) *AffiliateRefreshService {
	return &AffiliateRefreshService{
		store:    store,
		resolver: resolver,
		logger:   util.GetLogger(),
	}
}

// Run rewrites the affiliate urls of every active product, walking the table
// in batches of at most MaxBatchSize rows
func (s *AffiliateRefreshService) Run(ctx context.Context, req *AffiliateRefreshRequest, rec *JobRecorder) error {
	ctx, span := util.StartSpan(ctx, "AffiliateRefreshService.Run")
	defer span.End()

	filter := store.ProductFilter{Status: models.ProductStatusActive, Limit: MaxBatchSize}
	if req != nil {
		if req.Marketplace != "" {
			if !req.Marketplace.Valid() {
				return fmt.Errorf("unknown marketplace: %s", req.Marketplace)
			}
			filter.Marketplace = req.Marketplace
		}
		if req.Limit > 0 && req.Limit < MaxBatchSize {
			filter.Limit = req.Limit
		}
		filter.Offset = req.Offset
	}

	ids, err := s.resolver.Resolve(ctx)
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		products, err := s.store.ListProducts(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to list products: %w", err)
		}

		for _, p := range products {
			s.refresh(ctx, &p, ids, rec)
		}

		if len(products) < filter.Limit {
			return nil
		}
		filter.BeforeID = products[len(products)-1].ID
		filter.Offset = 0
	}
}

func (s *AffiliateRefreshService) refresh(ctx context.Context, p *models.Product, ids affiliate.Identifiers, rec *JobRecorder) {
	rec.Processed()

	rewritten := affiliate.Rewrite(p.OriginalURL, p.Marketplace, ids)
	if rewritten == p.AffiliateURL {
		return
	}

	if err := s.store.UpdateAffiliateURL(ctx, p.ID, rewritten); err != nil {
		rec.ItemError(fmt.Sprintf("product %d", p.ID), err)
		return
	}

	util.AffiliateLinksUpdatedTotal.WithLabelValues(string(p.Marketplace)).Inc()
	s.logger.Debug("Affiliate url refreshed",
		zap.Int64("product_id", p.ID),
		zap.String("affiliate_url", rewritten))
	rec.Updated()
}
