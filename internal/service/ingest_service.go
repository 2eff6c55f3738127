package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"affiliate-pipeline/internal/affiliate"
	"affiliate-pipeline/internal/broker"
	"affiliate-pipeline/internal/extractor"
	"affiliate-pipeline/internal/marketplace"
	"affiliate-pipeline/internal/models"
	"affiliate-pipeline/internal/store"
	"affiliate-pipeline/internal/util"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// MaxBatchSize bounds the items handled by one invocation
const MaxBatchSize = 50

// IngestRequest is the optional body of the ingest-products job.
// Products carry externally scraped payloads; each must include its "url".
type IngestRequest struct {
	URLs     []string          `json:"urls"`
	Products []json.RawMessage `json:"products"`
	Limit    int               `json:"limit"`
}

type ingestItem struct {
	url     string
	scraped []byte
}

// IngestService turns raw product urls or scraped payloads into stored products
type IngestService struct {
	store          *store.Store
	extractor      *extractor.Service
	resolver       *affiliate.Resolver
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
}

// NewIngestService creates a new ingest service
func NewIngestService(
	store *store.Store,
	extractor *extractor.Service,
	resolver *affiliate.Resolver,
	eventPublisher *broker.EventPublisher,
) *IngestService {
	return &IngestService{
		store:          store,
		extractor:      extractor,
		resolver:       resolver,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// Run ingests one bounded batch
func (s *IngestService) Run(ctx context.Context, req *IngestRequest, rec *JobRecorder) error {
	ctx, span := util.StartSpan(ctx, "IngestService.Run")
	defer span.End()

	ids, err := s.resolver.Resolve(ctx)
	if err != nil {
		return err
	}

	items := batchItems(req)
	if len(items) == 0 {
		rec.SetMessage("no products to ingest")
		return nil
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec.Processed()

		if err := s.ingestOne(ctx, item, ids); err != nil {
			s.logger.Warn("Product ingestion failed", zap.String("url", item.url), zap.Error(err))
			rec.ItemError(item.url, err)
			continue
		}
		rec.Updated()
	}

	return nil
}

func batchItems(req *IngestRequest) []ingestItem {
	if req == nil {
		return nil
	}

	limit := req.Limit
	if limit <= 0 || limit > MaxBatchSize {
		limit = MaxBatchSize
	}

	items := make([]ingestItem, 0, len(req.URLs)+len(req.Products))
	for _, raw := range req.Products {
		u := gjson.GetBytes(raw, "url").String()
		if u == "" {
			u = gjson.GetBytes(raw, "original_url").String()
		}
		items = append(items, ingestItem{url: strings.TrimSpace(u), scraped: raw})
	}
	for _, u := range req.URLs {
		items = append(items, ingestItem{url: strings.TrimSpace(u)})
	}

	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

func (s *IngestService) ingestOne(ctx context.Context, item ingestItem, ids affiliate.Identifiers) error {
	if item.url == "" {
		return fmt.Errorf("missing product url")
	}

	m, err := marketplace.Detect(item.url)
	if err != nil {
		return err
	}

	fields, err := s.extractor.Extract(ctx, item.url, m, item.scraped)
	if err != nil {
		return err
	}

	product := productFromFields(fields, m, item.url, affiliate.Rewrite(item.url, m, ids))

	res, err := s.store.SaveProduct(ctx, product)
	if err != nil {
		util.ProductsUpsertedTotal.WithLabelValues(string(m), "error").Inc()
		return err
	}

	result := "updated"
	if res.Created {
		result = "created"
	}
	util.ProductsUpsertedTotal.WithLabelValues(string(m), result).Inc()

	s.logger.Info("Product ingested",
		zap.Int64("product_id", product.ID),
		zap.String("marketplace", string(m)),
		zap.String("marketplace_id", product.MarketplaceID),
		zap.Bool("created", res.Created))

	if err := s.eventPublisher.PublishProductIngested(ctx, &models.ProductIngestedEvent{
		ProductID:     product.ID,
		Marketplace:   m,
		MarketplaceID: product.MarketplaceID,
		Created:       res.Created,
	}); err != nil {
		s.logger.Error("Failed to publish ProductIngested event", zap.Error(err))
	}

	if res.PriceChanged {
		publishPriceChange(ctx, s.eventPublisher, s.logger, m, product.ID, res.OldPrice, product.Price)
	}

	return nil
}

func productFromFields(fields extractor.ProductFields, m models.Marketplace, originalURL, affiliateURL string) *models.Product {
	p := &models.Product{
		Title:         fields.Title,
		Price:         fields.Price,
		Currency:      fields.Currency,
		ImageURL:      fields.ImageURL,
		Marketplace:   m,
		MarketplaceID: fields.MarketplaceID,
		AffiliateURL:  affiliateURL,
		OriginalURL:   originalURL,
		Rating:        fields.Rating,
		ReviewCount:   fields.ReviewCount,
		Status:        models.ProductStatusActive,
	}
	if fields.OriginalPrice.GreaterThan(fields.Price) {
		p.OriginalPrice = decimal.NewNullDecimal(fields.OriginalPrice)
	}
	return p
}

func publishPriceChange(ctx context.Context, ep *broker.EventPublisher, logger *zap.Logger, m models.Marketplace, productID int64, oldPrice, newPrice decimal.Decimal) {
	direction := "up"
	if newPrice.LessThan(oldPrice) {
		direction = "down"
	}
	util.PriceChangesTotal.WithLabelValues(string(m), direction).Inc()

	if err := ep.PublishPriceChanged(ctx, &models.PriceChangedEvent{
		ProductID: productID,
		OldPrice:  oldPrice,
		NewPrice:  newPrice,
	}); err != nil {
		logger.Error("Failed to publish PriceChanged event",
			zap.Int64("product_id", productID),
			zap.Error(err))
	}
}
