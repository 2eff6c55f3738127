package extractor

import (
	"context"
	"errors"

	"affiliate-pipeline/internal/models"
	"affiliate-pipeline/internal/util"

	"go.uber.org/zap"
)

// Service picks the extraction source for a product URL:
// caller-provided scraped data, then the scraping backend, then the page itself.
type Service struct {
	registry *Registry
	fetcher  Fetcher
	backend  *BackendClient
	logger   *zap.Logger
}

// NewService creates an extraction service; backend may be nil
func NewService(registry *Registry, fetcher Fetcher, backend *BackendClient) *Service {
	return &Service{
		registry: registry,
		fetcher:  fetcher,
		backend:  backend,
		logger:   util.GetLogger(),
	}
}

// Extract returns validated product fields for rawURL
func (s *Service) Extract(ctx context.Context, rawURL string, m models.Marketplace, scraped []byte) (ProductFields, error) {
	ctx, span := util.StartSpan(ctx, "Extractor.Extract")
	defer span.End()

	ext, err := s.registry.Resolve(m)
	if err != nil {
		return ProductFields{}, err
	}

	var fields ProductFields
	switch {
	case len(scraped) > 0:
		fields, err = ParseScraped(scraped)
	case s.backend != nil:
		fields, err = s.fromBackend(ctx, rawURL, m)
		if err != nil {
			s.logger.Warn("Scraper backend failed, fetching page",
				zap.String("url", rawURL),
				zap.Error(err))
			fields, err = s.fromPage(ctx, ext, rawURL)
		}
	default:
		fields, err = s.fromPage(ctx, ext, rawURL)
	}
	if err != nil {
		s.countFailure(m, err)
		return ProductFields{}, err
	}

	if fields.MarketplaceID == "" {
		fields.MarketplaceID, _ = ext.ProductID(rawURL)
	}
	fields.roundPrices()
	if err := fields.Validate(rawURL); err != nil {
		s.countFailure(m, err)
		return ProductFields{}, err
	}

	return fields, nil
}

func (s *Service) fromBackend(ctx context.Context, rawURL string, m models.Marketplace) (ProductFields, error) {
	raw, err := s.backend.Scrape(ctx, rawURL, m)
	if err != nil {
		return ProductFields{}, err
	}
	return ParseScraped(raw)
}

func (s *Service) fromPage(ctx context.Context, ext Extractor, rawURL string) (ProductFields, error) {
	page, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return ProductFields{}, err
	}
	return ext.Extract(page)
}

func (s *Service) countFailure(m models.Marketplace, err error) {
	reason := "error"
	var extErr *ExtractionError
	switch {
	case errors.Is(err, ErrNotFound):
		reason = "not_found"
	case errors.As(err, &extErr):
		reason = "missing_" + extErr.Field
	}
	util.ExtractionFailuresTotal.WithLabelValues(string(m), reason).Inc()
}
