// Package affiliate resolves tracking identifiers and embeds them in outbound product URLs.
package affiliate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"affiliate-pipeline/internal/models"
	"affiliate-pipeline/internal/util"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Compiled fallbacks, used when neither storage nor configuration provides an identifier.
// Mercado Livre has none on purpose: its parameter is only added when configured.
const (
	FallbackAmazonTag = "affpipeline-20"
	FallbackShopeeID  = "affpipeline"
)

// Source of an identifier
const (
	SourceStored   = "stored"
	SourceDefault  = "default"
	SourceFallback = "fallback"
	SourceNone     = "none"
)

// Identifiers are the tracking ids resolved for one job run
type Identifiers struct {
	AmazonTag      string
	ShopeeID       string
	MercadoLivreID string

	Sources map[models.Marketplace]string
}

// For returns the identifier configured for m
func (ids Identifiers) For(m models.Marketplace) string {
	switch m {
	case models.MarketplaceAmazon:
		return ids.AmazonTag
	case models.MarketplaceShopee:
		return ids.ShopeeID
	case models.MarketplaceMercadoLivre:
		return ids.MercadoLivreID
	}
	return ""
}

// Defaults are identifiers coming from the environment or the config file
type Defaults struct {
	AmazonTag      string `yaml:"amazon_tag"`
	ShopeeID       string `yaml:"shopee_id"`
	MercadoLivreID string `yaml:"mercadolivre_id"`
}

// CredentialStore reads and writes marketplace credentials
type CredentialStore interface {
	ListActiveCredentials(ctx context.Context) ([]models.MarketplaceCredentials, error)
	SaveCredentials(ctx context.Context, c *models.MarketplaceCredentials) error
}

// CredentialCache caches the raw credential rows between job runs
type CredentialCache interface {
	GetCredentials(ctx context.Context) ([]byte, bool, error)
	SetCredentials(ctx context.Context, data []byte, ttl time.Duration) error
	InvalidateCredentials(ctx context.Context) error
}

// ErrUnknownMarketplace is returned when saving credentials for an unsupported marketplace
var ErrUnknownMarketplace = errors.New("unknown marketplace")

// credentialKeys lists the accepted keys inside a stored credential blob, first present wins
var credentialKeys = map[models.Marketplace][]string{
	models.MarketplaceAmazon:       {"tag", "affiliate_tag"},
	models.MarketplaceShopee:       {"smtt", "affiliate_id"},
	models.MarketplaceMercadoLivre: {"matt_tool", "affiliate_id"},
}

// Resolver applies stored credential > configured default > compiled fallback
type Resolver struct {
	store    CredentialStore
	cache    CredentialCache
	defaults Defaults
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewResolver creates a resolver; cache may be nil
func NewResolver(store CredentialStore, cache CredentialCache, defaults Defaults, cacheTTL time.Duration) *Resolver {
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Resolver{
		store:    store,
		cache:    cache,
		defaults: defaults,
		cacheTTL: cacheTTL,
		logger:   util.GetLogger(),
	}
}

// Resolve returns the identifiers for every marketplace.
// A failing credential store is a job-level error.
func (r *Resolver) Resolve(ctx context.Context) (Identifiers, error) {
	ctx, span := util.StartSpan(ctx, "Affiliate.Resolve")
	defer span.End()

	creds, err := r.loadCredentials(ctx)
	if err != nil {
		util.SpanError(span, err)
		return Identifiers{}, fmt.Errorf("failed to resolve affiliate credentials: %w", err)
	}

	stored := make(map[models.Marketplace]string, len(creds))
	for _, c := range creds {
		m := models.Marketplace(c.MarketplaceID)
		keys, ok := credentialKeys[m]
		if !ok || !c.IsActive {
			continue
		}
		for _, key := range keys {
			if v := gjson.GetBytes(c.Credentials, key).String(); v != "" {
				stored[m] = v
				break
			}
		}
	}

	ids := Identifiers{Sources: map[models.Marketplace]string{}}
	ids.AmazonTag = pick(&ids, models.MarketplaceAmazon, stored, r.defaults.AmazonTag, FallbackAmazonTag)
	ids.ShopeeID = pick(&ids, models.MarketplaceShopee, stored, r.defaults.ShopeeID, FallbackShopeeID)
	ids.MercadoLivreID = pick(&ids, models.MarketplaceMercadoLivre, stored, r.defaults.MercadoLivreID, "")

	r.logger.Debug("Affiliate identifiers resolved",
		zap.String("amazon", ids.Sources[models.MarketplaceAmazon]),
		zap.String("shopee", ids.Sources[models.MarketplaceShopee]),
		zap.String("mercadolivre", ids.Sources[models.MarketplaceMercadoLivre]))

	return ids, nil
}

// SaveCredentials stores a marketplace's credential blob and drops the cached rows,
// so the next Resolve sees the change instead of waiting for the cache ttl.
func (r *Resolver) SaveCredentials(ctx context.Context, c *models.MarketplaceCredentials) error {
	if _, ok := credentialKeys[models.Marketplace(c.MarketplaceID)]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMarketplace, c.MarketplaceID)
	}
	if len(c.Credentials) > 0 && !gjson.ValidBytes(c.Credentials) {
		return fmt.Errorf("credentials for %s are not valid json", c.MarketplaceID)
	}

	if err := r.store.SaveCredentials(ctx, c); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	if r.cache != nil {
		if err := r.cache.InvalidateCredentials(ctx); err != nil {
			r.logger.Warn("Credential cache invalidation failed", zap.Error(err))
		}
	}

	r.logger.Info("Marketplace credentials saved",
		zap.String("marketplace", c.MarketplaceID),
		zap.Bool("active", c.IsActive))
	return nil
}

func pick(ids *Identifiers, m models.Marketplace, stored map[models.Marketplace]string, def, fallback string) string {
	switch {
	case stored[m] != "":
		ids.Sources[m] = SourceStored
		return stored[m]
	case def != "":
		ids.Sources[m] = SourceDefault
		return def
	case fallback != "":
		ids.Sources[m] = SourceFallback
		return fallback
	}
	ids.Sources[m] = SourceNone
	return ""
}

func (r *Resolver) loadCredentials(ctx context.Context) ([]models.MarketplaceCredentials, error) {
	if r.cache != nil {
		data, ok, err := r.cache.GetCredentials(ctx)
		if err != nil {
			r.logger.Warn("Credential cache read failed", zap.Error(err))
		} else if ok {
			var creds []models.MarketplaceCredentials
			if err := json.Unmarshal(data, &creds); err == nil {
				return creds, nil
			}
		}
	}

	creds, err := r.store.ListActiveCredentials(ctx)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		data, err := json.Marshal(creds)
		if err == nil {
			err = r.cache.SetCredentials(ctx, data, r.cacheTTL)
		}
		if err != nil {
			r.logger.Warn("Credential cache write failed", zap.Error(err))
		}
	}

	return creds, nil
}
