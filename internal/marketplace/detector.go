// Package marketplace classifies product URLs into the supported marketplaces.
package marketplace

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"affiliate-pipeline/internal/models"
)

// ErrUnsupported is returned for URLs that belong to no supported marketplace
var ErrUnsupported = errors.New("unsupported marketplace")

type rule struct {
	needle      string
	marketplace models.Marketplace
}

// Evaluated in order, first match wins.
var rules = []rule{
	{needle: "amazon.", marketplace: models.MarketplaceAmazon},
	{needle: "amzn.", marketplace: models.MarketplaceAmazon},
	{needle: "shopee.", marketplace: models.MarketplaceShopee},
	{needle: "mercadolivre.", marketplace: models.MarketplaceMercadoLivre},
	{needle: "mercadolibre.", marketplace: models.MarketplaceMercadoLivre},
}

// Detect classifies rawURL by a lower-cased hostname substring match.
// Internationalized domains are not normalized.
func Detect(rawURL string) (models.Marketplace, error) {
	host := hostOf(rawURL)
	for _, r := range rules {
		if strings.Contains(host, r.needle) {
			return r.marketplace, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupported, rawURL)
}

func hostOf(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	if u, err := url.Parse(trimmed); err == nil && u.Host != "" {
		return strings.ToLower(u.Hostname())
	}
	// Fall back to the raw text so scheme-less or malformed links still classify.
	return strings.ToLower(trimmed)
}
