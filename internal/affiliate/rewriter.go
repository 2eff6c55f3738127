package affiliate

import (
	"net/url"
	"strings"

	"affiliate-pipeline/internal/models"
)

// Tracking query parameters per marketplace
const (
	ParamAmazon       = "tag"
	ParamShopee       = "smtt"
	ParamMercadoLivre = "matt_tool"
)

// Rewrite embeds the marketplace tracking identifier into rawURL.
// Amazon always overwrites tag. Shopee and Mercado Livre only append when the
// parameter is absent, so an existing wrong value is never corrected.
// Mercado Livre URLs are left alone when no identifier is configured.
func Rewrite(rawURL string, m models.Marketplace, ids Identifiers) string {
	id := ids.For(m)
	if id == "" {
		return rawURL
	}

	switch m {
	case models.MarketplaceAmazon:
		return setParam(rawURL, ParamAmazon, id, true)
	case models.MarketplaceShopee:
		return setParam(rawURL, ParamShopee, id, false)
	case models.MarketplaceMercadoLivre:
		return setParam(rawURL, ParamMercadoLivre, id, false)
	}
	return rawURL
}

func setParam(rawURL, key, value string, overwrite bool) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return concat(rawURL, key, value, overwrite)
	}

	q := u.Query()
	if q.Has(key) && !overwrite {
		return rawURL
	}
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

// concat appends the parameter without parsing. A url already ending in
// "?" or "&" gets a second separator.
func concat(rawURL, key, value string, overwrite bool) string {
	if !overwrite && (strings.Contains(rawURL, "?"+key+"=") || strings.Contains(rawURL, "&"+key+"=")) {
		return rawURL
	}
	if !strings.Contains(rawURL, "?") {
		return rawURL + "?" + key + "=" + url.QueryEscape(value)
	}
	return rawURL + "&" + key + "=" + url.QueryEscape(value)
}
