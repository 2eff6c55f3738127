package extractor

import (
	"regexp"
	"strings"

	"affiliate-pipeline/internal/models"
)

var mercadoLivreID = regexp.MustCompile(`(?i)\b(MLB)-?(\d{6,})`)

// andesCents captures the cents span rendered after an andes fraction, with or
// without the separator span in between
const andesCents = `(?:\s*<span[^>]*>,</span>)?(?:\s*<span[^>]*andes-money-amount__cents[^>]*>(\d{1,2})</span>)?`

// NewMercadoLivreExtractor builds the mercadolivre extraction strategy
func NewMercadoLivreExtractor() Extractor {
	return &patternExtractor{
		marketplace: models.MarketplaceMercadoLivre,
		title: []*regexp.Regexp{
			regexp.MustCompile(`<h1 class="ui-pdp-title"[^>]*>\s*([^<]+?)\s*</h1>`),
			regexp.MustCompile(`<meta\s+property="og:title"\s+content="([^"]+)"`),
		},
		price: []pricePattern{
			structured(`<meta\s+itemprop="price"\s+content="([\d.]+)"`),
			brl(`<div class="ui-pdp-price__second-line"[^>]*>[\s\S]*?andes-money-amount__fraction"[^>]*>([\d.]+)</span>` + andesCents),
			brl(`andes-money-amount__fraction"[^>]*>([\d.]+)</span>` + andesCents),
		},
		originalPrice: []pricePattern{
			brl(`andes-money-amount--previous[^>]*>[\s\S]*?andes-money-amount__fraction"[^>]*>([\d.]+)</span>` + andesCents),
		},
		image: []*regexp.Regexp{
			regexp.MustCompile(`<img[^>]+class="ui-pdp-image ui-pdp-gallery__figure__image"[^>]+data-zoom="([^"]+)"`),
			regexp.MustCompile(`<meta\s+property="og:image"\s+content="([^"]+)"`),
		},
		productID: func(rawURL string) string {
			if m := mercadoLivreID.FindStringSubmatch(rawURL); len(m) > 2 {
				return strings.ToUpper(m[1]) + m[2]
			}
			return ""
		},
		titleSuffixes: []string{"| MercadoLivre", "| Mercado Livre"},
	}
}
