package extractor

import (
	"regexp"

	"affiliate-pipeline/internal/models"
)

var (
	shopeeSlugID    = regexp.MustCompile(`-i\.(\d+)\.(\d+)`)
	shopeeProductID = regexp.MustCompile(`/product/(\d+)/(\d+)`)
)

// NewShopeeExtractor builds the shopee extraction strategy.
// Shopee ids combine shop and item: "<shopid>.<itemid>".
func NewShopeeExtractor() Extractor {
	return &patternExtractor{
		marketplace: models.MarketplaceShopee,
		title: []*regexp.Regexp{
			regexp.MustCompile(`<meta\s+property="og:title"\s+content="([^"]+)"`),
			regexp.MustCompile(`<div class="[^"]*product-briefing[^"]*"[^>]*>\s*<span>([^<]+)</span>`),
			regexp.MustCompile(`<title>\s*([^<]+?)\s*</title>`),
		},
		price: []pricePattern{
			structured(`<meta\s+property="product:price:amount"\s+content="([\d.,]+)"`),
			brl(`<div class="[^"]*pqTWkA[^"]*"[^>]*>\s*(R\$[\d.,]+)`),
			brl(`(R\$\s*[\d.]+,\d{2})`),
		},
		originalPrice: []pricePattern{
			brl(`<div class="[^"]*Y3DvsN[^"]*"[^>]*>\s*(R\$[\d.,]+)`),
		},
		image: []*regexp.Regexp{
			regexp.MustCompile(`<meta\s+property="og:image"\s+content="([^"]+)"`),
		},
		productID: func(rawURL string) string {
			for _, re := range []*regexp.Regexp{shopeeSlugID, shopeeProductID} {
				if m := re.FindStringSubmatch(rawURL); len(m) > 2 {
					return m[1] + "." + m[2]
				}
			}
			return ""
		},
		titleSuffixes: []string{"| Shopee Brasil"},
	}
}
