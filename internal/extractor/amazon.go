package extractor

import (
	"regexp"
	"strings"

	"affiliate-pipeline/internal/models"
)

var amazonASIN = regexp.MustCompile(`/(?:dp|gp/product|gp/aw/d|product)/([A-Za-z0-9]{10})(?:[/?#]|$)`)

// NewAmazonExtractor builds the amazon extraction strategy
func NewAmazonExtractor() Extractor {
	return &patternExtractor{
		marketplace: models.MarketplaceAmazon,
		title: []*regexp.Regexp{
			regexp.MustCompile(`<span[^>]+id="productTitle"[^>]*>\s*([^<]+?)\s*</span>`),
			regexp.MustCompile(`<meta\s+name="title"\s+content="([^"]+)"`),
			regexp.MustCompile(`<title>\s*([^<]+?)\s*</title>`),
		},
		price: []pricePattern{
			brl(`<span class="a-price[^"]*"[^>]*>\s*<span class="a-offscreen">\s*(R\$\s*[\d.,]+)\s*</span>`),
			structured(`"priceAmount"\s*:\s*"?([\d.]+)"?`),
			brl(`<span class="a-offscreen">\s*(R\$\s*[\d.,]+)\s*</span>`),
			brl(`id="priceblock_(?:ourprice|dealprice)"[^>]*>\s*(R\$\s*[\d.,]+)`),
		},
		originalPrice: []pricePattern{
			brl(`<span class="a-price a-text-price"[^>]*>\s*<span class="a-offscreen">\s*(R\$\s*[\d.,]+)\s*</span>`),
			brl(`id="listPrice"[^>]*>\s*(R\$\s*[\d.,]+)`),
		},
		image: []*regexp.Regexp{
			regexp.MustCompile(`"hiRes"\s*:\s*"(https://[^"]+)"`),
			regexp.MustCompile(`data-old-hires="(https://[^"]+)"`),
			regexp.MustCompile(`<img[^>]+id="landingImage"[^>]+src="([^"]+)"`),
		},
		productID: func(rawURL string) string {
			if m := amazonASIN.FindStringSubmatch(rawURL); len(m) > 1 {
				return strings.ToUpper(m[1])
			}
			return ""
		},
		titleSuffixes: []string{"| Amazon.com.br", ": Amazon.com.br"},
	}
}
