package extractor

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// pageMetadata holds the structured hints most product pages publish
// (Open Graph tags, itemprop microdata and JSON-LD Product blocks).
type pageMetadata struct {
	title       string
	image       string
	price       decimal.Decimal
	listPrice   decimal.Decimal
	currency    string
	rating      *float64
	reviewCount int
}

func readMetadata(page []byte) (*pageMetadata, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, err
	}

	meta := &pageMetadata{
		title:    metaContent(doc, "meta[property='og:title']", "meta[name='title']"),
		image:    metaContent(doc, "meta[property='og:image']", "meta[name='twitter:image']"),
		currency: metaContent(doc, "meta[property='product:price:currency']", "meta[itemprop='priceCurrency']"),
		price: parseStructured(metaContent(doc,
			"meta[property='product:price:amount']",
			"meta[property='og:price:amount']",
			"meta[itemprop='price']",
		)),
	}

	doc.Find("script[type='application/ld+json']").EachWithBreak(func(i int, s *goquery.Selection) bool {
		product := findLDProduct(s.Text())
		if !product.Exists() {
			return true
		}
		meta.fromLD(product)
		return false
	})

	if meta.title == "" {
		meta.title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if meta.title == "" {
		meta.title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	return meta, nil
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// findLDProduct locates the Product node in a JSON-LD block, which may be a bare
// object, an array of objects or an @graph container.
func findLDProduct(raw string) gjson.Result {
	if !gjson.Valid(raw) {
		return gjson.Result{}
	}
	root := gjson.Parse(raw)
	candidates := []gjson.Result{root}
	if root.IsArray() {
		candidates = root.Array()
	} else if graph := root.Get("@graph"); graph.IsArray() {
		candidates = graph.Array()
	}
	for _, c := range candidates {
		if strings.EqualFold(c.Get("@type").String(), "Product") {
			return c
		}
	}
	return gjson.Result{}
}

func (m *pageMetadata) fromLD(product gjson.Result) {
	if m.title == "" {
		m.title = product.Get("name").String()
	}
	if m.image == "" {
		img := product.Get("image")
		if img.IsArray() {
			img = img.Get("0")
		}
		if img.IsObject() {
			img = img.Get("url")
		}
		m.image = img.String()
	}

	offers := product.Get("offers")
	if offers.IsArray() {
		offers = offers.Get("0")
	}
	if m.price.IsZero() {
		for _, path := range []string{"price", "lowPrice"} {
			if v := offers.Get(path); v.Exists() {
				m.price = parseStructured(v.String())
				break
			}
		}
	}
	if m.listPrice.IsZero() {
		if v := offers.Get("highPrice"); v.Exists() {
			m.listPrice = parseStructured(v.String())
		}
	}
	if m.currency == "" {
		m.currency = offers.Get("priceCurrency").String()
	}

	if v := product.Get("aggregateRating.ratingValue"); v.Exists() {
		rating := v.Float()
		m.rating = &rating
	}
	if v := product.Get("aggregateRating.reviewCount"); v.Exists() {
		m.reviewCount = int(v.Int())
	} else if v := product.Get("aggregateRating.ratingCount"); v.Exists() {
		m.reviewCount = int(v.Int())
	}
}

// fill copies metadata into fields that pattern matching left empty.
func (m *pageMetadata) fill(f *ProductFields) {
	if f.Title == "" {
		f.Title = m.title
	}
	if f.ImageURL == "" {
		f.ImageURL = m.image
	}
	if f.Price.IsZero() {
		f.Price = m.price
	}
	if f.OriginalPrice.IsZero() && m.listPrice.GreaterThan(f.Price) {
		f.OriginalPrice = m.listPrice
	}
	if m.currency != "" {
		f.Currency = strings.ToUpper(m.currency)
	}
	if f.Rating == nil {
		f.Rating = m.rating
	}
	if f.ReviewCount == 0 {
		f.ReviewCount = m.reviewCount
	}
}
