// Package extractor turns marketplace pages or scraped payloads into normalized product fields.
package extractor

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"affiliate-pipeline/internal/models"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when the product page no longer exists
var ErrNotFound = errors.New("product page not found")

// ExtractionError reports a required field that could not be derived
type ExtractionError struct {
	Field string
	URL   string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed: missing %s for %s", e.Field, e.URL)
}

// ProductFields are the normalized values pulled from a page or a scraped payload
type ProductFields struct {
	Title         string
	Price         decimal.Decimal
	OriginalPrice decimal.Decimal
	Currency      string
	ImageURL      string
	MarketplaceID string
	Rating        *float64
	ReviewCount   int
}

// roundPrices brings prices to the stored scale, so comparisons against the
// database never see a difference the column cannot hold.
func (f *ProductFields) roundPrices() {
	f.Price = f.Price.Round(models.PriceScale)
	f.OriginalPrice = f.OriginalPrice.Round(models.PriceScale)
}

// Validate enforces the fields every ingested product must carry.
// A zero price counts as missing.
func (f *ProductFields) Validate(rawURL string) error {
	switch {
	case strings.TrimSpace(f.Title) == "":
		return &ExtractionError{Field: "title", URL: rawURL}
	case !f.Price.IsPositive():
		return &ExtractionError{Field: "price", URL: rawURL}
	case strings.TrimSpace(f.MarketplaceID) == "":
		return &ExtractionError{Field: "marketplace_id", URL: rawURL}
	}
	return nil
}

// Extractor is the per-marketplace extraction strategy
type Extractor interface {
	Marketplace() models.Marketplace
	ProductID(rawURL string) (string, error)
	Extract(page []byte) (ProductFields, error)
}

type priceFormat int

const (
	formatBRL priceFormat = iota
	formatStructured
)

type pricePattern struct {
	re     *regexp.Regexp
	format priceFormat
}

func brl(expr string) pricePattern {
	return pricePattern{re: regexp.MustCompile(expr), format: formatBRL}
}

func structured(expr string) pricePattern {
	return pricePattern{re: regexp.MustCompile(expr), format: formatStructured}
}

// patternExtractor applies ordered regex lists per field, first match wins,
// then falls back to page metadata for fields still empty.
type patternExtractor struct {
	marketplace   models.Marketplace
	title         []*regexp.Regexp
	price         []pricePattern
	originalPrice []pricePattern
	image         []*regexp.Regexp
	productID     func(rawURL string) string
	titleSuffixes []string
}

func (p *patternExtractor) Marketplace() models.Marketplace {
	return p.marketplace
}

func (p *patternExtractor) ProductID(rawURL string) (string, error) {
	if id := p.productID(rawURL); id != "" {
		return id, nil
	}
	return "", &ExtractionError{Field: "marketplace_id", URL: rawURL}
}

func (p *patternExtractor) Extract(page []byte) (ProductFields, error) {
	body := string(page)
	fields := ProductFields{Currency: models.DefaultCurrency}

	fields.Title = p.cleanTitle(firstMatch(p.title, body))
	fields.Price = firstPrice(p.price, body)
	fields.OriginalPrice = firstPrice(p.originalPrice, body)
	fields.ImageURL = html.UnescapeString(firstMatch(p.image, body))

	if fields.Title == "" || fields.Price.IsZero() || fields.ImageURL == "" {
		meta, err := readMetadata(page)
		if err != nil {
			return fields, fmt.Errorf("failed to parse page: %w", err)
		}
		meta.fill(&fields)
		fields.Title = p.cleanTitle(fields.Title)
	}

	return fields, nil
}

func (p *patternExtractor) cleanTitle(title string) string {
	title = strings.TrimSpace(html.UnescapeString(title))
	for _, suffix := range p.titleSuffixes {
		title = strings.TrimSpace(strings.TrimSuffix(title, suffix))
	}
	return strings.Join(strings.Fields(title), " ")
}

func firstMatch(patterns []*regexp.Regexp, body string) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(body); len(m) > 1 {
			if v := strings.TrimSpace(m[1]); v != "" {
				return v
			}
		}
	}
	return ""
}

func firstPrice(patterns []pricePattern, body string) decimal.Decimal {
	for _, pp := range patterns {
		m := pp.re.FindStringSubmatch(body)
		if len(m) < 2 {
			continue
		}
		var d decimal.Decimal
		if pp.format == formatStructured {
			d = parseStructured(m[1])
		} else {
			raw := m[1]
			// split markup puts the cents in their own group
			if len(m) > 2 && m[2] != "" {
				raw += "," + m[2]
			}
			d = ParseBRL(raw)
		}
		if d.IsPositive() {
			return d
		}
	}
	return decimal.Zero
}

// Registry maps each marketplace to its extractor
type Registry struct {
	extractors map[models.Marketplace]Extractor
}

// NewRegistry builds a registry with the built-in extractors
func NewRegistry() *Registry {
	r := &Registry{extractors: map[models.Marketplace]Extractor{}}
	r.Register(NewAmazonExtractor())
	r.Register(NewShopeeExtractor())
	r.Register(NewMercadoLivreExtractor())
	return r
}

// Register adds or replaces an extractor
func (r *Registry) Register(e Extractor) {
	r.extractors[e.Marketplace()] = e
}

// Resolve returns the extractor for a marketplace
func (r *Registry) Resolve(m models.Marketplace) (Extractor, error) {
	if e, ok := r.extractors[m]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("no extractor registered for %s", m)
}
