package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"affiliate-pipeline/internal/models"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// BackendClient calls the optional external scraping backend
type BackendClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewBackendClient returns nil when no backend URL is configured
func NewBackendClient(baseURL string, timeout time.Duration) *BackendClient {
	if baseURL == "" {
		return nil
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &BackendClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type scrapeRequest struct {
	URL         string             `json:"url"`
	Marketplace models.Marketplace `json:"marketplace"`
}

// Scrape asks the backend for a product's fields.
// Any non-200 answer is an error so the caller can fall back to fetching the page.
func (b *BackendClient) Scrape(ctx context.Context, rawURL string, m models.Marketplace) ([]byte, error) {
	payload, err := json.Marshal(scrapeRequest{URL: rawURL, Marketplace: m})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/scrape", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scraper backend request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read scraper backend response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scraper backend returned status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("scraper backend returned invalid JSON")
	}

	// some backends wrap the product in {"data": {...}}
	if data := gjson.GetBytes(body, "data"); data.IsObject() {
		return []byte(data.Raw), nil
	}
	return body, nil
}

// ParseScraped maps a scraped JSON payload into product fields.
// For every field the first present key wins.
func ParseScraped(raw []byte) (ProductFields, error) {
	if !gjson.ValidBytes(raw) {
		return ProductFields{}, fmt.Errorf("scraped payload is not valid JSON")
	}
	doc := gjson.ParseBytes(raw)

	fields := ProductFields{
		Title:         strings.TrimSpace(first(doc, "title", "name").String()),
		Price:         jsonPrice(first(doc, "price", "current_price", "sale_price")),
		OriginalPrice: jsonPrice(first(doc, "original_price", "old_price", "list_price")),
		ImageURL:      first(doc, "image_url", "image", "thumbnail").String(),
		MarketplaceID: first(doc, "marketplace_id", "id", "asin", "item_id").String(),
		ReviewCount:   int(first(doc, "review_count", "reviews").Int()),
		Currency:      strings.ToUpper(doc.Get("currency").String()),
	}
	if fields.Currency == "" {
		fields.Currency = models.DefaultCurrency
	}
	if r := doc.Get("rating"); r.Exists() && r.Type != gjson.Null {
		rating := r.Float()
		fields.Rating = &rating
	}
	return fields, nil
}

func first(doc gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := doc.Get(p); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

// jsonPrice accepts a JSON number or a price string in either notation
func jsonPrice(v gjson.Result) decimal.Decimal {
	switch v.Type {
	case gjson.Number:
		d, err := decimal.NewFromString(v.Raw)
		if err != nil || d.IsNegative() {
			return decimal.Zero
		}
		return d
	case gjson.String:
		s := v.String()
		if strings.Contains(s, "R$") || strings.Contains(s, ",") {
			return ParseBRL(s)
		}
		return parseStructured(s)
	}
	return decimal.Zero
}
