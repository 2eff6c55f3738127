package extractor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// Fetcher downloads a product page
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// FetcherConfig tunes the page fetcher
type FetcherConfig struct {
	UserAgent string
	Timeout   time.Duration
	Delay     time.Duration
}

// PageFetcher fetches pages with a colly collector
type PageFetcher struct {
	base *colly.Collector
}

// NewPageFetcher creates a colly-backed fetcher
func NewPageFetcher(cfg FetcherConfig) *PageFetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0 Safari/537.36"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}

	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.Delay > 0 {
		_ = c.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: 1, Delay: cfg.Delay})
	}

	return &PageFetcher{base: c}
}

// Fetch downloads rawURL; a 404 or 410 answer maps to ErrNotFound
func (f *PageFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := f.base.Clone()

	var (
		body   []byte
		status int
	)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		r.Headers.Set("Accept-Language", "pt-BR,pt;q=0.9,en;q=0.8")
	})
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	err := c.Visit(rawURL)
	if status == http.StatusNotFound || status == http.StatusGone {
		return nil, ErrNotFound
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	if body == nil {
		return nil, fmt.Errorf("failed to fetch %s: empty response (status %d)", rawURL, status)
	}

	return body, nil
}
