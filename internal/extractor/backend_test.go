package extractor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"affiliate-pipeline/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScraped(t *testing.T) {
	fields, err := ParseScraped([]byte(`{
		"name": "Kindle 11a geração",
		"current_price": "R$ 499,00",
		"old_price": 599.9,
		"image": "https://m.media-amazon.com/k.jpg",
		"asin": "B09SWRYPB2",
		"rating": 4.8,
		"reviews": 1200
	}`))
	require.NoError(t, err)

	assert.Equal(t, "Kindle 11a geração", fields.Title)
	assert.True(t, decimal.RequireFromString("499").Equal(fields.Price))
	assert.True(t, decimal.RequireFromString("599.9").Equal(fields.OriginalPrice))
	assert.Equal(t, "https://m.media-amazon.com/k.jpg", fields.ImageURL)
	assert.Equal(t, "B09SWRYPB2", fields.MarketplaceID)
	assert.Equal(t, 1200, fields.ReviewCount)
	assert.Equal(t, models.DefaultCurrency, fields.Currency)
	require.NotNil(t, fields.Rating)
}

func TestParseScrapedInvalid(t *testing.T) {
	_, err := ParseScraped([]byte(`{not json`))
	assert.Error(t, err)
}

func TestBackendClientScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req scrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "/scrape", r.URL.Path)

		if req.Marketplace == models.MarketplaceShopee {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"title":"Echo Dot","price":379.05,"id":"B09B8V1LZ3"}}`))
	}))
	defer srv.Close()

	client := NewBackendClient(srv.URL+"/", 0)

	raw, err := client.Scrape(context.Background(), "https://www.amazon.com.br/dp/B09B8V1LZ3", models.MarketplaceAmazon)
	require.NoError(t, err)
	fields, err := ParseScraped(raw)
	require.NoError(t, err)
	assert.Equal(t, "Echo Dot", fields.Title)
	assert.Equal(t, "B09B8V1LZ3", fields.MarketplaceID)

	_, err = client.Scrape(context.Background(), "https://shopee.com.br/x-i.1.2", models.MarketplaceShopee)
	assert.Error(t, err)
}

func TestNewBackendClientDisabled(t *testing.T) {
	assert.Nil(t, NewBackendClient("", 0))
}
