package affiliate

import (
	"context"
	"errors"
	"testing"
	"time"

	"affiliate-pipeline/internal/models"

	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCredentialStore struct {
	creds []models.MarketplaceCredentials
	err   error
	calls int
}

func (f *fakeCredentialStore) ListActiveCredentials(ctx context.Context) ([]models.MarketplaceCredentials, error) {
	f.calls++
	return f.creds, f.err
}

func (f *fakeCredentialStore) SaveCredentials(ctx context.Context, c *models.MarketplaceCredentials) error {
	if f.err != nil {
		return f.err
	}
	f.creds = append(f.creds, *c)
	return nil
}

type memoryCache struct {
	data []byte
	ttl  time.Duration
}

func (c *memoryCache) GetCredentials(ctx context.Context) ([]byte, bool, error) {
	return c.data, c.data != nil, nil
}

func (c *memoryCache) SetCredentials(ctx context.Context, data []byte, ttl time.Duration) error {
	c.data = data
	c.ttl = ttl
	return nil
}

func (c *memoryCache) InvalidateCredentials(ctx context.Context) error {
	c.data = nil
	return nil
}

func TestResolvePrecedence(t *testing.T) {
	store := &fakeCredentialStore{creds: []models.MarketplaceCredentials{
		{MarketplaceID: "amazon", Credentials: types.JSONText(`{"affiliate_tag":"stored-20"}`), IsActive: true},
		{MarketplaceID: "shopee", Credentials: types.JSONText(`{"other":"x"}`), IsActive: true},
	}}
	r := NewResolver(store, nil, Defaults{ShopeeID: "env-shopee"}, 0)

	ids, err := r.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "stored-20", ids.AmazonTag)
	assert.Equal(t, SourceStored, ids.Sources[models.MarketplaceAmazon])
	assert.Equal(t, "env-shopee", ids.ShopeeID)
	assert.Equal(t, SourceDefault, ids.Sources[models.MarketplaceShopee])
	assert.Empty(t, ids.MercadoLivreID)
	assert.Equal(t, SourceNone, ids.Sources[models.MarketplaceMercadoLivre])
}

func TestResolveCompiledFallback(t *testing.T) {
	r := NewResolver(&fakeCredentialStore{}, nil, Defaults{}, 0)

	ids, err := r.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, FallbackAmazonTag, ids.AmazonTag)
	assert.Equal(t, FallbackShopeeID, ids.ShopeeID)
	assert.Equal(t, SourceFallback, ids.Sources[models.MarketplaceShopee])
}

func TestResolveStoreFailure(t *testing.T) {
	r := NewResolver(&fakeCredentialStore{err: errors.New("connection refused")}, nil, Defaults{}, 0)

	_, err := r.Resolve(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestResolveUsesCache(t *testing.T) {
	store := &fakeCredentialStore{creds: []models.MarketplaceCredentials{
		{MarketplaceID: "mercadolivre", Credentials: types.JSONText(`{"matt_tool":"ml-1"}`), IsActive: true},
	}}
	cache := &memoryCache{}
	r := NewResolver(store, cache, Defaults{}, time.Minute)

	for i := 0; i < 3; i++ {
		ids, err := r.Resolve(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "ml-1", ids.MercadoLivreID)
	}

	assert.Equal(t, 1, store.calls)
	assert.Equal(t, time.Minute, cache.ttl)
}

func TestSaveCredentialsInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	store := &fakeCredentialStore{}
	cache := &memoryCache{}
	r := NewResolver(store, cache, Defaults{}, time.Minute)

	ids, err := r.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, FallbackAmazonTag, ids.AmazonTag)
	require.NotNil(t, cache.data)

	require.NoError(t, r.SaveCredentials(ctx, &models.MarketplaceCredentials{
		MarketplaceID: "amazon", Credentials: types.JSONText(`{"tag":"nova-20"}`), IsActive: true,
	}))
	assert.Nil(t, cache.data)

	ids, err = r.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "nova-20", ids.AmazonTag)
	assert.Equal(t, 2, store.calls)
}

func TestSaveCredentialsRejectsBadInput(t *testing.T) {
	r := NewResolver(&fakeCredentialStore{}, nil, Defaults{}, 0)

	err := r.SaveCredentials(context.Background(), &models.MarketplaceCredentials{MarketplaceID: "ebay"})
	assert.ErrorIs(t, err, ErrUnknownMarketplace)

	err = r.SaveCredentials(context.Background(), &models.MarketplaceCredentials{
		MarketplaceID: "shopee", Credentials: types.JSONText(`{"smtt":`),
	})
	assert.Error(t, err)
}
