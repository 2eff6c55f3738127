package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"affiliate-pipeline/internal/affiliate"
	"affiliate-pipeline/internal/broker"
	"affiliate-pipeline/internal/extractor"
	"affiliate-pipeline/internal/models"
	"affiliate-pipeline/internal/store"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const amazonURL = "https://www.amazon.com.br/Fone-XYZ/dp/B0ABCDEF12"

func amazonPage(price string) string {
	return fmt.Sprintf(`<html><body>
<span id="productTitle">Fone de Ouvido Bluetooth XYZ</span>
<span class="a-price" data-a-size="xl"><span class="a-offscreen">R$ %s</span></span>
<img id="landingImage" src="https://m.media-amazon.com/images/I/abc.jpg">
</body></html>`, price)
}

type stubFetcher struct {
	mu    sync.Mutex
	pages map[string]string
}

func (f *stubFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[rawURL]
	if !ok {
		return nil, extractor.ErrNotFound
	}
	return []byte(page), nil
}

func (f *stubFetcher) set(rawURL, page string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if page == "" {
		delete(f.pages, rawURL)
		return
	}
	f.pages[rawURL] = page
}

type recordingOps struct {
	statuses []string
}

func (o *recordingOps) NotifyJobRun(ctx context.Context, result *JobResult) error {
	o.statuses = append(o.statuses, result.Status)
	return nil
}

type testEnv struct {
	store    *store.Store
	fetcher  *stubFetcher
	ops      *recordingOps
	runner   *JobRunner
	pipeline *Pipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewStore(store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	fetcher := &stubFetcher{pages: map[string]string{}}
	publisher := broker.NewEventPublisher(nil)
	ops := &recordingOps{}

	extract := extractor.NewService(extractor.NewRegistry(), fetcher, nil)
	resolver := affiliate.NewResolver(st, nil, affiliate.Defaults{AmazonTag: "loja-20"}, 0)
	runner := NewJobRunner(st, st, publisher, ops, 0)

	pipeline := NewPipeline(
		runner,
		NewIngestService(st, extract, resolver, publisher),
		NewPriceMonitorService(st, extract, publisher),
		NewAlertNotifier(st, publisher),
		NewAffiliateRefreshService(st, resolver),
	)

	return &testEnv{store: st, fetcher: fetcher, ops: ops, runner: runner, pipeline: pipeline}
}

func (e *testEnv) seedAlert(t *testing.T, marketplaceID, price, target, email string) *models.PriceAlert {
	t.Helper()
	ctx := context.Background()

	p := &models.Product{
		Title:         "Produto " + marketplaceID,
		Price:         decimal.RequireFromString(price),
		Marketplace:   models.MarketplaceAmazon,
		MarketplaceID: marketplaceID,
		AffiliateURL:  "https://www.amazon.com.br/dp/" + marketplaceID + "?tag=loja-20",
		OriginalURL:   "https://www.amazon.com.br/dp/" + marketplaceID,
	}
	_, err := e.store.SaveProduct(ctx, p)
	require.NoError(t, err)

	user := &models.User{Name: "Ana", Email: email}
	require.NoError(t, e.store.CreateUser(ctx, user))

	alert, err := e.pipeline.Alerts().CreateAlert(ctx, &CreateAlertRequest{
		UserID: user.ID, ProductID: p.ID, TargetPrice: decimal.RequireFromString(target),
	})
	require.NoError(t, err)
	return alert
}

func TestIngestProducts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fetcher.set(amazonURL, amazonPage("1.299,90"))

	body := `{
		"urls": ["` + amazonURL + `", "https://unknown.com/x"],
		"products": [{"url": "https://shopee.com.br/Caneca-i.11.22", "title": "Caneca", "price": "R$ 39,90"}]
	}`
	res, err := env.pipeline.RunJob(ctx, JobIngestProducts, []byte(body))
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusPartialSuccess, res.Status)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 1, res.Errors)
	require.Len(t, res.ErrorDetails, 1)
	assert.Contains(t, res.ErrorDetails[0], "unknown.com")
	assert.Equal(t, []string{models.JobStatusPartialSuccess}, env.ops.statuses)

	amazon, err := env.store.GetProductByKey(ctx, models.MarketplaceAmazon, "B0ABCDEF12")
	require.NoError(t, err)
	assert.Equal(t, amazonURL+"?tag=loja-20", amazon.AffiliateURL)
	assert.True(t, decimal.RequireFromString("1299.90").Equal(amazon.Price))

	shopee, err := env.store.GetProductByKey(ctx, models.MarketplaceShopee, "11.22")
	require.NoError(t, err)
	assert.Equal(t, "https://shopee.com.br/Caneca-i.11.22?smtt="+affiliate.FallbackShopeeID, shopee.AffiliateURL)

	// re-ingesting with a new price updates the same row
	env.fetcher.set(amazonURL, amazonPage("1.199,90"))
	res, err = env.pipeline.RunJob(ctx, JobIngestProducts, []byte(`{"urls":["`+amazonURL+`"]}`))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, res.Status)

	products, err := env.store.ListProducts(ctx, store.ProductFilter{Marketplace: models.MarketplaceAmazon})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.True(t, decimal.RequireFromString("1199.90").Equal(products[0].Price))

	history, err := env.store.ListPriceHistory(ctx, amazon.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	logs, err := env.store.ListJobLogs(ctx, JobIngestProducts, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestIngestSubCentPriceIsStable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	body := []byte(`{"products":[{"url":"` + amazonURL + `","title":"Fone","price":19.999}]}`)

	for i := 0; i < 2; i++ {
		res, err := env.pipeline.RunJob(ctx, JobIngestProducts, body)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusSuccess, res.Status)
	}

	p, err := env.store.GetProductByKey(ctx, models.MarketplaceAmazon, "B0ABCDEF12")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("20.00").Equal(p.Price))

	history, err := env.store.ListPriceHistory(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestIngestEmptyBody(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.pipeline.RunJob(context.Background(), JobIngestProducts, nil)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, res.Status)
	assert.Zero(t, res.Processed)
}

func TestPriceMonitor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fetcher.set(amazonURL, amazonPage("500,00"))

	_, err := env.pipeline.RunJob(ctx, JobIngestProducts, []byte(`{"urls":["`+amazonURL+`"]}`))
	require.NoError(t, err)

	env.fetcher.set(amazonURL, amazonPage("450,00"))
	res, err := env.pipeline.RunJob(ctx, JobPriceMonitor, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Updated)

	p, err := env.store.GetProductByKey(ctx, models.MarketplaceAmazon, "B0ABCDEF12")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(450).Equal(p.Price))

	// unchanged price is processed but not updated
	res, err = env.pipeline.RunJob(ctx, JobPriceMonitor, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, res.Updated)

	// a zero price is an extraction failure
	env.fetcher.set(amazonURL, `<span id="productTitle">Fone</span>`)
	res, err = env.pipeline.RunJob(ctx, JobPriceMonitor, nil)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPartialSuccess, res.Status)
	assert.Equal(t, 1, res.Errors)

	// a missing page discontinues the product
	env.fetcher.set(amazonURL, "")
	_, err = env.pipeline.RunJob(ctx, JobPriceMonitor, nil)
	require.NoError(t, err)

	p, err = env.store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProductStatusDiscontinued, p.Status)

	res, err = env.pipeline.RunJob(ctx, JobPriceMonitor, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
}

func TestAlertThreshold(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	hit := env.seedAlert(t, "B000000100", "100", "100", "ana@example.com")
	miss := env.seedAlert(t, "B000010001", "100.01", "100", "ana@example.com")

	res, err := env.pipeline.RunJob(ctx, JobPriceAlerts, nil)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, res.Status)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.NotificationsSent)

	a, err := env.store.GetAlert(ctx, hit.ID)
	require.NoError(t, err)
	assert.False(t, a.IsActive)
	assert.True(t, a.NotificationSent)

	a, err = env.store.GetAlert(ctx, miss.ID)
	require.NoError(t, err)
	assert.True(t, a.IsActive)
}

func TestAlertBatchSkipsUntriggered(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < MaxBatchSize+5; i++ {
		env.seedAlert(t, fmt.Sprintf("B%09d", i), "150", "100", "")
	}
	hit := env.seedAlert(t, "B999999999", "80", "100", "ana@example.com")

	res, err := env.pipeline.RunJob(ctx, JobPriceAlerts, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.NotificationsSent)

	a, err := env.store.GetAlert(ctx, hit.ID)
	require.NoError(t, err)
	assert.True(t, a.NotificationSent)
}

func TestAlertSentOnceAcrossRuns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedAlert(t, "B000000100", "90", "100", "ana@example.com")

	// two runs that read the same pending alert before either claims it
	pending, err := env.store.ListPendingAlerts(ctx, 0, MaxBatchSize)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	first := newJobRecorder(JobPriceAlerts, DefaultMaxErrorDetails)
	second := newJobRecorder(JobPriceAlerts, DefaultMaxErrorDetails)
	env.pipeline.Alerts().evaluate(ctx, pending, first)
	env.pipeline.Alerts().evaluate(ctx, pending, second)

	assert.Equal(t, 1, first.Snapshot().NotificationsSent)
	assert.Equal(t, 0, second.Snapshot().NotificationsSent)
	assert.Equal(t, 0, second.Snapshot().Errors)

	res, err := env.pipeline.RunJob(ctx, JobPriceAlerts, nil)
	require.NoError(t, err)
	assert.Zero(t, res.NotificationsSent)

	emails, err := env.store.ListQueuedEmails(ctx, models.EmailStatusPending, 10)
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, "ana@example.com", emails[0].ToEmail)
	assert.Contains(t, emails[0].Body, "R$ 90,00")
}

func TestAlertWithoutEmailStillNotifies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alert := env.seedAlert(t, "B000000100", "90", "100", "")

	res, err := env.pipeline.RunJob(ctx, JobPriceAlerts, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NotificationsSent)

	notifications, err := env.store.ListNotifications(ctx, alert.UserID)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, models.NotificationTypePriceAlert, notifications[0].Type)

	emails, err := env.store.ListQueuedEmails(ctx, models.EmailStatusPending, 10)
	require.NoError(t, err)
	assert.Empty(t, emails)
}

func TestAlertEmailFailureKeepsAlertActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alert := env.seedAlert(t, "B000000100", "90", "100", "ana@example.com")

	_, err := env.store.GetDB().ExecContext(ctx, "DROP TABLE email_queue")
	require.NoError(t, err)

	res, err := env.pipeline.RunJob(ctx, JobPriceAlerts, nil)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPartialSuccess, res.Status)
	assert.Equal(t, 1, res.Errors)
	assert.Zero(t, res.NotificationsSent)

	a, err := env.store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.True(t, a.IsActive)
	assert.False(t, a.NotificationSent)

	notifications, err := env.store.ListNotifications(ctx, alert.UserID)
	require.NoError(t, err)
	assert.Empty(t, notifications)
}

func TestHandlePriceChanged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alert := env.seedAlert(t, "B000000100", "90", "100", "ana@example.com")
	notifier := env.pipeline.Alerts()

	rise := &models.PriceChangedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypePriceChanged),
		ProductID: alert.ProductID,
		OldPrice:  decimal.NewFromInt(80),
		NewPrice:  decimal.NewFromInt(90),
	}
	require.NoError(t, notifier.HandlePriceChanged(ctx, rise))

	a, err := env.store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.True(t, a.IsActive, "a price rise does not evaluate alerts")

	drop := &models.PriceChangedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypePriceChanged),
		ProductID: alert.ProductID,
		OldPrice:  decimal.NewFromInt(120),
		NewPrice:  decimal.NewFromInt(90),
	}
	require.NoError(t, notifier.HandlePriceChanged(ctx, drop))
	require.NoError(t, notifier.HandlePriceChanged(ctx, drop))

	a, err = env.store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.False(t, a.IsActive)

	processed, err := env.store.IsEventProcessed(ctx, drop.EventID)
	require.NoError(t, err)
	assert.True(t, processed)

	emails, err := env.store.ListQueuedEmails(ctx, models.EmailStatusPending, 10)
	require.NoError(t, err)
	assert.Len(t, emails, 1)
}

func TestCreateAlertValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.pipeline.Alerts().CreateAlert(context.Background(), &CreateAlertRequest{
		UserID: 1, ProductID: 1, TargetPrice: decimal.Zero,
	})
	assert.Error(t, err)

	_, err = env.pipeline.Alerts().CreateAlert(context.Background(), &CreateAlertRequest{
		UserID: 1, ProductID: 999, TargetPrice: decimal.NewFromInt(10),
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAffiliateRefresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fetcher.set(amazonURL, amazonPage("99,90"))

	_, err := env.pipeline.RunJob(ctx, JobIngestProducts, []byte(`{"urls":["`+amazonURL+`"]}`))
	require.NoError(t, err)

	require.NoError(t, env.store.SaveCredentials(ctx, &models.MarketplaceCredentials{
		MarketplaceID: "amazon", Credentials: types.JSONText(`{"tag":"nova-20"}`), IsActive: true,
	}))

	res, err := env.pipeline.RunJob(ctx, JobAffiliateLinks, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Updated)

	p, err := env.store.GetProductByKey(ctx, models.MarketplaceAmazon, "B0ABCDEF12")
	require.NoError(t, err)
	assert.Equal(t, amazonURL+"?tag=nova-20", p.AffiliateURL)

	res, err = env.pipeline.RunJob(ctx, JobAffiliateLinks, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Updated)

	_, err = env.pipeline.RunJob(ctx, JobAffiliateLinks, []byte(`{"marketplace":"ebay"}`))
	assert.Error(t, err)
}

func TestAffiliateRefreshWalksAllProducts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	total := 2*MaxBatchSize + 3
	for i := 0; i < total; i++ {
		id := fmt.Sprintf("B%09d", i)
		_, err := env.store.SaveProduct(ctx, &models.Product{
			Title:         "Produto " + id,
			Price:         decimal.NewFromInt(10),
			Marketplace:   models.MarketplaceAmazon,
			MarketplaceID: id,
			AffiliateURL:  "https://www.amazon.com.br/dp/" + id + "?tag=loja-20",
			OriginalURL:   "https://www.amazon.com.br/dp/" + id,
		})
		require.NoError(t, err)
	}

	require.NoError(t, env.store.SaveCredentials(ctx, &models.MarketplaceCredentials{
		MarketplaceID: "amazon", Credentials: types.JSONText(`{"tag":"nova-20"}`), IsActive: true,
	}))

	res, err := env.pipeline.RunJob(ctx, JobAffiliateLinks, []byte(`{"limit":20}`))
	require.NoError(t, err)
	assert.Equal(t, total, res.Processed)
	assert.Equal(t, total, res.Updated)

	oldest, err := env.store.GetProductByKey(ctx, models.MarketplaceAmazon, "B000000000")
	require.NoError(t, err)
	assert.Equal(t, "https://www.amazon.com.br/dp/B000000000?tag=nova-20", oldest.AffiliateURL)
}

func TestJobRunnerStatuses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.runner.Run(ctx, "custom", func(ctx context.Context, rec *JobRecorder) error {
		for i := 0; i < 15; i++ {
			rec.Processed()
			rec.ItemError(fmt.Sprintf("item %d", i), errors.New("boom"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPartialSuccess, res.Status)
	assert.Equal(t, 15, res.Errors)
	assert.Len(t, res.ErrorDetails, DefaultMaxErrorDetails)

	res, err = env.runner.Run(ctx, "custom", func(ctx context.Context, rec *JobRecorder) error {
		return errors.New("credential store unreachable")
	})
	require.Error(t, err)
	assert.Equal(t, models.JobStatusError, res.Status)
	assert.Equal(t, "credential store unreachable", res.Message)

	job, err := env.store.GetJob(ctx, "custom")
	require.NoError(t, err)
	assert.Equal(t, 2, job.RunCount)
	assert.Equal(t, 1, job.ErrorCount)
	assert.Nil(t, job.RunningSince, "lease must be released")

	logs, err := env.store.ListJobLogs(ctx, "custom", 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.JobStatusError, logs[0].Status)
	assert.True(t, strings.Contains(string(logs[1].Details), `"errors":15`))

	assert.Equal(t, []string{models.JobStatusPartialSuccess, models.JobStatusError}, env.ops.statuses)
}

func TestJobRunnerSkipsWhenLeaseHeld(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, ok, err := env.store.AcquireLease(ctx, JobPriceAlerts, DefaultLeaseTTL)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := env.pipeline.RunJob(ctx, JobPriceAlerts, nil)
	assert.ErrorIs(t, err, ErrJobAlreadyRunning)
	assert.Equal(t, models.JobStatusSkipped, res.Status)

	logs, err := env.store.ListJobLogs(ctx, JobPriceAlerts, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.JobStatusSkipped, logs[0].Status)
}

type countingLease struct {
	*store.Store
	extends atomic.Int32
}

func (l *countingLease) ExtendLease(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	l.extends.Add(1)
	return l.Store.ExtendLease(ctx, name, token, ttl)
}

func TestJobRunnerExtendsLeaseDuringLongRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	lease := &countingLease{Store: env.store}
	runner := NewJobRunner(env.store, lease, broker.NewEventPublisher(nil), nil, 30*time.Millisecond)

	res, err := runner.Run(ctx, "slow", func(ctx context.Context, rec *JobRecorder) error {
		time.Sleep(120 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, res.Status)
	assert.GreaterOrEqual(t, lease.extends.Load(), int32(1))

	calls := lease.extends.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, lease.extends.Load(), "heartbeat must stop with the run")

	job, err := env.store.GetJob(ctx, "slow")
	require.NoError(t, err)
	assert.Nil(t, job.RunningSince)
}

func TestPipelineRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.pipeline.RunJob(context.Background(), "reindex", nil)
	assert.ErrorIs(t, err, ErrUnknownJob)

	_, err = env.pipeline.RunJob(context.Background(), JobPriceMonitor, []byte(`{"limit":`))
	assert.ErrorIs(t, err, ErrInvalidBody)
}

func TestFormatBRL(t *testing.T) {
	assert.Equal(t, "R$ 1.234,56", formatBRL(decimal.RequireFromString("1234.56")))
	assert.Equal(t, "R$ 99,90", formatBRL(decimal.RequireFromString("99.9")))
	assert.Equal(t, "R$ 1.000.000,00", formatBRL(decimal.NewFromInt(1000000)))
}
