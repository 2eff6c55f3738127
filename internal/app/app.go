// Package app wires the stores, clients and services shared by the server and the one-shot runner.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"affiliate-pipeline/config"
	"affiliate-pipeline/internal/affiliate"
	"affiliate-pipeline/internal/broker"
	"affiliate-pipeline/internal/extractor"
	"affiliate-pipeline/internal/notify"
	"affiliate-pipeline/internal/redisclient"
	"affiliate-pipeline/internal/service"
	"affiliate-pipeline/internal/store"
	"affiliate-pipeline/internal/util"
	"affiliate-pipeline/internal/worker"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

type App struct {
	Config   *config.Config
	Store    *store.Store
	Redis    *redisclient.Client
	Producer *broker.Producer
	Pipeline *service.Pipeline

	tracer *sdktrace.TracerProvider
	logger *zap.Logger
}

// New connects every configured dependency and builds the pipeline.
// Redis, Kafka, Jaeger and Telegram are optional.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, logger: util.GetLogger()}

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	a.tracer = tp

	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Pipeline = a.buildPipeline()
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config

	st, err := store.NewStore(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return err
	}
	a.Store = st
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	a.logger.Info("Database connected", zap.String("driver", cfg.Database.Driver))

	if cfg.Redis.Addr != "" {
		rc, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Redis = rc
		a.logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	switch cfg.Pipeline.LeaseBackend {
	case config.LeaseBackendDB:
	case config.LeaseBackendRedis:
		if a.Redis == nil {
			return errors.New("redis lease backend requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown lease backend: %s", cfg.Pipeline.LeaseBackend)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		a.Producer = broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		a.logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	return nil
}

func (a *App) buildPipeline() *service.Pipeline {
	cfg := a.Config
	publisher := broker.NewEventPublisher(a.Producer)

	fetcher := extractor.NewPageFetcher(extractor.FetcherConfig{
		UserAgent: cfg.Pipeline.UserAgent,
		Timeout:   cfg.Pipeline.FetchTimeout,
		Delay:     cfg.Pipeline.FetchDelay,
	})
	backend := extractor.NewBackendClient(cfg.Pipeline.ScraperAPIURL, cfg.Pipeline.ScraperTimeout)
	extract := extractor.NewService(extractor.NewRegistry(), fetcher, backend)

	var cache affiliate.CredentialCache
	if a.Redis != nil {
		cache = a.Redis
	}
	resolver := affiliate.NewResolver(a.Store, cache, cfg.Affiliate, cfg.Pipeline.CredentialCacheTTL)

	var lease service.JobLease = a.Store
	if cfg.Pipeline.LeaseBackend == config.LeaseBackendRedis {
		lease = a.Redis
	}

	runner := service.NewJobRunner(a.Store, lease, publisher, a.opsNotifier(), cfg.Pipeline.LeaseTTL)

	return service.NewPipeline(
		runner,
		service.NewIngestService(a.Store, extract, resolver, publisher),
		service.NewPriceMonitorService(a.Store, extract, publisher),
		service.NewAlertNotifier(a.Store, publisher),
		service.NewAffiliateRefreshService(a.Store, resolver),
	)
}

func (a *App) opsNotifier() service.OpsNotifier {
	tg := a.Config.Telegram
	if tg.BotToken == "" || tg.ChatID == 0 {
		return nil
	}

	n, err := notify.NewTelegramNotifier(tg.BotToken, tg.ChatID, "")
	if err != nil {
		a.logger.Warn("Telegram ops notifier disabled", zap.Error(err))
		return nil
	}
	return n
}

// NewAlertWorker returns nil when Kafka is not configured
func (a *App) NewAlertWorker() *worker.AlertWorker {
	kc := a.Config.Kafka
	if len(kc.Brokers) == 0 {
		return nil
	}
	consumer := broker.NewConsumer(kc.Brokers, kc.TopicEvents, kc.ConsumerGroup)
	return worker.NewAlertWorker(consumer, a.Pipeline.Alerts())
}

// Close releases every connection that was opened
func (a *App) Close() {
	if a.Producer != nil {
		if err := a.Producer.Close(); err != nil {
			a.logger.Error("Error closing kafka producer", zap.Error(err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.Error("Error closing redis", zap.Error(err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.logger.Error("Error closing database", zap.Error(err))
		}
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}
}
