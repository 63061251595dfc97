package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chansync/internal/api"
	"chansync/internal/config"
	"chansync/internal/database"
	"chansync/internal/events"
	"chansync/internal/logging"
	"chansync/internal/metrics"
	"chansync/internal/models"
	"chansync/internal/notify"
	"chansync/internal/provider"
	"chansync/internal/provider/rest"
	"chansync/internal/provider/sheets"
	"chansync/internal/queue"
	"chansync/internal/service"
	"chansync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	if err := loadSeed(ctx, db, &logger); err != nil {
		return err
	}

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	primary, retry := initQueues(cfg, redisClient, &logger)

	registry, err := initProviders(ctx, cfg, &logger)
	if err != nil {
		return err
	}

	eventBus := events.NewEventBus()
	startNotifier(ctx, cfg, eventBus, &logger)

	svc := service.NewSyncService(db, db, primary, retry, registry, eventBus, service.Options{
		PageSize:   cfg.Sync.StatusPageSize,
		MaxRecords: cfg.Sync.MaxRecords,
	}, &logger)

	recovered, err := svc.RecoverInterrupted(ctx, time.Now())
	if err != nil {
		logger.Error().Err(err).Msg("recover interrupted syncs")
	} else if recovered > 0 {
		logger.Warn().Int("entries", recovered).Msg("interrupted syncs marked failed")
	}

	pool := worker.NewPool(primary, retry, db, db, registry, eventBus, worker.Options{
		Workers:       cfg.Sync.Workers,
		PollInterval:  cfg.Sync.PollInterval,
		StatsInterval: cfg.Sync.StatsInterval,
		Retry:         worker.PolicyFromConfig(cfg.Sync.Retry),
	}, &logger)

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	startMetrics(ctx, cfg, &logger)

	httpServer := api.NewHTTPServer(cfg.API, svc, &logger)

	return serve(ctx, pool, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "main").Logger()

	return cfg, logger, closer, nil
}

type seedRecord struct {
	ID                string   `yaml:"id"`
	PropertyID        string   `yaml:"property_id"`
	Date              string   `yaml:"date"`
	RoomType          string   `yaml:"room_type"`
	RatePlan          string   `yaml:"rate_plan"`
	Rate              *float64 `yaml:"rate"`
	Inventory         *int     `yaml:"inventory"`
	MinStay           int      `yaml:"min_stay"`
	MaxStay           int      `yaml:"max_stay"`
	ClosedToArrival   bool     `yaml:"closed_to_arrival"`
	ClosedToDeparture bool     `yaml:"closed_to_departure"`
	StopSell          bool     `yaml:"stop_sell"`
}

type seedFile struct {
	Properties []models.Property      `yaml:"properties"`
	Channels   []models.ChannelConfig `yaml:"channels"`
	Records    []seedRecord           `yaml:"records"`
}

// loadSeed upserts properties, channels and sample records from SEED_PATH.
// A missing file is not an error.
func loadSeed(ctx context.Context, db *database.DB, logger *zerolog.Logger) error {
	seedPath := os.Getenv("SEED_PATH")
	if seedPath == "" {
		seedPath = "configs/channels.yaml"
	}
	data, err := os.ReadFile(seedPath)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info().Str("seed_path", seedPath).Msg("no seed file, skipping")
		return nil
	}
	if err != nil {
		logger.Error().Err(err).Str("seed_path", seedPath).Msg("read seed")
		return err
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		logger.Error().Err(err).Str("seed_path", seedPath).Msg("parse seed")
		return err
	}

	for i := range seed.Properties {
		if err := db.UpsertProperty(ctx, &seed.Properties[i]); err != nil {
			return fmt.Errorf("seed property %s: %w", seed.Properties[i].ID, err)
		}
	}
	for i := range seed.Channels {
		if err := db.UpsertChannel(ctx, &seed.Channels[i]); err != nil {
			return fmt.Errorf("seed channel %s: %w", seed.Channels[i].ChannelID, err)
		}
	}
	for _, r := range seed.Records {
		date, err := time.Parse(models.DateLayout, r.Date)
		if err != nil {
			return fmt.Errorf("seed record %s: bad date %q: %w", r.ID, r.Date, err)
		}
		rec := &models.RateInventoryRecord{
			ID:                r.ID,
			PropertyID:        r.PropertyID,
			Date:              date,
			RoomType:          r.RoomType,
			RatePlan:          r.RatePlan,
			Rate:              r.Rate,
			Inventory:         r.Inventory,
			MinStay:           r.MinStay,
			MaxStay:           r.MaxStay,
			ClosedToArrival:   r.ClosedToArrival,
			ClosedToDeparture: r.ClosedToDeparture,
			StopSell:          r.StopSell,
		}
		if err := db.UpsertRecord(ctx, rec); err != nil {
			return fmt.Errorf("seed record %s: %w", r.ID, err)
		}
	}

	logger.Info().
		Int("properties", len(seed.Properties)).
		Int("channels", len(seed.Channels)).
		Int("records", len(seed.Records)).
		Msg("seed loaded")
	return nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Sync.QueueBackend != config.QueueBackendRedis || cfg.Redis.Address == "" {
		return nil
	}

	client := queue.NewRedisClient(cfg.Redis)
	if _, err := client.Ping(ctx).Result(); err != nil {
		// the failover queue keeps probing, so the client is kept
		logger.Warn().Err(err).Msg("redis connection failed, queues start on memory fallback")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}
	return client
}

func initQueues(cfg *config.Config, client *redis.Client, logger *zerolog.Logger) (queue.Queue, queue.Queue) {
	poll := cfg.Sync.PollInterval
	primaryMem := queue.NewMemoryQueue(models.QueuePrimary, poll)
	retryMem := queue.NewMemoryQueue(models.QueueRetry, poll)
	if client == nil {
		logger.Info().Msg("using in-memory queues")
		return primaryMem, retryMem
	}

	prefix := cfg.Redis.KeyPrefix
	primary := queue.NewFailoverQueue(queue.NewRedisQueue(client, prefix, models.QueuePrimary, poll), primaryMem, logger)
	retry := queue.NewFailoverQueue(queue.NewRedisQueue(client, prefix, models.QueueRetry, poll), retryMem, logger)
	logger.Info().Str("prefix", prefix).Msg("using redis queues with memory fallback")
	return primary, retry
}

func initProviders(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	if cfg.Providers.REST.Enabled {
		registry.Register(rest.New(cfg.Providers.REST, logger))
	}

	if cfg.Providers.Sheets.Enabled {
		srv, err := sheets.NewService(ctx, cfg.Providers.Sheets.CredentialsFile)
		if err != nil {
			logger.Error().Err(err).Msg("init google sheets provider")
			return nil, err
		}
		registry.Register(sheets.New(srv, cfg.Providers.Sheets, logger))
	}

	if len(registry.Types()) == 0 {
		logger.Warn().Msg("no providers enabled, every sync will fail with PROVIDER_NOT_REGISTERED")
	}
	logger.Info().Strs("providers", registry.Types()).Msg("providers registered")
	return registry, nil
}

func startNotifier(ctx context.Context, cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) {
	if !cfg.Alerts.Telegram.Enabled {
		return
	}

	bot, err := notify.NewBot(cfg.Alerts.Telegram)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram alerts disabled: bot init failed")
		return
	}

	notifier := notify.NewNotifier(bot, cfg.Alerts.Telegram.ChatIDs, logger)
	notifier.Subscribe(bus)
	go notifier.Run(ctx)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func serve(
	ctx context.Context,
	pool *worker.Pool,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		pool.Start(ctx)
	}()

	if cfg.API.Enabled {
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	} else {
		logger.Warn().Msg("HTTP API is disabled, only workers are running")
	}

	logger.Info().Int("workers", cfg.Sync.Workers).Int("http_port", cfg.API.HTTP.Port).Msg("sync engine started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cfg.API.Enabled {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	// jobs already taken run to completion
	select {
	case <-poolDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("workers did not finish before shutdown timeout")
	}

	logger.Info().Msg("sync engine stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
