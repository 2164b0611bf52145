package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rentmarket/internal/api"
	"rentmarket/internal/config"
	"rentmarket/internal/database"
	"rentmarket/internal/domain"
	"rentmarket/internal/events"
	"rentmarket/internal/logging"
	"rentmarket/internal/metrics"
	"rentmarket/internal/repository"
	"rentmarket/internal/service"
	"rentmarket/internal/telemetry"
	"rentmarket/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
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

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, cfg.App)
	if err != nil {
		logger.Warn().Err(err).Msg("tracing init failed, continuing without traces")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	db, err := initDatabase(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	redisClient := initRedis(cfg, &logger)
	defer func() { _ = repository.Close(redisClient) }()
	guards := initGuardStore(redisClient, &logger)

	bus := events.NewEventBus()
	bus.OnError(func(event *events.Event, err error) {
		logger.Error().Err(err).Str("event_type", event.Type).Msg("event handler failed")
	})
	startNotifications(ctx, cfg, db, redisClient, bus, &logger)

	svc := initServices(cfg, db, guards, bus, &logger)
	startBackground(ctx, cfg, db, svc, &logger)
	startMetrics(ctx, cfg, &logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(cfg.API, svc, guards, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}
	httpServer := api.NewHTTPServer(cfg.API, svc, db, guards, &logger)

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
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
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("init database")
		return nil, err
	}

	if err := db.SyncCategories(ctx, cfg.Categories); err != nil {
		db.Close()
		return nil, fmt.Errorf("sync categories: %w", err)
	}
	logger.Info().Int("categories", len(cfg.Categories)).Str("driver", db.Driver()).Msg("database ready")
	return db, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(context.Background(), redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initGuardStore prefers Redis so guards and write limits span replicas, and
// falls back to process memory whenever Redis misbehaves.
func initGuardStore(redisClient *redis.Client, logger *zerolog.Logger) domain.GuardStore {
	memory := repository.NewMemoryGuardStore()
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverGuardStore(repository.NewRedisGuardStore(redisClient), memory, logger)
}

func startNotifications(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	redisClient *redis.Client,
	bus *events.EventBus,
	logger *zerolog.Logger,
) {
	if !cfg.Notifications.Enabled {
		return
	}

	var notifier worker.Notifier = worker.LogNotifier{Logger: logger}
	if redisClient != nil {
		notifier = repository.NewRedisNotifier(redisClient, cfg.Notifications.QueueKey)
	}

	w := worker.NewNotificationWorker(db, notifier, redisClient, worker.RetryPolicy{MaxRetries: cfg.Notifications.MaxRetries}, logger)
	w.SetPollInterval(cfg.Notifications.PollEvery)
	w.Subscribe(bus)
	go w.Start(ctx)
}

func initServices(cfg *config.Config, db *database.DB, guards domain.GuardStore, bus *events.EventBus, logger *zerolog.Logger) api.Services {
	retry := worker.RetryPolicy{
		InitialDelay: cfg.Booking.RetryInitialDelay,
		MaxDelay:     cfg.Booking.RetryMaxDelay,
	}
	coordinator := service.NewCoordinator(db, cfg.Booking.MaxAttempts, retry, logger)
	reservations := service.NewReservationService(db, coordinator, bus, cfg.Booking.MaxBookingDays, logger)

	return api.Services{
		Items:        service.NewItemService(db, coordinator, bus, logger),
		Reservations: reservations,
		Payments:     service.NewPaymentService(db, coordinator, reservations, guards, cfg.Booking.PaymentGuardTTL, bus, logger),
		PostRental:   service.NewPostRentalService(db, bus, logger),
	}
}

func startBackground(ctx context.Context, cfg *config.Config, db *database.DB, svc api.Services, logger *zerolog.Logger) {
	if cfg.Booking.CompletionSweep.Enabled {
		sweeper := service.NewCompletionSweeper(svc.Reservations, cfg.Booking.CompletionSweep.Interval, logger)
		go sweeper.Start(ctx)
	}

	backup := database.NewBackupService(db, cfg.Database.Path, cfg.Backup, logger)
	go backup.Start(ctx)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	ev := logger.Info().Int("http_port", cfg.API.HTTP.Port)
	if grpcServer != nil {
		ev = ev.Str("grpc_addr", grpcServer.Addr())
	}
	ev.Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
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
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
