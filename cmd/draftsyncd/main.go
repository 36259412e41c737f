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

	"draftsync/internal/api"
	"draftsync/internal/config"
	"draftsync/internal/connectivity"
	"draftsync/internal/database"
	"draftsync/internal/domain"
	"draftsync/internal/draftstore"
	"draftsync/internal/events"
	"draftsync/internal/logging"
	"draftsync/internal/metrics"
	"draftsync/internal/models"
	"draftsync/internal/repository"
	"draftsync/internal/service"
	"draftsync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

// remoteStore is what the daemon needs from the draft store adapter.
type remoteStore interface {
	domain.DraftStore
	domain.Prober
}

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

	surfaces, err := loadSurfaces(&logger)
	if err != nil {
		return err
	}
	catalog, err := service.NewCatalog(surfaces, logging.Component(&logger, "catalog"))
	if err != nil {
		return fmt.Errorf("surface catalog: %w", err)
	}

	db, err := database.NewDB(cfg.Storage.Path, logging.Component(&logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Storage.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}
	storage := initLocalStorage(cfg, db, redisClient, &logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewEventBus()
	notices := events.NewNoticeLog(bus, 0)
	bus.Subscribe(events.EventNotice, func(e *events.Event) error {
		logger.Info().RawJSON("notice", e.Payload).Msg("user notice")
		return nil
	})

	store := initRemoteStore(cfg)

	queue := worker.NewRetryQueue(store, storage, worker.QueueOptions{
		Policy:          worker.PolicyFromConfig(cfg.Sync),
		PollInterval:    cfg.Sync.PollInterval,
		DeadLetterLimit: cfg.Sync.DeadLetterLimit,
		Publisher:       bus,
		Logger:          logging.Component(&logger, "retry-queue"),
	})
	if err := queue.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("retry queue not restored, starting empty")
	}

	monitor := connectivity.NewMonitor(store, connectivity.Options{
		Interval:  cfg.Sync.ProbeInterval,
		Publisher: bus,
		Logger:    logging.Component(&logger, "connectivity"),
	})

	sessions := service.NewManager(service.Deps{
		Store:     store,
		Storage:   storage,
		Queue:     queue,
		Monitor:   monitor,
		Catalog:   catalog,
		Publisher: bus,
		Notices:   notices,
	}, cfg.Sync, logging.Component(&logger, "sessions"))
	defer sessions.CloseAll()

	monitor.Start(ctx)
	defer monitor.Stop()
	go queue.Run(ctx)

	if cfg.Backup.Enabled {
		database.NewBackupService(db, cfg.Backup, logging.Component(&logger, "backup")).Start(ctx)
	}

	startMetrics(ctx, cfg, &logger)

	httpServer := api.NewHTTPServer(cfg.API, sessions, &logger)
	err = serve(ctx, httpServer, cfg, &logger)

	logger.Info().Int("pending_writes", queue.PendingCount()).Msg("draftsync stopped")
	return err
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
	logger := baseLogger.With().Str("component", "draftsyncd").Logger()

	return cfg, logger, closer, nil
}

func loadSurfaces(logger *zerolog.Logger) ([]models.SurfaceDefinition, error) {
	surfacesPath := os.Getenv("SURFACES_PATH")
	if surfacesPath == "" {
		surfacesPath = "configs/surfaces.yaml"
	}
	data, err := os.ReadFile(surfacesPath)
	if err != nil {
		logger.Error().Err(err).Str("surfaces_path", surfacesPath).Msg("read surfaces")
		return nil, err
	}

	var surfacesConfig struct {
		Surfaces []models.SurfaceDefinition `yaml:"surfaces"`
	}
	if err := yaml.Unmarshal(data, &surfacesConfig); err != nil {
		logger.Error().Err(err).Str("surfaces_path", surfacesPath).Msg("parse surfaces")
		return nil, err
	}

	return surfacesConfig.Surfaces, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}
	client := repository.NewRedisClient(cfg.Redis)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing with sqlite only")
		_ = repository.Close(client)
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

// initLocalStorage prefers redis for draft mirrors and falls back to sqlite while
// redis is unreachable. Retry queue snapshots always live in sqlite.
func initLocalStorage(cfg *config.Config, db *database.DB, client *redis.Client, logger *zerolog.Logger) domain.LocalStorage {
	if client == nil {
		return db
	}
	return repository.NewFailoverLocalStorage(
		repository.NewRedisLocalStorage(client, cfg.Redis.TTL),
		db,
		logging.Component(logger, "local-storage"),
		models.QueueKeyPrefix,
	)
}

func initRemoteStore(cfg *config.Config) remoteStore {
	if cfg.Remote.Mode == config.RemoteModeMemory {
		return draftstore.NewMemoryStore(nil)
	}
	return draftstore.NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.Token, &http.Client{Timeout: cfg.Remote.Timeout})
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

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Bool("http_enabled", cfg.API.HTTP.Enabled).Int("http_port", cfg.API.HTTP.Port).Msg("draftsync started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
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
