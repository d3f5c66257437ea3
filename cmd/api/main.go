package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mediagen/internal/adapter/repo"
	"mediagen/internal/domain"
	"mediagen/internal/http/handlers"
	httpapi "mediagen/internal/http/httpapi"
	"mediagen/internal/infra"
	"mediagen/internal/infra/credentials"
	"mediagen/internal/observability"
	"mediagen/internal/orchestrator"
	"mediagen/internal/providers/veo"
	"mediagen/internal/settings"
	"mediagen/internal/storage"
	"mediagen/internal/upload"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingOptions{
		Service:     "mediagen-api",
		Environment: cfg.AppEnv,
		Exporter:    cfg.OTelExporter,
		Endpoint:    cfg.OTelEndpoint,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: tracing setup failed")
	}

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: db connection failed")
	}
	defer dbpool.Close()
	runner := infra.NewSQLRunner(dbpool, logger)

	jobStore := repo.NewJobRepository(runner)
	credStore := credentials.NewStore(runner)

	governor := credentials.NewGovernor(credStore, credentials.WithLogger(infra.Component(logger, "governor")))
	if err := governor.Reload(ctx); err != nil {
		logger.Warn().Err(err).Msg("api: initial credential load failed")
	}
	if governor.Available() == 0 && cfg.VeoAPIKey == "" {
		logger.Warn().Msg("api: no pool credentials and no VEO_API_KEY; jobs will fail until one is added")
	}

	var settingsSource domain.SettingsSource = repo.NewSettingsRepository(runner)
	if cfg.SettingsFile != "" {
		fileSource, err := settings.NewFileSource(cfg.SettingsFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: settings file invalid")
		}
		settingsSource = fileSource
	}

	writer, staticDir, err := buildStorage(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure storage")
	}
	persister := storage.NewPersister(writer, nil, logger)

	provider := veo.NewClient(veo.Options{
		BaseURL:    cfg.VeoBaseURL,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Logger:     &logger,
	})
	submitter := orchestrator.NewSubmitter(provider, governor, credStore, orchestrator.SubmitterOptions{
		Models:  orchestrator.Models{Landscape: cfg.VeoModelLandscape, Portrait: cfg.VeoModelPortrait},
		Timeout: cfg.SubmitTimeout,
		Logger:  logger,
	})
	poller := orchestrator.NewPoller(provider, governor, submitter, jobStore, persister, upload.NewMemoizer[string](),
		orchestrator.PollerConfig{
			Interval:     cfg.PollInterval,
			MaxAttempts:  cfg.PollMaxAttempts,
			RetryAttempt: cfg.PollRetryAttempt,
		}, logger)
	registry := orchestrator.NewRegistry(ctx, logger)
	dispatcher := orchestrator.NewDispatcher(jobStore, governor, submitter, poller, registry, cfg.VeoAPIKey, logger)
	scheduler := orchestrator.NewScheduler(ctx, settingsSource, dispatcher.Dispatch,
		orchestrator.WithDefaults(domain.BatchSettings{
			JobsPerBatch:           cfg.BatchSizeDefault,
			InterBatchDelaySeconds: int(cfg.BatchDelayDefault / time.Second),
		}),
		orchestrator.WithSchedulerLogger(logger),
	)
	service := orchestrator.NewService(jobStore, scheduler, registry, logger)

	sweeper := orchestrator.NewSweeper(jobStore, cfg.StaleQueuedAfter, cfg.StaleSweepInterval, logger)
	go sweeper.Run(ctx)
	go orchestrator.RefreshCredentials(ctx, governor, cfg.CredentialRefresh, logger)

	app := handlers.NewApp(service, dbpool, logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		RateLimitPerMin: cfg.RateLimitPerMin,
		StaticDir:       staticDir,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: http shutdown failed")
	}
	scheduler.Close()
	scheduler.Wait()
	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Int("active_pollers", registry.Active()).Msg("api: pollers did not stop in time")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: tracing shutdown failed")
	}
	logger.Info().Msg("api: stopped")
}

// buildStorage returns the artifact backend and, for the file backend, the
// directory the API serves under /static.
func buildStorage(ctx context.Context, cfg *infra.Config) (storage.ObjectWriter, string, error) {
	if cfg.StorageBackend == "minio" {
		store, err := storage.NewMinIOStore(ctx, storage.MinIOOptions{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
			PublicURL: cfg.MinIOPublicURL,
		})
		return store, "", err
	}
	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	store, err := storage.NewFileStore(storagePath, cfg.StorageBaseURL)
	if err != nil {
		return nil, "", err
	}
	return store, store.BasePath(), nil
}
