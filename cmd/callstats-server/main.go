// Package main is the entrypoint for the callstats server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brokerwire/callstats/internal/api"
	"github.com/brokerwire/callstats/internal/api/middleware"
	"github.com/brokerwire/callstats/internal/archive"
	"github.com/brokerwire/callstats/internal/config"
	"github.com/brokerwire/callstats/internal/db"
	"github.com/brokerwire/callstats/internal/metrics"
	"github.com/brokerwire/callstats/internal/reports"
	"github.com/brokerwire/callstats/internal/warehouse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config.LoadDotEnv()

	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting callstats server")

	cfg, err := config.LoadServerConfig()
	if err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return 1
	}

	// Report store
	store, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open report store")
		return 1
	}
	defer store.Close()

	// Analytics warehouse
	wh, err := warehouse.New(cfg.Warehouse, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to configure warehouse client")
		return 1
	}
	defer wh.Close()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promMetrics, err := metrics.NewPrometheusMetrics(registry)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to register metrics")
		return 1
	}

	genOpts := []reports.GeneratorOption{reports.WithMetrics(promMetrics)}

	// Redis is optional; it coordinates report locks and rate limits across replicas.
	var rateLimitStore limiter.Store
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("Invalid REDIS_URL")
			return 1
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to connect to redis")
			return 1
		}

		genOpts = append(genOpts, reports.WithLocker(reports.NewRedisLocker(redisClient, reports.DefaultRedisLockConfig(), logger)))
		if cfg.HTTP.RateLimitRedisKeys {
			rateLimitStore, err = middleware.NewRedisRateLimitStore(redisClient)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to create redis rate limit store")
				return 1
			}
		}
		logger.Info().Bool("rate_limit_shared", rateLimitStore != nil).Msg("Redis report lock enabled")
	}

	// Optional S3 archive
	if cfg.Archive.Enabled() {
		archiver, err := archive.New(ctx, archive.Config{
			Bucket:          cfg.Archive.Bucket,
			Prefix:          cfg.Archive.Prefix,
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		}, logger)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to configure report archive")
			return 1
		}
		genOpts = append(genOpts, reports.WithArchiver(archiver))
	}

	assembler := reports.NewAssembler(wh, promMetrics, logger)
	generator := reports.NewGenerator(store, assembler, cfg.Generator, logger, genOpts...)
	reportScheduler := reports.NewScheduler(store, generator, cfg.Scheduler, promMetrics, logger)

	// Seed organizations from ORG_ID and ORGS_FILE
	orgs, err := cfg.Seed.Organizations()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load organizations")
		return 1
	}
	for _, org := range orgs {
		created, err := store.EnsureOrganization(ctx, org)
		if err != nil {
			logger.Error().Err(err).Str("org_id", org.OrgID).Msg("Failed to seed organization")
			return 1
		}
		if created {
			logger.Info().Str("org_id", org.OrgID).Str("timezone", org.Timezone).Msg("Seeded organization")
		}
	}

	routerCfg := api.Config{
		Environment:       cfg.Environment,
		AllowedOrigins:    cfg.HTTP.AllowedOrigins,
		RateLimitRequests: cfg.HTTP.RateLimitRequests,
		RateLimitPeriod:   cfg.HTTP.RateLimitPeriod,
		RateLimitStore:    rateLimitStore,
		MaxBodyBytes:      middleware.DefaultMaxBodyBytes,
		DefaultOrgID:      cfg.Seed.OrgID,
		ClientName:        cfg.Seed.ClientName,
		Version:           Version,
	}

	router, err := api.NewRouter(routerCfg, api.Dependencies{
		Store:     store,
		Scheduler: reportScheduler,
		Assembler: assembler,
		Stats:     reports.NewStatsCollector(wh, promMetrics, logger),
		Warehouse: wh,
		Gatherer:  registry,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize router")
		return 1
	}

	listenAddr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Live reports run the whole metric battery synchronously.
		WriteTimeout: 10 * time.Minute,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", listenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Start report scheduler
	if err := reportScheduler.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to start report scheduler")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("HTTP server error")
		exitCode = 1
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		exitCode = 1
	}

	// Cancel in-flight batches, then wait for the daily job and catch-up to return.
	cancel()
	select {
	case <-reportScheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn().Msg("Report scheduler did not stop before the shutdown deadline")
	}

	logger.Info().Msg("Server stopped gracefully")
	return exitCode
}
