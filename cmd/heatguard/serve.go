// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/thermasense/heatguard/services/scoring/admission"
	"github.com/thermasense/heatguard/services/scoring/compliance"
	"github.com/thermasense/heatguard/services/scoring/config"
	"github.com/thermasense/heatguard/services/scoring/health"
	"github.com/thermasense/heatguard/services/scoring/model"
	"github.com/thermasense/heatguard/services/scoring/observability"
	"github.com/thermasense/heatguard/services/scoring/routes"
	"github.com/thermasense/heatguard/services/scoring/scheduler"
	"github.com/thermasense/heatguard/services/scoring/service"
)

// serve wires every component and runs the API server until SIGINT or
// SIGTERM.
func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	observability.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTELEndpoint != "" {
		shutdown, err := observability.InitTracing(ctx, cfg.OTELEndpoint)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown(context.Background())
	}

	host := model.NewHost(model.HostConfig{
		ModelDir:       cfg.ModelDir,
		MaxEntries:     cfg.ModelCacheSize,
		AllowSynthetic: cfg.AllowSyntheticModel,
		Logger:         logger,
	})

	var journal *compliance.Journal
	if cfg.JournalPath != "" {
		journal, err = compliance.NewJournal(compliance.Config{
			Path:     cfg.JournalPath,
			MaxBytes: cfg.JournalMaxBytes,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("open compliance journal: %w", err)
		}
		defer journal.Close()
	} else {
		logger.Warn("compliance journal disabled; assessments will not be persisted")
	}

	svc := service.New(service.Config{
		ConservativeBias:  cfg.ConservativeBias,
		BatchSizeLimit:    cfg.BatchSizeLimit,
		MaxConcurrent:     cfg.MaxConcurrentPredictions,
		PredictionTimeout: time.Duration(cfg.PredictionTimeout) * time.Second,
		HeatIndexWarningF: cfg.HeatIndexThresholdWarning,
		HeatIndexDangerF:  cfg.HeatIndexThresholdDanger,
	}, host, journal, logger)

	schedCfg := scheduler.DefaultConfig()
	schedCfg.Workers = cfg.SchedulerWorkers
	schedCfg.ChunkSize = cfg.SchedulerChunkSize
	schedCfg.RetentionTTL = cfg.JobRetention
	sched := scheduler.New(schedCfg, svc, logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	auth := admission.NewAuthenticator(buildCredentialStore(cfg), logger)
	limiter, redisClient := buildLimiter(cfg, logger)
	registry := buildHealthRegistry(host, journal, sched, redisClient)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(observability.ServiceName))

	routes.SetupRoutes(router, routes.Deps{
		Service:      svc,
		Scheduler:    sched,
		Host:         host,
		Journal:      journal,
		Registry:     registry,
		Auth:         auth,
		Limiter:      limiter,
		APIKeyHeader: cfg.APIKeyHeader,
	})

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("scoring server listening",
			slog.String("addr", cfg.Addr()),
			slog.String("environment", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// buildCredentialStore maps configured keys to scoped credentials.
func buildCredentialStore(cfg config.Config) admission.Store {
	keys := make(map[string][]admission.Permission)
	if cfg.AdminAPIKey != "" {
		keys[cfg.AdminAPIKey] = []admission.Permission{admission.PermAdmin}
	}
	if cfg.WriteAPIKey != "" {
		keys[cfg.WriteAPIKey] = []admission.Permission{admission.PermRead, admission.PermWrite}
	}
	if cfg.ReadAPIKey != "" {
		keys[cfg.ReadAPIKey] = []admission.Permission{admission.PermRead}
	}
	return admission.NewStaticStoreFromKeys(keys)
}

// buildLimiter prefers a shared Redis window and degrades to the
// in-memory one when Redis is not configured or unreachable.
func buildLimiter(cfg config.Config, logger *slog.Logger) (admission.Limiter, *redis.Client) {
	memory := admission.NewMemoryLimiter(cfg.RateLimitPerMinute, admission.DefaultRateWindow)
	if cfg.RedisURL == "" {
		return memory, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("invalid redis URL, rate limiting falls back to in-memory",
			slog.String("error", err.Error()))
		return memory, nil
	}
	client := redis.NewClient(opts)
	primary := admission.NewRedisLimiter(client, cfg.RateLimitPerMinute, admission.DefaultRateWindow)
	return admission.NewFallbackLimiter(primary, memory, logger), client
}

// buildHealthRegistry registers the component checks. The model host is
// the only critical component; everything else degrades.
func buildHealthRegistry(host *model.Host, journal *compliance.Journal,
	sched *scheduler.Scheduler, redisClient *redis.Client) *health.Registry {

	registry := health.NewRegistry()

	registry.Add("model", func(ctx context.Context) health.Component {
		if !host.Healthy() {
			return health.Unhealthy("default artifact unavailable", true)
		}
		return health.Healthy("", true)
	})

	registry.Add("journal", func(ctx context.Context) health.Component {
		if journal == nil {
			return health.Degraded("compliance journal disabled", false)
		}
		if st := journal.Stat(); st.Degraded {
			return health.Degraded(
				fmt.Sprintf("dropped=%d failed=%d", st.Dropped, st.Failed), false)
		}
		return health.Healthy("", false)
	})

	registry.Add("scheduler", func(ctx context.Context) health.Component {
		pending, running, _ := sched.Counts()
		return health.Healthy(fmt.Sprintf("pending=%d running=%d", pending, running), false)
	})

	if redisClient != nil {
		registry.Add("redis", func(ctx context.Context) health.Component {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return health.Unhealthy(err.Error(), false)
			}
			return health.Healthy("", false)
		})
	}

	return registry
}
