package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/infra/geoip"
	"server/internal/jobs"
	"server/internal/middleware"
	"server/internal/orchestrate"
	"server/internal/provider"
	"server/internal/provider/dashscope"
	"server/internal/provider/direct"
	"server/internal/provider/falqueue"
	"server/internal/quota"
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

	// Job registry: durable when DATABASE_URL is set, in-memory otherwise.
	var registry jobs.Registry
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: db connection failed")
		}
		defer pool.Close()
		registry = jobs.NewPostgresRegistry(pool)
		logger.Info().Msg("api: using postgres job registry")
	} else {
		registry = jobs.NewMemoryRegistry()
		logger.Info().Msg("api: using in-memory job registry")
	}

	// Quota store: redis when REDIS_ADDR is set, in-memory otherwise.
	var store quota.Store
	if cfg.RedisAddr != "" {
		client, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: redis connection failed")
		}
		defer client.Close()
		store = quota.NewRedisStore(client)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("api: using redis quota store")
	} else {
		store = quota.NewMemoryStore()
		logger.Warn().Msg("api: using in-memory quota store, counts reset on restart")
	}
	guard := quota.NewGuard(store, cfg.ClientFreeLimit)

	providers := provider.NewRegistry(
		falqueue.NewClient(falqueue.Options{
			APIKey:  cfg.FalAPIKey,
			BaseURL: cfg.FalBaseURL,
			Models:  []string{"fal-ai/*"},
			Logger:  &logger,
		}),
		dashscope.NewClient(dashscope.Options{
			APIKey:  cfg.DashScopeAPIKey,
			BaseURL: cfg.DashScopeBaseURL,
			Models:  []string{"qwen-image-plus", "qwen-image", "wanx/*"},
			Logger:  &logger,
		}),
		direct.NewClient(direct.Options{
			APIKey:  cfg.DirectAPIKey,
			BaseURL: cfg.DirectBaseURL,
			Models:  []string{"direct/*"},
			Logger:  &logger,
		}),
	)

	orchestrator := orchestrate.New(providers, registry, guard, logger, cfg.JobMaxAge)

	var lookup middleware.CountryLookup
	if resolver, err := geoip.NewResolver(cfg.GeoIPDBPath); err != nil {
		logger.Warn().Err(err).Msg("api: geoip disabled")
	} else if resolver != nil {
		lookup = resolver.CountryCode
		defer resolver.Close()
	}

	app := &handlers.App{
		Config:       cfg,
		Logger:       logger,
		Orchestrator: orchestrator,
		Providers:    providers,
		Quota:        guard,
	}
	router := httpapi.NewRouter(app, lookup)
	server := infra.NewHTTPServer(cfg, router)

	// Background sweeps: time out stale jobs, evict expired terminal ones.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := orchestrator.SweepTimeouts(ctx); n > 0 {
					logger.Info().Int("count", n).Msg("api: timed out stale jobs")
				}
				if n, err := registry.EvictExpired(ctx, cfg.JobRetention); err != nil {
					logger.Error().Err(err).Msg("api: eviction failed")
				} else if n > 0 {
					logger.Debug().Int("count", n).Msg("api: evicted expired jobs")
				}
			}
		}
	}()

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
