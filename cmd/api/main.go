package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pixelrelay/pixelrelay-backend/api/controllers"
	"github.com/pixelrelay/pixelrelay-backend/api/routes"
	"github.com/pixelrelay/pixelrelay-backend/internal/events"
	"github.com/pixelrelay/pixelrelay-backend/internal/profiles"
	"github.com/pixelrelay/pixelrelay-backend/internal/quality"
	"github.com/pixelrelay/pixelrelay-backend/internal/surfaces"
	"github.com/pixelrelay/pixelrelay-backend/pkg/config"
	"github.com/pixelrelay/pixelrelay-backend/pkg/db"
	"github.com/pixelrelay/pixelrelay-backend/pkg/logger"
	"github.com/pixelrelay/pixelrelay-backend/pkg/metrics"
	"github.com/pixelrelay/pixelrelay-backend/pkg/migrate"
	"github.com/pixelrelay/pixelrelay-backend/pkg/redis"
	"github.com/pixelrelay/pixelrelay-backend/pkg/security"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	codec, err := security.NewCodec(cfg.Security)
	if err != nil {
		logg.Error(context.Background(), "failed to create security codec", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pipelineMetrics := metrics.NewPipelineMetrics(registry)

	scorer := quality.NewScorer(cfg.Pipeline.TargetScale)

	surfaceService, err := surfaces.NewService(surfaces.NewRepository(dbClient.DB()), codec)
	if err != nil {
		logg.Error(context.Background(), "failed to create surface service", err)
		os.Exit(1)
	}

	profileStore, err := profiles.NewStore(profiles.NewRepository(dbClient.DB()), scorer, cfg.Pipeline)
	if err != nil {
		logg.Error(context.Background(), "failed to create profile store", err)
		os.Exit(1)
	}

	eventService, err := events.NewService(events.ServiceParams{
		Repo:     events.NewRepository(dbClient.DB()),
		Surfaces: surfaceService,
		Profiles: profileStore,
		Scorer:   scorer,
		Codec:    codec,
		Config:   cfg.Pipeline,
		Logger:   logg,
		Metrics:  pipelineMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create event service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.New(routes.Params{
			Config:   cfg,
			Logger:   logg,
			Events:   controllers.NewEventsController(eventService, logg),
			Health:   controllers.NewHealthController(dbClient, redisClient, logg),
			Registry: registry,
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "error during shutdown", err)
		}
		logg.Info(ctx, "api server shutting down gracefully")
	}
}
