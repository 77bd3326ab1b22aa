package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pixelrelay/pixelrelay-backend/internal/delivery"
	"github.com/pixelrelay/pixelrelay-backend/internal/events"
	"github.com/pixelrelay/pixelrelay-backend/internal/surfaces"
	"github.com/pixelrelay/pixelrelay-backend/pkg/config"
	"github.com/pixelrelay/pixelrelay-backend/pkg/db"
	"github.com/pixelrelay/pixelrelay-backend/pkg/instance"
	"github.com/pixelrelay/pixelrelay-backend/pkg/logger"
	"github.com/pixelrelay/pixelrelay-backend/pkg/metrics"
	"github.com/pixelrelay/pixelrelay-backend/pkg/migrate"
	"github.com/pixelrelay/pixelrelay-backend/pkg/redis"
	"github.com/pixelrelay/pixelrelay-backend/pkg/security"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "worker",
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

	surfaceService, err := surfaces.NewService(surfaces.NewRepository(dbClient.DB()), codec)
	if err != nil {
		logg.Error(context.Background(), "failed to create surface service", err)
		os.Exit(1)
	}

	var driver delivery.Driver = delivery.NewHTTPDriver(cfg.Delivery)
	if cfg.FeatureFlags.DeliveryDryRun {
		logg.Warn(context.Background(), "delivery dry run enabled, recording instead of sending")
		driver = delivery.NewRecordingDriver()
	}

	registry := prometheus.NewRegistry()
	pipelineMetrics := metrics.NewPipelineMetrics(registry)

	scheduler, err := delivery.NewScheduler(delivery.SchedulerParams{
		Repo:        events.NewRepository(dbClient.DB()),
		Credentials: surfaceService,
		Driver:      driver,
		Leases:      delivery.NewLeaseArena(redisClient, cfg.Delivery.LeaseTTL),
		Codec:       codec,
		Config:      cfg.Delivery,
		Logger:      logg,
		Metrics:     pipelineMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create delivery scheduler", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config:    cfg,
		Logger:    logg,
		DB:        dbClient,
		Redis:     redisClient,
		Scheduler: scheduler,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting delivery worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "delivery worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "delivery worker shutting down gracefully")
}
