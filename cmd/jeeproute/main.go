package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"jeeproute/internal/api"
	"jeeproute/internal/config"
	"jeeproute/internal/db"
	"jeeproute/internal/engine"
	"jeeproute/internal/events"
	"jeeproute/internal/fare"
	"jeeproute/internal/history"
	"jeeproute/internal/logger"
	"jeeproute/internal/metrics"
	"jeeproute/internal/publisher"
	"jeeproute/internal/routing"
	"jeeproute/internal/store"
	"jeeproute/internal/trip"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	zl, err := logger.New(cfg.AppEnv, "jeeproute")
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mcol := metrics.NewCollector(cfg.PublishInterval, cfg.ArrivalThresholdM)
	if cfg.MetricsAddr != "" {
		srv := mcol.Serve(cfg.MetricsAddr, zl)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	rdb := db.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword)
	if rdb == nil {
		zl.Fatal("REDIS_ADDR is required")
	}
	defer rdb.Close()
	sink := store.NewRedis(rdb, cfg.RedisKeyPrefix, zl.Named("store"))
	if err := sink.Ping(ctx); err != nil {
		zl.Fatal("redis ping failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}

	deps := trip.Deps{
		Zones:            fare.Zones(),
		Sink:             sink,
		Events:           events.Nop{},
		Metrics:          &tripMetrics{c: mcol},
		Log:              zl.Named("trip"),
		PublishInterval:  cfg.PublishInterval,
		NearDestinationM: cfg.NearDestinationM,
	}

	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.LogNATSSubjects, zl.Named("nats"), &pubMetrics{c: mcol})
		if err != nil {
			zl.Fatal("nats error", zap.Error(err))
		}
		defer pub.Close()
		deps.Publisher = pub
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, zl.Named("events"))
		defer producer.Close()
		deps.Events = producer
		zl.Info("trip events enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	var hist *history.Store
	if cfg.DatabaseURL != "" {
		pool, err := db.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			zl.Fatal("postgres error", zap.Error(err))
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			zl.Fatal("migrate error", zap.Error(err))
		}
		hist = history.NewStore(pool, cfg.Location)
		deps.History = hist
	} else {
		zl.Info("no database configured, trip history disabled")
	}

	var router routing.Service = routing.NewClient(cfg.OSRMURL,
		routing.WithTimeout(cfg.RoutingTimeout),
		routing.WithMaxRetries(cfg.RoutingMaxRetries),
		routing.WithRetryHook(func(err error, wait time.Duration) {
			mcol.RoutingRetries.Inc()
			zl.Debug("retrying route request", zap.Duration("wait", wait), zap.Error(err))
		}),
	)
	if cfg.RoutingCacheTTL > 0 {
		router = routing.NewCache(router, cfg.RoutingCacheTTL)
	}
	deps.Engine = engine.New(router, engine.Config{
		ArrivalThresholdM: cfg.ArrivalThresholdM,
		GapToleranceDeg:   cfg.GapToleranceDeg,
		Concurrency:       cfg.RoutingConcurrency,
	}, zl.Named("engine"), &engineMetrics{c: mcol})

	mgr := trip.NewManager(deps, cfg.StaleAfter, cfg.SweepInterval)
	mgr.StartSweeper(ctx)

	opts := api.Options{Location: cfg.Location, Log: zl.Named("api")}
	if hist != nil {
		opts.History = hist
	}
	srv := api.NewServer(mgr, sink, opts)
	go func() {
		zl.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.Listen(cfg.HTTPAddr); err != nil {
			zl.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	// Block until context cancelled
	<-ctx.Done()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("http shutdown error", zap.Error(err))
	}
	mgr.Stop()
	zl.Info("shutdown complete")
}
