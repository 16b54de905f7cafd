package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/scttfrdmn/modelserve/internal/cache"
	"github.com/scttfrdmn/modelserve/internal/config"
	"github.com/scttfrdmn/modelserve/internal/loader"
	"github.com/scttfrdmn/modelserve/internal/metrics"
	"github.com/scttfrdmn/modelserve/internal/store"
	"github.com/scttfrdmn/modelserve/internal/store/s3"
	"github.com/scttfrdmn/modelserve/pkg/api"
	"github.com/scttfrdmn/modelserve/pkg/health"
)

type pingStore interface {
	store.Store
	store.Pinger
}

func serve(cctx *cli.Context) error {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Global.LogLevel, cfg.Global.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	ld, err := loader.New(cfg.Models.Codec)
	if err != nil {
		return err
	}

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Namespace: cfg.Metrics.Namespace,
		Path:      cfg.Metrics.Path,
		Runtime:   true,
	})
	if err != nil {
		return err
	}

	models, err := cache.New(st, ld, cfg.Models.CacheSize,
		cache.WithLogger(logger),
		cache.WithMetrics(collector),
		cache.WithLoadTimeout(cfg.Models.LoadTimeout),
	)
	if err != nil {
		return err
	}

	tracker := health.NewTracker(health.DefaultConfig())
	tracker.RegisterComponent(health.ComponentStore, st.Ping)
	tracker.RegisterComponent(health.ComponentCache, nil)
	tracker.SetComponentMetadata(health.ComponentStore, "backend", cfg.Storage.Backend)
	tracker.SetComponentMetadata(health.ComponentCache, "capacity", models.Capacity())
	tracker.AddStateChangeCallback(func(component string, oldState, newState health.HealthState, err error) {
		logger.Warn("health state changed",
			zap.String("component", component),
			zap.Stringer("from", oldState),
			zap.Stringer("to", newState),
			zap.Error(err))
	})
	tracker.RunChecks(ctx)
	go tracker.StartHealthChecks(ctx)

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithRecorder(collector),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, api.WithMetricsHandler(collector.Handler()))
	}
	srv := api.NewServer(api.ServerConfig{
		Address:      cfg.Server.Address,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		EnableCORS:   cfg.Server.EnableCORS,
		CORSOrigins:  cfg.Server.CORSOrigins,
		APIKey:       cfg.Server.APIKey,
		MaxBatchSize: cfg.Server.MaxBatchSize,
		DefaultModel: cfg.Global.DefaultModel,
		Version:      cfg.Global.Version,
		MetricsPath:  cfg.Metrics.Path,
	}, models, tracker, opts...)
	errc := srv.StartBackground()

	if cfg.Models.Warmup {
		go warm(ctx, models, tracker, cfg.Models.WarmupConcurrency)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errc:
		if err != nil {
			models.Clear()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown failed", zap.Error(err))
	}
	models.Clear()
	logger.Info("stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Configuration, logger *zap.Logger) (pingStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendS3:
		sc := cfg.Storage.S3
		st, err := s3.New(ctx, s3.Config{
			Bucket:          sc.Bucket,
			Prefix:          sc.Prefix,
			Region:          sc.Region,
			Endpoint:        sc.Endpoint,
			AccessKeyID:     sc.AccessKeyID,
			SecretAccessKey: sc.SecretAccessKey,
			ForcePathStyle:  sc.ForcePathStyle,
			Extension:       cfg.Models.Extension,
			MaxRetries:      sc.MaxRetries,
		}, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("using s3 model store", zap.String("bucket", sc.Bucket), zap.String("prefix", sc.Prefix))
		return st, nil
	default:
		logger.Info("using local model store", zap.String("path", cfg.Models.Path))
		dir := store.NewDir(cfg.Models.Path, cfg.Models.Extension, logger)
		return store.NewRetrying(dir, cfg.Models.ReadAttempts, logger), nil
	}
}

// warm preloads the store in the background. Store failures feed the
// health tracker; the cache logs each outcome.
func warm(ctx context.Context, models *cache.Cache, tracker *health.Tracker, concurrency int) {
	res, err := cache.Warm(ctx, models, concurrency)
	if err != nil {
		tracker.RecordError(health.ComponentStore, err)
		return
	}
	for _, ferr := range res.Failed {
		tracker.RecordError(health.ComponentStore, ferr)
	}
}
