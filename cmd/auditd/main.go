// Package main wires together the audit service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/aiqso/audit-engine/internal/api"
	"github.com/aiqso/audit-engine/internal/audit"
	"github.com/aiqso/audit-engine/internal/clock/system"
	"github.com/aiqso/audit-engine/internal/config"
	"github.com/aiqso/audit-engine/internal/detector"
	"github.com/aiqso/audit-engine/internal/dispatch"
	"github.com/aiqso/audit-engine/internal/engine"
	collyfetcher "github.com/aiqso/audit-engine/internal/fetcher/colly"
	headlessfetcher "github.com/aiqso/audit-engine/internal/fetcher/headless"
	"github.com/aiqso/audit-engine/internal/id/uuid"
	"github.com/aiqso/audit-engine/internal/logging"
	"github.com/aiqso/audit-engine/internal/metrics"
	"github.com/aiqso/audit-engine/internal/politeness"
	memorypublisher "github.com/aiqso/audit-engine/internal/publisher/memory"
	pubsubpublisher "github.com/aiqso/audit-engine/internal/publisher/pubsub"
	queuememory "github.com/aiqso/audit-engine/internal/queue/memory"
	quotamemory "github.com/aiqso/audit-engine/internal/quota/memory"
	"github.com/aiqso/audit-engine/internal/scheduler"
	"github.com/aiqso/audit-engine/internal/storage/gcs"
	"github.com/aiqso/audit-engine/internal/storage/local"
	memorystorage "github.com/aiqso/audit-engine/internal/storage/memory"
	"github.com/aiqso/audit-engine/internal/storage/postgres"
	"github.com/aiqso/audit-engine/internal/tier"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tiers, err := tier.LoadDir(cfg.Tiers.Dir, logger.Named("tiers"))
	if err != nil {
		logger.Fatal("load tiers failed", zap.Error(err))
	}

	clock := system.New()
	idGen := uuid.New()
	queue := queuememory.New(cfg.Audit.QueueDepth)
	ledger := quotamemory.New(clock)

	store, closeStore, err := buildSnapshotStore(ctx, cfg)
	if err != nil {
		logger.Fatal("snapshot store init failed", zap.Error(err))
	}
	defer closeStore()

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	pub, closePub, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer closePub()

	limiter := politeness.New(politeness.Config{
		DefaultRPS:   cfg.Audit.PolitenessRPS,
		DefaultBurst: cfg.Audit.PolitenessBurst,
	})
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Audit.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	}, limiter)

	var headless audit.Fetcher
	if cfg.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Audit.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			// Keep promotion attempts visible in audit logs instead of
			// silently disabling the configured feature.
			logger.Warn("headless fetcher init failed, using noop", zap.Error(err))
			headless = headlessfetcher.NewNoop()
		} else {
			headless = hf
			defer hf.Close()
		}
	}
	detect := detector.NewHeuristic(cfg.Headless.PromotionThresh)

	runner := engine.New(
		probe,
		headless,
		detect,
		clock,
		idGen,
		logger.Named("engine"),
		time.Duration(cfg.Audit.FetchTimeoutSec)*time.Second,
	)

	svc := dispatch.NewService(dispatch.Config{
		BlobPrefix:         cfg.Storage.Prefix,
		ScoreDropThreshold: cfg.Audit.ScoreDropThreshold,
	}, tiers, runner, store, blobs, pub, logger.Named("dispatch"))

	dispatcher := dispatch.NewDispatcher(cfg.Audit.Workers, queue, svc, logger.Named("worker"))

	apiServer := api.NewServer(api.Config{
		RequestTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
	}, tiers, store, queue, ledger, runner.Inflight(), idGen, clock, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go dispatcher.Run(ctx)

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(scheduler.Config{
			TickInterval: cfg.TickInterval(),
			GraceWindow:  cfg.GraceWindow(),
		}, tiers, store, ledger, queue, runner.Inflight(), clock, idGen, logger.Named("scheduler"))
		go func() {
			if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("scheduler stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	logger.Info("shutdown complete")
}

func buildSnapshotStore(ctx context.Context, cfg config.Config) (audit.SnapshotStore, func(), error) {
	switch cfg.Storage.Snapshots {
	case "postgres":
		store, err := postgres.NewSnapshotStore(ctx, postgres.SnapshotStoreConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return memorystorage.NewSnapshotStore(), func() {}, nil
	}
}

func buildBlobStore(ctx context.Context, cfg config.Config) (audit.BlobStore, error) {
	switch cfg.Storage.Blobs {
	case "memory":
		return memorystorage.NewBlobStore(), nil
	case "local":
		return local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	default:
		return nil, nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (audit.Publisher, func(), error) {
	if !cfg.PubSub.Enabled {
		return memorypublisher.New(), func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	pub, err := pubsubpublisher.New(client)
	if err != nil {
		return nil, nil, err
	}
	return pub, func() {
		pub.Close()
		_ = client.Close()
	}, nil
}
