// Package server builds the application's dependency graph and runs the HTTP
// host.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/gf-menu-scanner/internal/annotations"
	"github.com/JakeFAU/gf-menu-scanner/internal/api"
	"github.com/JakeFAU/gf-menu-scanner/internal/config"
	"github.com/JakeFAU/gf-menu-scanner/internal/discovery"
	"github.com/JakeFAU/gf-menu-scanner/internal/id/uuid"
	"github.com/JakeFAU/gf-menu-scanner/internal/kv/gcs"
	"github.com/JakeFAU/gf-menu-scanner/internal/kv/local"
	"github.com/JakeFAU/gf-menu-scanner/internal/kv/memory"
	"github.com/JakeFAU/gf-menu-scanner/internal/kv/postgres"
	"github.com/JakeFAU/gf-menu-scanner/internal/logging"
	"github.com/JakeFAU/gf-menu-scanner/internal/metrics"
	"github.com/JakeFAU/gf-menu-scanner/internal/publisher/logsink"
	gcppublisher "github.com/JakeFAU/gf-menu-scanner/internal/publisher/pubsub"
	"github.com/JakeFAU/gf-menu-scanner/internal/restaurant"
	"github.com/JakeFAU/gf-menu-scanner/internal/scheduler"
	"github.com/JakeFAU/gf-menu-scanner/internal/snapshot"
	"github.com/JakeFAU/gf-menu-scanner/internal/store"
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	service   *discovery.Service
	scheduler *scheduler.Scheduler
	pipeline  *Pipeline
	kv        restaurant.KVStore
	gcsClient *storage.Client
	pgStore   *postgres.Store
	pubsub    *gcppublisher.Publisher
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logging.OrNop(logger)}
	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Bool("headless", cfg.Headless.Enabled),
	)
	if cfg.Metrics.Enabled {
		metrics.Init()
	}

	var err error
	app.pipeline, err = NewPipeline(cfg, app.logger)
	if err != nil {
		return nil, err
	}

	app.kv, err = app.setupKV(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	ann := annotations.New(app.kv, cfg.Cache.Namespace, app.logger.Named("annotations"))
	snapshots := snapshot.New(app.kv, cfg.Cache.Namespace, app.logger.Named("snapshot"))
	st := store.New(ann, app.logger.Named("store"))

	var onApplied func(context.Context, restaurant.Restaurant)
	app.scheduler = scheduler.New(
		scheduler.Config{
			TTL:         cfg.Scanner.TTL,
			BatchLimit:  cfg.Scanner.BatchLimit,
			ScanTimeout: cfg.Scanner.ScanTimeout,
			Topic:       cfg.PubSub.TopicName,
		},
		st,
		app.pipeline.Scanner,
		scheduler.WithPublisher(publisher, uuid.New()),
		scheduler.WithOnApplied(func(ctx context.Context, r restaurant.Restaurant) { onApplied(ctx, r) }),
		scheduler.WithLogger(app.logger.Named("scheduler")),
	)

	app.service = discovery.New(
		discovery.Config{SearchRadiusMeters: cfg.Places.SearchRadiusMeters},
		st,
		app.pipeline.Places,
		snapshots,
		app.scheduler,
		ann,
		app.logger.Named("discovery"),
	)
	onApplied = app.service.OnScanApplied

	app.apiServer = api.NewServer(app.service, app.ready, *cfg, app.logger.Named("api"))
	return app, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// ready probes the KV backend with a read.
func (a *App) ready(ctx context.Context) error {
	if _, _, err := a.kv.Get(ctx, a.cfg.Cache.Namespace+":ready"); err != nil {
		return fmt.Errorf("kv probe: %w", err)
	}
	return nil
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

// Close waits for running scans, then releases clients.
func (a *App) Close(ctx context.Context) error {
	if a.scheduler != nil {
		if err := a.scheduler.Wait(ctx); err != nil {
			a.logger.Warn("scans still running at shutdown", zap.Int("in_flight", a.scheduler.InFlight()), zap.Error(err))
		}
	}
	if a.service != nil {
		a.service.Persist(ctx)
	}
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pipeline != nil {
		a.pipeline.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

func (a *App) setupKV(ctx context.Context) (restaurant.KVStore, error) {
	switch a.cfg.Cache.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS cache backend", zap.String("bucket", a.cfg.Cache.GCS.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		kv, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Cache.GCS.Bucket, Prefix: a.cfg.Cache.GCS.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs cache init failed: %w", err)
		}
		return kv, nil
	case config.BackendPostgres:
		a.logger.Info("using postgres cache backend", zap.String("table", a.cfg.Cache.Postgres.Table))
		kv, err := postgres.New(ctx, postgres.Config{DSN: a.cfg.Cache.Postgres.DSN, Table: a.cfg.Cache.Postgres.Table})
		if err != nil {
			return nil, fmt.Errorf("postgres cache init failed: %w", err)
		}
		a.pgStore = kv
		return kv, nil
	case config.BackendLocal:
		a.logger.Info("using local cache backend", zap.String("path", a.cfg.Cache.Local.BaseDir))
		kv, err := local.New(local.Config{BaseDir: a.cfg.Cache.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local cache init failed: %w", err)
		}
		return kv, nil
	default:
		a.logger.Info("using in-memory cache backend")
		return memory.New(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (restaurant.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, logging scan events instead")
		return logsink.New(logsink.DefaultCapacity, a.logger.Named("events")), nil
	}
	p, err := gcppublisher.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsub = p
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return p, nil
}
