// Package server builds the onboarding form service from configuration and
// runs it until the process is signalled.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/onboard-forms/internal/api"
	"github.com/JakeFAU/onboard-forms/internal/config"
	"github.com/JakeFAU/onboard-forms/internal/coordinator"
	"github.com/JakeFAU/onboard-forms/internal/guard"
	"github.com/JakeFAU/onboard-forms/internal/identity"
	"github.com/JakeFAU/onboard-forms/internal/logging"
	"github.com/JakeFAU/onboard-forms/internal/metrics"
	"github.com/JakeFAU/onboard-forms/internal/policy/ratelimit"
	"github.com/JakeFAU/onboard-forms/internal/progress"
	progresssinks "github.com/JakeFAU/onboard-forms/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/onboard-forms/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/onboard-forms/internal/publisher/pubsub"
	"github.com/JakeFAU/onboard-forms/internal/schedule"
	"github.com/JakeFAU/onboard-forms/internal/session"
	"github.com/JakeFAU/onboard-forms/internal/storage"
	gcsstorage "github.com/JakeFAU/onboard-forms/internal/storage/gcs"
	localstorage "github.com/JakeFAU/onboard-forms/internal/storage/local"
	memorystorage "github.com/JakeFAU/onboard-forms/internal/storage/memory"
	pgstore "github.com/JakeFAU/onboard-forms/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/onboard-forms/internal/storage/sqlite"
	"github.com/JakeFAU/onboard-forms/internal/store"
	"github.com/JakeFAU/onboard-forms/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	loop         *schedule.Loop
	registry     *session.Registry
	guard        *guard.Guard
	progressHub  *progress.Hub
	apiServer    *api.Server
	store        storage.Store
	progressRepo store.ProgressRepository
	pool         *pgxpool.Pool
	tracer       *sdktrace.TracerProvider

	closers []func(context.Context) error
}

// Build creates the application's dependencies. Partially built apps are
// torn down before an error is returned.
func Build(ctx context.Context, cfg config.Config) (_ *App, err error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		Service:     cfg.Tracing.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.Background())
			app.closeObservability(context.Background())
		}
	}()

	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.Bool("auth_enabled", cfg.Auth.Enabled),
	)

	if cfg.Tracing.Enabled {
		app.tracer, err = telemetry.InitTracerProvider(ctx, telemetry.Options{
			ServiceName: cfg.Tracing.ServiceName,
			Version:     cfg.Tracing.Version,
			Exporter:    cfg.Tracing.Exporter,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
	}

	if err = setupStorage(ctx, app); err != nil {
		return nil, err
	}
	if err = setupProgress(ctx, app); err != nil {
		return nil, err
	}

	app.loop = schedule.NewLoop(schedule.LoopConfig{
		FrameInterval: cfg.Coordinator.FrameInterval,
		Logger:        logger.Named("loop"),
	})

	metrics.Init()
	app.registry, err = session.NewRegistry(session.Config{
		Executor:    app.loop,
		Store:       app.store,
		Events:      app.progressHub,
		Clock:       app.loop.Clock(),
		Logger:      logger,
		BaseContext: ctx,
		Settings: session.Settings{
			Delays: coordinator.Delays{
				Progress:    cfg.Coordinator.ProgressDelay,
				Save:        cfg.Coordinator.SaveDelay,
				ClickSettle: cfg.Coordinator.ClickSettle,
				FollowUp:    cfg.Coordinator.FollowUp,
			},
			Exclusions:   cfg.Progress.Exclusions,
			ResumeDelay:  cfg.Restore.ResumeDelay,
			HideAfter:    cfg.Enhance.HideAfter,
			IdleTTL:      cfg.Sessions.IdleTTL,
			ReapSchedule: cfg.Sessions.ReapSchedule,
			MaxFields:    cfg.Sessions.MaxFields,
			SaveTimeout:  cfg.Coordinator.SaveTimeout,
		},
		OnReap: app.afterReap,
	})
	if err != nil {
		return nil, fmt.Errorf("session registry init failed: %w", err)
	}

	if err = setupAPI(app); err != nil {
		return nil, err
	}
	return app, nil
}

// afterReap runs on the reaper's schedule. It publishes the session gauges
// and drops guard decisions whose cooldown has passed.
func (a *App) afterReap(reaped, live int) {
	metrics.ObserveReaped(reaped)
	metrics.SetLiveSessions(live)
	if a.guard == nil {
		return
	}
	if n := a.guard.Sweep(); n > 0 {
		a.logger.Debug("expired guard decisions swept", zap.Int("count", n))
	}
}

// Handler exposes the HTTP router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.registry.Start(); err != nil {
		return fmt.Errorf("start session reaper: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("http server: %w", err), closeErr)
	default:
		return closeErr
	}
}

// Close flushes live sessions and releases every dependency. Sessions are
// closed first so their final saves reach the store and their events reach
// the hub.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.registry != nil {
		if err := a.registry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close sessions: %w", err))
		}
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		a.progressHub = nil
	}
	if a.loop != nil {
		a.loop.Close()
		a.loop = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("dependency close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracer = nil
	}
	// Sync fails on non-file sinks such as stderr on some platforms.
	_ = a.logger.Sync()
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func setupStorage(ctx context.Context, app *App) error {
	cfg := app.cfg.Storage
	logger := app.logger
	switch cfg.Driver {
	case config.DriverLocal:
		kv, err := localstorage.New(localstorage.Config{BaseDir: cfg.Local.Dir})
		if err != nil {
			return fmt.Errorf("local store init failed: %w", err)
		}
		app.store = kv
		logger.Info("using local storage backend", zap.String("dir", cfg.Local.Dir))
	case config.DriverSQLite:
		kv, err := sqlitestore.Open(cfg.SQLite.Path)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		app.onClose(func(context.Context) error { return kv.Close() })
		app.store = kv
		logger.Info("using sqlite storage backend", zap.String("path", cfg.SQLite.Path))
	case config.DriverPostgres:
		pool, err := connectPostgres(ctx, app)
		if err != nil {
			return err
		}
		kv, err := pgstore.NewKVStore(pool, cfg.Postgres.Table)
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		app.store = kv
		logger.Info("using postgres storage backend", zap.String("table", cfg.Postgres.Table))
	case config.DriverGCS:
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		app.onClose(func(context.Context) error { return client.Close() })
		kv, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix})
		if err != nil {
			return fmt.Errorf("gcs store init failed: %w", err)
		}
		app.store = kv
		logger.Info("using GCS storage backend", zap.String("bucket", cfg.GCS.Bucket))
	default:
		app.store = memorystorage.NewKVStore()
		logger.Info("using in-memory storage backend")
	}
	return nil
}

// connectPostgres opens the shared pool once; the KV store and the session
// report repository both use it.
func connectPostgres(ctx context.Context, app *App) (*pgxpool.Pool, error) {
	if app.pool != nil {
		return app.pool, nil
	}
	pg := app.cfg.Storage.Postgres
	pool, err := pgstore.Connect(ctx, pgstore.PoolConfig{
		DSN:             pg.DSN,
		MaxConns:        pg.MaxConns,
		MinConns:        pg.MinConns,
		MaxConnLifetime: pg.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres init failed: %w", err)
	}
	if pg.EnsureSchema {
		if err := pgstore.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	app.pool = pool
	app.onClose(func(context.Context) error {
		pool.Close()
		return nil
	})
	return pool, nil
}

func setupProgress(ctx context.Context, app *App) error {
	cfg := app.cfg
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
	}

	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return fmt.Errorf("prometheus sink init failed: %w", err)
		}
		app.logger.Debug("progress collectors already registered")
	} else {
		sinkList = append(sinkList, promSink)
	}

	if cfg.Events.PersistSessions {
		pool, err := connectPostgres(ctx, app)
		if err != nil {
			return err
		}
		repo, err := pgstore.NewProgressStore(pool)
		if err != nil {
			return fmt.Errorf("progress store init failed: %w", err)
		}
		app.progressRepo = repo
		app.logger.Info("session reports persisted to postgres")
	} else {
		app.progressRepo = memorystorage.NewProgressStore()
	}
	sinkList = append(sinkList, progresssinks.NewStoreSink(app.progressRepo, app.logger.Named("progress_store")))

	if cfg.PubSub.Enabled {
		pub, closeFn, err := gcppublisher.Open(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return fmt.Errorf("pubsub init failed: %w", err)
		}
		app.onClose(func(context.Context) error { return closeFn() })
		sinkList = append(sinkList, progresssinks.NewPublishSink(pub, cfg.PubSub.TopicName, app.logger.Named("progress_publish")))
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicName),
		)
	} else {
		sinkList = append(sinkList, progresssinks.NewPublishSink(memorypublisher.New(), cfg.PubSub.TopicName, app.logger.Named("progress_publish")))
	}

	hubCfg := progress.Config{
		BufferSize:     cfg.Events.BufferSize,
		MaxBatchEvents: cfg.Events.MaxBatchEvents,
		MaxBatchWait:   cfg.Events.MaxBatchWait,
		SinkTimeout:    cfg.Events.SinkTimeout,
		BaseContext:    ctx,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func setupAPI(app *App) error {
	cfg := app.cfg
	directory := identity.NewDirectory(cfg.Identity.Profiles...)
	app.guard = guard.New(cfg.Guard, directory, guard.WithLogger(app.logger))

	var verifier *identity.TokenVerifier
	if cfg.Auth.Enabled {
		var err error
		verifier, err = newVerifier(cfg.Auth)
		if err != nil {
			return err
		}
	}

	srv, err := api.NewServer(api.Config{
		Sessions: app.registry,
		Guard:    app.guard,
		Verifier: verifier,
		Limiter: ratelimit.New(ratelimit.Config{
			RPS:   cfg.RateLimit.EventsPerSecond,
			Burst: cfg.RateLimit.Burst,
		}),
		Reports: app.progressRepo,
		Ready:   app.ready,
		Logger:  app.logger.Named("api"),
	})
	if err != nil {
		return fmt.Errorf("api init failed: %w", err)
	}
	app.apiServer = srv
	return nil
}

func newVerifier(cfg config.AuthConfig) (*identity.TokenVerifier, error) {
	opts := []identity.TokenOption{identity.WithLeeway(cfg.Leeway)}
	if cfg.Issuer != "" {
		opts = append(opts, identity.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, identity.WithAudience(cfg.Audience))
	}
	verifier, err := identity.NewTokenVerifier([]byte(cfg.JWTSecret), opts...)
	if err != nil {
		return nil, fmt.Errorf("token verifier init failed: %w", err)
	}
	return verifier, nil
}

// ready reports whether the session loop is accepting work and the database,
// when configured, answers a ping.
func (a *App) ready(ctx context.Context) error {
	if a.loop == nil {
		return fmt.Errorf("session loop not running")
	}
	if err := a.loop.Do(ctx, func() {}); err != nil {
		return err
	}
	if a.pool != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := a.pool.Ping(pingCtx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
	}
	return nil
}
