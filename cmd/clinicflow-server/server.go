package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/mattn/go-isatty"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clinicflow/clinicflow/internal/config"
	"github.com/clinicflow/clinicflow/internal/domain/workflow"
	"github.com/clinicflow/clinicflow/internal/platform/auth"
	"github.com/clinicflow/clinicflow/internal/platform/db"
	"github.com/clinicflow/clinicflow/internal/platform/middleware"
	"github.com/clinicflow/clinicflow/internal/platform/notification"
	"github.com/clinicflow/clinicflow/internal/platform/telemetry"
	"github.com/clinicflow/clinicflow/internal/platform/websocket"
	"github.com/clinicflow/clinicflow/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// app holds the wired server. Build it with newApp and release it with
// Close.
type app struct {
	cfg        *config.Config
	log        zerolog.Logger
	store      *storage.Store
	metrics    *telemetry.Metrics
	dispatcher *notification.Dispatcher
	engine     *workflow.Engine
	feed       *websocket.Hub
	echo       *echo.Echo
	redis      *redis.Client
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.IsDev() && isatty.IsTerminal(os.Stdout.Fd()) {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Str("service", "clinicflow").Logger()
}

// openStore opens the configured store. PostgreSQL migrations run here;
// the embedded store migrates itself on open.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*storage.Store, error) {
	if cfg.StoreDriver != config.DriverPostgres {
		st, err := storage.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		log.Info().Str("driver", st.Driver).Str("path", cfg.SQLitePath).Msg("opened store")
		return st, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	n, err := db.NewMigrator(pool, db.Migrations()).Up(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Str("driver", config.DriverPostgres).Int("migrations_applied", n).Msg("connected to database")
	return storage.NewPostgres(pool), nil
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: telemetry.New()}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.store = st

	if err := a.wireNotifications(ctx); err != nil {
		a.Close()
		return nil, err
	}

	templates, err := notification.NewTemplateEngine()
	if err != nil {
		a.Close()
		return nil, err
	}
	notifier := workflow.NewNotifier(templates, a.dispatcher, log.With().Str("component", "notifier").Logger())
	a.feed = websocket.NewHub(log.With().Str("component", "feed").Logger())

	a.engine = workflow.NewEngine(st,
		workflow.WithEventSink(workflow.Sinks{
			notifier,
			workflow.NewQueueFeed(a.feed, log.With().Str("component", "feed").Logger()),
		}),
		workflow.WithLogger(log.With().Str("component", "workflow").Logger()),
		workflow.WithMetrics(a.metrics),
	)
	a.echo = a.routes()
	return a, nil
}

func (a *app) wireNotifications(ctx context.Context) error {
	var q notification.Queue
	switch a.cfg.NotifyTransport {
	case config.TransportRedis:
		client, err := notification.NewRedisClient(ctx, a.cfg.RedisURL)
		if err != nil {
			return err
		}
		a.redis = client
		q = notification.NewRedisQueue(client, a.cfg.RedisQueueKey, a.cfg.NotifyQueueSize)
	default:
		q = notification.NewMemoryQueue(a.cfg.NotifyQueueSize)
	}

	var sender notification.Sender
	if a.cfg.NotifyWebhookURL != "" {
		sender = notification.NewWebhookSender(a.cfg.NotifyWebhookURL, a.cfg.NotifyWebhookKey, a.cfg.NotifyTimeout)
	} else {
		a.log.Warn().Msg("NOTIFY_WEBHOOK_URL not set, notifications will only be logged")
		sender = notification.NewLogSender(a.log.With().Str("component", "sender").Logger())
	}

	a.dispatcher = notification.NewDispatcher(q, sender,
		notification.WithWorkers(a.cfg.NotifyWorkers),
		notification.WithSendTimeout(a.cfg.NotifyTimeout),
		notification.WithLogger(a.log.With().Str("component", "dispatcher").Logger()),
		notification.WithRecorder(a.metrics),
	)
	return nil
}

func (a *app) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.log))
	e.Use(middleware.RequestID())
	e.Use(telemetry.Tracing(nil))
	e.Use(middleware.Logger(a.log))
	e.Use(a.metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(a.store))
	e.GET("/metrics", a.metrics.Handler())

	jwtCfg := jwtConfig(a.cfg)
	authMW := auth.JWTMiddleware(jwtCfg)
	if a.cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtCfg)
	}

	api := e.Group("/api",
		middleware.RateLimit(middleware.RateLimitConfig{
			Requests: a.cfg.RateLimitRequests,
			Window:   a.cfg.RateLimitWindow,
		}),
		authMW,
	)
	workflow.NewHandler(a.engine, workflow.NewProjections(a.store)).RegisterRoutes(api)
	api.GET("/ws/queues", websocket.NewHandler(a.feed, a.cfg.CORSOrigins, a.log.With().Str("component", "feed").Logger()).Connect)
	return e
}

func traceConfig(cfg *config.Config) telemetry.TraceConfig {
	return telemetry.TraceConfig{
		Exporter:    cfg.TraceExporter,
		Endpoint:    cfg.TraceEndpoint,
		SampleRatio: cfg.TraceSampleRatio,
		ServiceName: "clinicflow",
		Version:     version,
	}
}

// Close releases the store and broker connection.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close redis")
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close store")
	}
}

// runServer serves HTTP until ctx ends, then stops the server before
// draining queued notifications.
func runServer(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg)

	shutdownTracing, err := telemetry.InstallTracing(ctx, traceConfig(cfg))
	if err != nil {
		logger.Error().Err(err).Msg("failed to start tracing")
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn().Err(err).Msg("flush traces")
		}
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()

	g.Go(func() error {
		return a.dispatcher.Run(dispatchCtx, shutdownTimeout)
	})

	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := a.echo.Shutdown(sctx)
		stopDispatch()
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
