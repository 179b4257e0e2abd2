package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/robfig/cron"

	"divorcecast/internal/config"
	apperrors "divorcecast/internal/errors"
	"divorcecast/internal/infrastructure"
	"divorcecast/internal/memo"
	customMiddleware "divorcecast/internal/middleware"
	"divorcecast/internal/services"
	handlers "divorcecast/internal/transport/http"
	ws "divorcecast/internal/websocket"
)

const (
	AppName = "divorcecast"
)

var (
	// VERSION and BuildTime are set at link time.
	VERSION   = "dev"
	BuildTime = "unknown"
)

// Application owns every long-lived component of the API server.
type Application struct {
	Config        *config.Config
	Paths         *config.Paths
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.BusinessMetrics
	Store         memo.Store
	Cache         *memo.Cache
	WebSocketHub  *ws.Hub
	Dashboard     *services.DashboardService
	HealthService *services.HealthService
	Watcher       *memo.Watcher
	Scheduler     *cron.Cron
}

// NewApplication loads configuration from the environment and builds the
// application.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	return New(cfg, logger, otelProviders)
}

// New wires an application from an already loaded configuration.
// otelProviders may be nil, in which case telemetry is a no-op.
func New(cfg *config.Config, logger *slog.Logger, otelProviders *infrastructure.OTelProviders) (*Application, error) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", VERSION))

	paths, err := cfg.GetPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to get paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}
	paths.LogPathResolution(logger)

	if otelProviders == nil {
		otelProviders, err = infrastructure.InitializeOTel(&infrastructure.OTelConfig{
			ServiceName:    infrastructure.ServiceName,
			ServiceVersion: VERSION,
			Environment:    "test",
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
		}
	}

	metrics, err := infrastructure.CreateBusinessMetrics(otelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create business metrics: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Paths:         paths,
		Logger:        logger,
		OTelProviders: otelProviders,
		Metrics:       metrics,
	}

	if err := a.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	a.setupRouter()
	a.createServer()

	return a, nil
}

// initializeServices builds the cache, hub and services in dependency order.
func (a *Application) initializeServices() error {
	ctx := context.Background()

	store, err := memo.NewStore(ctx, a.Config.Cache, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create cache store: %w", err)
	}
	a.Store = store
	a.Cache = memo.NewCache(store, a.Config.Cache.TTL, a.Logger, a.Metrics)

	a.WebSocketHub = ws.NewHub(a.Config.WebSocket, a.Logger, a.Metrics)

	dash, err := services.NewDashboardService(services.DashboardDeps{
		Config:   a.Config,
		Paths:    a.Paths,
		Cache:    a.Cache,
		Metrics:  a.Metrics,
		Notifier: a.WebSocketHub,
		Logger:   a.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create dashboard service: %w", err)
	}
	a.Dashboard = dash
	a.HealthService = services.NewHealthService(VERSION, BuildTime, a.Paths, dash, a.WebSocketHub, a.Logger)

	if a.Config.Cache.Watch {
		watcher, err := memo.NewWatcher(a.Paths.DataDir, a.Cache, a.Logger, func(ctx context.Context, file string) {
			dash.HandleDatasetChange(infrastructure.EnsureTraceID(ctx), file)
		})
		if err != nil {
			a.Logger.Warn("Data directory watcher disabled", slog.String("error", err.Error()))
		} else {
			a.Watcher = watcher
		}
	}

	if spec := a.Config.Cache.WarmSchedule; spec != "" {
		scheduler := cron.New()
		if err := scheduler.AddFunc(spec, a.warmCache); err != nil {
			return apperrors.NewConfigError(fmt.Sprintf("invalid warm schedule %q", spec), err)
		}
		a.Scheduler = scheduler
	}

	return nil
}

func (a *Application) warmCache() {
	ctx, cancel := context.WithTimeout(infrastructure.EnsureTraceID(context.Background()), a.Config.Server.TuneTimeout)
	defer cancel()
	logger := infrastructure.WithComponent(a.Logger, "scheduler")
	if err := a.Dashboard.Warm(ctx); err != nil {
		logger.WarnContext(ctx, "Scheduled cache warm incomplete", slog.String("error", err.Error()))
		return
	}
	logger.DebugContext(ctx, "Scheduled cache warm complete")
}

// setupRouter keeps /ws outside the group so no middleware wraps the
// ResponseWriter before the upgrade.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	r.Handle("/ws", ws.NewHandler(a.WebSocketHub, a.Config.WebSocket, a.Config.Security.AllowedOrigins, a.Logger))

	errorHandler := apperrors.NewErrorHandler(a.Logger, a.Config.Logging.Development)
	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	r.Group(func(r chi.Router) {
		otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders, a.Metrics)
		if err != nil {
			a.Logger.Error("Failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
		} else {
			r.Use(otelMiddleware.Handler)
		}

		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.SecurityHeaders)
		if a.Config.Security.EnableCORS {
			r.Use(customMiddleware.CORS(a.getCORSConfig()))
		}
		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		a.setupAPIRoutes(r, errorHandler)
	})

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router, errorHandler *apperrors.ErrorHandler) {
	forecastHandler := handlers.NewForecastHandler(a.Dashboard, a.Config.Forecast, a.Logger, errorHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.Timeout(a.Config.Server.RequestTimeout, a.Logger))

			handlers.NewHealthHandler(a.HealthService, a.Logger).Register(r)

			r.Mount("/metrics", handlers.NewMetricsHandler(a.Dashboard, a.WebSocketHub).Routes())
			r.Mount("/data", handlers.NewDataHandler(a.Dashboard, a.Logger, errorHandler).Routes())
			r.Mount("/forecast", forecastHandler.Routes())
			r.Mount("/regions", handlers.NewRegionHandler(a.Dashboard, a.Logger, errorHandler).Routes())
		})

		// Tuning runs many fits and gets its own timeout.
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.Timeout(a.Config.Server.TuneTimeout, a.Logger))
			r.Use(apperrors.NewErrorMiddleware(errorHandler, a.Logger).Handler)
			r.Mount("/forecast/tune", forecastHandler.TuneRoutes())
		})
	})
}

// getCORSConfig returns CORS configuration for the dashboard front-ends.
func (a *Application) getCORSConfig() customMiddleware.CORSConfig {
	return customMiddleware.CORSConfig{
		AllowedOrigins: a.Config.Security.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			customMiddleware.RequestIDHeader,
		},
		ExposedHeaders: []string{
			customMiddleware.RequestIDHeader,
			"Content-Disposition",
		},
		MaxAge: 300,
		Logger: a.Logger,
	}
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start starts background services and the HTTP server. A listen failure
// calls cancel.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", AppName),
		slog.String("version", VERSION),
		slog.Int("port", a.Config.Server.Port),
		slog.String("data_dir", a.Paths.DataDir),
		slog.String("cache_backend", a.Config.Cache.Backend))

	a.WebSocketHub.Start()

	if a.Watcher != nil {
		go func() {
			if err := a.Watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.ErrorContext(ctx, "Data directory watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	if a.Scheduler != nil {
		a.Scheduler.Start()
		a.Logger.InfoContext(ctx, "Cache warm schedule active",
			slog.String("schedule", a.Config.Cache.WarmSchedule))
	}

	a.checkStartupData(ctx)

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "Application started successfully",
		slog.String("address", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)))
	return nil
}

// checkStartupData logs each input file's load status. Missing files are
// not fatal; their panels report the failure.
func (a *Application) checkStartupData(ctx context.Context) {
	var failed int
	for _, status := range a.Dashboard.DataStatus(ctx) {
		if !status.OK {
			failed++
			a.Logger.WarnContext(ctx, "Dataset unavailable",
				slog.String("dataset", status.Dataset),
				slog.String("file", status.File),
				slog.String("reason", status.Message))
		}
	}
	if failed == 0 {
		a.Logger.InfoContext(ctx, "Startup data check passed")
	}
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}

	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Watcher != nil {
		if err := a.Watcher.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "Error closing watcher", slog.String("error", err.Error()))
		}
	}
	a.WebSocketHub.Stop()

	if closer, ok := a.Store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "Error closing cache store", slog.String("error", err.Error()))
		}
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "Received interrupt signal")
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}
