package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"classpulse/internal/api"
	"classpulse/internal/auth"
	"classpulse/internal/config"
	"classpulse/internal/database"
	"classpulse/internal/hub"
	"classpulse/internal/router"
	"classpulse/internal/session"
	"classpulse/internal/stats"
	"classpulse/internal/websocket"
	"classpulse/pkg/logger"
	"classpulse/pkg/metrics"
)

// housekeepingInterval paces rate-limit cleanup and registry gauges
const housekeepingInterval = time.Minute

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	log        logger.Logger
	store      database.AdminStore
	sessions   *session.Manager
	registry   *websocket.Registry
	router     *router.Router
	wsHandler  *websocket.Handler
	hub        *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Logging → Metrics → Store → Registry → Stats → Sessions → Router → WebSocket → Hub → API → HTTP
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Logging
	if err := logger.InitWithWriter(os.Stdout, cfg.LogFormat); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to set log level: %w", err)
	}
	log := logger.Named("app")

	// STEP 2: Metrics registry; a second application in one process keeps the first registry
	err := metrics.Configure(
		metrics.WithNamespace(cfg.Metrics.Namespace),
		metrics.WithMetricsEnabled(cfg.Metrics.Enabled),
	)
	if err != nil && !errors.Is(err, metrics.ErrAlreadyConfigured) {
		return nil, fmt.Errorf("failed to configure metrics: %w", err)
	}

	// STEP 3: Store (foundation layer), migrated before use
	store, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.StoreConfig(), logger.Named("database"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	verifier, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize token verifier: %w", err)
	}

	// STEP 4: Connection-group registry
	registry := websocket.NewRegistry(logger.Named("registry"))

	// STEP 5: Statistics and session lifecycle
	aggregator := stats.NewAggregator(store, cfg.Stats.RecentWindow, logger.Named("stats"))
	sessions := session.NewManager(store, registry, logger.Named("session"))

	// STEP 6: Message router with dependencies
	messageRouter := router.NewRouter(registry, store, sessions, aggregator, logger.Named("router"),
		router.WithRateLimit(cfg.WebSocket.RateLimit))

	// STEP 7: WebSocket handler
	wsHandler := websocket.NewHandler(registry, store, verifier, messageRouter,
		websocketConfig(cfg.WebSocket), logger.Named("websocket"))

	// STEP 8: Housekeeping hub
	housekeeping, err := hub.NewHub(messageRouter, registry, housekeepingInterval, logger.Named("hub"))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize hub: %w", err)
	}

	// STEP 9: API server with the WebSocket route mounted
	apiServer := api.NewServer(api.Dependencies{
		Lifecycle:      sessions,
		Stats:          aggregator,
		Store:          store,
		Registry:       registry,
		Verifier:       verifier,
		WebSocket:      wsHandler.HandleWebSocket,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		AuthTimeout:    cfg.WebSocket.AuthTimeout,
		Log:            logger.Named("api"),
	})

	// STEP 10: HTTP server
	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		log:        log,
		store:      store,
		sessions:   sessions,
		registry:   registry,
		router:     messageRouter,
		wsHandler:  wsHandler,
		hub:        housekeeping,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

func websocketConfig(c config.WebSocketConfig) websocket.Config {
	return websocket.Config{
		PingInterval:   c.PingInterval,
		ReadTimeout:    c.ReadTimeout,
		WriteTimeout:   c.WriteTimeout,
		BufferSize:     c.BufferSize,
		TickInterval:   c.TickInterval,
		AuthTimeout:    c.AuthTimeout,
		AllowedOrigins: c.AllowedOrigins,
	}
}

// Start begins application execution
// Hub starts first, then the HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	app.log.Info(ctx, "Starting classpulse", logger.String("addr", app.httpServer.Addr))

	// STEP 1: Start housekeeping
	if err := app.hub.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	// STEP 2: Bind before serving so the address is known and bind errors surface here
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.hub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.mu.Lock()
	app.listener = listener
	app.mu.Unlock()

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Verify server is ready before returning
	select {
	case err := <-serverErrCh:
		_ = app.hub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		app.log.Info(ctx, "classpulse started", logger.String("addr", listener.Addr().String()))
		return nil
	case <-ctx.Done():
		_ = app.httpServer.Close()
		_ = app.hub.Stop()
		return ctx.Err()
	}
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → WebSocket connections → Hub → Store
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info(ctx, "Shutting down classpulse")
	var errs []error

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	// STEP 2: Close hijacked WebSocket connections and wait for their teardown
	if err := app.wsHandler.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("websocket shutdown: %w", err))
	}

	// STEP 3: Stop housekeeping
	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}

	// STEP 4: Close the store
	if err := app.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		app.log.Error(ctx, "Shutdown completed with errors", logger.Error(err))
		return err
	}
	app.log.Info(ctx, "classpulse shutdown complete")
	return nil
}

// GetAddr returns the bound address once started, the configured one before
func (app *Application) GetAddr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Store exposes the store for administrative commands
func (app *Application) Store() database.AdminStore {
	return app.store
}
