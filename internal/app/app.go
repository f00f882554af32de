package app

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/xpanvictor/liverelay/internal/admission"
	"github.com/xpanvictor/liverelay/internal/config"
	"github.com/xpanvictor/liverelay/internal/handlers"
	"github.com/xpanvictor/liverelay/internal/handlers/websocket"
	"github.com/xpanvictor/liverelay/internal/lifecycle"
	"github.com/xpanvictor/liverelay/internal/metrics"
	"github.com/xpanvictor/liverelay/internal/server"
	"github.com/xpanvictor/liverelay/internal/upstream"
	"github.com/xpanvictor/liverelay/internal/upstream/gemini"
	"github.com/xpanvictor/liverelay/pkg/Logger"
)

// App represents the application with all its dependencies
type App struct {
	Config      *config.Settings
	Logger      *Logger.Logger
	Metrics     *metrics.Metrics
	Lifecycle   *lifecycle.Lifecycle
	Admission   *admission.Controller
	Dialer      upstream.Dialer
	Connections *websocket.ConnectionManager
	Server      *http.Server
	Coordinator *lifecycle.Coordinator
}

// NewApp creates a new application instance with all dependencies properly wired
func NewApp(cfg *config.Settings, logger *Logger.Logger) (*App, error) {
	return NewAppWithDialer(cfg, logger, gemini.New(cfg.GeminiAPIKey, logger))
}

// NewAppWithDialer wires the app against the given upstream dialer.
func NewAppWithDialer(cfg *config.Settings, logger *Logger.Logger, dialer upstream.Dialer) (*App, error) {
	if logger == nil {
		logger = Logger.NewNop()
	}
	a := &App{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics.New(),
		Lifecycle: lifecycle.New(),
		Dialer:    dialer,
	}
	if err := a.setupDependencies(); err != nil {
		return nil, err
	}
	return a, nil
}

// setupDependencies initializes all application dependencies
func (a *App) setupDependencies() error {
	cfg := a.Config
	if cfg.IsProduction() && len(cfg.AllowedOrigins) == 0 {
		a.Logger.Warn("ALLOWED_ORIGINS is empty, only same-host origins will be accepted")
	}
	if !cfg.HasCredential() {
		a.Logger.Warn("GEMINI_API_KEY not configured, readiness will fail and sessions cannot start")
	}

	// 1. admission
	a.Admission = admission.NewController(admission.Limits{
		MaxConnections:       cfg.MaxConnections,
		MaxPerAddress:        cfg.MaxConnectionsPerIP,
		MaxMessagesPerMinute: cfg.MaxMessagesPerMinute,
		AttemptsPerMinute:    cfg.ConnectAttemptsPerMinute,
	})
	origins := admission.NewOriginGuard(cfg.AllowedOrigins, cfg.IsProduction(), a.Logger)

	// 2. relay
	a.Connections = websocket.NewConnectionManager(a.Logger)
	relay := websocket.NewRelayHandler(a.Logger, websocket.Options{
		MaxPayloadBytes:   cfg.MaxPayloadBytes,
		HeartbeatInterval: cfg.HeartbeatInterval,
		StartTimeout:      cfg.StartTimeout,
		Session: websocket.SessionOptions{
			Model:               cfg.GeminiModel,
			DefaultVoice:        cfg.DefaultVoice,
			DefaultInstruction:  cfg.DefaultSystemInstruction,
			MaxInstructionChars: cfg.MaxSystemInstructionChars,
			IdleTimeout:         cfg.UpstreamIdleTimeout,
		},
	}, a.Admission, origins, a.Dialer, a.Connections, a.Metrics)

	// 3. router
	router, err := server.NewRouter(cfg, server.Dependencies{
		Relay:     relay,
		Health:    handlers.NewHealthHandler(a.Lifecycle, a.Connections, cfg.HasCredential()),
		Lifecycle: a.Lifecycle,
		Metrics:   a.Metrics,
		Logger:    a.Logger,
		Configs:   cfg,
	})
	if err != nil {
		return err
	}
	a.Server = &http.Server{
		Addr:    cfg.Addr(),
		Handler: router.Handler(),
	}
	a.Coordinator = lifecycle.NewCoordinator(a.Lifecycle, a.Connections, a.Server, cfg.ShutdownTimeout, a.Logger)
	return nil
}

// Run listens on the configured address and serves until ctx is done.
func (a *App) Run(ctx context.Context) int {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		a.Logger.Errorf("Failed to listen on %s: %v", a.Server.Addr, err)
		return 1
	}
	return a.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is done, then runs the shutdown sequence
// and returns the process exit code.
func (a *App) Serve(ctx context.Context, ln net.Listener) int {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Server.Serve(ln)
	}()
	a.Logger.Infof("Relay listening on %s (live path %s)", ln.Addr(), a.Config.LivePath)

	select {
	case <-ctx.Done():
		a.Logger.Info("Termination signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Errorf("Server exiting: %v", err)
		}
		a.Lifecycle.SetDraining(true)
		a.Connections.CloseAll(websocket.CloseServiceRestart, lifecycle.ShutdownReason)
		return 1
	}
	return a.Coordinator.Shutdown()
}
