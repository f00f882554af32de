package server

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/xpanvictor/liverelay/internal/config"
	"github.com/xpanvictor/liverelay/internal/handlers"
	"github.com/xpanvictor/liverelay/internal/handlers/websocket"
	"github.com/xpanvictor/liverelay/internal/lifecycle"
	"github.com/xpanvictor/liverelay/internal/metrics"
	"github.com/xpanvictor/liverelay/pkg/Logger"

	_ "github.com/xpanvictor/liverelay/docs"
)

type Dependencies struct {
	Relay     *websocket.RelayHandler
	Health    *handlers.HealthHandler
	Lifecycle *lifecycle.Lifecycle
	Metrics   *metrics.Metrics
	Logger    *Logger.Logger
	Configs   *config.Settings
}

// NewRouter builds the engine with the shared middleware stack and routes.
func NewRouter(cfg *config.Settings, dep Dependencies) (*gin.Engine, error) {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	// with no trusted proxies ClientIP falls back to the socket address
	var trusted []string
	if cfg.TrustProxy {
		trusted = cfg.TrustedProxies
	}
	if err := r.SetTrustedProxies(trusted); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	r.Use(handlers.ErrorHandlerMiddleware(dep.Logger))
	r.Use(handlers.RequestLoggerMiddleware(dep.Logger))

	if err := InitializeRoutes(cfg, r, dep); err != nil {
		return nil, err
	}
	return r, nil
}

func InitializeRoutes(cfg *config.Settings, r *gin.Engine, dep Dependencies) error {
	// global, so NoRoute upgrades are refused as well
	r.Use(handlers.DrainingUpgradeGuard(dep.Lifecycle.IsDraining, websocket.RejectUpgrade))

	r.GET("/healthz", dep.Health.Healthz)
	r.GET("/readyz", dep.Health.Readyz)
	r.GET("/metrics", gin.WrapH(dep.Metrics.Handler()))
	if !cfg.IsProduction() {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	fallback, err := newFallback(cfg, dep.Logger)
	if err != nil {
		return err
	}
	r.GET(cfg.LivePath, func(c *gin.Context) {
		if handlers.IsUpgradeRequest(c) {
			dep.Relay.ServeLive(c)
			return
		}
		fallback(c)
	})
	r.NoRoute(fallback)
	return nil
}

// newFallback returns the handler for traffic the relay does not own:
// a reverse proxy when an app URL is configured, else a static root,
// else a JSON 404.
func newFallback(cfg *config.Settings, logger *Logger.Logger) (gin.HandlerFunc, error) {
	if cfg.AppProxyURL != "" {
		target, err := url.Parse(cfg.AppProxyURL)
		if err != nil {
			return nil, err
		}
		proxy := httputil.NewSingleHostReverseProxy(target)
		proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warnf("App proxy request %s failed: %v", r.URL.Path, err)
			w.WriteHeader(http.StatusBadGateway)
		}
		return gin.WrapH(proxy), nil
	}
	if cfg.StaticDir != "" {
		return staticHandler(cfg.StaticDir), nil
	}
	return notFound, nil
}

func staticHandler(root string) gin.HandlerFunc {
	index := filepath.Join(root, "index.html")
	return func(c *gin.Context) {
		name := filepath.Join(root, filepath.FromSlash(path.Clean("/"+c.Request.URL.Path)))
		if info, err := os.Stat(name); err == nil && !info.IsDir() {
			c.File(name)
			return
		}
		// client side routes resolve to the app shell
		if _, err := os.Stat(index); err == nil {
			c.File(index)
			return
		}
		notFound(c)
	}
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, handlers.ErrorResponse{Error: "Not found", Details: c.Request.URL.Path})
}
