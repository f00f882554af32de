package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gws "github.com/gorilla/websocket"
	"github.com/xpanvictor/liverelay/internal/admission"
	"github.com/xpanvictor/liverelay/internal/config"
	"github.com/xpanvictor/liverelay/internal/handlers"
	"github.com/xpanvictor/liverelay/internal/handlers/websocket"
	"github.com/xpanvictor/liverelay/internal/lifecycle"
	"github.com/xpanvictor/liverelay/internal/metrics"
	"github.com/xpanvictor/liverelay/internal/upstream"
	"github.com/xpanvictor/liverelay/pkg/Logger"
)

type refusingDialer struct{}

func (refusingDialer) Connect(context.Context, upstream.Config, upstream.Callbacks) (upstream.Session, error) {
	return nil, errors.New("unavailable")
}

type routerFixture struct {
	srv       *httptest.Server
	lifecycle *lifecycle.Lifecycle
}

func testSettings() *config.Settings {
	return &config.Settings{
		Env:      config.EnvDevelopment,
		Debug:    true,
		LivePath: "/api/live",
	}
}

func newRouterFixture(t *testing.T, cfg *config.Settings) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := Logger.NewNop()
	m := metrics.New()
	l := lifecycle.New()
	manager := websocket.NewConnectionManager(logger)
	relay := websocket.NewRelayHandler(logger,
		websocket.Options{MaxPayloadBytes: 1 << 20, HeartbeatInterval: time.Minute, StartTimeout: time.Minute},
		admission.NewController(admission.Limits{MaxConnections: 10, MaxPerAddress: 10, MaxMessagesPerMinute: 100}),
		admission.NewOriginGuard(nil, false, logger),
		refusingDialer{}, manager, m)

	r, err := NewRouter(cfg, Dependencies{
		Relay:     relay,
		Health:    handlers.NewHealthHandler(l, manager, true),
		Lifecycle: l,
		Metrics:   m,
		Logger:    logger,
		Configs:   cfg,
	})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &routerFixture{srv: srv, lifecycle: l}
}

func (f *routerFixture) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func (f *routerFixture) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + path
}

func TestOperationalRoutes(t *testing.T) {
	f := newRouterFixture(t, testSettings())

	if code, body := f.get(t, "/healthz"); code != http.StatusOK || !strings.Contains(body, `"websocketConnections":0`) {
		t.Errorf("healthz: %d %s", code, body)
	}
	if code, body := f.get(t, "/readyz"); code != http.StatusOK || !strings.Contains(body, `"status":"ready"`) {
		t.Errorf("readyz: %d %s", code, body)
	}
	if code, body := f.get(t, "/metrics"); code != http.StatusOK || !strings.Contains(body, "liverelay_connections_active") {
		t.Errorf("metrics: %d", code)
	}
}

func TestSwaggerHiddenInProduction(t *testing.T) {
	cfg := testSettings()
	cfg.Env = config.EnvProduction
	f := newRouterFixture(t, cfg)

	if code, _ := f.get(t, "/swagger/index.html"); code != http.StatusNotFound {
		t.Errorf("swagger in production: status=%d, want 404", code)
	}
}

func TestFallbackNotFound(t *testing.T) {
	f := newRouterFixture(t, testSettings())

	code, body := f.get(t, "/nope")
	if code != http.StatusNotFound || !strings.Contains(body, `"error":"Not found"`) {
		t.Errorf("got %d %s", code, body)
	}
	// plain GET on the live path is not an upgrade and falls through
	if code, _ := f.get(t, "/api/live"); code != http.StatusNotFound {
		t.Errorf("plain GET on live path: status=%d, want 404", code)
	}
}

func TestFallbackStaticDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>shell</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testSettings()
	cfg.StaticDir = dir
	f := newRouterFixture(t, cfg)

	if code, body := f.get(t, "/app.js"); code != http.StatusOK || body != "console.log(1)" {
		t.Errorf("app.js: %d %q", code, body)
	}
	if code, body := f.get(t, "/settings/voice"); code != http.StatusOK || !strings.Contains(body, "shell") {
		t.Errorf("client route: %d %q", code, body)
	}
}

func TestFallbackProxy(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "app:"+r.URL.Path)
	}))
	defer backend.Close()

	cfg := testSettings()
	cfg.AppProxyURL = backend.URL
	f := newRouterFixture(t, cfg)

	if code, body := f.get(t, "/dashboard"); code != http.StatusOK || body != "app:/dashboard" {
		t.Errorf("proxy: %d %q", code, body)
	}
	// operational routes stay local
	if code, _ := f.get(t, "/healthz"); code != http.StatusOK {
		t.Errorf("healthz behind proxy: %d", code)
	}
}

func TestLivePathUpgrades(t *testing.T) {
	f := newRouterFixture(t, testSettings())

	c, resp, err := gws.DefaultDialer.Dial(f.wsURL("/api/live"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Errorf("status=%d, want 101", resp.StatusCode)
	}
}

func TestDrainingRejectsEveryUpgrade(t *testing.T) {
	f := newRouterFixture(t, testSettings())
	f.lifecycle.SetDraining(true)

	for _, path := range []string{"/api/live", "/elsewhere"} {
		_, resp, err := gws.DefaultDialer.Dial(f.wsURL(path), nil)
		if err == nil {
			t.Fatalf("%s: upgrade completed while draining", path)
		}
		if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s: resp=%v, want 503", path, resp)
		}
	}
	if code, body := f.get(t, "/readyz"); code != http.StatusServiceUnavailable || !strings.Contains(body, `"shuttingDown":true`) {
		t.Errorf("readyz while draining: %d %s", code, body)
	}
}

func clientIPRouter(t *testing.T, cfg *config.Settings) *gin.Engine {
	t.Helper()
	f := newRouterFixture(t, cfg)
	r := f.srv.Config.Handler.(*gin.Engine)
	r.GET("/client-ip", func(c *gin.Context) { c.String(http.StatusOK, c.ClientIP()) })
	return r
}

func clientIP(r *gin.Engine, remote, forwarded string) string {
	req := httptest.NewRequest(http.MethodGet, "/client-ip", nil)
	req.RemoteAddr = remote
	req.Header.Set("X-Forwarded-For", forwarded)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec.Body.String()
}

func TestForwardedForIgnoredWithoutTrustProxy(t *testing.T) {
	cfg := testSettings()
	cfg.TrustedProxies = []string{"10.0.0.1"}
	r := clientIPRouter(t, cfg)

	if got := clientIP(r, "10.0.0.1:4000", "203.0.113.7"); got != "10.0.0.1" {
		t.Errorf("client ip=%q, want socket address", got)
	}
}

func TestForwardedForOnlyFromTrustedProxies(t *testing.T) {
	cfg := testSettings()
	cfg.TrustProxy = true
	cfg.TrustedProxies = []string{"10.0.0.1"}
	r := clientIPRouter(t, cfg)

	if got := clientIP(r, "10.0.0.1:4000", "203.0.113.7"); got != "203.0.113.7" {
		t.Errorf("via trusted proxy: client ip=%q, want forwarded address", got)
	}
	// a direct client cannot pick its own address
	if got := clientIP(r, "192.0.2.9:4000", "203.0.113.7"); got != "192.0.2.9" {
		t.Errorf("direct client: client ip=%q, want socket address", got)
	}
}

func TestInvalidTrustedProxy(t *testing.T) {
	cfg := testSettings()
	cfg.TrustProxy = true
	cfg.TrustedProxies = []string{"not-an-ip"}

	_, err := NewRouter(cfg, Dependencies{
		Lifecycle: lifecycle.New(),
		Metrics:   metrics.New(),
		Logger:    Logger.NewNop(),
		Configs:   cfg,
	})
	if err == nil || !strings.Contains(err.Error(), "trusted proxies") {
		t.Fatalf("err=%v, want trusted proxies error", err)
	}
}
