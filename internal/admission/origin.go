package admission

import (
	"net/http"
	"strings"

	"github.com/xpanvictor/liverelay/pkg/Logger"
)

// IsAllowed reports whether a browser origin may open the relay socket.
// A missing origin is always allowed, and so is everything outside
// production. In production only the deployment's own origin or an exact
// allow-list entry passes.
func IsAllowed(origin, host, forwardedProto string, allowlist []string, production bool) bool {
	if origin == "" || !production {
		return true
	}
	if origin == expectedOrigin(host, forwardedProto) {
		return true
	}
	for _, allowed := range allowlist {
		if origin == allowed {
			return true
		}
	}
	return false
}

func expectedOrigin(host, forwardedProto string) string {
	proto := strings.TrimSpace(forwardedProto)
	if i := strings.IndexByte(proto, ','); i >= 0 {
		proto = strings.TrimSpace(proto[:i])
	}
	if proto == "" {
		proto = "http"
	}
	return proto + "://" + host
}

// OriginGuard applies IsAllowed to upgrade requests and logs rejections.
type OriginGuard struct {
	allowlist  []string
	production bool
	logger     *Logger.Logger
}

func NewOriginGuard(allowlist []string, production bool, logger *Logger.Logger) *OriginGuard {
	if logger == nil {
		logger = Logger.NewNop()
	}
	list := make([]string, len(allowlist))
	copy(list, allowlist)
	return &OriginGuard{allowlist: list, production: production, logger: logger}
}

func (g *OriginGuard) Allow(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" && r.TLS != nil {
		proto = "https"
	}
	if IsAllowed(origin, r.Host, proto, g.allowlist, g.production) {
		return true
	}
	g.logger.Warnf("Rejected websocket origin %q for host %q", origin, r.Host)
	return false
}
