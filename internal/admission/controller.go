// Package admission decides whether new relay connections and individual
// messages may proceed. All counters are process-local.
package admission

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrCapacity    = errors.New("server at capacity")
	ErrPerAddress  = errors.New("too many connections from this address")
	ErrRateLimited = errors.New("too many connection attempts")
)

// Limits holds the configured ceilings. AttemptsPerMinute of zero disables
// the connect-attempt limiter.
type Limits struct {
	MaxConnections       int
	MaxPerAddress        int
	MaxMessagesPerMinute int
	AttemptsPerMinute    int
}

// Decision is the outcome of AdmitConnection. When Allowed, Permit must be
// released exactly once when the connection goes away; Release is idempotent.
type Decision struct {
	Allowed bool
	Err     error
	Status  int
	Permit  *Permit
}

func (d Decision) Reason() string {
	if d.Err == nil {
		return ""
	}
	return d.Err.Error()
}

type Permit struct {
	once    sync.Once
	release func()
}

func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		if p.release != nil {
			p.release()
		}
	})
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Controller owns the global and per-address active-connection counters.
type Controller struct {
	limits Limits
	now    func() time.Time

	mu        sync.Mutex
	total     int
	perAddr   map[string]int
	visitors  map[string]*visitor
	lastSweep time.Time
}

const visitorTTL = 3 * time.Minute

func NewController(limits Limits) *Controller {
	return NewControllerWithClock(limits, time.Now)
}

// NewControllerWithClock is NewController with an injectable clock.
func NewControllerWithClock(limits Limits, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{
		limits:    limits,
		now:       now,
		perAddr:   make(map[string]int),
		visitors:  make(map[string]*visitor),
		lastSweep: now(),
	}
}

// AdmitConnection checks the global cap, then the per-address cap, then the
// connect-attempt rate. On success both counters are incremented atomically
// with respect to other decisions.
func (c *Controller) AdmitConnection(addr string) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.total >= c.limits.MaxConnections {
		return Decision{Err: ErrCapacity, Status: http.StatusServiceUnavailable}
	}
	if c.perAddr[addr] >= c.limits.MaxPerAddress {
		return Decision{Err: ErrPerAddress, Status: http.StatusTooManyRequests}
	}
	if !c.allowAttemptLocked(addr) {
		return Decision{Err: ErrRateLimited, Status: http.StatusTooManyRequests}
	}

	c.total++
	c.perAddr[addr]++
	return Decision{
		Allowed: true,
		Status:  http.StatusSwitchingProtocols,
		Permit:  &Permit{release: func() { c.release(addr) }},
	}
}

func (c *Controller) release(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.total > 0 {
		c.total--
	}
	if n := c.perAddr[addr]; n <= 1 {
		delete(c.perAddr, addr)
	} else {
		c.perAddr[addr] = n - 1
	}
}

func (c *Controller) allowAttemptLocked(addr string) bool {
	if c.limits.AttemptsPerMinute <= 0 {
		return true
	}
	now := c.now()
	if now.Sub(c.lastSweep) > visitorTTL {
		for k, v := range c.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(c.visitors, k)
			}
		}
		c.lastSweep = now
	}

	v, ok := c.visitors[addr]
	if !ok {
		n := c.limits.AttemptsPerMinute
		v = &visitor{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)}
		c.visitors[addr] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Active returns the global active-connection count.
func (c *Controller) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// ActiveFor returns the active count for one address; zero when untracked.
func (c *Controller) ActiveFor(addr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perAddr[addr]
}

// TrackedAddresses returns how many addresses currently hold a connection.
func (c *Controller) TrackedAddresses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.perAddr)
}

// NewWindow returns a per-connection message window bound to this
// controller's ceiling and clock.
func (c *Controller) NewWindow() *MessageWindow {
	return newMessageWindow(c.limits.MaxMessagesPerMinute, c.now)
}
