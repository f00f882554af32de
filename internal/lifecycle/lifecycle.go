package lifecycle

import (
	"sync/atomic"
	"time"
)

// Lifecycle is the process state shared by readiness, the upgrade guard and
// the shutdown coordinator.
type Lifecycle struct {
	startedAt time.Time
	draining  atomic.Bool
}

func New() *Lifecycle {
	return &Lifecycle{startedAt: time.Now()}
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// Uptime since New, rounded to whole seconds.
func (l *Lifecycle) Uptime() time.Duration {
	if l == nil {
		return 0
	}
	return time.Since(l.startedAt).Round(time.Second)
}
