package websocket

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/xpanvictor/liverelay/pkg/Logger"
)

// ConnectionManager tracks every open relay connection in the process.
type ConnectionManager struct {
	logger *Logger.Logger
	mutex  sync.Mutex
	conns  map[uuid.UUID]*Connection
	// closed and replaced on every Unregister so Wait can re-check
	changed chan struct{}
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(logger *Logger.Logger) *ConnectionManager {
	if logger == nil {
		logger = Logger.NewNop()
	}
	return &ConnectionManager{
		logger:  logger,
		conns:   make(map[uuid.UUID]*Connection),
		changed: make(chan struct{}),
	}
}

// Register adds a connection
func (cm *ConnectionManager) Register(c *Connection) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.conns[c.ID] = c
	cm.logger.Debugf("Registered connection %s from %s (%d open)", c.ID, c.RemoteAddr, len(cm.conns))
}

// Unregister removes a connection; unknown ids are ignored
func (cm *ConnectionManager) Unregister(id uuid.UUID) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if _, ok := cm.conns[id]; !ok {
		return
	}
	delete(cm.conns, id)
	close(cm.changed)
	cm.changed = make(chan struct{})
}

func (cm *ConnectionManager) Count() int {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	return len(cm.conns)
}

// CloseAll sends a close frame with code and reason to every tracked
// connection and returns how many were signalled. Connections stay tracked
// until their handlers unregister them.
func (cm *ConnectionManager) CloseAll(code int, reason string) int {
	cm.mutex.Lock()
	conns := make([]*Connection, 0, len(cm.conns))
	for _, c := range cm.conns {
		conns = append(conns, c)
	}
	cm.mutex.Unlock()

	for _, c := range conns {
		c.CloseWith(code, reason)
	}
	if len(conns) > 0 {
		cm.logger.Infof("Sent close %d to %d connections", code, len(conns))
	}
	return len(conns)
}

// Wait blocks until no connections are tracked or ctx is done.
func (cm *ConnectionManager) Wait(ctx context.Context) error {
	for {
		cm.mutex.Lock()
		if len(cm.conns) == 0 {
			cm.mutex.Unlock()
			return nil
		}
		changed := cm.changed
		cm.mutex.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
