package lifecycle

import (
	"context"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xpanvictor/liverelay/pkg/Logger"
)

const ShutdownReason = "Server shutting down"

// Connections is the set of open relay sockets.
type Connections interface {
	CloseAll(code int, reason string) int
	Count() int
	Wait(ctx context.Context) error
}

// Server is the HTTP listener, normally *http.Server.
type Server interface {
	Shutdown(ctx context.Context) error
}

// Coordinator runs the graceful shutdown sequence once a termination signal
// has arrived.
type Coordinator struct {
	lifecycle *Lifecycle
	conns     Connections
	server    Server
	timeout   time.Duration
	logger    *Logger.Logger

	// exit is called by the failsafe timer; os.Exit outside tests
	exit func(code int)
}

func NewCoordinator(l *Lifecycle, conns Connections, server Server, timeout time.Duration, logger *Logger.Logger) *Coordinator {
	if logger == nil {
		logger = Logger.NewNop()
	}
	return &Coordinator{
		lifecycle: l,
		conns:     conns,
		server:    server,
		timeout:   timeout,
		logger:    logger,
		exit:      os.Exit,
	}
}

// Shutdown marks the process draining, sends a service-restart close to
// every connection, then closes the listener. It returns the process exit
// code: 0 when the listener closed cleanly, 1 otherwise. If the sequence has
// not finished within the timeout the failsafe exits the process with 1.
func (c *Coordinator) Shutdown() int {
	c.lifecycle.SetDraining(true)
	c.logger.Infof("Shutdown started, draining %d connections", c.conns.Count())

	// the failsafe is the only deadline on the graceful steps below
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	failsafe := time.AfterFunc(c.timeout, func() {
		c.logger.Errorf("Shutdown did not finish within %s, forcing exit", c.timeout)
		c.exit(1)
		cancel()
	})
	defer failsafe.Stop()

	c.conns.CloseAll(websocket.CloseServiceRestart, ShutdownReason)

	code := 0
	if err := c.server.Shutdown(ctx); err != nil {
		c.logger.Errorf("HTTP server shutdown failed: %v", err)
		code = 1
	}
	// hijacked sockets are not tracked by the HTTP server
	if err := c.conns.Wait(ctx); err != nil {
		c.logger.Warnf("%d connections still open at shutdown: %v", c.conns.Count(), err)
	}

	c.logger.Infof("Shutdown complete")
	return code
}
