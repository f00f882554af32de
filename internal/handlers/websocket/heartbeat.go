package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// runHeartbeat pings the peer every interval. A peer that has not answered
// the previous ping by the next tick is terminated. Returns when the
// connection starts closing.
func (c *Connection) runHeartbeat(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if !c.alive.Swap(false) {
				c.logger.Infof("Peer missed heartbeat, terminating")
				c.metrics.LivenessTerminated()
				c.Terminate()
				return
			}
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debugf("Ping failed: %v", err)
			}
		}
	}
}

// watchStart closes the connection with a policy violation if started still
// reports false after timeout. The returned timer must be stopped on cleanup.
func (c *Connection) watchStart(timeout time.Duration, started func() bool) *time.Timer {
	return time.AfterFunc(timeout, func() {
		if started() || c.Closing() {
			return
		}
		c.logger.Infof("No start message within %s, closing", timeout)
		c.SendError("Session start timeout: no start message received")
		c.CloseWith(ClosePolicy, "start timeout")
	})
}
