package admission

import "time"

// MessageWindowLength is the fixed rate window for per-connection messages.
const MessageWindowLength = time.Minute

// MessageWindow is a fixed-window message counter for a single connection.
// It is only touched by the connection's read loop, so it is not locked.
type MessageWindow struct {
	limit   int
	now     func() time.Time
	started time.Time
	count   int
}

func newMessageWindow(limit int, now func() time.Time) *MessageWindow {
	return &MessageWindow{limit: limit, now: now, started: now()}
}

// Admit counts one message and reports whether it is within the ceiling.
// The window restarts once MessageWindowLength has elapsed.
func (w *MessageWindow) Admit() bool {
	now := w.now()
	if now.Sub(w.started) >= MessageWindowLength {
		w.started = now
		w.count = 0
	}
	w.count++
	return w.count <= w.limit
}

func (w *MessageWindow) Count() int {
	return w.count
}

func (w *MessageWindow) Started() time.Time {
	return w.started
}
