package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xpanvictor/liverelay/internal/upstream"
)

type sentFrame struct {
	Type    MessageType
	Payload any
}

type fakePeer struct {
	mu          sync.Mutex
	frames      []sentFrame
	closeCode   int
	closeReason string
	closing     bool
}

func (p *fakePeer) Send(t MessageType, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing {
		return ErrConnectionClosing
	}
	p.frames = append(p.frames, sentFrame{Type: t, Payload: payload})
	return nil
}

func (p *fakePeer) SendError(message string) {
	_ = p.Send(MessageTypeError, ErrorPayload{Message: message})
}

func (p *fakePeer) CloseWith(code int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing {
		return
	}
	p.closing = true
	p.closeCode = code
	p.closeReason = reason
}

func (p *fakePeer) Closing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closing
}

func (p *fakePeer) snapshot() []sentFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]sentFrame, len(p.frames))
	copy(out, p.frames)
	return out
}

func (p *fakePeer) closed() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCode, p.closing
}

func (p *fakePeer) count(t MessageType) int {
	n := 0
	for _, f := range p.snapshot() {
		if f.Type == t {
			n++
		}
	}
	return n
}

type fakeUpstream struct {
	mu      sync.Mutex
	audio   [][]byte
	mimes   []string
	texts   []string
	sendErr error
	closes  atomic.Int32
}

func (u *fakeUpstream) SendAudio(mime string, data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.sendErr != nil {
		return u.sendErr
	}
	u.audio = append(u.audio, data)
	u.mimes = append(u.mimes, mime)
	return nil
}

func (u *fakeUpstream) SendText(text string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.sendErr != nil {
		return u.sendErr
	}
	u.texts = append(u.texts, text)
	return nil
}

func (u *fakeUpstream) Close() error {
	u.closes.Add(1)
	return nil
}

// fakeDialer hands out one fakeUpstream per Connect. When gate is set,
// Connect blocks until it is closed, ignoring ctx.
type fakeDialer struct {
	mu      sync.Mutex
	calls   int
	configs []upstream.Config
	cbs     []upstream.Callbacks
	ups     []*fakeUpstream
	err     error
	gate    chan struct{}
}

func (d *fakeDialer) Connect(ctx context.Context, cfg upstream.Config, cb upstream.Callbacks) (upstream.Session, error) {
	d.mu.Lock()
	d.calls++
	d.configs = append(d.configs, cfg)
	d.cbs = append(d.cbs, cb)
	gate, err := d.gate, d.err
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	up := &fakeUpstream{}
	d.mu.Lock()
	d.ups = append(d.ups, up)
	d.mu.Unlock()
	return up, nil
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) callbacks(i int) upstream.Callbacks {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cbs[i]
}

func (d *fakeDialer) config(i int) upstream.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.configs[i]
}

func (d *fakeDialer) up(i int) *fakeUpstream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.ups) {
		return nil
	}
	return d.ups[i]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
