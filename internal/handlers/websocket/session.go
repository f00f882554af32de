package websocket

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/looplab/fsm"
	"github.com/xpanvictor/liverelay/internal/metrics"
	"github.com/xpanvictor/liverelay/internal/upstream"
	"github.com/xpanvictor/liverelay/pkg/Logger"
)

// Session states
const (
	StateIdle      = "idle"
	StateStarting  = "starting"
	StateConnected = "connected"
	StateClosed    = "closed"
)

const (
	eventStart = "start"
	eventOpen  = "open"
	eventClose = "close"
)

const (
	DefaultVoice     = "Puck"
	DefaultAudioMIME = "audio/pcm;rate=16000"

	defaultConnectTimeout = 15 * time.Second
	defaultCloseReason    = "Upstream session closed"
)

// Voices is the prebuilt voice allow-list.
var Voices = []string{"Puck", "Charon", "Kore", "Fenrir", "Aoede", "Leda", "Orus", "Zephyr"}

// peer is the browser side of a session.
type peer interface {
	Send(msgType MessageType, payload any) error
	SendError(message string)
	CloseWith(code int, reason string)
	Closing() bool
}

type SessionOptions struct {
	Model               string
	DefaultVoice        string
	DefaultInstruction  string
	MaxInstructionChars int
	ConnectTimeout      time.Duration
	// IdleTimeout of zero disables the upstream idle check.
	IdleTimeout time.Duration
}

// Session bridges one browser connection to at most one upstream session.
// Provider callbacks carry the generation they were created under and are
// dropped once it no longer matches.
type Session struct {
	peer    peer
	dialer  upstream.Dialer
	opts    SessionOptions
	logger  *Logger.Logger
	metrics *metrics.Metrics
	machine *fsm.FSM

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	gen         uint64
	upstream    upstream.Session
	voice       string
	mode        string
	instruction string
	idle        *time.Timer
}

func NewSession(p peer, dialer upstream.Dialer, opts SessionOptions, logger *Logger.Logger, m *metrics.Metrics) *Session {
	if logger == nil {
		logger = Logger.NewNop()
	}
	if !isVoice(opts.DefaultVoice) {
		opts.DefaultVoice = DefaultVoice
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		peer:    p,
		dialer:  dialer,
		opts:    opts,
		logger:  logger,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventStart, Src: []string{StateIdle}, Dst: StateStarting},
			{Name: eventOpen, Src: []string{StateStarting}, Dst: StateConnected},
			{Name: eventClose, Src: []string{StateIdle, StateStarting, StateConnected}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.logger.Debugf("Session %s -> %s", e.Src, e.Dst)
			},
		},
	)
	return s
}

func (s *Session) State() string {
	return s.machine.Current()
}

// Voice and Mode return the effective values once Start has run.
func (s *Session) Voice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

func (s *Session) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// fire must be called with s.mu held. Transitions use a background context
// so a torn-down session can still reach closed.
func (s *Session) fire(name string) {
	if !s.machine.Can(name) {
		return
	}
	if err := s.machine.Event(context.Background(), name); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			s.logger.Warnf("Session transition %s failed: %v", name, err)
		}
	}
}

// Start normalizes the caller's settings and begins the upstream connect.
// Calls after the first are ignored.
func (s *Session) Start(p StartPayload) {
	s.mu.Lock()
	if !s.machine.Is(StateIdle) {
		s.mu.Unlock()
		return
	}
	s.voice = normalizeVoice(p.VoiceName, s.opts.DefaultVoice)
	s.mode = normalizeMode(p.ConversationMode)
	s.instruction = normalizeInstruction(p.SystemInstruction, s.opts.DefaultInstruction, s.opts.MaxInstructionChars)
	s.fire(eventStart)
	s.gen++
	gen := s.gen
	settled := make(chan struct{})
	cfg := upstream.Config{
		Model:             s.opts.Model,
		Voice:             s.voice,
		SystemInstruction: s.instruction,
		Mode:              s.mode,
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.ConnectTimeout)
	s.mu.Unlock()

	s.logger.Infof("Starting upstream session (voice=%s mode=%s)", cfg.Voice, cfg.Mode)
	go s.connect(ctx, cancel, gen, settled, cfg)
}

func (s *Session) connect(ctx context.Context, cancel context.CancelFunc, gen uint64, settled chan struct{}, cfg upstream.Config) {
	defer cancel()
	defer close(settled)

	sess, err := s.dialer.Connect(ctx, cfg, upstream.Callbacks{
		OnMessage: func(m upstream.Message) { s.onMessage(gen, settled, m) },
		OnError:   func(err error) { s.onError(gen, settled, err) },
		OnClose:   func(reason string) { s.onClose(gen, settled, reason) },
	})

	s.mu.Lock()
	if gen != s.gen || !s.machine.Is(StateStarting) {
		s.mu.Unlock()
		if sess != nil {
			s.closeUpstream(sess)
		}
		return
	}
	if err != nil {
		s.fire(eventClose)
		s.gen++
		s.mu.Unlock()

		s.metrics.UpstreamSession("failed")
		s.logger.Errorf("Upstream connect failed: %v", err)
		s.peer.SendError(connectErrorMessage(err))
		s.peer.CloseWith(CloseInternal, "upstream connect failed")
		return
	}
	s.upstream = sess
	s.fire(eventOpen)
	s.armIdleLocked(gen)
	connected := ConnectedPayload{Mode: s.mode, VoiceName: s.voice}
	s.mu.Unlock()

	s.metrics.UpstreamSession("opened")
	if err := s.peer.Send(MessageTypeConnected, connected); err != nil {
		s.logger.Debugf("Failed to send connected frame: %v", err)
	}
}

func connectErrorMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "Timed out connecting to the upstream session"
	}
	return err.Error()
}

// current reports whether gen is still the live connected generation.
func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen && s.machine.Is(StateConnected)
}

func (s *Session) onMessage(gen uint64, settled <-chan struct{}, m upstream.Message) {
	<-settled
	s.mu.Lock()
	if gen != s.gen || !s.machine.Is(StateConnected) {
		s.mu.Unlock()
		return
	}
	s.armIdleLocked(gen)
	s.mu.Unlock()

	for _, ev := range translateMessage(m) {
		if err := s.peer.Send(ev.Type, ev.Payload); err != nil {
			s.logger.Debugf("Failed to relay %s frame: %v", ev.Type, err)
			return
		}
	}
}

func (s *Session) onError(gen uint64, settled <-chan struct{}, err error) {
	<-settled
	if !s.current(gen) {
		return
	}
	s.logger.Errorf("Upstream session error: %v", err)
	s.peer.SendError("Upstream session error")
}

func (s *Session) onClose(gen uint64, settled <-chan struct{}, reason string) {
	<-settled
	s.mu.Lock()
	if gen != s.gen || s.machine.Is(StateClosed) {
		s.mu.Unlock()
		return
	}
	up := s.detachLocked()
	s.mu.Unlock()

	if up != nil {
		s.closeUpstream(up)
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = defaultCloseReason
	}
	s.logger.Infof("Upstream session closed: %s", reason)
	s.endCall(reason)
}

// endCall tells the browser the relay ended the call, unless the browser
// side is already going away.
func (s *Session) endCall(reason string) {
	if s.peer.Closing() {
		return
	}
	if err := s.peer.Send(MessageTypeDisconnected, DisconnectedPayload{Reason: reason}); err != nil {
		s.logger.Debugf("Failed to send disconnected frame: %v", err)
	}
	s.peer.CloseWith(CloseInternal, reason)
}

// detachLocked moves the session to closed and returns the upstream handle,
// if any, for the caller to close outside the lock.
func (s *Session) detachLocked() upstream.Session {
	s.gen++
	s.stopIdleLocked()
	s.fire(eventClose)
	up := s.upstream
	s.upstream = nil
	return up
}

func (s *Session) armIdleLocked(gen uint64) {
	if s.opts.IdleTimeout <= 0 {
		return
	}
	if s.idle != nil {
		s.idle.Reset(s.opts.IdleTimeout)
		return
	}
	s.idle = time.AfterFunc(s.opts.IdleTimeout, func() { s.onIdle(gen) })
}

func (s *Session) stopIdleLocked() {
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
}

func (s *Session) onIdle(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || !s.machine.Is(StateConnected) {
		s.mu.Unlock()
		return
	}
	up := s.detachLocked()
	s.mu.Unlock()

	s.logger.Warnf("No upstream traffic for %s, ending call", s.opts.IdleTimeout)
	if up != nil {
		s.closeUpstream(up)
	}
	s.endCall("upstream idle timeout")
}

func (s *Session) connectedUpstream() upstream.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.machine.Is(StateConnected) {
		return nil
	}
	return s.upstream
}

// RouteAudio forwards one base64 frame. Frames outside a connected session
// are dropped.
func (s *Session) RouteAudio(p AudioPayload) {
	up := s.connectedUpstream()
	if up == nil || p.Data == "" {
		return
	}
	data, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		s.peer.SendError("Invalid audio data")
		return
	}
	mime := strings.TrimSpace(p.MimeType)
	if mime == "" {
		mime = DefaultAudioMIME
	}
	if err := up.SendAudio(mime, data); err != nil {
		s.logger.Warnf("Failed to forward audio: %v", err)
		s.peer.SendError("Failed to send audio")
	}
}

// RouteText forwards text as one complete user turn.
func (s *Session) RouteText(text string) {
	up := s.connectedUpstream()
	if up == nil || text == "" {
		return
	}
	if err := up.SendText(text); err != nil {
		s.logger.Warnf("Failed to forward text: %v", err)
		s.peer.SendError("Failed to send text")
	}
}

// Stop ends the call from the browser side. Upstream teardown happens when
// the connection's close handler calls Teardown.
func (s *Session) Stop() {
	s.peer.CloseWith(CloseNormal, "Call ended")
}

// Teardown closes the upstream session if one is held. It is idempotent and
// safe to call while a Start is still connecting. The returned close error is
// informational only.
func (s *Session) Teardown() error {
	s.mu.Lock()
	s.cancel()
	up := s.detachLocked()
	s.mu.Unlock()

	if up == nil {
		return nil
	}
	return up.Close()
}

func (s *Session) closeUpstream(up upstream.Session) {
	if err := up.Close(); err != nil {
		s.logger.Debugf("Upstream close failed: %v", err)
	}
}

func isVoice(name string) bool {
	for _, v := range Voices {
		if v == name {
			return true
		}
	}
	return false
}

func normalizeVoice(name, fallback string) string {
	if name = strings.TrimSpace(name); isVoice(name) {
		return name
	}
	return fallback
}

func normalizeMode(mode string) string {
	if mode == ModePushToTalk {
		return ModePushToTalk
	}
	return ModeVAD
}

func normalizeInstruction(text, fallback string, limit int) string {
	text = strings.TrimSpace(text)
	if text == "" {
		text = strings.TrimSpace(fallback)
	}
	if limit > 0 && utf8.RuneCountInString(text) > limit {
		text = string([]rune(text)[:limit])
	}
	return text
}
