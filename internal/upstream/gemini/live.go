// Package gemini implements upstream.Dialer on top of the Gemini Live API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/xpanvictor/liverelay/internal/upstream"
	"github.com/xpanvictor/liverelay/pkg/Logger"
	"google.golang.org/genai"
)

// liveConnectFunc matches (*genai.Live).Connect.
type liveConnectFunc func(ctx context.Context, model string, config *genai.LiveConnectConfig) (*genai.Session, error)

// Dialer opens Gemini Live sessions with a server-held API key.
type Dialer struct {
	apiKey string
	logger *Logger.Logger

	mu     sync.Mutex
	client *genai.Client
	// connect overrides client.Live.Connect in tests
	connect liveConnectFunc
}

func New(apiKey string, logger *Logger.Logger) *Dialer {
	if logger == nil {
		logger = Logger.NewNop()
	}
	return &Dialer{apiKey: strings.TrimSpace(apiKey), logger: logger}
}

func (d *Dialer) getClient(ctx context.Context) (*genai.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return d.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  d.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, d.redact(fmt.Errorf("failed to create Gemini client: %w", err))
	}
	d.client = client
	return client, nil
}

// Connect dials the Live API and starts the receive loop. It returns once the
// setup message has been written, or with ctx's error if ctx ends first.
func (d *Dialer) Connect(ctx context.Context, cfg upstream.Config, cb upstream.Callbacks) (upstream.Session, error) {
	if d.apiKey == "" {
		return nil, upstream.ErrMissingCredential
	}
	connect := d.connect
	if connect == nil {
		client, err := d.getClient(ctx)
		if err != nil {
			return nil, err
		}
		connect = client.Live.Connect
	}

	live, err := d.connectWithin(ctx, connect, cfg)
	if err != nil {
		return nil, d.redact(fmt.Errorf("failed to connect to %s: %w", cfg.Model, err))
	}
	d.logger.Debugf("Live session opened (model=%s voice=%s mode=%s)", cfg.Model, cfg.Voice, cfg.Mode)

	s := &liveSession{live: live, cb: cb, logger: d.logger, redact: d.redact}
	go s.receive()
	return s, nil
}

// connectWithin bounds the dial by ctx. The SDK dials without the context,
// so a session that opens after ctx is done is closed in the background.
func (d *Dialer) connectWithin(ctx context.Context, connect liveConnectFunc, cfg upstream.Config) (*genai.Session, error) {
	type result struct {
		live *genai.Session
		err  error
	}
	done := make(chan result, 1)
	go func() {
		live, err := connect(ctx, cfg.Model, buildConnectConfig(cfg))
		done <- result{live, err}
	}()

	select {
	case r := <-done:
		return r.live, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.live != nil {
				d.logger.Debugf("Closing live session that opened after the connect deadline")
				_ = r.live.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// redact strips the API key from provider error text.
func (d *Dialer) redact(err error) error {
	if err == nil || d.apiKey == "" || !strings.Contains(err.Error(), d.apiKey) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), d.apiKey, "[redacted]"))
}

func buildConnectConfig(cfg upstream.Config) *genai.LiveConnectConfig {
	lc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if cfg.SystemInstruction != "" {
		lc.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.SystemInstruction}},
		}
	}
	return lc
}

type liveSession struct {
	live   *genai.Session
	cb     upstream.Callbacks
	logger *Logger.Logger
	redact func(error) error

	sendMu sync.Mutex
	// set before a local Close so the receive loop exits without callbacks
	local     atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (s *liveSession) SendAudio(mimeType string, data []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.live.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{MIMEType: mimeType, Data: data},
	})
}

func (s *liveSession) SendText(text string) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.live.SendClientContent(genai.LiveClientContentInput{
		Turns: []*genai.Content{{
			Role:  "user",
			Parts: []*genai.Part{{Text: text}},
		}},
		TurnComplete: genai.Ptr(true),
	})
}

func (s *liveSession) Close() error {
	s.local.Store(true)
	return s.closeConn()
}

func (s *liveSession) closeConn() error {
	s.closeOnce.Do(func() { s.closeErr = s.live.Close() })
	return s.closeErr
}

func (s *liveSession) receive() {
	for {
		msg, err := s.live.Receive()
		if err != nil {
			if s.local.Load() {
				return
			}
			_ = s.closeConn()
			reason, clean := closeReason(err)
			if !clean && s.cb.OnError != nil {
				s.cb.OnError(s.redact(err))
			}
			if s.cb.OnClose != nil {
				s.cb.OnClose(reason)
			}
			return
		}
		if msg.GoAway != nil {
			s.logger.Warnf("Live session received go-away from provider")
		}
		if out, ok := translate(msg); ok && s.cb.OnMessage != nil {
			s.cb.OnMessage(out)
		}
	}
}

// closeReason extracts the provider's close-frame text. clean is false for
// transport failures that carried no close frame.
func closeReason(err error) (reason string, clean bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Text, true
	}
	return "", false
}
