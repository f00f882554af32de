// Package upstream describes the realtime speech-to-speech provider the relay
// bridges browser sockets to. Implementations live in subpackages.
package upstream

import (
	"context"
	"errors"
)

// ErrMissingCredential is returned by Connect when no provider API key is
// configured. No network call is made in that case.
var ErrMissingCredential = errors.New("server is missing its upstream API credential")

// Config is the normalized per-call session configuration.
type Config struct {
	Model             string
	Voice             string
	SystemInstruction string
	Mode              string
}

// Message is one provider event, reduced to what the relay forwards.
type Message struct {
	Interrupted         bool
	Audio               [][]byte
	ModelText           []string
	InputTranscription  string
	OutputTranscription string
	TurnComplete        bool
}

// Callbacks receive asynchronous provider events. They run on a provider
// goroutine and must not be invoked synchronously from within Connect.
// OnClose fires at most once per session, and never after a local Close.
type Callbacks struct {
	OnMessage func(Message)
	OnError   func(error)
	OnClose   func(reason string)
}

// Session is an open provider session.
type Session interface {
	SendAudio(mimeType string, data []byte) error
	SendText(text string) error
	Close() error
}

// Dialer opens provider sessions. A nil error from Connect means the session
// is open and ready to receive input.
type Dialer interface {
	Connect(ctx context.Context, cfg Config, cb Callbacks) (Session, error)
}
