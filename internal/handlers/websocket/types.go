package websocket

import (
	"encoding/json"

	"github.com/gorilla/websocket"
)

// MessageType defines the type of relay message
type MessageType string

// Browser to relay
const (
	MessageTypeStart MessageType = "start"
	MessageTypeAudio MessageType = "audio"
	MessageTypeText  MessageType = "text"
	MessageTypeStop  MessageType = "stop"
)

// Relay to browser
const (
	MessageTypeConnected    MessageType = "connected"
	MessageTypeTranscript   MessageType = "transcript"
	MessageTypeInterrupted  MessageType = "interrupted"
	MessageTypeDisconnected MessageType = "disconnected"
	MessageTypeError        MessageType = "error"
)

// Close codes sent on the browser socket
const (
	CloseNormal         = websocket.CloseNormalClosure
	ClosePolicy         = websocket.ClosePolicyViolation
	CloseInternal       = websocket.CloseInternalServerErr
	CloseServiceRestart = websocket.CloseServiceRestart
)

// Conversation modes
const (
	ModeVAD        = "vad"
	ModePushToTalk = "push-to-talk"
)

// Speakers carried on transcript frames
const (
	SpeakerUser = "user"
	SpeakerAI   = "ai"
)

// Envelope is the wire shape of every relay frame.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// outbound is Envelope with an unencoded payload
type outbound struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

// StartPayload is decoded leniently: fields of the wrong JSON type fall back
// to their defaults instead of failing the whole message.
type StartPayload struct {
	SystemInstruction string
	VoiceName         string
	ConversationMode  string
}

type AudioPayload struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType,omitempty"`
}

type TextPayload struct {
	Text string `json:"text"`
}

type ConnectedPayload struct {
	Mode      string `json:"mode"`
	VoiceName string `json:"voiceName"`
}

type AudioOutPayload struct {
	Data string `json:"data"`
}

type TranscriptPayload struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type DisconnectedPayload struct {
	Reason string `json:"reason"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func decodeStart(raw json.RawMessage) StartPayload {
	var fields map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil {
		return StartPayload{}
	}
	str := func(k string) string {
		s, _ := fields[k].(string)
		return s
	}
	return StartPayload{
		SystemInstruction: str("systemInstruction"),
		VoiceName:         str("voiceName"),
		ConversationMode:  str("conversationMode"),
	}
}

// decodeAudio returns ok=false when the payload is absent or carries no data.
func decodeAudio(raw json.RawMessage) (AudioPayload, bool) {
	var fields map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil {
		return AudioPayload{}, false
	}
	data, _ := fields["data"].(string)
	if data == "" {
		return AudioPayload{}, false
	}
	mime, _ := fields["mimeType"].(string)
	return AudioPayload{Data: data, MimeType: mime}, true
}

// decodeText returns ok=false unless the payload carries a non-empty string.
func decodeText(raw json.RawMessage) (string, bool) {
	var fields map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil {
		return "", false
	}
	text, _ := fields["text"].(string)
	return text, text != ""
}
