package websocket

import (
	"encoding/base64"
	"strings"

	"github.com/xpanvictor/liverelay/internal/upstream"
)

type event struct {
	Type    MessageType
	Payload any
}

// translateMessage maps one provider message to browser frames. An
// interruption suppresses everything else carried by the same message.
func translateMessage(m upstream.Message) []event {
	if m.Interrupted {
		return []event{{Type: MessageTypeInterrupted, Payload: struct{}{}}}
	}

	out := make([]event, 0, len(m.Audio)+len(m.ModelText)+2)
	for _, chunk := range m.Audio {
		out = append(out, event{
			Type:    MessageTypeAudio,
			Payload: AudioOutPayload{Data: base64.StdEncoding.EncodeToString(chunk)},
		})
	}
	for _, text := range m.ModelText {
		out = appendTranscript(out, SpeakerAI, text)
	}
	out = appendTranscript(out, SpeakerUser, m.InputTranscription)
	out = appendTranscript(out, SpeakerAI, m.OutputTranscription)
	return out
}

func appendTranscript(out []event, speaker, text string) []event {
	if strings.TrimSpace(text) == "" {
		return out
	}
	return append(out, event{
		Type:    MessageTypeTranscript,
		Payload: TranscriptPayload{Speaker: speaker, Text: text},
	})
}
