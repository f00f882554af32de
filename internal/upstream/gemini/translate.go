package gemini

import (
	"github.com/xpanvictor/liverelay/internal/upstream"
	"google.golang.org/genai"
)

// translate reduces a Live server message to the parts the relay forwards.
// Messages without server content (setup acks, usage, tool traffic) are
// dropped.
func translate(msg *genai.LiveServerMessage) (upstream.Message, bool) {
	if msg == nil || msg.ServerContent == nil {
		return upstream.Message{}, false
	}
	sc := msg.ServerContent
	out := upstream.Message{
		Interrupted:  sc.Interrupted,
		TurnComplete: sc.TurnComplete,
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil || part.Thought {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				out.Audio = append(out.Audio, part.InlineData.Data)
			}
			if part.Text != "" {
				out.ModelText = append(out.ModelText, part.Text)
			}
		}
	}
	if sc.InputTranscription != nil {
		out.InputTranscription = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		out.OutputTranscription = sc.OutputTranscription.Text
	}
	return out, true
}
