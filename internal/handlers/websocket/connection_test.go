package websocket

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateReason(t *testing.T) {
	tests := []struct {
		name   string
		reason string
		want   string
	}{
		{"short", "Call ended", "Call ended"},
		{"exact limit", strings.Repeat("a", maxCloseReason), strings.Repeat("a", maxCloseReason)},
		{"ascii over limit", strings.Repeat("a", 200), strings.Repeat("a", maxCloseReason)},
		{"split two byte rune", strings.Repeat("a", 122) + "é", strings.Repeat("a", 122)},
		{"split three byte rune", strings.Repeat("a", 121) + "€x", strings.Repeat("a", 121)},
		{"rune ends on limit", strings.Repeat("a", 121) + "é" + "tail", strings.Repeat("a", 121) + "é"},
		{"invalid bytes dropped", "bad\xffreason", "badreason"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := truncateReason(tc.reason)
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
			if len(got) > maxCloseReason || !utf8.ValidString(got) {
				t.Errorf("result %q is not a valid close reason", got)
			}
		})
	}
}
