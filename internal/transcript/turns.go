package transcript

import (
	"strings"
	"unicode/utf8"

	"github.com/lazypower/keepsake/internal/engine"
)

// assistantMax caps the assistant side of a turn. Replies only give the
// extractor context; what gets remembered comes from the user.
const assistantMax = 1000

// Turns groups messages into conversation turns. Consecutive user messages
// join into one turn, the assistant replies that follow are attached to it,
// and assistant messages before the first user message are dropped.
func Turns(msgs []Message) []engine.Turn {
	var turns []engine.Turn
	var user, assistant []string

	flush := func() {
		if len(user) == 0 {
			return
		}
		turns = append(turns, engine.Turn{
			User:      strings.Join(user, "\n"),
			Assistant: clip(strings.Join(assistant, "\n"), assistantMax),
		})
		user, assistant = nil, nil
	}

	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			if len(assistant) > 0 {
				flush()
			}
			user = append(user, m.Text)
		case RoleAssistant:
			if len(user) > 0 {
				assistant = append(assistant, m.Text)
			}
		}
	}
	flush()
	return turns
}

// clip truncates s to at most max bytes on a rune boundary, marking the cut
// with "...".
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
