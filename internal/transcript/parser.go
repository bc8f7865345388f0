// Package transcript reads exported chat logs so earlier conversations can be
// replayed through the memory engine.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Roles kept from a chat log. Everything else (system, tool) is dropped.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// line is one JSONL record. Both the flat {"role","content"} shape and the
// wrapped {"type","message":{"role","content"}} shape are accepted.
type line struct {
	Type    string          `json:"type"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Message *struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// contentBlock is one element of an array-valued content field.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Message is one parsed chat message.
type Message struct {
	Role string
	Text string
}

// minTextLen drops acknowledgements like "ok" that carry nothing to remember.
const minTextLen = 5

var systemReminderRe = regexp.MustCompile(`<system-reminder>[\s\S]*?</system-reminder>`)

// ParseFile reads a JSONL chat log.
func ParseFile(path string) ([]Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads JSONL messages from r. Malformed lines are skipped.
func Parse(r io.Reader) ([]Message, error) {
	var msgs []Message
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB line buffer

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		msg, ok := parseLine(raw)
		if ok {
			msgs = append(msgs, msg)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	return msgs, nil
}

// ParseLines parses transcript content held in a string.
func ParseLines(content string) ([]Message, error) {
	return Parse(strings.NewReader(content))
}

func parseLine(raw []byte) (Message, bool) {
	var l line
	if err := json.Unmarshal(raw, &l); err != nil {
		return Message{}, false
	}

	role, content := l.Role, l.Content
	if l.Message != nil {
		role, content = l.Message.Role, l.Message.Content
	}
	if role == "" {
		role = l.Type
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "human" {
		role = RoleUser
	}
	if role != RoleUser && role != RoleAssistant {
		return Message{}, false
	}

	text := extractText(content)
	text = systemReminderRe.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	if utf8.RuneCountInString(text) < minTextLen {
		return Message{}, false
	}
	if strings.HasPrefix(text, "{") {
		return Message{}, false
	}
	return Message{Role: role, Text: text}, true
}

// extractText handles the polymorphic content field: a plain string or an
// array of blocks, of which only text blocks are kept.
func extractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var texts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				texts = append(texts, b.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}

// CountUserMessages returns the number of user messages.
func CountUserMessages(msgs []Message) int {
	count := 0
	for _, m := range msgs {
		if m.Role == RoleUser {
			count++
		}
	}
	return count
}
