package memory

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// OpKind is the tag of a candidate operation.
type OpKind string

const (
	OpUpsert  OpKind = "UPSERT"
	OpCorrect OpKind = "CORRECT"
	OpDiscard OpKind = "DISCARD"
	OpNoStore OpKind = "NO_STORE"
)

// Operation limits.
const (
	minKeyChars         = 3
	maxKeyChars         = 200
	maxValueChars       = 4000
	maxDisplayChars     = 500
	maxTriggerTerms     = 16
	defaultConfidence   = 0.9
	sensitiveConfidence = 0.9
)

// Operation is the single shape every producer of memory changes emits:
// the extraction collaborator, friend-basics heuristics, and the API.
type Operation struct {
	Op                OpKind          `json:"op"`
	ID                string          `json:"id,omitempty"`
	Key               string          `json:"key,omitempty"`
	Value             any             `json:"value,omitempty"`
	DisplayText       string          `json:"displayText,omitempty"`
	Category          string          `json:"category,omitempty"`
	Status            string          `json:"status,omitempty"`
	TriggerTerms      []string        `json:"triggerTerms,omitempty"`
	EmotionalWeight   EmotionalWeight `json:"emotionalWeight,omitempty"`
	RelationalContext []RelationalTag `json:"relationalContext,omitempty"`
	RevealPolicy      RevealPolicy    `json:"revealPolicy,omitempty"`
	Confidence        *float64        `json:"confidence,omitempty"`
	Importance        *int            `json:"importance,omitempty"`
}

// ConfidenceOrDefault returns the op confidence, defaulting when absent.
func (op Operation) ConfidenceOrDefault() float64 {
	if op.Confidence == nil {
		return defaultConfidence
	}
	return *op.Confidence
}

// Candidate converts a validated operation into store input.
func (op Operation) Candidate() Candidate {
	c := Candidate{
		Value:             NormalizeValue(op.Value),
		DisplayText:       op.DisplayText,
		Category:          op.Category,
		Status:            op.Status,
		TriggerTerms:      op.TriggerTerms,
		EmotionalWeight:   op.EmotionalWeight,
		RelationalContext: op.RelationalContext,
		RevealPolicy:      op.RevealPolicy,
		Confidence:        op.Confidence,
	}
	if op.Importance != nil {
		c.Importance = *op.Importance
	}
	return c
}

// Validate checks an operation and returns a sanitized copy. A rejected
// operation must be skipped whole.
func Validate(op Operation) (Operation, error) {
	op.Op = OpKind(strings.ToUpper(strings.TrimSpace(string(op.Op))))
	switch op.Op {
	case OpNoStore:
		return op, nil
	case OpUpsert, OpCorrect, OpDiscard:
	default:
		return op, &ValidationError{Field: "op", Reason: fmt.Sprintf("unknown operation %q", op.Op)}
	}

	op.ID = strings.TrimSpace(op.ID)
	op.Key = strings.TrimSpace(op.Key)
	if op.Op == OpDiscard && op.ID != "" {
		return op, nil
	}
	if n := utf8.RuneCountInString(op.Key); n < minKeyChars {
		return op, &ValidationError{Field: "key", Reason: fmt.Sprintf("too short (%d chars, min %d)", n, minKeyChars)}
	} else if n > maxKeyChars {
		return op, &ValidationError{Field: "key", Reason: fmt.Sprintf("too long (%d chars, max %d)", n, maxKeyChars)}
	}
	if strings.IndexFunc(op.Key, unicode.IsControl) >= 0 {
		return op, &ValidationError{Field: "key", Reason: "contains control characters"}
	}
	if op.Op == OpDiscard {
		return op, nil
	}

	if op.Confidence != nil && (*op.Confidence < 0 || *op.Confidence > 1) {
		return op, &ValidationError{Field: "confidence", Reason: fmt.Sprintf("%v outside [0,1]", *op.Confidence)}
	}
	if op.Importance != nil && (*op.Importance < 1 || *op.Importance > 10) {
		return op, &ValidationError{Field: "importance", Reason: fmt.Sprintf("%d outside 1..10", *op.Importance)}
	}
	if op.EmotionalWeight != "" && !op.EmotionalWeight.Valid() {
		return op, &ValidationError{Field: "emotionalWeight", Reason: fmt.Sprintf("unknown weight %q", op.EmotionalWeight)}
	}
	if op.RevealPolicy != "" && !op.RevealPolicy.Valid() {
		return op, &ValidationError{Field: "revealPolicy", Reason: fmt.Sprintf("unknown policy %q", op.RevealPolicy)}
	}
	for _, tag := range op.RelationalContext {
		if !tag.Valid() {
			return op, &ValidationError{Field: "relationalContext", Reason: fmt.Sprintf("unknown tag %q", tag)}
		}
	}

	value := NormalizeValue(op.Value)
	op.DisplayText = strings.TrimSpace(op.DisplayText)
	if strings.TrimSpace(value) == "" && op.DisplayText == "" {
		return op, &ValidationError{Field: "value", Reason: "empty"}
	}
	if len(value) > maxValueChars {
		value = truncateClean(value, maxValueChars)
	}
	op.Value = value
	if len(op.DisplayText) > maxDisplayChars {
		op.DisplayText = truncateClean(op.DisplayText, maxDisplayChars)
	}

	op.Category = strings.ToLower(strings.TrimSpace(op.Category))
	op.Status = strings.TrimSpace(op.Status)
	op.TriggerTerms = cleanTerms(op.TriggerTerms)

	if IsSensitiveKey(op.Key) && op.RevealPolicy != RevealNever {
		op.RevealPolicy = RevealUserTriggerOnly
		if op.Confidence == nil {
			c := sensitiveConfidence
			op.Confidence = &c
		}
	}
	return op, nil
}

// Rejection records an operation that failed validation or decoding.
type Rejection struct {
	Index int
	Key   string
	Err   error
}

// ValidateAll splits ops into valid operations and rejections.
func ValidateAll(ops []Operation) ([]Operation, []Rejection) {
	var valid []Operation
	var rejected []Rejection
	for i, op := range ops {
		v, err := Validate(op)
		if err != nil {
			rejected = append(rejected, Rejection{Index: i, Key: op.Key, Err: err})
			continue
		}
		valid = append(valid, v)
	}
	return valid, rejected
}

// ParseOperations decodes a collaborator response into operations. It
// tolerates markdown fences and surrounding prose, and accepts a bare array
// or an object with an "items" or "ops" array. Entries that fail to decode
// are reported as rejections; the rest are returned unvalidated.
func ParseOperations(raw string) ([]Operation, []Rejection, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	entries, err := operationEntries(s)
	if err != nil {
		return nil, nil, err
	}

	var ops []Operation
	var rejected []Rejection
	for i, e := range entries {
		var op Operation
		if err := json.Unmarshal(e, &op); err != nil {
			rejected = append(rejected, Rejection{Index: i, Err: &ValidationError{Reason: "decode: " + err.Error()}})
			continue
		}
		ops = append(ops, op)
	}
	return ops, rejected, nil
}

func operationEntries(s string) ([]json.RawMessage, error) {
	if s == "" {
		return nil, nil
	}
	if start := strings.Index(s, "{"); start >= 0 && (strings.Index(s, "[") < 0 || start < strings.Index(s, "[")) {
		if end := strings.LastIndex(s, "}"); end > start {
			var wrapper struct {
				Items []json.RawMessage `json:"items"`
				Ops   []json.RawMessage `json:"ops"`
			}
			if err := json.Unmarshal([]byte(s[start:end+1]), &wrapper); err == nil {
				return append(wrapper.Items, wrapper.Ops...), nil
			}
		}
	}
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in response")
	}
	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(s[start:end+1]), &entries); err != nil {
		return nil, fmt.Errorf("decode operations: %w", err)
	}
	return entries, nil
}

func cleanTerms(terms []string) []string {
	if terms == nil {
		return nil
	}
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		lt := strings.ToLower(t)
		if t == "" || seen[lt] {
			continue
		}
		seen[lt] = true
		out = append(out, t)
		if len(out) == maxTriggerTerms {
			break
		}
	}
	return out
}

// truncateClean cuts s to at most maxLen bytes, backing up to a word boundary
// when one is close.
func truncateClean(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncated := s[:maxLen]
	for !utf8.ValidString(truncated) && len(truncated) > 0 {
		truncated = truncated[:len(truncated)-1]
	}
	if idx := strings.LastIndexFunc(truncated, unicode.IsSpace); idx > maxLen-200 {
		truncated = truncated[:idx]
	}
	return strings.TrimSpace(truncated)
}
