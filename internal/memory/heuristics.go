package memory

import (
	"regexp"
	"strings"
)

var sensitiveKeyParts = []string{
	"mental_health",
	"diagnosis",
	"self_harm",
	"substance_use",
	"trauma",
	"sexual",
	"medical",
}

// IsSensitiveKey reports whether a key names a category that must only
// surface when the user brings it up.
func IsSensitiveKey(key string) bool {
	lk := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lk, part) {
			return true
		}
	}
	return false
}

var correctionPhrases = []string{
	"no that's not",
	"no that’s not",
	"that's not what i meant",
	"that’s not what i meant",
	"you misunderstood",
	"you got that wrong",
	"not like that",
	"i didn't say that",
	"i didn’t say that",
	"i didnt say that",
}

// IsCorrection reports whether the user is correcting something the
// assistant believed.
func IsCorrection(userText string) bool {
	t := strings.ToLower(userText)
	for _, p := range correctionPhrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

type personPattern struct {
	re           *regexp.Regexp
	relationship string
	tag          RelationalTag
	importance   int
}

type petPattern struct {
	re         *regexp.Regexp
	species    string
	importance int
}

const namePattern = `\s+([A-Z][a-zA-Z'-]{1,30})\b`

var personPatterns = []personPattern{
	{regexp.MustCompile(`\bmy\s+daughter` + namePattern), "daughter", "child", 10},
	{regexp.MustCompile(`\bmy\s+son` + namePattern), "son", "child", 10},
	{regexp.MustCompile(`\bmy\s+kid` + namePattern), "child", "child", 10},
	{regexp.MustCompile(`\bmy\s+partner` + namePattern), "partner", "partner", 9},
	{regexp.MustCompile(`\bmy\s+husband` + namePattern), "husband", "partner", 9},
	{regexp.MustCompile(`\bmy\s+wife` + namePattern), "wife", "partner", 9},
	{regexp.MustCompile(`\bmy\s+mom` + namePattern), "mom", "parent", 9},
	{regexp.MustCompile(`\bmy\s+mother` + namePattern), "mother", "parent", 9},
	{regexp.MustCompile(`\bmy\s+dad` + namePattern), "dad", "parent", 9},
	{regexp.MustCompile(`\bmy\s+father` + namePattern), "father", "parent", 9},
	{regexp.MustCompile(`\bmy\s+friend` + namePattern), "friend", "", 7},
}

var petPatterns = []petPattern{
	{regexp.MustCompile(`\b(?:my|our)\s+dog` + namePattern), "dog", 8},
	{regexp.MustCompile(`\b(?:my|our)\s+cat` + namePattern), "cat", 8},
}

// FriendBasics pulls the people and pets a user names directly ("my daughter
// Maya", "our dog Ember") and returns them as UPSERT operations. It is
// deterministic and runs without the extraction collaborator.
func FriendBasics(userText string) []Operation {
	text := strings.TrimSpace(userText)
	seen := make(map[string]bool)
	var ops []Operation

	for _, p := range personPatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			key := "people." + m[1]
			if seen[key] {
				continue
			}
			seen[key] = true
			importance := p.importance
			confidence := 0.95
			op := Operation{
				Op:           OpUpsert,
				Key:          key,
				Value:        map[string]string{"name": m[1], "relationship": p.relationship},
				DisplayText:  m[1] + " is the user's " + p.relationship,
				Category:     CategoryPeople,
				TriggerTerms: []string{m[1]},
				Importance:   &importance,
				Confidence:   &confidence,
			}
			if p.tag != "" {
				op.RelationalContext = []RelationalTag{p.tag}
			}
			ops = append(ops, op)
		}
	}

	for _, p := range petPatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			key := "pet." + m[1]
			if seen[key] {
				continue
			}
			seen[key] = true
			importance := p.importance
			confidence := 0.95
			ops = append(ops, Operation{
				Op:                OpUpsert,
				Key:               key,
				Value:             map[string]string{"species": p.species},
				DisplayText:       m[1] + " is the user's " + p.species,
				Category:          CategoryPeople,
				TriggerTerms:      []string{m[1]},
				RelationalContext: []RelationalTag{"pet"},
				Importance:        &importance,
				Confidence:        &confidence,
			})
		}
	}
	return ops
}

// UncertaintyInstruction is added to the prompt when no memory was retrieved.
const UncertaintyInstruction = `If you do not have retrieved memory about a claimed fact, do not pretend.
Ask a short clarifying question or speak generally.
Never state "as you said earlier" unless it is present in retrieved memory.`
