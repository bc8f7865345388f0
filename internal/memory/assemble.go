package memory

import (
	"strings"
	"time"
)

// FallbackPrompt is offered instead of speculative context when the
// assembled memory is mostly unresolved hypotheses.
const FallbackPrompt = "I'm not sure which part matters most right now. Focus: people involved, the decision you're making, or the idea itself?"

// prefix length used by the display-text trigger fallback
const (
	triggerPrefixChars = 32
	triggerPrefixMin   = 10
)

// Triggered reports whether the turn text references the fact: it contains
// one of the trigger terms, or a substantial prefix of the display text.
// Matching is plain case-insensitive containment.
func Triggered(f *Fact, turnText string) bool {
	u := strings.ToLower(turnText)
	for _, t := range f.TriggerTerms {
		tt := strings.ToLower(strings.TrimSpace(t))
		if tt != "" && strings.Contains(u, tt) {
			return true
		}
	}
	prefix := []rune(strings.ToLower(f.Text()))
	if len(prefix) > triggerPrefixChars {
		prefix = prefix[:triggerPrefixChars]
	}
	return len(prefix) >= triggerPrefixMin && strings.Contains(u, string(prefix))
}

// Visible applies reveal-policy gating for a turn.
func Visible(f *Fact, turnText string) bool {
	switch f.RevealPolicy {
	case RevealNever:
		return false
	case RevealUserTriggerOnly:
		return Triggered(f, turnText)
	}
	return true
}

// Grouped is prompt context split by category.
type Grouped struct {
	People      []string `json:"people"`
	Issues      []string `json:"issues"`
	Constraints []string `json:"constraints"`
	Hypotheses  []string `json:"hypotheses"`
	Notes       []string `json:"notes"`
}

// Len returns the number of entries across all groups.
func (g Grouped) Len() int {
	return len(g.People) + len(g.Issues) + len(g.Constraints) + len(g.Hypotheses) + len(g.Notes)
}

// Assembly is the result of prompt assembly.
type Assembly struct {
	Context        Grouped  `json:"context"`
	FallbackPrompt string   `json:"fallbackPrompt,omitempty"`
	FactIDs        []string `json:"factIds"`
}

// Assemble filters facts for the current turn and groups them. Facts not
// reinforced within decayWindow are dropped unless pinned or locked; a
// non-positive window disables the cutoff. Input order is preserved within
// each group.
func Assemble(facts []*Fact, turnText string, decayWindow time.Duration, now time.Time) Assembly {
	a := Assembly{
		Context: Grouped{
			People:      []string{},
			Issues:      []string{},
			Constraints: []string{},
			Hypotheses:  []string{},
			Notes:       []string{},
		},
		FactIDs: []string{},
	}
	seen := make(map[string]bool, len(facts))

	for _, f := range facts {
		if f == nil || f.Discarded() || (f.ID != "" && seen[f.ID]) {
			continue
		}
		if !f.Pinned && !f.IsLocked && decayWindow > 0 && now.Sub(f.LastReinforcedAt) > decayWindow {
			continue
		}
		if !Visible(f, turnText) {
			continue
		}
		text := f.Text()
		switch f.Category {
		case CategoryPeople:
			a.Context.People = append(a.Context.People, text)
		case CategoryIssues:
			a.Context.Issues = append(a.Context.Issues, text)
		case CategoryConstraints:
			a.Context.Constraints = append(a.Context.Constraints, text)
		case CategoryHypotheses:
			a.Context.Hypotheses = append(a.Context.Hypotheses, "("+f.Status+") "+text)
		case CategoryNotes:
			a.Context.Notes = append(a.Context.Notes, text)
		default:
			continue
		}
		seen[f.ID] = true
		a.FactIDs = append(a.FactIDs, f.ID)
	}

	if len(a.Context.Hypotheses) >= 3 && len(a.Context.Issues) == 0 && len(a.Context.Constraints) == 0 {
		a.FallbackPrompt = FallbackPrompt
	}
	return a
}

// Render formats the assembly as a system-prompt block.
func (a Assembly) Render() string {
	var b strings.Builder
	b.WriteString("# What you remember about the user\n\n")
	if a.Context.Len() == 0 {
		b.WriteString(UncertaintyInstruction)
		b.WriteString("\n")
		return b.String()
	}
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		b.WriteString("## " + title + "\n")
		for _, it := range items {
			b.WriteString("- " + it + "\n")
		}
		b.WriteString("\n")
	}
	section("People", a.Context.People)
	section("Open issues", a.Context.Issues)
	section("Constraints", a.Context.Constraints)
	section("Hypotheses", a.Context.Hypotheses)
	section("Notes", a.Context.Notes)
	if a.FallbackPrompt != "" {
		b.WriteString("## If unsure\nAsk: " + a.FallbackPrompt + "\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
