package memory

import (
	"strings"
	"time"
)

// Strength bounds and protocol increments.
const (
	MinStrength = 0.1
	MaxStrength = 3.0

	LockThreshold = 2

	LockedReinforceStep = 0.05
	UpsertBonus         = 0.2
	ReinforceStep       = 0.15
	CorrectionFloor     = 2.5

	DefaultImportance = 5
)

// EmotionalWeight describes how heavy a fact is to bring up.
type EmotionalWeight string

const (
	WeightLight   EmotionalWeight = "light"
	WeightNeutral EmotionalWeight = "neutral"
	WeightHeavy   EmotionalWeight = "heavy"
)

// Valid reports whether w is a known weight.
func (w EmotionalWeight) Valid() bool {
	switch w {
	case WeightLight, WeightNeutral, WeightHeavy:
		return true
	}
	return false
}

// RevealPolicy governs whether a fact may surface without an explicit trigger.
type RevealPolicy string

const (
	RevealNormal          RevealPolicy = "normal"
	RevealUserTriggerOnly RevealPolicy = "user_trigger_only"
	RevealNever           RevealPolicy = "never"
)

func (p RevealPolicy) Valid() bool {
	switch p {
	case RevealNormal, RevealUserTriggerOnly, RevealNever:
		return true
	}
	return false
}

// RelationalTag is one entry of the fixed relational vocabulary.
type RelationalTag string

var relationalTags = map[RelationalTag]bool{
	"self": true, "child": true, "partner": true, "parent": true, "work": true,
	"health": true, "legal": true, "home": true, "identity": true, "pet": true,
}

func (t RelationalTag) Valid() bool { return relationalTags[t] }

// Assembly categories.
const (
	CategoryPeople      = "people"
	CategoryIssues      = "issues"
	CategoryConstraints = "constraints"
	CategoryHypotheses  = "hypotheses"
	CategoryNotes       = "notes"
)

// CategoryForKey derives an assembly category from the key namespace.
func CategoryForKey(key string) string {
	ns, _, _ := strings.Cut(strings.ToLower(key), ".")
	switch ns {
	case "people", "person", "pet", "pets":
		return CategoryPeople
	case "issues", "projects":
		return CategoryIssues
	case "constraints", "boundaries", "preferences":
		return CategoryConstraints
	case "hypotheses":
		return CategoryHypotheses
	}
	return CategoryNotes
}

// Owner scopes a fact. An empty ProjectID is the user's global scope.
type Owner struct {
	UserID    string `json:"userId"`
	ProjectID string `json:"projectId,omitempty"`
}

// HasProject reports whether the owner is project-scoped.
func (o Owner) HasProject() bool { return o.ProjectID != "" }

// CacheKey returns a stable string identifying the scope.
func (o Owner) CacheKey() string { return o.UserID + "\x00" + o.ProjectID }

func (o Owner) String() string {
	if !o.HasProject() {
		return o.UserID
	}
	return o.UserID + "/" + o.ProjectID
}

// Fact is a single persisted memory entry.
type Fact struct {
	ID                string          `json:"id" yaml:"id"`
	Owner             Owner           `json:"owner" yaml:"-"`
	Key               string          `json:"key" yaml:"key"`
	Value             string          `json:"value" yaml:"value"`
	DisplayText       string          `json:"displayText" yaml:"display_text"`
	Category          string          `json:"category" yaml:"category"`
	Status            string          `json:"status,omitempty" yaml:"status,omitempty"`
	TriggerTerms      []string        `json:"triggerTerms" yaml:"trigger_terms,omitempty"`
	EmotionalWeight   EmotionalWeight `json:"emotionalWeight" yaml:"emotional_weight"`
	RelationalContext []RelationalTag `json:"relationalContext" yaml:"relational_context,omitempty"`
	RevealPolicy      RevealPolicy    `json:"revealPolicy" yaml:"reveal_policy"`
	Confidence        float64         `json:"confidence" yaml:"confidence"`
	Strength          float64         `json:"strength" yaml:"strength"`
	CorrectionCount   int             `json:"correctionCount" yaml:"correction_count"`
	IsLocked          bool            `json:"isLocked" yaml:"locked"`
	Pinned            bool            `json:"pinned" yaml:"pinned"`
	ConfirmedAt       *time.Time      `json:"confirmedAt,omitempty" yaml:"confirmed_at,omitempty"`
	DiscardedAt       *time.Time      `json:"discardedAt,omitempty" yaml:"discarded_at,omitempty"`
	DecayedAt         *time.Time      `json:"decayedAt,omitempty" yaml:"-"`
	LastReinforcedAt  time.Time       `json:"lastReinforcedAt" yaml:"last_reinforced_at"`
	UpdatedAt         time.Time       `json:"updatedAt" yaml:"updated_at"`
	CreatedAt         time.Time       `json:"createdAt" yaml:"created_at"`
}

// Discarded reports whether the fact has been soft-deleted.
func (f *Fact) Discarded() bool { return f.DiscardedAt != nil }

// Text is the rendering used in prompt context.
func (f *Fact) Text() string {
	if f.DisplayText != "" {
		return f.DisplayText
	}
	return DisplayText(f.Key, f.Value)
}

// DecayBaseline is the instant decay is measured from.
func (f *Fact) DecayBaseline() time.Time {
	if f.DecayedAt != nil && f.DecayedAt.After(f.LastReinforcedAt) {
		return *f.DecayedAt
	}
	return f.LastReinforcedAt
}

// EmbedText is the text indexed for similarity retrieval.
func (f *Fact) EmbedText() string {
	return "key:" + f.Key + "\nvalue:" + f.Value
}

// DisplayText renders a key and value for humans.
func DisplayText(key, value string) string {
	if value == "" {
		return key
	}
	return key + ": " + value
}

// Candidate carries the fields an operation wants written to a fact.
// Zero values mean "absent": on update the stored field is retained.
type Candidate struct {
	Value             string
	DisplayText       string
	Category          string
	Status            string
	TriggerTerms      []string
	EmotionalWeight   EmotionalWeight
	RelationalContext []RelationalTag
	RevealPolicy      RevealPolicy
	Confidence        *float64
	Importance        int
}

// Apply overlays the present fields of c onto f.
func (c Candidate) Apply(f *Fact) {
	if c.Value != "" {
		f.Value = c.Value
	}
	if c.DisplayText != "" {
		f.DisplayText = c.DisplayText
	} else if c.Value != "" {
		f.DisplayText = DisplayText(f.Key, c.Value)
	}
	if c.Category != "" {
		f.Category = c.Category
	}
	if c.Status != "" {
		f.Status = c.Status
	}
	if c.TriggerTerms != nil {
		f.TriggerTerms = c.TriggerTerms
	}
	if c.EmotionalWeight != "" {
		f.EmotionalWeight = c.EmotionalWeight
	}
	if c.RelationalContext != nil {
		f.RelationalContext = c.RelationalContext
	}
	if c.RevealPolicy != "" {
		f.RevealPolicy = c.RevealPolicy
	}
	if c.Confidence != nil {
		f.Confidence = *c.Confidence
	}
}

// NewFact builds an unsaved fact from a candidate with defaults filled in.
func NewFact(owner Owner, key string, c Candidate, now time.Time) *Fact {
	f := &Fact{
		Owner:            owner,
		Key:              key,
		Category:         CategoryForKey(key),
		EmotionalWeight:  WeightNeutral,
		RevealPolicy:     RevealNormal,
		Confidence:       1,
		Strength:         ImportanceToStrength(c.Importance),
		TriggerTerms:     []string{},
		LastReinforcedAt: now,
		UpdatedAt:        now,
		CreatedAt:        now,
	}
	c.Apply(f)
	if f.DisplayText == "" {
		f.DisplayText = DisplayText(key, f.Value)
	}
	return f
}

// Outcome classifies what a store mutation did.
type Outcome string

const (
	OutcomeCreated       Outcome = "create"
	OutcomeUpdated       Outcome = "update"
	OutcomeLockedIgnore  Outcome = "locked_ignore"
	OutcomeCorrectCreate Outcome = "correct_create"
	OutcomeCorrected     Outcome = "correct"
	OutcomeLocked        Outcome = "lock"
	OutcomeReinforced    Outcome = "reinforce"
	OutcomeDiscarded     Outcome = "discard"
	OutcomeForgotten     Outcome = "forget"
	OutcomePinned        Outcome = "pin"
	OutcomeConfirmed     Outcome = "confirm"
	OutcomeDecayed       Outcome = "decay"
	OutcomeSkipped       Outcome = "skip"
	OutcomeRejected      Outcome = "rejected"
	OutcomePending       Outcome = "pending"
)
