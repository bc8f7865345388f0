package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lazypower/keepsake/internal/llm"
	"github.com/lazypower/keepsake/internal/memory"
	"github.com/lazypower/keepsake/internal/metrics"
)

// DefaultMinConfidence holds back operations the collaborator is unsure of.
const DefaultMinConfidence = 0.5

// extractionTimeout bounds one collaborator call.
const extractionTimeout = 60 * time.Second

// Turn is one exchange of a conversation.
type Turn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant,omitempty"`
}

// Extraction is the validated output of one turn.
type Extraction struct {
	Ops      []memory.Operation `json:"ops"`      // to apply
	Pending  []memory.Operation `json:"pending"`  // below min confidence, held for confirmation
	Rejected []memory.Rejection `json:"-"`
}

// Extractor turns conversation turns into memory operations. The LLM is
// optional: without it only the friend-basics heuristics run.
type Extractor struct {
	client        llm.Client
	minConfidence float64
}

// NewExtractor creates an Extractor. client may be nil.
func NewExtractor(client llm.Client, minConfidence float64) *Extractor {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Extractor{client: client, minConfidence: minConfidence}
}

// Extract produces operations for a turn. known lists keys already stored
// for the owner. A collaborator failure is logged and the heuristic
// operations are still returned; the error is only non-nil when the turn
// itself is unusable.
func (x *Extractor) Extract(ctx context.Context, turn Turn, known []string) (Extraction, error) {
	if strings.TrimSpace(turn.User) == "" {
		return Extraction{}, &memory.ValidationError{Field: "user", Reason: "empty turn"}
	}

	var ops []memory.Operation
	var rejected []memory.Rejection
	if x.client != nil {
		llmOps, llmRejected, err := x.complete(ctx, turn, known)
		if err != nil {
			log.Warn().Err(err).Msg("extract: collaborator unavailable, using heuristics only")
		}
		ops, rejected = llmOps, llmRejected
	}

	// Heuristic people and pets fill in what the collaborator missed.
	have := make(map[string]bool, len(ops))
	for _, op := range ops {
		have[strings.ToLower(strings.TrimSpace(op.Key))] = true
	}
	for _, op := range memory.FriendBasics(turn.User) {
		if !have[strings.ToLower(op.Key)] {
			ops = append(ops, op)
		}
	}

	if memory.IsCorrection(turn.User) {
		for i := range ops {
			if strings.EqualFold(string(ops[i].Op), string(memory.OpUpsert)) {
				ops[i].Op = memory.OpCorrect
			}
		}
	}

	valid, invalid := memory.ValidateAll(ops)
	for _, r := range invalid {
		log.Warn().Err(r.Err).Str("key", r.Key).Msg("extract: rejecting operation")
	}
	out := Extraction{Rejected: append(rejected, invalid...)}
	for _, op := range valid {
		switch {
		case op.Op == memory.OpNoStore:
		case op.Op != memory.OpDiscard && op.ConfidenceOrDefault() < x.minConfidence:
			out.Pending = append(out.Pending, op)
		default:
			out.Ops = append(out.Ops, op)
		}
	}
	return out, nil
}

func (x *Extractor) complete(ctx context.Context, turn Turn, known []string) ([]memory.Operation, []memory.Rejection, error) {
	ctx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	start := time.Now()
	resp, err := x.client.Complete(ctx, llm.ExtractionPrompt(turn.User, turn.Assistant, known))
	metrics.ExtractionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, nil, &memory.CapabilityError{Capability: "extraction", Err: err}
	}

	ops, rejected, err := memory.ParseOperations(resp.Content)
	if err != nil {
		return nil, nil, fmt.Errorf("parse extraction response: %w", err)
	}
	log.Debug().Int("ops", len(ops)).Int("rejected", len(rejected)).Int("tokens", resp.TokensUsed).
		Str("provider", resp.Provider).Msg("extract: collaborator responded")
	return ops, rejected, nil
}
