package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/lazypower/keepsake/internal/memory"
	"github.com/lazypower/keepsake/internal/store"
)

// Result reports what happened to one operation. Err is set when the
// operation was rejected or the store failed; other operations in the same
// batch are unaffected.
type Result struct {
	Index   int            `json:"index"`
	Op      memory.OpKind  `json:"op"`
	Key     string         `json:"key,omitempty"`
	FactID  string         `json:"factId,omitempty"`
	Outcome memory.Outcome `json:"outcome"`
	Locked  bool           `json:"locked,omitempty"`
	Err     error          `json:"-"`
}

// Error returns the failure message, or "".
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Protocol routes validated operations to the fact store.
type Protocol struct {
	facts *store.FactStore

	// OnChange, when set, is called after every successful mutation with
	// the fact as stored. It must not block for long.
	OnChange func(ctx context.Context, f *memory.Fact)
}

// NewProtocol creates a Protocol over facts.
func NewProtocol(facts *store.FactStore) *Protocol {
	return &Protocol{facts: facts}
}

func (p *Protocol) changed(ctx context.Context, f *memory.Fact) {
	if p.OnChange != nil && f != nil {
		p.OnChange(ctx, f)
	}
}

func requireOwner(owner memory.Owner) error {
	if strings.TrimSpace(owner.UserID) == "" {
		return &memory.ValidationError{Field: "userId", Reason: "required"}
	}
	return nil
}

// Apply validates and applies ops in order. A malformed operation is
// rejected whole and never partially applied.
func (p *Protocol) Apply(ctx context.Context, owner memory.Owner, ops []memory.Operation) []Result {
	results := make([]Result, 0, len(ops))
	ownerErr := requireOwner(owner)
	for i, raw := range ops {
		res := Result{Index: i, Op: raw.Op, Key: raw.Key}
		if ownerErr != nil {
			res.Outcome, res.Err = memory.OutcomeRejected, ownerErr
			results = append(results, res)
			continue
		}
		op, err := memory.Validate(raw)
		if err != nil {
			res.Outcome, res.Err = memory.OutcomeRejected, err
			log.Warn().Err(err).Str("user", owner.UserID).Str("key", raw.Key).Msg("protocol: rejected operation")
			results = append(results, res)
			continue
		}
		res.Op, res.Key = op.Op, op.Key
		p.applyOne(ctx, owner, op, &res)
		results = append(results, res)
	}
	return results
}

func (p *Protocol) applyOne(ctx context.Context, owner memory.Owner, op memory.Operation, res *Result) {
	switch op.Op {
	case memory.OpNoStore:
		res.Outcome = memory.OutcomeSkipped

	case memory.OpUpsert, memory.OpCorrect:
		var (
			m   *store.Mutation
			err error
		)
		if op.Op == memory.OpCorrect {
			m, err = p.facts.Correct(ctx, owner, op.Key, op.Candidate())
		} else {
			m, err = p.facts.Upsert(ctx, owner, op.Key, op.Candidate())
		}
		if err != nil {
			res.Outcome, res.Err = memory.OutcomeRejected, err
			log.Error().Err(err).Str("user", owner.UserID).Str("key", op.Key).Str("op", string(op.Op)).Msg("protocol: store failed")
			return
		}
		res.FactID, res.Outcome, res.Locked = m.Fact.ID, m.Outcome, m.Locked
		p.changed(ctx, m.Fact)

	case memory.OpDiscard:
		// Soft delete. Extraction may name a key instead of an id; the key
		// is resolved to the live fact first. Hard delete is Forget only.
		id := op.ID
		if id == "" {
			f, err := p.facts.FindByKey(ctx, owner, op.Key)
			if err != nil {
				res.Outcome, res.Err = memory.OutcomeRejected, err
				return
			}
			if f == nil {
				res.Outcome = memory.OutcomeSkipped
				return
			}
			id = f.ID
		}
		f, err := p.facts.Discard(ctx, owner, id)
		if errors.Is(err, memory.ErrNotFound) {
			res.Outcome, res.Err = memory.OutcomeSkipped, err
			return
		}
		if err != nil {
			res.Outcome, res.Err = memory.OutcomeRejected, err
			return
		}
		res.FactID, res.Key, res.Outcome = f.ID, f.Key, memory.OutcomeDiscarded
		p.changed(ctx, f)
	}
}

// Correct is the explicit user-initiated correction path.
func (p *Protocol) Correct(ctx context.Context, owner memory.Owner, key string, value any, displayText string) (Result, error) {
	res := p.Apply(ctx, owner, []memory.Operation{{
		Op:          memory.OpCorrect,
		Key:         key,
		Value:       value,
		DisplayText: displayText,
	}})[0]
	return res, res.Err
}

// Reinforce bumps each fact that was used in a generated response. Unknown
// keys are a no-op.
func (p *Protocol) Reinforce(ctx context.Context, owner memory.Owner, keys []string) ([]Result, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(keys))
	results := make([]Result, 0, len(keys))
	for i, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		res := Result{Index: i, Key: key, Outcome: memory.OutcomeSkipped}
		m, err := p.facts.Reinforce(ctx, owner, key)
		switch {
		case err != nil:
			res.Outcome, res.Err = memory.OutcomeRejected, err
		case m != nil:
			res.FactID, res.Outcome, res.Locked = m.Fact.ID, m.Outcome, m.Locked
		}
		results = append(results, res)
	}
	return results, nil
}

// Forget hard-deletes every fact under key. It is the administrative
// "forget this" action and is never reached from extraction.
func (p *Protocol) Forget(ctx context.Context, owner memory.Owner, key string) (int, error) {
	if err := requireOwner(owner); err != nil {
		return 0, err
	}
	if strings.TrimSpace(key) == "" {
		return 0, &memory.ValidationError{Field: "key", Reason: "required"}
	}
	return p.facts.Forget(ctx, owner, key)
}
