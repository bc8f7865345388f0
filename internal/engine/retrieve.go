package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/lazypower/keepsake/internal/memory"
	"github.com/lazypower/keepsake/internal/metrics"
	"github.com/lazypower/keepsake/internal/store"
)

// RetrievalMode selects how candidate facts are found.
type RetrievalMode string

const (
	ModeLexical    RetrievalMode = "lexical"
	ModeSimilarity RetrievalMode = "similarity"
)

// Retrieval defaults.
const (
	DefaultRetrievalLimit      = 50
	DefaultSimilarityThreshold = 0.75
	DefaultSimilarityCount     = 30
)

// Partition is retrieval output split for prompt assembly.
type Partition struct {
	Core      []*memory.Fact `json:"core"`      // pinned
	Normal    []*memory.Fact `json:"normal"`    // unpinned, reveal policy normal
	Sensitive []*memory.Fact `json:"sensitive"` // unpinned, user_trigger_only
}

// All returns core, normal and sensitive facts in that order.
func (p Partition) All() []*memory.Fact {
	out := make([]*memory.Fact, 0, len(p.Core)+len(p.Normal)+len(p.Sensitive))
	out = append(out, p.Core...)
	out = append(out, p.Normal...)
	return append(out, p.Sensitive...)
}

// Len returns the total number of facts.
func (p Partition) Len() int { return len(p.Core) + len(p.Normal) + len(p.Sensitive) }

// partition splits ranked facts. Unpinned facts with reveal policy never
// are dropped here since assembly would drop them anyway.
func partition(facts []*memory.Fact) Partition {
	p := Partition{
		Core:      []*memory.Fact{},
		Normal:    []*memory.Fact{},
		Sensitive: []*memory.Fact{},
	}
	for _, f := range facts {
		switch {
		case f.Pinned:
			p.Core = append(p.Core, f)
		case f.RevealPolicy == memory.RevealNormal:
			p.Normal = append(p.Normal, f)
		case f.RevealPolicy == memory.RevealUserTriggerOnly:
			p.Sensitive = append(p.Sensitive, f)
		}
	}
	return p
}

// RetrieverOptions tunes a Retriever. Zero values take the defaults.
type RetrieverOptions struct {
	Mode      RetrievalMode
	Limit     int
	Threshold float64
	Count     int
}

func (o RetrieverOptions) withDefaults() RetrieverOptions {
	if o.Mode == "" {
		o.Mode = ModeLexical
	}
	if o.Limit <= 0 {
		o.Limit = DefaultRetrievalLimit
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultSimilarityThreshold
	}
	if o.Count <= 0 {
		o.Count = DefaultSimilarityCount
	}
	return o
}

// Retriever finds the facts relevant to a turn.
type Retriever struct {
	facts    *store.FactStore
	embedder Embedder
	index    *ChromemIndex
	cache    *Cache
	opts     RetrieverOptions
}

// NewRetriever creates a Retriever. embedder, index and cache may be nil;
// similarity mode without an embedder or index always degrades to lexical.
func NewRetriever(facts *store.FactStore, embedder Embedder, index *ChromemIndex, cache *Cache, opts RetrieverOptions) *Retriever {
	return &Retriever{
		facts:    facts,
		embedder: embedder,
		index:    index,
		cache:    cache,
		opts:     opts.withDefaults(),
	}
}

// Mode returns the configured retrieval mode.
func (r *Retriever) Mode() RetrievalMode { return r.opts.Mode }

// Retrieve returns the owner's facts for a turn, partitioned into core,
// normal and sensitive. Similarity mode falls back to lexical mode when the
// embedding capability fails; only store errors are returned.
func (r *Retriever) Retrieve(ctx context.Context, owner memory.Owner, query string) (Partition, error) {
	if owner.UserID == "" {
		return Partition{}, &memory.ValidationError{Field: "userId", Reason: "required"}
	}

	key := cacheKey(r.opts.Mode, owner, query)
	if p, ok := r.cache.Get(key); ok {
		return p, nil
	}

	var (
		p   Partition
		err error
	)
	if r.opts.Mode == ModeSimilarity {
		p, err = r.similarity(ctx, owner, query)
		if memory.IsCapability(err) {
			metrics.RetrievalDegraded.Inc()
			log.Warn().Err(err).Str("user", owner.UserID).Str("project", owner.ProjectID).
				Msg("retrieve: similarity unavailable, using lexical")
			p, err = r.lexical(ctx, owner)
		}
	} else {
		p, err = r.lexical(ctx, owner)
	}
	if err != nil {
		return Partition{}, err
	}

	r.cache.Set(key, p)
	return p, nil
}

func (r *Retriever) lexical(ctx context.Context, owner memory.Owner) (Partition, error) {
	facts, err := r.facts.ListForRetrieval(ctx, owner, r.opts.Limit)
	if err != nil {
		return Partition{}, fmt.Errorf("lexical retrieval: %w", err)
	}
	metrics.Retrievals.WithLabelValues(string(ModeLexical)).Inc()
	return partition(facts), nil
}

func (r *Retriever) similarity(ctx context.Context, owner memory.Owner, query string) (Partition, error) {
	if r.embedder == nil || r.index == nil {
		return Partition{}, &memory.CapabilityError{Capability: "embedding", Err: fmt.Errorf("no embedder configured")}
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return Partition{}, &memory.CapabilityError{Capability: "embedding", Err: err}
	}
	matches, err := r.index.Query(ctx, owner, vec, r.opts.Count, r.opts.Threshold)
	if err != nil {
		return Partition{}, &memory.CapabilityError{Capability: "vector index", Err: err}
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.FactID
	}
	similar, err := r.facts.GetMany(ctx, owner, ids)
	if err != nil {
		return Partition{}, fmt.Errorf("similarity retrieval: %w", err)
	}

	// Pinned facts are always surfaced, similar or not.
	all, err := r.facts.ListItems(ctx, owner, false)
	if err != nil {
		return Partition{}, fmt.Errorf("similarity retrieval: %w", err)
	}
	facts := make([]*memory.Fact, 0, len(similar))
	seen := make(map[string]bool)
	for _, f := range all {
		if !f.Pinned {
			break // pinned sort first
		}
		seen[f.ID] = true
		facts = append(facts, f)
	}
	for _, f := range similar {
		if !seen[f.ID] {
			facts = append(facts, f)
		}
	}

	metrics.Retrievals.WithLabelValues(string(ModeSimilarity)).Inc()
	return partition(facts), nil
}
