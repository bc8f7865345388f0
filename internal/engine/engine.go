package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lazypower/keepsake/internal/config"
	"github.com/lazypower/keepsake/internal/llm"
	"github.com/lazypower/keepsake/internal/memory"
	"github.com/lazypower/keepsake/internal/store"
)

// embedBatch caps how many facts EmbedMissing handles per call.
const embedBatch = 1000

// Options configures an Engine. Zero values take the package defaults,
// except CacheTTL where zero disables the retrieval cache.
type Options struct {
	Retrieval     RetrieverOptions
	CacheTTL      time.Duration
	DecayWindow   time.Duration
	HalfLifeDays  float64
	DecayPolicy   string
	DecayBatch    int
	DecayInterval time.Duration
	MinConfidence float64
}

// OptionsFromConfig maps loaded configuration onto engine options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Retrieval: RetrieverOptions{
			Mode:      RetrievalMode(cfg.Memory.RetrievalMode),
			Limit:     cfg.Memory.RetrievalLimit,
			Threshold: cfg.Memory.SimilarityThreshold,
			Count:     cfg.Memory.SimilarityCount,
		},
		CacheTTL:      cfg.Memory.CacheTTL,
		DecayWindow:   cfg.DecayWindow(),
		HalfLifeDays:  cfg.Memory.HalfLifeDays,
		DecayPolicy:   cfg.Decay.Policy,
		DecayBatch:    cfg.BatchLimit(),
		DecayInterval: cfg.Decay.MinInterval,
		MinConfidence: cfg.Memory.MinConfidence,
	}
}

// Engine ties extraction, the operation protocol, retrieval, prompt
// assembly and decay together for one fact store.
type Engine struct {
	Facts     *store.FactStore
	Protocol  *Protocol
	Retriever *Retriever
	Extractor *Extractor
	Decay     *DecayJob
	LLM       llm.Client
	Embedder  Embedder
	Index     *ChromemIndex

	cache       *Cache
	decayWindow time.Duration
	now         func() time.Time
}

// New creates an Engine. client and embedder may be nil; without an
// embedder similarity retrieval degrades to lexical.
func New(facts *store.FactStore, client llm.Client, embedder Embedder, opts Options) (*Engine, error) {
	policy, err := memory.PolicyByName(opts.DecayPolicy, opts.HalfLifeDays)
	if err != nil {
		return nil, err
	}
	now := func() time.Time { return facts.Now() }
	cache, err := NewCache(opts.CacheTTL, now)
	if err != nil {
		return nil, fmt.Errorf("create retrieval cache: %w", err)
	}

	var index *ChromemIndex
	if embedder != nil {
		index = NewChromemIndex()
	}

	e := &Engine{
		Facts:       facts,
		Protocol:    NewProtocol(facts),
		Retriever:   NewRetriever(facts, embedder, index, cache, opts.Retrieval),
		Extractor:   NewExtractor(client, opts.MinConfidence),
		Decay:       NewDecayJob(facts, policy, opts.DecayBatch, opts.DecayInterval),
		LLM:         client,
		Embedder:    embedder,
		Index:       index,
		cache:       cache,
		decayWindow: opts.DecayWindow,
		now:         now,
	}
	e.Decay.Now = e.now
	e.Protocol.OnChange = e.syncVector
	return e, nil
}

// Close releases the retrieval cache.
func (e *Engine) Close() {
	e.cache.Close()
}

// TurnResult reports what ProcessTurn did.
type TurnResult struct {
	Results  []Result           `json:"results"`
	Pending  []memory.Operation `json:"pending,omitempty"`
	Rejected int                `json:"rejected"`
	Question string             `json:"question,omitempty"`
}

// ProcessTurn extracts memory from a conversation turn and applies it.
// Low-confidence operations are held back and, when a collaborator is
// available, turned into a single confirmation question.
func (e *Engine) ProcessTurn(ctx context.Context, owner memory.Owner, turn Turn) (*TurnResult, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	existing, err := e.Facts.ListItems(ctx, owner, false)
	if err != nil {
		return nil, fmt.Errorf("load known keys: %w", err)
	}
	known := make([]string, len(existing))
	for i, f := range existing {
		known[i] = f.Key
	}

	ex, err := e.Extractor.Extract(ctx, turn, known)
	if err != nil {
		return nil, err
	}

	res := &TurnResult{
		Results:  e.Protocol.Apply(ctx, owner, ex.Ops),
		Pending:  ex.Pending,
		Rejected: len(ex.Rejected),
	}
	res.Question = ProposeConfirmation(ctx, e.LLM, turn.User, ex.Pending)

	log.Info().
		Str("user", owner.UserID).
		Str("project", owner.ProjectID).
		Int("applied", len(res.Results)).
		Int("pending", len(res.Pending)).
		Int("rejected", res.Rejected).
		Msg("turn: processed")
	return res, nil
}

// ContextResult is the memory block for a system prompt.
type ContextResult struct {
	memory.Assembly
	Prompt string        `json:"prompt"`
	Mode   RetrievalMode `json:"mode"`
}

// Context retrieves, gates and groups an owner's facts for the current
// turn and renders them for the system prompt.
func (e *Engine) Context(ctx context.Context, owner memory.Owner, turnText string) (*ContextResult, error) {
	p, err := e.Retriever.Retrieve(ctx, owner, turnText)
	if err != nil {
		return nil, err
	}
	a := memory.Assemble(p.All(), turnText, e.decayWindow, e.now())
	return &ContextResult{Assembly: a, Prompt: a.Render(), Mode: e.Retriever.Mode()}, nil
}

// Apply validates and applies operations from any producer.
func (e *Engine) Apply(ctx context.Context, owner memory.Owner, ops []memory.Operation) []Result {
	return e.Protocol.Apply(ctx, owner, ops)
}

// Reinforce bumps facts that were used in a response.
func (e *Engine) Reinforce(ctx context.Context, owner memory.Owner, keys []string) ([]Result, error) {
	return e.Protocol.Reinforce(ctx, owner, keys)
}

// Forget hard-deletes every fact under key and drops their vectors.
func (e *Engine) Forget(ctx context.Context, owner memory.Owner, key string) (int, error) {
	var ids []string
	if e.Index != nil {
		if facts, err := e.Facts.ListItems(ctx, owner, true); err == nil {
			for _, f := range facts {
				if f.Key == key {
					ids = append(ids, f.ID)
				}
			}
		}
	}
	n, err := e.Protocol.Forget(ctx, owner, key)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := e.Index.Delete(ctx, owner, id); err != nil {
			log.Warn().Err(err).Str("fact_id", id).Msg("forget: unindex")
		}
	}
	return n, nil
}

// RunDecay runs one batch decay sweep.
func (e *Engine) RunDecay(ctx context.Context, scope memory.Owner) (DecaySummary, error) {
	return e.Decay.Run(ctx, scope)
}

// syncVector keeps the fact's embedding current. Failures are logged; the
// fact mutation already committed.
func (e *Engine) syncVector(ctx context.Context, f *memory.Fact) {
	if e.Embedder == nil || e.Index == nil {
		return
	}
	if f.Discarded() {
		if err := e.Index.Delete(ctx, f.Owner, f.ID); err != nil {
			log.Warn().Err(err).Str("fact_id", f.ID).Msg("index: unindex discarded fact")
		}
		if err := e.Facts.DB().DeleteVector(ctx, f.ID); err != nil {
			log.Warn().Err(err).Str("fact_id", f.ID).Msg("index: drop discarded vector")
		}
		return
	}
	if err := e.embed(ctx, f); err != nil {
		log.Warn().Err(err).Str("fact_id", f.ID).Str("key", f.Key).Msg("index: embed fact")
	}
}

func (e *Engine) embed(ctx context.Context, f *memory.Fact) error {
	vec, err := e.Embedder.Embed(ctx, f.EmbedText())
	if err != nil {
		return &memory.CapabilityError{Capability: "embedding", Err: err}
	}
	if err := e.Facts.DB().SaveVector(ctx, f.ID, vec, e.Embedder.Model()); err != nil {
		return err
	}
	return e.Index.Upsert(ctx, f.Owner, f.ID, vec)
}

// LoadIndex fills the similarity index from persisted vectors.
func (e *Engine) LoadIndex(ctx context.Context) (int, error) {
	if e.Embedder == nil || e.Index == nil {
		return 0, nil
	}
	records, err := e.Facts.DB().LiveVectors(ctx)
	if err != nil {
		return 0, fmt.Errorf("load vectors: %w", err)
	}
	return e.Index.Hydrate(ctx, records, e.Embedder.Model()), nil
}

// EmbedMissing embeds live facts that have no vector for the current model.
func (e *Engine) EmbedMissing(ctx context.Context) (int, error) {
	if e.Embedder == nil || e.Index == nil {
		return 0, nil
	}
	facts, err := e.Facts.DB().FactsMissingVectors(ctx, e.Embedder.Model(), embedBatch)
	if err != nil {
		return 0, err
	}
	embedded := 0
	for _, f := range facts {
		if err := e.embed(ctx, f); err != nil {
			log.Warn().Err(err).Str("fact_id", f.ID).Msg("embed missing")
			continue
		}
		embedded++
	}
	return embedded, nil
}

// NewDefaultEmbedder picks Ollama when it answers, otherwise a TF-IDF
// embedder built from the stored facts.
func NewDefaultEmbedder(ctx context.Context, facts *store.FactStore, cfg config.LLMConfig) (Embedder, error) {
	if cfg.EmbeddingModel != "" && ProbeOllama(cfg.OllamaURL, cfg.EmbeddingModel) {
		return NewOllamaEmbedder(cfg.OllamaURL, cfg.EmbeddingModel, 0), nil
	}
	live, err := facts.ListLive(ctx, MaxDecayBatch)
	if err != nil {
		return nil, fmt.Errorf("build tfidf vocabulary: %w", err)
	}
	docs := make([]string, len(live))
	for i, f := range live {
		docs[i] = f.EmbedText()
	}
	return NewTFIDFEmbedder(docs, 512), nil
}
