package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/lazypower/keepsake/internal/audit"
	"github.com/lazypower/keepsake/internal/config"
	"github.com/lazypower/keepsake/internal/engine"
	"github.com/lazypower/keepsake/internal/llm"
	"github.com/lazypower/keepsake/internal/store"
)

// app is the wired runtime shared by every command.
type app struct {
	db     *store.DB
	sink   *audit.Sink
	engine *engine.Engine
}

// openApp opens the database and builds the engine. The embedder is only
// built when withEmbedder is set or similarity retrieval is configured,
// since probing for it may touch the network.
func openApp(ctx context.Context, cfg config.Config, withEmbedder bool) (*app, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sink := audit.NewSink(db, audit.FlushPolicy{
		Async:         cfg.Audit.Async,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
	})
	facts := store.NewFactStore(db, sink)

	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		log.Warn().Err(err).Msg("llm not configured, extraction limited to heuristics")
		client = nil
	}

	var emb engine.Embedder
	if withEmbedder || cfg.Memory.RetrievalMode == string(engine.ModeSimilarity) {
		emb, err = engine.NewDefaultEmbedder(ctx, facts, cfg.LLM)
		if err != nil {
			log.Warn().Err(err).Msg("embedder unavailable, similarity retrieval will degrade")
			emb = nil
		}
	}

	eng, err := engine.New(facts, client, emb, engine.OptionsFromConfig(cfg))
	if err != nil {
		sink.Close()
		db.Close()
		return nil, err
	}
	if emb != nil {
		if n, err := eng.LoadIndex(ctx); err != nil {
			log.Warn().Err(err).Msg("load similarity index")
		} else {
			log.Debug().Int("vectors", n).Str("model", emb.Model()).Msg("similarity index loaded")
		}
	}
	return &app{db: db, sink: sink, engine: eng}, nil
}

func (a *app) Close() error {
	a.engine.Close()
	a.sink.Close()
	return a.db.Close()
}
