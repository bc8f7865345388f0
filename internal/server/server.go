package server

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lazypower/keepsake/internal/engine"
	"github.com/lazypower/keepsake/internal/metrics"
	"github.com/lazypower/keepsake/internal/store"
)

// DefaultTurnTimeout bounds background turn processing.
const DefaultTurnTimeout = 90 * time.Second

// Server is the keepsake HTTP API server.
type Server struct {
	engine  *engine.Engine
	db      *store.DB
	router  chi.Router
	version string
	started time.Time

	// TurnTimeout bounds each background ProcessTurn.
	TurnTimeout time.Duration

	inflight sync.WaitGroup
}

// New creates a Server over eng. version is reported by /api/health.
func New(eng *engine.Engine, version string) *Server {
	s := &Server{
		engine:      eng,
		db:          eng.Facts.DB(),
		version:     version,
		started:     time.Now(),
		TurnTimeout: DefaultTurnTimeout,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Wait blocks until background turn processing finishes or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/facts", func(r chi.Router) {
			r.Get("/", s.handleListFacts)
			r.Delete("/", s.handleForget)
			r.Post("/correct", s.handleCorrect)
			r.Post("/{factID}/pin", s.handlePin)
			r.Post("/{factID}/discard", s.handleDiscard)
			r.Post("/{factID}/confirm", s.handleConfirm)
			r.Get("/{factID}/events", s.handleEvents)
		})

		r.Get("/events", s.handleHistory)

		r.Post("/ops", s.handleApplyOps)
		r.Post("/turns", s.handleTurn)
		r.Post("/context", s.handleContext)
		r.Post("/reinforce", s.handleReinforce)

		r.Post("/decay", s.handleDecay)
		r.Get("/decay/runs", s.handleDecayRuns)

		r.Get("/export", s.handleExport)
	})

	s.router = r
}

// instrument records request counts and latency by route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RequestCount.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.PingContext(r.Context()); err != nil {
		dbOK = false
	}

	embedder := ""
	if s.engine.Embedder != nil {
		embedder = s.engine.Embedder.Model()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"uptime":    time.Since(s.started).Seconds(),
		"db":        dbOK,
		"db_path":   s.db.Path,
		"retrieval": s.engine.Retriever.Mode(),
		"llm":       s.engine.LLM != nil,
		"embedder":  embedder,
	})
}
