package server

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/keepsake/internal/engine"
	"github.com/lazypower/keepsake/internal/memory"
)

// opResult is an engine.Result with its error rendered for JSON.
type opResult struct {
	engine.Result
	Message string `json:"error,omitempty"`
}

func renderResults(results []engine.Result) []opResult {
	out := make([]opResult, len(results))
	for i, r := range results {
		out[i] = opResult{Result: r, Message: r.Error()}
	}
	return out
}

func (s *Server) handleListFacts(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	facts, err := s.engine.List(r.Context(), owner, queryBool(r, "includeDiscarded"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(facts),
		"facts": facts,
	})
}

// handleForget is the administrative hard delete of every fact under a key.
func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	key := r.URL.Query().Get("key")
	n, err := s.engine.Forget(r.Context(), owner, key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "deleted": n})
}

func (s *Server) handleCorrect(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Key         string `json:"key"`
		Value       any    `json:"value"`
		DisplayText string `json:"displayText"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.engine.Correct(r.Context(), owner, req.Key, req.Value, req.DisplayText)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opResult{Result: res})
}

// factMutation wraps the id-targeted management actions.
func (s *Server) factMutation(fn func(r *http.Request, owner memory.Owner, id string) (*memory.Fact, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := ownerFrom(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		f, err := fn(r, owner, chi.URLParam(r, "factID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, f)
	}
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	s.factMutation(func(r *http.Request, owner memory.Owner, id string) (*memory.Fact, error) {
		req := struct {
			Pinned *bool `json:"pinned"`
		}{}
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		pinned := req.Pinned == nil || *req.Pinned
		return s.engine.Pin(r.Context(), owner, id, pinned)
	})(w, r)
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	s.factMutation(func(r *http.Request, owner memory.Owner, id string) (*memory.Fact, error) {
		return s.engine.Discard(r.Context(), owner, id)
	})(w, r)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	s.factMutation(func(r *http.Request, owner memory.Owner, id string) (*memory.Fact, error) {
		return s.engine.Confirm(r.Context(), owner, id)
	})(w, r)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	events, err := s.engine.Events(r.Context(), owner, chi.URLParam(r, "factID"), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(events),
		"events": events,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	events, err := s.engine.History(r.Context(), owner, queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(events),
		"events": events,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = engine.FormatYAML
	}

	var buf bytes.Buffer
	if err := s.engine.Export(r.Context(), owner, format, &buf); err != nil {
		writeError(w, r, err)
		return
	}
	contentType := "application/yaml"
	if format != engine.FormatYAML {
		contentType = "text/markdown; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
