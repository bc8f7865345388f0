package server

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/lazypower/keepsake/internal/engine"
	"github.com/lazypower/keepsake/internal/memory"
)

// handleApplyOps applies operations from an external producer. Each op is
// reported on its own; one rejected op does not fail the request.
func (s *Server) handleApplyOps(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Ops []memory.Operation `json:"ops"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	results := s.engine.Apply(r.Context(), owner, req.Ops)
	writeJSON(w, http.StatusOK, map[string]any{"results": renderResults(results)})
}

type turnResponse struct {
	Results  []opResult         `json:"results"`
	Pending  []memory.Operation `json:"pending,omitempty"`
	Rejected int                `json:"rejected"`
	Question string             `json:"question,omitempty"`
}

// handleTurn extracts memory from a finished chat turn. By default the work
// runs in the background and the handler returns 202 so the chat reply is
// never held up by memory. ?wait=true processes inline and returns the result.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var turn engine.Turn
	if err := decode(r, &turn); err != nil {
		writeError(w, r, err)
		return
	}
	if turn.User == "" && turn.Assistant == "" {
		badRequest(w, "user or assistant text required")
		return
	}

	if queryBool(r, "wait") {
		ctx, cancel := context.WithTimeout(r.Context(), s.TurnTimeout)
		defer cancel()
		res, err := s.engine.ProcessTurn(ctx, owner, turn)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, turnResponse{
			Results:  renderResults(res.Results),
			Pending:  res.Pending,
			Rejected: res.Rejected,
			Question: res.Question,
		})
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.TurnTimeout)
		defer cancel()
		if _, err := s.engine.ProcessTurn(ctx, owner, turn); err != nil {
			log.Error().Err(err).Str("user", owner.UserID).Str("project", owner.ProjectID).Msg("turn: processing failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "processing"})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.engine.Context(r.Context(), owner, req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReinforce(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Keys []string `json:"keys"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	results, err := s.engine.Reinforce(r.Context(), owner, req.Keys)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": renderResults(results)})
}

// handleDecay runs one decay batch. The owner headers are optional here;
// without them the run covers every fact.
func (s *Server) handleDecay(w http.ResponseWriter, r *http.Request) {
	scope := memory.Owner{
		UserID:    r.Header.Get(HeaderUser),
		ProjectID: r.Header.Get(HeaderProject),
	}
	sum, err := s.engine.RunDecay(r.Context(), scope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleDecayRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.db.RecentDecayRuns(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
