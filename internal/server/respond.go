package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/lazypower/keepsake/internal/memory"
)

// Owner headers set by the authenticating proxy in front of the service.
const (
	HeaderUser    = "X-Keepsake-User"
	HeaderProject = "X-Keepsake-Project"
)

// maxBodySize caps request bodies.
const maxBodySize = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("server: encode response")
	}
}

// writeError maps the error taxonomy onto status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case memory.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, memory.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("server: request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// ownerFrom reads the owner scope from the request headers.
func ownerFrom(r *http.Request) (memory.Owner, error) {
	owner := memory.Owner{
		UserID:    strings.TrimSpace(r.Header.Get(HeaderUser)),
		ProjectID: strings.TrimSpace(r.Header.Get(HeaderProject)),
	}
	if owner.UserID == "" {
		return owner, &memory.ValidationError{Field: HeaderUser, Reason: "header required"}
	}
	return owner, nil
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return &memory.ValidationError{Field: "body", Reason: "invalid json: " + err.Error()}
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}
