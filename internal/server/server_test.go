package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lazypower/keepsake/internal/engine"
	"github.com/lazypower/keepsake/internal/llm"
	"github.com/lazypower/keepsake/internal/memory"
	"github.com/lazypower/keepsake/internal/store"
)

var alice = memory.Owner{UserID: "alice", ProjectID: "companion"}

func testServer(t *testing.T, client llm.Client) *Server {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	fs := store.NewFactStore(db, nil)
	fs.Now = func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) }
	eng, err := engine.New(fs, client, nil, engine.Options{})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(eng.Close)
	return New(eng, "test-version")
}

// do sends a request as owner. A zero owner sends no owner headers.
func do(t *testing.T, srv *Server, owner memory.Owner, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	if owner.UserID != "" {
		req.Header.Set(HeaderUser, owner.UserID)
	}
	if owner.ProjectID != "" {
		req.Header.Set(HeaderProject, owner.ProjectID)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t, nil)

	w := do(t, srv, memory.Owner{}, "GET", "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]any
	decodeBody(t, w, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test-version" {
		t.Errorf("version = %v, want test-version", body["version"])
	}
	if body["db"] != true {
		t.Errorf("db = %v, want true", body["db"])
	}
	if body["retrieval"] != "lexical" {
		t.Errorf("retrieval = %v, want lexical", body["retrieval"])
	}
	if body["llm"] != false {
		t.Errorf("llm = %v, want false", body["llm"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := testServer(t, nil)
	do(t, srv, memory.Owner{}, "GET", "/api/health", nil)

	w := do(t, srv, memory.Owner{}, "GET", "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "keepsake_http_requests_total") {
		t.Error("metrics output missing keepsake_http_requests_total")
	}
}

func TestOwnerHeaderRequired(t *testing.T) {
	srv := testServer(t, nil)

	routes := []struct {
		method string
		path   string
	}{
		{"GET", "/api/facts"},
		{"DELETE", "/api/facts?key=pet.Ember"},
		{"POST", "/api/facts/correct"},
		{"POST", "/api/facts/abc/pin"},
		{"GET", "/api/facts/abc/events"},
		{"POST", "/api/ops"},
		{"POST", "/api/turns"},
		{"POST", "/api/context"},
		{"POST", "/api/reinforce"},
		{"GET", "/api/export"},
	}
	for _, rt := range routes {
		w := do(t, srv, memory.Owner{}, rt.method, rt.path, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s %s: status = %d, want %d", rt.method, rt.path, w.Code, http.StatusBadRequest)
			continue
		}
		var body map[string]string
		decodeBody(t, w, &body)
		if !strings.Contains(body["error"], HeaderUser) {
			t.Errorf("%s %s: error = %q, want mention of %s", rt.method, rt.path, body["error"], HeaderUser)
		}
	}
}

func TestInvalidJSON(t *testing.T) {
	srv := testServer(t, nil)
	w := do(t, srv, alice, "POST", "/api/ops", `{"ops": [`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestWaitReturnsWhenIdle(t *testing.T) {
	srv := testServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Wait(ctx); err != nil {
		t.Errorf("Wait: %v", err)
	}
}
