package core

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clipvault/internal/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)), 5*time.Second)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func TestNewServer_RequiresLogger(t *testing.T) {
	if _, err := NewServer(nil, time.Second); err == nil {
		t.Fatal("expected error for nil logger")
	}
}

func TestServer_HealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/health", srv.HandleHealth)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestServer_AssignsRequestID(t *testing.T) {
	srv := newTestServer(t)
	var seen string
	srv.Router().Get("/probe", func(w http.ResponseWriter, r *http.Request) {
		seen = types.GetRequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/probe", nil))

	if seen == "" {
		t.Error("no request ID in handler context")
	}
	if got := rec.Header().Get("X-Request-Id"); got != seen {
		t.Errorf("response header %q does not match context ID %q", got, seen)
	}
}

func TestServer_HonorsInboundRequestID(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/probe", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("X-Request-Id", "caller-supplied-id")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "caller-supplied-id" {
		t.Errorf("X-Request-Id = %q, want the inbound value", got)
	}
}

func TestServer_RecoversFromPanic(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	var body APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("error code = %q", body.Error.Code)
	}
}

func TestServer_AppliesContextDeadline(t *testing.T) {
	srv := newTestServer(t)
	var hasDeadline bool
	srv.Router().Get("/probe", func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/probe", nil))

	if !hasDeadline {
		t.Error("request context has no deadline")
	}
}

func TestError_AppErrorMapsToStatusAndEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), "req-1"))
	rec := httptest.NewRecorder()

	Error(rec, req, types.NewAppError(types.ErrCodeConflictJobRunning, "job is active", nil))

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	var body APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Error.Code != string(types.ErrCodeConflictJobRunning) {
		t.Errorf("error code = %q", body.Error.Code)
	}
	if body.Error.RequestID != "req-1" {
		t.Errorf("request_id = %q", body.Error.RequestID)
	}
}

func TestError_UnknownErrorNeverLeaksDetails(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()

	Error(rec, req, errors.New("pq: password authentication failed for user postgres"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	var body APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Error.Message != "an unexpected error occurred" {
		t.Errorf("internal detail leaked: %q", body.Error.Message)
	}
}
