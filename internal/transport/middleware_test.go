package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Chunkys0up7/Atoms-sub002/internal/config"
	"github.com/Chunkys0up7/Atoms-sub002/model"
)

func TestRequestID_generatesWhenMissing(t *testing.T) {
	var got string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = CorrelationIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if got == "" {
		t.Error("correlation ID should be generated")
	}
	if rec.Header().Get("X-Correlation-Id") != got {
		t.Error("response header should echo the correlation ID")
	}
}

func TestRequestID_preservesInbound(t *testing.T) {
	var got string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = CorrelationIDFrom(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Correlation-Id", "corr-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got != "corr-123" {
		t.Errorf("correlation ID = %q, want corr-123", got)
	}
}

func TestRecovery_catchesPanic(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options header")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing X-Frame-Options header")
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("missing Cache-Control header")
	}
}

func TestCORS_allowedOrigin(t *testing.T) {
	cfg := config.CORSConfig{
		AllowedOrigins: []string{"https://app.example.com"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization"},
		MaxAge:         3600,
	}
	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Error("allowed origin should be echoed")
	}
}

func TestCORS_disallowedOrigin(t *testing.T) {
	cfg := config.CORSConfig{AllowedOrigins: []string{"https://app.example.com"}}
	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin should not be echoed")
	}
}

func TestCORS_preflight(t *testing.T) {
	cfg := config.CORSConfig{
		AllowedOrigins: []string{"https://app.example.com"},
		AllowedMethods: []string{"GET", "POST"},
	}
	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight should not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

func TestBuildRequestContext_fromClaims(t *testing.T) {
	var rctx *model.RequestContext
	handler := BuildRequestContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rctx = model.RequestContextFrom(r.Context())
	}))

	claims := map[string]any{
		"sub":   "user-42",
		"email": "user@example.com",
		"roles": []any{"supervisor"},
		"teams": []any{"fulfillment", "billing"},
	}
	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(WithClaims(req.Context(), claims))

	handler.ServeHTTP(httptest.NewRecorder(), req)

	if rctx == nil {
		t.Fatal("request context should be set")
	}
	if rctx.SubjectID != "user-42" {
		t.Errorf("subject = %q, want user-42", rctx.SubjectID)
	}
	if rctx.Email != "user@example.com" {
		t.Errorf("email = %q", rctx.Email)
	}
	if len(rctx.Roles) != 1 || rctx.Roles[0] != "supervisor" {
		t.Errorf("roles = %v, want [supervisor]", rctx.Roles)
	}
	if len(rctx.Teams) != 2 {
		t.Errorf("teams = %v, want 2 entries", rctx.Teams)
	}
}

func TestBuildRequestContext_carriesCorrelationID(t *testing.T) {
	var rctx *model.RequestContext
	inner := BuildRequestContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rctx = model.RequestContextFrom(r.Context())
	}))
	handler := RequestID(inner)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Correlation-Id", "corr-777")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if rctx == nil {
		t.Fatal("request context should be set")
	}
	if rctx.CorrelationID != "corr-777" {
		t.Errorf("correlation = %q, want corr-777", rctx.CorrelationID)
	}
}

func TestHandlerTimeout_setsDeadline(t *testing.T) {
	handler := HandlerTimeout(5 * time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); !ok {
			t.Error("context should have a deadline")
		}
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
}

func TestHandlerTimeout_zeroDisables(t *testing.T) {
	handler := HandlerTimeout(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); ok {
			t.Error("context should not have a deadline when timeout is 0")
		}
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
}

func TestRequestLogging_passesThrough(t *testing.T) {
	handler := RequestLogging(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
}
