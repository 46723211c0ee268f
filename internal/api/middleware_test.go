package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/onehubexpress/search/internal/models"
)

func TestRequestIDFromContext_Empty(t *testing.T) {
	if id := RequestIDFromContext(context.Background()); id != "" {
		t.Errorf("expected empty string from empty context, got %q", id)
	}
}

func TestRequestIDFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), requestIDKey, 12345)
	if id := RequestIDFromContext(ctx); id != "" {
		t.Errorf("expected empty string for wrong type, got %q", id)
	}
}

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	var capturedID string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = RequestIDFromContext(r.Context())
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if capturedID == "" {
		t.Error("expected generated request ID")
	}
	if rr.Header().Get("X-Request-ID") != capturedID {
		t.Error("response header should match context ID")
	}
}

func TestRequestIDMiddleware_UsesExistingHeader(t *testing.T) {
	var capturedID string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "existing-id-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if capturedID != "existing-id-123" {
		t.Errorf("expected existing-id-123, got %q", capturedID)
	}
}

func TestResponseWriter_RecordsStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rr, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)
	if rw.statusCode != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rw.statusCode)
	}
	if rw.Unwrap() != rr {
		t.Error("Unwrap should return the underlying ResponseWriter")
	}
}

func TestResponseWriter_HijackUnsupported(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil {
		t.Error("expected error when the recorder cannot hijack")
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var handlerCalled bool
	handler := LoggingMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))

	if !handlerCalled {
		t.Error("expected inner handler to be called")
	}
	if rr.Code != http.StatusTeapot {
		t.Errorf("expected status passed through, got %d", rr.Code)
	}
}

func TestRecoveryMiddleware_WithPanic(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 after panic, got %d", rr.Code)
	}
	if rr.Header().Get("Content-Type") != "application/json" {
		t.Error("expected JSON content type in panic response")
	}
	if !strings.Contains(rr.Body.String(), "INTERNAL") {
		t.Errorf("unexpected body %q", rr.Body.String())
	}
}

func TestSearchRecoveryMiddleware_AnswersSearchShape(t *testing.T) {
	handler := SearchRecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("nil map")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(`{"query":"biryani"}`)))

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 after panic, got %d", rr.Code)
	}
	var resp models.SearchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body is not a search response: %v", err)
	}
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Errorf("expected empty results, got %v", resp.Results)
	}
	if resp.Error == "" || resp.Summary == "" || len(resp.Suggestions) == 0 {
		t.Errorf("expected error, summary and suggestions, got %+v", resp)
	}
	if resp.Source != models.SourceValidation {
		t.Errorf("expected validation source, got %q", resp.Source)
	}
}

func TestRecoveryMiddleware_NoPanic(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestConcurrencyLimiter_RejectsWhenFull(t *testing.T) {
	cl := NewConcurrencyLimiter(1, zap.NewNop())

	entered := make(chan struct{})
	release := make(chan struct{})
	handler := cl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/a", nil))
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first request never entered the handler")
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/b", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	close(release)
	wg.Wait()
}

func TestConcurrencyLimiter_TokenReturnedAfterRequest(t *testing.T) {
	cl := NewConcurrencyLimiter(1, zap.NewNop())
	handler := cl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
}

func TestNewConcurrencyLimiter_NonPositive(t *testing.T) {
	cl := NewConcurrencyLimiter(0, zap.NewNop())
	if cap(cl.tokens) != 1 {
		t.Errorf("expected capacity 1, got %d", cap(cl.tokens))
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSMiddleware_AnyOrigin(t *testing.T) {
	handler := CORSMiddleware([]string{"*"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	req.Header.Set("Origin", "https://app.onehub.example")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected wildcard origin, got %q", got)
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	var called bool
	handler := CORSMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/search", nil)
	req.Header.Set("Origin", "https://app.onehub.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type, Authorization")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", rr.Code)
	}
	if called {
		t.Error("handler should not be called for preflight")
	}
	if rr.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("expected allowed methods header")
	}
}

func TestCORSMiddleware_RestrictedOrigins(t *testing.T) {
	handler := CORSMiddleware([]string{"https://app.onehub.example"})(okHandler())

	tests := []struct {
		origin string
		want   string
	}{
		{"https://app.onehub.example", "https://app.onehub.example"},
		{"https://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("origin %s: got %q, want %q", tt.origin, got, tt.want)
			}
		})
	}
}
