package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"deskforge/internal/logger"
)

func TestRequestID_GeneratesAndEchoes(t *testing.T) {
	var captured string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = logger.RequestIDFromContext(r.Context())
	})

	rr := httptest.NewRecorder()
	RequestID(inner).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if captured == "" {
		t.Fatal("expected a generated request ID in context")
	}
	if got := rr.Header().Get("X-Request-ID"); got != captured {
		t.Errorf("response header %q does not match context ID %q", got, captured)
	}
}

func TestRequestID_HonorsClientHeader(t *testing.T) {
	var captured string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = logger.RequestIDFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-id")
	rr := httptest.NewRecorder()
	RequestID(inner).ServeHTTP(rr, req)

	if captured != "client-id" {
		t.Errorf("expected client-id, got %q", captured)
	}
}

func TestRequestLog_RecordsStatus(t *testing.T) {
	base := slog.New(slog.NewTextHandler(io.Discard, nil))
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rr := httptest.NewRecorder()
	RequestLog(base)(inner).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusTeapot {
		t.Errorf("middleware must not swallow the status, got %d", rr.Code)
	}
}

func TestRateLimit(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	limited := RateLimit(1)(inner)

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		limited.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/jobs", nil))
		codes = append(codes, rr.Code)
	}

	var rejected int
	for _, code := range codes {
		if code == http.StatusTooManyRequests {
			rejected++
		}
	}
	if rejected == 0 {
		t.Errorf("expected some requests rejected, got codes %v", codes)
	}
	if codes[0] != http.StatusOK {
		t.Errorf("first request should pass, got %d", codes[0])
	}
}
