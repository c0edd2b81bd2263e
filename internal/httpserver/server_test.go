package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/yanrk/resource-monitor/internal/config"
	"github.com/yanrk/resource-monitor/internal/version"
	"github.com/yanrk/resource-monitor/monitor"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// The monitor is never initialised: the sampling engine is
	// platform-bound, so handlers are exercised in their degraded paths.
	mon := monitor.New(monitor.Config{Logger: logger})
	return New(cfg, logger, mon, monitor.TickInterval)
}

func (s *Server) serve(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.serve(t, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}

	if rec := s.serve(t, http.MethodPost, "/healthz"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST, got %d", rec.Code)
	}
}

func TestReadyzBeforeFirstSample(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.serve(t, http.MethodGet, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before any sample, got %d", rec.Code)
	}

	var info readinessInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode readyz body: %v", err)
	}
	if info.Status != "waiting_for_first_sample" {
		t.Fatalf("unexpected status %q", info.Status)
	}
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.serve(t, http.MethodGet, "/version")
	if rec.Code != http.StatusOK {
		t.Fatalf("version status %d", rec.Code)
	}

	var info version.Info
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode version body: %v", err)
	}
	if info.Version == "" {
		t.Fatalf("expected a version string")
	}
}

func TestAPISystemUnavailableWithoutSampler(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	if rec := s.serve(t, http.MethodGet, "/api/system"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec := s.serve(t, http.MethodGet, "/api/processes"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec := s.serve(t, http.MethodGet, "/api/cards"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestAPIProcessPathValidation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	if rec := s.serve(t, http.MethodGet, "/api/processes/abc"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a non-numeric pid, got %d", rec.Code)
	}
	if rec := s.serve(t, http.MethodGet, "/api/processes/1/extra"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a nested path, got %d", rec.Code)
	}
}

func TestOriginPatterns(t *testing.T) {
	t.Parallel()

	got := originPatterns([]string{"https://example.com", "http://other.test", " ", "*"})
	want := []string{"example.com", "other.test", "*"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("originPatterns = %v, want %v", got, want)
	}
}
