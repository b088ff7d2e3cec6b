package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"seedforge/go-engine/internal/config"
	"seedforge/go-engine/internal/engine"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	eng, err := engine.New(engine.Config{
		CacheDir:   t.TempDir(),
		MaxWorkers: 1,
		KeyBits:    512,
	}, nil)
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	t.Cleanup(func() { eng.Close(time.Second) })

	cfg := config.DefaultConfig()
	cfg.API.RateLimitRPS = 1000
	cfg.API.RateLimitBurst = 1000
	return NewServer(cfg, eng, nil)
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestDeriveEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/keys/derive", `{"phrase":"some test phrase","inline":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp deriveResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	if resp.Material == nil || resp.Material.Validate() != nil {
		t.Fatal("expected structurally valid material")
	}
}

func TestDeriveRejectsEmptyPhrase(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/keys/derive", `{"phrase":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeriveRejectsGet(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/v1/keys/derive", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestDeriveRejectsBadBody(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/keys/derive", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCacheMaintenanceEndpoints(t *testing.T) {
	s := newTestServer(t)
	if rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/keys/derive", `{"phrase":"maintenance phrase","inline":true}`); rec.Code != http.StatusOK {
		t.Fatalf("derive failed: %d", rec.Code)
	}

	rec := doJSON(t, s.Handler(), http.MethodGet, "/v1/cache/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats failed: %d", rec.Code)
	}
	rec = doJSON(t, s.Handler(), http.MethodGet, "/v1/cache/disk", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("disk info failed: %d", rec.Code)
	}
	var info struct {
		Files int `json:"files"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode disk info failed: %v", err)
	}
	if info.Files != 1 {
		t.Fatalf("expected 1 cached record, got %d", info.Files)
	}

	if rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/cache/cleanup", ""); rec.Code != http.StatusOK {
		t.Fatalf("cleanup failed: %d", rec.Code)
	}
	if rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/cache/clear", ""); rec.Code != http.StatusOK {
		t.Fatalf("clear failed: %d", rec.Code)
	}
	if rec := doJSON(t, s.Handler(), http.MethodGet, "/v1/cache/clear", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("clear must require POST, got %d", rec.Code)
	}
}

func TestRateLimiting(t *testing.T) {
	eng, err := engine.New(engine.Config{MaxWorkers: 1, KeyBits: 512}, nil)
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	t.Cleanup(func() { eng.Close(time.Second) })

	cfg := config.DefaultConfig()
	cfg.API.RateLimitRPS = 1
	cfg.API.RateLimitBurst = 1
	s := NewServer(cfg, eng, nil)

	first := doJSON(t, s.Handler(), http.MethodPost, "/v1/keys/derive", `{"phrase":"limited phrase","inline":true}`)
	if first.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", first.Code)
	}
	second := doJSON(t, s.Handler(), http.MethodPost, "/v1/keys/derive", `{"phrase":"limited phrase","inline":true}`)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be limited, got %d", second.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics failed: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "seedforge_") {
		t.Fatal("expected seedforge metrics in exposition")
	}
}
