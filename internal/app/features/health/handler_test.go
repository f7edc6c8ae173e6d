package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dalemusser/volunteerhub/internal/app/features/health"
	"github.com/dalemusser/volunteerhub/internal/testutil"
	"go.uber.org/zap"
)

type response struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Cache    string `json:"cache"`
	Message  string `json:"message"`
}

func serve(t *testing.T, h *health.Handler) (*httptest.ResponseRecorder, response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Serve(rec, httptest.NewRequest("GET", "/health", nil))
	var resp response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return rec, resp
}

func ok(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

func TestServe_DatabaseConnected(t *testing.T) {
	db := testutil.SetupTestDB(t)
	handler := health.NewHandler(db.Client(), nil, zap.NewNop())

	rec, resp := serve(t, handler)
	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want %q", ct, "application/json")
	}
	if resp.Status != "ok" || resp.Database != "connected" {
		t.Errorf("got %+v", resp)
	}
	if resp.Cache != "" {
		t.Errorf("cache = %q, want omitted without redis", resp.Cache)
	}
}

func TestServe_DatabaseDown(t *testing.T) {
	h := &health.Handler{Database: down, Log: zap.NewNop()}
	rec, resp := serve(t, h)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
	if resp.Status != "error" || resp.Database != "disconnected" || resp.Message == "" {
		t.Errorf("got %+v", resp)
	}
}

func TestServe_CacheStates(t *testing.T) {
	tests := []struct {
		name   string
		cache  health.PingFunc
		status string
		cached string
	}{
		{"cache up", ok, "ok", "connected"},
		{"cache down", down, "degraded", "disconnected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &health.Handler{Database: ok, Cache: tt.cache, Log: zap.NewNop()}
			rec, resp := serve(t, h)
			if rec.Code != http.StatusOK {
				t.Errorf("status %d, want 200", rec.Code)
			}
			if resp.Status != tt.status || resp.Cache != tt.cached {
				t.Errorf("got %+v", resp)
			}
		})
	}
}

func TestRoutes(t *testing.T) {
	r := health.Routes(&health.Handler{Database: ok, Log: zap.NewNop()})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET / = %d", rec.Code)
	}
}
