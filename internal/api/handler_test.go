//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/rallycoach/internal/store"
	"github.com/go-chi/chi/v5"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusBadRequest, "bad input")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "bad input" {
		t.Fatalf("unexpected body %v", got)
	}
}

// fakeRepo implements the parts of store.Repository the handlers use.
type fakeRepo struct {
	store.Repository
	pingErr  error
	stats    *store.Stats
	statsErr error
}

func (f *fakeRepo) Ping(context.Context) error { return f.pingErr }

func (f *fakeRepo) Stats(context.Context) (*store.Stats, error) { return f.stats, f.statsErr }

type fixedActive int

func (n fixedActive) ActiveCount() int { return int(n) }

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		checkErr   error
		wantCode   int
		wantStatus string
	}{
		{name: "healthy", wantCode: http.StatusOK, wantStatus: "healthy"},
		{name: "store down", pingErr: errors.New("down"), wantCode: http.StatusServiceUnavailable, wantStatus: "degraded"},
		{name: "upstream down", checkErr: errors.New("down"), wantCode: http.StatusOK, wantStatus: "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(&fakeRepo{pingErr: tt.pingErr}, 0, map[string]Checker{
				"completion": func(context.Context) error { return tt.checkErr },
			})
			w := httptest.NewRecorder()
			h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var body struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Fatalf("status field = %q, want %q", body.Status, tt.wantStatus)
			}
			if _, ok := body.Checks["completion"]; !ok {
				t.Fatal("expected completion check to be reported")
			}
		})
	}
}

func TestAdminStats(t *testing.T) {
	repo := &fakeRepo{stats: &store.Stats{Players: 4, Sessions: 9, Levels: map[string]int{"Beginner": 3}}}

	tests := []struct {
		name     string
		token    string
		auth     string
		wantCode int
	}{
		{name: "disabled", token: "", auth: "Bearer x", wantCode: http.StatusNotFound},
		{name: "missing auth", token: "s3cret", wantCode: http.StatusUnauthorized},
		{name: "wrong token", token: "s3cret", auth: "Bearer nope", wantCode: http.StatusUnauthorized},
		{name: "ok", token: "s3cret", auth: "Bearer s3cret", wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewAdminHandler(repo, fixedActive(2), tt.token).RegisterRoutes(r)

			req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var got StatsResponse
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Stats == nil || got.Players != 4 || got.ActiveSessions != 2 || got.Levels["Beginner"] != 3 {
				t.Fatalf("unexpected stats %+v", got)
			}
		})
	}
}
