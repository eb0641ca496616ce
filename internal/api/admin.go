package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/rallycoach/internal/store"
	"github.com/go-chi/chi/v5"
)

// ActiveCounter reports how many sessions are currently in memory.
type ActiveCounter interface {
	ActiveCount() int
}

// AdminHandler serves read-only analytics over stored aggregates.
type AdminHandler struct {
	repo   store.Repository
	active ActiveCounter
	token  string
}

// NewAdminHandler creates the admin handler. An empty token disables the routes.
func NewAdminHandler(repo store.Repository, active ActiveCounter, token string) *AdminHandler {
	return &AdminHandler{repo: repo, active: active, token: token}
}

// StatsResponse is returned by GET /api/admin/stats.
type StatsResponse struct {
	*store.Stats
	ActiveSessions int `json:"active_sessions"`
}

// RegisterRoutes mounts the admin routes under /admin.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireToken)
		r.Get("/stats", h.Stats)
	})
}

// Stats returns player, session and summary aggregates.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.Stats(r.Context())
	if err != nil {
		slog.Error("Failed to load stats", "error", err)
		Error(w, http.StatusServiceUnavailable, "stats unavailable")
		return
	}
	resp := StatsResponse{Stats: stats}
	if h.active != nil {
		resp.ActiveSessions = h.active.ActiveCount()
	}
	JSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token == "" {
			Error(w, http.StatusNotFound, "not found")
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
