package coach

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/rallycoach/internal/api"
	"github.com/ashureev/rallycoach/internal/domain"
	"github.com/ashureev/rallycoach/internal/identity"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const defaultMaxRequestBodySize = 64 * 1024

// Handler serves the coaching HTTP API.
type Handler struct {
	svc         *Service
	rateLimiter *RateLimiter
	maxBody     int64
}

// NewHandler creates the HTTP handler. A nil limiter disables rate limiting.
func NewHandler(svc *Service, limiter *RateLimiter, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = defaultMaxRequestBodySize
	}
	return &Handler{svc: svc, rateLimiter: limiter, maxBody: maxBody}
}

// Routes mounts the coaching endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/sessions", h.HandleStart)
	r.Post("/sessions/{token}/messages", h.HandleMessage)
	r.Post("/sessions/{token}/end", h.HandleEnd)
}

// StartRequest is the body of POST /sessions.
type StartRequest struct {
	Email string `json:"email"`
}

// StartResponse describes a newly opened or resumed session.
type StartResponse struct {
	Token         string  `json:"token"`
	PlayerEmail   string  `json:"player_email"`
	SessionNumber int     `json:"session_number"`
	Resumed       bool    `json:"resumed"`
	Replies       []Reply `json:"replies"`
}

// MessageRequest is the body of POST /sessions/{token}/messages.
type MessageRequest struct {
	Message string `json:"message"`
}

// TurnResponse carries the coach's replies to one turn.
type TurnResponse struct {
	Replies []Reply                `json:"replies"`
	Ended   bool                   `json:"ended"`
	Summary *domain.SessionSummary `json:"summary,omitempty"`
}

// HandleStart handles POST /api/coach/sessions.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if !h.decode(w, r, &req) {
		return
	}
	email := req.Email
	if email == "" {
		email = identity.PlayerEmailFromContext(r.Context())
	}
	if !identity.ValidEmail(email) {
		api.Error(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	email = domain.NormalizeEmail(email)
	if !h.allow(w, email) {
		return
	}

	sess, replies, err := h.svc.Start(r.Context(), email)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	api.JSON(w, http.StatusOK, StartResponse{
		Token:         sess.Token(),
		PlayerEmail:   sess.PlayerEmail(),
		SessionNumber: sess.Number(),
		Resumed:       replies == nil,
		Replies:       nonNil(replies),
	})
}

// HandleMessage handles POST /api/coach/sessions/{token}/messages.
// Clients sending Accept: text/event-stream get one SSE event per reply.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if !h.allow(w, sess.PlayerEmail()) {
		return
	}
	var req MessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		api.Error(w, http.StatusBadRequest, "message is required")
		return
	}

	slog.Info("Coach message request",
		"player_email", sess.PlayerEmail(),
		"session_number", sess.Number(),
		"message_length", len(req.Message),
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)

	replies, err := sess.Handle(r.Context(), req.Message)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := TurnResponse{Replies: nonNil(replies), Ended: sess.Ended()}
	if resp.Ended {
		resp.Summary = sess.Summary()
	}

	if wantsEventStream(r) {
		h.stream(w, resp)
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

// HandleEnd handles POST /api/coach/sessions/{token}/end.
func (h *Handler) HandleEnd(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	sum, err := sess.End(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	api.JSON(w, http.StatusOK, TurnResponse{Replies: []Reply{}, Ended: true, Summary: sum})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, err := h.svc.Lookup(chi.URLParam(r, "token"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return nil, false
	}
	// A player header, when sent, must match the session's owner.
	if email := identity.PlayerEmailFromContext(r.Context()); email != "" && email != sess.PlayerEmail() {
		api.Error(w, http.StatusForbidden, "session belongs to another player")
		return nil, false
	}
	return sess, true
}

// Rate-limit by player email, not token, so clients cannot bypass
// throttling by opening new sessions.
func (h *Handler) allow(w http.ResponseWriter, email string) bool {
	if h.rateLimiter == nil || h.rateLimiter.Allow(email) {
		return true
	}
	api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		if errors.Is(err, io.EOF) {
			return true
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		api.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSessionEnded):
		api.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrEmptyUtterance):
		api.Error(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("Coach request failed", "error", err, "request_id", chiMiddleware.GetReqID(r.Context()))
		api.Error(w, http.StatusServiceUnavailable, "coaching service unavailable")
	}
}

func (h *Handler) stream(w http.ResponseWriter, resp TurnResponse) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		api.JSON(w, http.StatusOK, resp)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for _, reply := range resp.Replies {
		data, err := json.Marshal(reply)
		if err != nil {
			slog.Warn("failed to marshal coach reply", "error", err)
			continue
		}
		event := "message"
		if reply.IsError() {
			event = "error"
		}
		if err := writeSSE(w, event, string(data)); err != nil {
			slog.Warn("failed to write SSE message event", "error", err)
			return
		}
		flusher.Flush()
	}
	done, err := json.Marshal(map[string]any{"ended": resp.Ended, "summary": resp.Summary})
	if err != nil {
		return
	}
	if err := writeSSE(w, "done", string(done)); err != nil {
		slog.Warn("failed to write SSE done event", "error", err)
		return
	}
	flusher.Flush()
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func nonNil(replies []Reply) []Reply {
	if replies == nil {
		return []Reply{}
	}
	return replies
}
