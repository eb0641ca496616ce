package coach

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/rallycoach/internal/domain"
	"github.com/ashureev/rallycoach/internal/identity"
	"github.com/coder/websocket"
)

const wsWriteTimeout = 10 * time.Second

// ConnManager tracks the websocket attached to each session token.
type ConnManager struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
}

// NewConnManager creates an empty connection manager.
func NewConnManager() *ConnManager {
	return &ConnManager{active: make(map[string]*websocket.Conn)}
}

// Get returns the connection attached to token.
func (m *ConnManager) Get(token string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[token]
}

// Register attaches conn to token, closing any connection it replaces.
func (m *ConnManager) Register(token string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.active[token]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	m.active[token] = conn
	slog.Info("Coach websocket registered", "token", token)
}

// Unregister detaches conn if it is still the current one for token.
func (m *ConnManager) Unregister(token string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.active[token]; ok && current == conn {
		delete(m.active, token)
		slog.Info("Coach websocket unregistered", "token", token)
	}
}

// CloseSession closes the connection of an ended session. It matches
// ReapCallback.
func (m *ConnManager) CloseSession(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.active[token]
	if !ok {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "session ended")
	delete(m.active, token)
	slog.Info("Coach websocket closed", "token", token)
}

// wsFrame is the JSON frame exchanged over the coach websocket.
type wsFrame struct {
	Type          string                 `json:"type"`
	Content       string                 `json:"content,omitempty"`
	Kind          ReplyKind              `json:"kind,omitempty"`
	ErrorKind     string                 `json:"error_kind,omitempty"`
	Token         string                 `json:"token,omitempty"`
	SessionNumber int                    `json:"session_number,omitempty"`
	Summary       *domain.SessionSummary `json:"summary,omitempty"`
}

// WebSocketHandler runs one coaching conversation per connection.
type WebSocketHandler struct {
	svc           *Service
	cm            *ConnManager
	rateLimiter   *RateLimiter
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates the websocket handler.
func NewWebSocketHandler(svc *Service, cm *ConnManager, limiter *RateLimiter, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		svc:           svc,
		cm:            cm,
		rateLimiter:   limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for GET /ws/coach.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	email := identity.PlayerEmailFromContext(r.Context())
	slog.Info("Coach websocket request", "player_email", email, "ip", identity.IPFromRequest(r))
	if email == "" {
		http.Error(w, "a valid email is required", http.StatusBadRequest)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept websocket", "error", err, "player_email", email)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "conversation closed"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "player_email", email)
		}
	}()

	ctx := r.Context()
	sess, replies, err := h.svc.Start(ctx, email)
	if err != nil {
		slog.Error("Failed to start session over websocket", "error", err, "player_email", email)
		_ = h.writeFrame(ws, wsFrame{Type: "error", Content: "coaching service unavailable"})
		return
	}
	h.cm.Register(sess.Token(), ws)
	defer h.cm.Unregister(sess.Token(), ws)

	if err := h.writeFrame(ws, wsFrame{Type: "session", Token: sess.Token(), SessionNumber: sess.Number()}); err != nil {
		return
	}
	if err := h.writeReplies(ws, replies); err != nil {
		return
	}

	// Disconnecting leaves the session open; the idle reaper ends it.
	h.readLoop(ctx, ws, sess)
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, sess *Session) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("Websocket closed by client", "session", sess.Key())
			} else if !errors.Is(err, context.Canceled) {
				slog.Warn("Websocket read error", "error", err, "session", sess.Key())
			}
			return
		}

		var msg wsFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			msg = wsFrame{Type: "message", Content: string(data)}
		}

		switch msg.Type {
		case "message":
			if h.rateLimiter != nil && !h.rateLimiter.Allow(sess.PlayerEmail()) {
				if err := h.writeFrame(ws, wsFrame{Type: "error", Content: "rate limit exceeded"}); err != nil {
					return
				}
				continue
			}
			replies, err := sess.Handle(ctx, msg.Content)
			switch {
			case errors.Is(err, ErrEmptyUtterance):
				continue
			case errors.Is(err, ErrSessionEnded):
				_ = h.writeFrame(ws, wsFrame{Type: "ended", Summary: sess.Summary()})
				return
			case err != nil:
				_ = h.writeFrame(ws, wsFrame{Type: "error", Content: err.Error()})
				return
			}
			if err := h.writeReplies(ws, replies); err != nil {
				return
			}
			if sess.Ended() {
				_ = h.writeFrame(ws, wsFrame{Type: "ended", Summary: sess.Summary()})
				return
			}
		case "end":
			sum, err := sess.End(ctx)
			if err != nil && !errors.Is(err, ErrSessionEnded) {
				slog.Warn("Failed to end session over websocket", "error", err, "session", sess.Key())
			}
			_ = h.writeFrame(ws, wsFrame{Type: "ended", Summary: sum})
			return
		case "ping":
			if err := h.writeFrame(ws, wsFrame{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		}
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("Websocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) writeReplies(ws *websocket.Conn, replies []Reply) error {
	for _, reply := range replies {
		frame := wsFrame{Type: "reply", Content: reply.Content, Kind: reply.Kind, ErrorKind: reply.ErrorKind}
		if err := h.writeFrame(ws, frame); err != nil {
			return err
		}
	}
	return nil
}

func (h *WebSocketHandler) writeFrame(ws *websocket.Conn, frame wsFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("Websocket write error", "error", err)
		return err
	}
	return nil
}
