package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/rallycoach/internal/domain"
)

// RESTConfig configures the HTTP record store client.
type RESTConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RESTStore implements Repository against an external REST record store.
type RESTStore struct {
	cfg  RESTConfig
	http *http.Client
}

// NewREST creates a REST-backed repository.
func NewREST(cfg RESTConfig) (*RESTStore, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("record store base URL required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse record store base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &RESTStore{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

type playerRecord struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	Level        string `json:"level"`
	SessionCount int    `json:"session_count"`
	Status       string `json:"status"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

func (r playerRecord) toDomain() *domain.Player {
	return &domain.Player{
		Email:        r.Email,
		Name:         r.Name,
		Level:        domain.SkillLevel(r.Level),
		SessionCount: r.SessionCount,
		Status:       domain.PlayerStatus(r.Status),
		CreatedAt:    time.Unix(r.CreatedAt, 0),
		UpdatedAt:    time.Unix(r.UpdatedAt, 0),
	}
}

func (s *RESTStore) playerPath(email string, parts ...string) string {
	p := "/players/" + url.PathEscape(domain.NormalizeEmail(email))
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// FindPlayer retrieves a player by email.
func (s *RESTStore) FindPlayer(ctx context.Context, email string) (*domain.Player, error) {
	var rec playerRecord
	if err := s.do(ctx, "find player", http.MethodGet, s.playerPath(email), nil, &rec); err != nil {
		return nil, err
	}
	return rec.toDomain(), nil
}

// CreatePlayer inserts a new onboarding player.
func (s *RESTStore) CreatePlayer(ctx context.Context, email string) (*domain.Player, error) {
	body := map[string]any{
		"email":  domain.NormalizeEmail(email),
		"status": string(domain.PlayerOnboarding),
	}
	var rec playerRecord
	if err := s.do(ctx, "create player", http.MethodPost, "/players", body, &rec); err != nil {
		return nil, err
	}
	if rec.Email == "" {
		rec.Email = domain.NormalizeEmail(email)
		rec.Status = string(domain.PlayerOnboarding)
	}
	return rec.toDomain(), nil
}

// UpdatePlayerProfile stores the player's name and level.
func (s *RESTStore) UpdatePlayerProfile(ctx context.Context, email, name string, level domain.SkillLevel) error {
	body := map[string]any{
		"name":   name,
		"level":  string(level),
		"status": string(domain.PlayerActive),
	}
	return s.do(ctx, "update player profile", http.MethodPatch, s.playerPath(email), body, nil)
}

// IncrementSessionCount asks the store to open the next session.
func (s *RESTStore) IncrementSessionCount(ctx context.Context, email string) (int, error) {
	var out struct {
		Number int `json:"number"`
	}
	if err := s.do(ctx, "increment session count", http.MethodPost, s.playerPath(email, "sessions"), nil, &out); err != nil {
		return 0, err
	}
	if out.Number <= 0 {
		return 0, newError("increment session count", KindInternal, errors.New("store returned no session number"))
	}
	return out.Number, nil
}

// AppendMessage stores one message record.
func (s *RESTStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	body := map[string]any{
		"ordinal":    msg.Ordinal,
		"role":       string(msg.Role),
		"content":    msg.Content,
		"resources":  msg.Resources,
		"created_at": msg.CreatedAt.UnixMilli(),
	}
	path := s.playerPath(msg.PlayerEmail, "sessions", strconv.Itoa(msg.SessionNumber), "messages")
	return s.do(ctx, "append message", http.MethodPost, path, body, nil)
}

// CompleteSession marks a session completed.
func (s *RESTStore) CompleteSession(ctx context.Context, email string, sessionNumber int) error {
	path := s.playerPath(email, "sessions", strconv.Itoa(sessionNumber), "complete")
	return s.do(ctx, "complete session", http.MethodPost, path, nil, nil)
}

// ListMessages returns the session's messages ordered by ordinal.
func (s *RESTStore) ListMessages(ctx context.Context, email string, sessionNumber int) ([]*domain.Message, error) {
	var out struct {
		Messages []struct {
			Ordinal   int    `json:"ordinal"`
			Role      string `json:"role"`
			Content   string `json:"content"`
			Resources string `json:"resources"`
			CreatedAt int64  `json:"created_at"`
		} `json:"messages"`
	}
	path := s.playerPath(email, "sessions", strconv.Itoa(sessionNumber), "messages")
	if err := s.do(ctx, "list messages", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	msgs := make([]*domain.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, &domain.Message{
			PlayerEmail:   domain.NormalizeEmail(email),
			SessionNumber: sessionNumber,
			Ordinal:       m.Ordinal,
			Role:          domain.Role(m.Role),
			Content:       m.Content,
			Resources:     m.Resources,
			CreatedAt:     time.UnixMilli(m.CreatedAt),
		})
	}
	return msgs, nil
}

// RecentSummaries returns up to n summaries, newest first.
func (s *RESTStore) RecentSummaries(ctx context.Context, email string, n int) ([]*domain.SessionSummary, error) {
	if n <= 0 {
		return nil, nil
	}
	var out struct {
		Summaries []*domain.SessionSummary `json:"summaries"`
	}
	path := s.playerPath(email, "summaries") + "?limit=" + strconv.Itoa(n)
	if err := s.do(ctx, "recent summaries", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Summaries) > n {
		out.Summaries = out.Summaries[:n]
	}
	return out.Summaries, nil
}

// CreateSummary stores a summary.
func (s *RESTStore) CreateSummary(ctx context.Context, sm *domain.SessionSummary) error {
	if sm.CreatedAt.IsZero() {
		sm.CreatedAt = time.Now()
	}
	return s.do(ctx, "create summary", http.MethodPost, s.playerPath(sm.PlayerEmail, "summaries"), sm, nil)
}

// Stats fetches admin aggregates.
func (s *RESTStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := s.do(ctx, "stats", http.MethodGet, "/stats", nil, &st); err != nil {
		return nil, err
	}
	if st.Levels == nil {
		st.Levels = make(map[string]int)
	}
	return &st, nil
}

// Ping checks the store health endpoint.
func (s *RESTStore) Ping(ctx context.Context) error {
	return s.do(ctx, "ping", http.MethodGet, "/health", nil, nil)
}

// Close releases idle connections.
func (s *RESTStore) Close() error {
	s.http.CloseIdleConnections()
	return nil
}

func (s *RESTStore) do(ctx context.Context, op, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return newError(op, KindInternal, fmt.Errorf("encode body: %w", err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, &buf)
	if err != nil {
		return newError(op, KindInternal, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return newError(op, transportKind(err), err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newError(op, statusKind(resp.StatusCode),
			fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return newError(op, KindInternal, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func statusKind(code int) Kind {
	switch {
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusConflict:
		return KindConflict
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return KindUnavailable
	default:
		return KindRejected
	}
}

func transportKind(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindUnavailable
	}
	return KindInternal
}

var _ Repository = (*RESTStore)(nil)
