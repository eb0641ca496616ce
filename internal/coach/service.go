// Package coach drives coaching sessions: it sequences intro, retrieval,
// prompting, completion, end detection and persistence for every turn.
package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/rallycoach/internal/continuity"
	"github.com/ashureev/rallycoach/internal/domain"
	"github.com/ashureev/rallycoach/internal/intro"
	"github.com/ashureev/rallycoach/internal/store"
	"github.com/ashureev/rallycoach/internal/summary"
	"github.com/google/uuid"
)

var (
	// ErrInvalidEmail is returned when a session is requested without a usable email.
	ErrInvalidEmail = errors.New("invalid player email")
	// ErrSessionEnded is returned for turns sent to a completed session.
	ErrSessionEnded = errors.New("session already ended")
	// ErrEmptyUtterance is returned for blank player input.
	ErrEmptyUtterance = errors.New("empty utterance")
	// ErrSessionNotFound is returned when a token names no active session.
	ErrSessionNotFound = errors.New("session not found")
)

const welcomeMessage = "Hi there, I'm Coach Rally, and I'm excited to work on your tennis with you! Before we start, what's your name?"

// Retriever fetches knowledge for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]domain.RetrievedChunk, error)
}

// Completer generates text for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Config tunes a Service.
type Config struct {
	TopK      int
	MaxTokens int
}

// Deps are the collaborators of a Service.
type Deps struct {
	Repo       store.Repository
	Retriever  Retriever
	Completer  Completer
	Continuity *continuity.Manager
	Summarizer *summary.Summarizer
	ConvLog    ConversationLogger
	Logger     *slog.Logger
	Now        func() time.Time
}

// Service owns the registry of active sessions.
type Service struct {
	repo       store.Repository
	retriever  Retriever
	completer  Completer
	continuity *continuity.Manager
	summarizer *summary.Summarizer
	convLog    ConversationLogger
	logger     *slog.Logger
	now        func() time.Time
	cfg        Config

	mu       sync.Mutex
	sessions map[string]*Session      // token -> session
	byPlayer map[string]string        // email -> token
	starting map[string]chan struct{} // email -> closed when its Start returns
}

// NewService creates a coaching service.
func NewService(deps Deps, cfg Config) *Service {
	s := &Service{
		repo:       deps.Repo,
		retriever:  deps.Retriever,
		completer:  deps.Completer,
		continuity: deps.Continuity,
		summarizer: deps.Summarizer,
		convLog:    deps.ConvLog,
		logger:     deps.Logger,
		now:        deps.Now,
		cfg:        cfg,
		sessions:   make(map[string]*Session),
		byPlayer:   make(map[string]string),
		starting:   make(map[string]chan struct{}),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.convLog == nil {
		s.convLog = noopConversationLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.continuity == nil {
		s.continuity = continuity.NewManager(continuity.Options{Logger: s.logger, Now: s.now})
	}
	if s.summarizer == nil {
		s.summarizer = summary.New(deps.Completer, s.logger)
	}
	return s
}

// Start opens a session for email and returns the opening replies. If the
// player already has an active session it is returned with no new replies.
func (s *Service) Start(ctx context.Context, email string) (*Session, []Reply, error) {
	email = domain.NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, nil, ErrInvalidEmail
	}

	if sess, ok, err := s.claim(ctx, email); err != nil || ok {
		return sess, nil, err
	}
	defer s.release(email)

	player, err := s.repo.FindPlayer(ctx, email)
	if store.KindOf(err) == store.KindNotFound {
		player, err = s.repo.CreatePlayer(ctx, email)
	}
	if err != nil {
		upstreamErrors.WithLabelValues("store", store.KindOf(err).String()).Inc()
		return nil, nil, fmt.Errorf("load player: %w", err)
	}
	returning := player.IsReturning()

	number, err := s.repo.IncrementSessionCount(ctx, email)
	if err != nil {
		upstreamErrors.WithLabelValues("store", store.KindOf(err).String()).Inc()
		number = player.SessionCount + 1
		s.logger.Warn("Failed to increment session count, continuing", "player_email", email, "error", err)
	}
	player.SessionCount = number

	sess := newSession(s, uuid.NewString(), player, number)

	var replies []Reply
	if returning {
		sessionsStarted.WithLabelValues("returning").Inc()
		replies = sess.openReturning(ctx)
	} else {
		sessionsStarted.WithLabelValues("new").Inc()
		sess.state.Intro = intro.New(email, s.repo)
		replies = []Reply{sess.coachSays(ctx, ReplyWelcome, welcomeMessage, nil)}
	}

	s.mu.Lock()
	s.sessions[sess.token] = sess
	s.byPlayer[email] = sess.token
	s.mu.Unlock()
	activeSessions.Inc()

	s.logger.Info("Session started",
		"player_email", email,
		"session_number", number,
		"returning", returning,
	)
	return sess, replies, nil
}

// claim returns the player's active session if there is one. Otherwise it
// reserves email for the caller, who must call release. Concurrent Starts for
// the same player wait for the reservation and then resume its session.
func (s *Service) claim(ctx context.Context, email string) (*Session, bool, error) {
	for {
		s.mu.Lock()
		if token, ok := s.byPlayer[email]; ok {
			sess := s.sessions[token]
			s.mu.Unlock()
			s.logger.Info("Resuming active session", "player_email", email, "session_number", sess.number)
			return sess, true, nil
		}
		wait, busy := s.starting[email]
		if !busy {
			s.starting[email] = make(chan struct{})
			s.mu.Unlock()
			return nil, false, nil
		}
		s.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

func (s *Service) release(email string) {
	s.mu.Lock()
	ch := s.starting[email]
	delete(s.starting, email)
	s.mu.Unlock()
	close(ch)
}

// Lookup returns the active session for token.
func (s *Service) Lookup(token string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// ActiveFor returns the active session of a player, if any.
func (s *Service) ActiveFor(email string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.byPlayer[domain.NormalizeEmail(email)]
	if !ok {
		return nil, false
	}
	return s.sessions[token], true
}

// ActiveCount returns the number of sessions in memory.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// IdleSessions returns sessions with no activity since cutoff.
func (s *Service) IdleSessions(cutoff time.Time) []*Session {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.Unlock()

	var idle []*Session
	for _, sess := range all {
		if sess.LastActive().Before(cutoff) {
			idle = append(idle, sess)
		}
	}
	return idle
}

// Shutdown ends every active session.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.Unlock()

	for _, sess := range all {
		if _, err := sess.endWithReason(ctx, "shutdown"); err != nil && !errors.Is(err, ErrSessionEnded) {
			s.logger.Warn("Failed to end session on shutdown", "session", sess.Key(), "error", err)
		}
	}
}

func (s *Service) unregister(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.token]; !ok {
		return
	}
	delete(s.sessions, sess.token)
	if s.byPlayer[sess.player.Email] == sess.token {
		delete(s.byPlayer, sess.player.Email)
	}
	activeSessions.Dec()
}

// RecentSummaries returns stored summaries for a player, newest first.
func (s *Service) RecentSummaries(ctx context.Context, email string, n int) ([]*domain.SessionSummary, error) {
	return s.repo.RecentSummaries(ctx, domain.NormalizeEmail(email), n)
}
