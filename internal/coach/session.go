package coach

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/rallycoach/internal/completion"
	"github.com/ashureev/rallycoach/internal/domain"
	"github.com/ashureev/rallycoach/internal/intro"
	"github.com/ashureev/rallycoach/internal/prompt"
	"github.com/ashureev/rallycoach/internal/sessionend"
	"github.com/ashureev/rallycoach/internal/store"
)

// ConversationState is the in-memory state of one active session.
type ConversationState struct {
	// Intro is nil for players who finished onboarding earlier.
	Intro       *intro.Machine
	PendingEnd  bool
	PendingTier sessionend.Tier
	Ordinal     int
	History     []domain.Turn
}

// IntroActive reports whether the onboarding flow still drives replies.
func (c *ConversationState) IntroActive() bool {
	return c.Intro != nil && !c.Intro.Completed()
}

// Session is one coaching conversation. Turns are processed one at a time.
type Session struct {
	svc    *Service
	token  string
	number int

	// lastActive is unix nanoseconds, read by the reaper without taking mu.
	lastActive atomic.Int64

	mu         sync.Mutex
	player     domain.Player
	state      ConversationState
	previous   *domain.SessionSummary
	transcript []domain.Message
	// kinds holds the reply kind of each transcript entry; empty for player turns.
	kinds   []ReplyKind
	ended   bool
	summary *domain.SessionSummary
}

func newSession(svc *Service, token string, player *domain.Player, number int) *Session {
	s := &Session{
		svc:    svc,
		token:  token,
		number: number,
		player: *player,
	}
	s.touch()
	return s
}

func (s *Session) touch() {
	s.lastActive.Store(s.svc.now().UnixNano())
}

// Token identifies the session to HTTP and websocket clients.
func (s *Session) Token() string { return s.token }

// Number is the per-player session number.
func (s *Session) Number() int { return s.number }

// Key is "email#number".
func (s *Session) Key() string {
	return domain.Session{PlayerEmail: s.player.Email, Number: s.number}.Key()
}

// PlayerEmail returns the normalized email of the session's player.
func (s *Session) PlayerEmail() string { return s.player.Email }

// LastActive returns the time of the last processed turn.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Ended reports whether the session is completed.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Snapshot returns a copy of the conversation state.
func (s *Session) Snapshot() ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.state
	c.History = append([]domain.Turn(nil), s.state.History...)
	return c
}

// openReturning sends the greeting and follow-up for a returning player.
func (s *Session) openReturning(ctx context.Context) []Reply {
	email := s.player.Email
	var lastAt time.Time
	summaries, err := s.svc.repo.RecentSummaries(ctx, email, 1)
	if err != nil {
		s.svc.logger.Warn("Failed to load previous summary", "player_email", email, "error", err)
	}
	if len(summaries) > 0 {
		s.previous = summaries[0]
		lastAt = s.previous.CreatedAt
	}
	if prev := s.number - 1; prev > 0 {
		msgs, err := s.svc.repo.ListMessages(ctx, email, prev)
		if err != nil {
			s.svc.logger.Warn("Failed to load previous messages", "player_email", email, "error", err)
		} else if len(msgs) > 0 {
			lastAt = msgs[len(msgs)-1].CreatedAt
		}
	}

	opening := s.svc.continuity.Open(ctx, &s.player, s.previous, lastAt)
	s.svc.logger.Info("Returning player greeted",
		"player_email", email,
		"days_since", opening.Days,
		"tone", opening.Tone,
		"bucket", opening.Bucket,
	)
	return []Reply{
		s.coachSays(ctx, ReplyGreeting, opening.Greeting, nil),
		s.coachSays(ctx, ReplyFollowUp, opening.FollowUp, nil),
	}
}

// Handle processes one player utterance and returns the coach's replies.
func (s *Session) Handle(ctx context.Context, utterance string) ([]Reply, error) {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return nil, ErrEmptyUtterance
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil, ErrSessionEnded
	}
	start := time.Now()
	s.touch()

	prior := s.state.History
	s.playerSays(ctx, text)

	if s.state.PendingEnd {
		return s.resolvePendingEnd(ctx, text)
	}

	decision := sessionend.Detect(text, prior)
	if decision.Tier != sessionend.TierNone {
		endSignals.WithLabelValues(decision.Tier.String()).Inc()
	}
	switch {
	case decision.ShouldEnd:
		return s.finishLocked(ctx, "player_request", true)
	case decision.NeedsConfirmation:
		s.state.PendingEnd = true
		s.state.PendingTier = decision.Tier
		return []Reply{s.coachSays(ctx, ReplyConfirmEnd, sessionend.ConfirmationPrompt(decision.Tier), nil)}, nil
	}

	mode := "coaching"
	if s.state.IntroActive() {
		mode = "intro"
	}
	reply := s.respond(ctx, text)
	turnDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	return []Reply{reply}, nil
}

func (s *Session) resolvePendingEnd(ctx context.Context, text string) ([]Reply, error) {
	switch sessionend.ClassifyConfirmation(text) {
	case sessionend.Yes:
		return s.finishLocked(ctx, "confirmed", true)
	case sessionend.No:
		s.state.PendingEnd = false
		s.state.PendingTier = sessionend.TierNone
		return []Reply{s.coachSays(ctx, ReplyResume, "No problem, let's keep going! What would you like to work on next?", nil)}, nil
	default:
		// Ambiguous replies keep the confirmation pending.
		return []Reply{s.coachSays(ctx, ReplyConfirmEnd, sessionend.ConfirmationPrompt(s.state.PendingTier), nil)}, nil
	}
}

// respond runs retrieval, prompt building and completion for one turn.
func (s *Session) respond(ctx context.Context, text string) Reply {
	history := s.state.History[:len(s.state.History)-1]
	introTurn := s.state.IntroActive()

	if introTurn {
		tr, err := s.state.Intro.Advance(ctx, text)
		if err != nil {
			upstreamErrors.WithLabelValues("store", store.KindOf(err).String()).Inc()
			s.svc.logger.Warn("Failed to persist intro profile", "player_email", s.player.Email, "error", err)
		}
		if tr.Finalized {
			s.player.Name = s.state.Intro.Name()
			s.player.Level = tr.Level
			s.svc.logger.Info("Intro completed",
				"player_email", s.player.Email,
				"name", s.player.Name,
				"level", tr.Level,
			)
		}
	}

	chunks, err := s.svc.retriever.Retrieve(ctx, text, s.svc.cfg.TopK)
	if err != nil {
		upstreamErrors.WithLabelValues("retrieval", "unavailable").Inc()
		s.svc.logger.Warn("Retrieval degraded", "player_email", s.player.Email, "error", err)
	}
	retrievedChunks.Observe(float64(len(chunks)))
	knowledge := prompt.KnowledgeBlock(chunks)

	var (
		p    string
		kind ReplyKind
	)
	if introTurn {
		kind = ReplyIntro
		p, err = prompt.BuildIntro(prompt.IntroInput{
			Utterance: text,
			History:   history,
			Knowledge: knowledge,
			Step:      s.state.Intro.StepPrompt(),
		})
	} else {
		kind = ReplyCoaching
		in := prompt.CoachingInput{
			Utterance: text,
			Name:      s.player.Name,
			Level:     s.player.Level,
			History:   history,
			Knowledge: knowledge,
		}
		if s.previous != nil {
			in.PreviousFocus = s.previous.TechnicalFocus
		}
		p, err = prompt.BuildCoaching(in)
	}
	if err != nil {
		s.svc.logger.Error("Failed to build prompt", "error", err)
		return s.coachSays(ctx, ReplyServiceFail, completion.FallbackText(err), nil)
	}

	out, err := s.svc.completer.Complete(ctx, p, s.svc.cfg.MaxTokens)
	if err != nil {
		errKind := completion.KindOf(err).String()
		upstreamErrors.WithLabelValues("completion", errKind).Inc()
		r := s.coachSays(ctx, ReplyServiceFail, completion.FallbackText(err), nil)
		r.ErrorKind = errKind
		return r
	}
	return s.coachSays(ctx, kind, out, chunks)
}

// End completes the session and writes its summary. It succeeds once;
// later calls return ErrSessionEnded.
func (s *Session) End(ctx context.Context) (*domain.SessionSummary, error) {
	return s.endWithReason(ctx, "ended")
}

func (s *Session) endWithReason(ctx context.Context, reason string) (*domain.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return s.summary, ErrSessionEnded
	}
	if _, err := s.finishLocked(ctx, reason, false); err != nil {
		return nil, err
	}
	return s.summary, nil
}

// Summary returns the summary once the session has ended.
func (s *Session) Summary() *domain.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

func (s *Session) finishLocked(ctx context.Context, reason string, farewell bool) ([]Reply, error) {
	email := s.player.Email
	sum := s.svc.summarizer.Summarize(ctx, email, s.number, s.summaryInput())

	var replies []Reply
	if farewell {
		name := s.player.Name
		if name == "" {
			name = "champ"
		}
		replies = append(replies, s.coachSays(ctx, ReplyFarewell,
			fmt.Sprintf("Great work today, %s! I'll keep notes on what we covered so we can pick it up next time. See you on the court!", name), nil))
	}
	s.ended = true
	s.state.PendingEnd = false

	if err := s.svc.repo.CompleteSession(ctx, email, s.number); err != nil && store.KindOf(err) != store.KindConflict {
		upstreamErrors.WithLabelValues("store", store.KindOf(err).String()).Inc()
		s.svc.logger.Warn("Failed to mark session completed", "player_email", email, "session_number", s.number, "error", err)
	}

	if err := s.svc.repo.CreateSummary(ctx, sum); err != nil {
		upstreamErrors.WithLabelValues("store", store.KindOf(err).String()).Inc()
		s.svc.logger.Warn("Failed to store session summary", "player_email", email, "session_number", s.number, "error", err)
	}
	s.summary = sum

	s.svc.convLog.Log(ConversationLogEvent{
		PlayerEmail:   email,
		SessionNumber: s.number,
		Channel:       "session",
		Direction:     "internal",
		EventType:     EventSessionCompleted,
		Meta: map[string]any{
			"reason":          reason,
			"messages":        len(s.transcript),
			"technical_focus": sum.TechnicalFocus,
		},
	})

	s.svc.unregister(s)
	sessionsEnded.WithLabelValues(reason).Inc()
	s.svc.logger.Info("Session ended", "player_email", email, "session_number", s.number, "reason", reason)
	return replies, nil
}

// summaryInput keeps player turns and generated coaching replies.
func (s *Session) summaryInput() []domain.Message {
	out := make([]domain.Message, 0, len(s.transcript))
	for i, m := range s.transcript {
		if m.Role == domain.RoleCoach && s.kinds[i] != ReplyCoaching {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (s *Session) playerSays(ctx context.Context, text string) {
	s.record(ctx, domain.RolePlayer, "", text, "", "chat_player_message", nil)
}

func (s *Session) coachSays(ctx context.Context, kind ReplyKind, text string, chunks []domain.RetrievedChunk) Reply {
	repliesTotal.WithLabelValues(string(kind)).Inc()
	meta := map[string]any{"reply_kind": string(kind)}
	if len(chunks) > 0 {
		scores := make([]float64, 0, len(chunks))
		for _, c := range chunks {
			scores = append(scores, c.DisplayScore())
		}
		meta["chunk_scores"] = scores
	}
	s.record(ctx, domain.RoleCoach, kind, text, domain.SummarizeChunks(chunks), "chat_coach_message", meta)
	return Reply{Kind: kind, Content: text}
}

// record appends a message to the transcript, the record store and the
// conversation log. The two destinations are written independently.
func (s *Session) record(ctx context.Context, role domain.Role, kind ReplyKind, text, resources, eventType string, meta map[string]any) {
	s.state.Ordinal++
	msg := domain.Message{
		PlayerEmail:   s.player.Email,
		SessionNumber: s.number,
		Ordinal:       s.state.Ordinal,
		Role:          role,
		Content:       text,
		Resources:     resources,
		CreatedAt:     s.svc.now().UTC(),
	}
	s.transcript = append(s.transcript, msg)
	s.kinds = append(s.kinds, kind)
	s.state.History = append(s.state.History, domain.Turn{Role: role, Content: text})

	if err := s.svc.repo.AppendMessage(ctx, &msg); err != nil {
		upstreamErrors.WithLabelValues("store", store.KindOf(err).String()).Inc()
		s.svc.logger.Warn("Failed to persist message",
			"player_email", msg.PlayerEmail,
			"session_number", msg.SessionNumber,
			"ordinal", msg.Ordinal,
			"error", err,
		)
	}

	direction := "inbound"
	if role == domain.RoleCoach {
		direction = "outbound"
	}
	s.svc.convLog.Log(ConversationLogEvent{
		Timestamp:     msg.CreatedAt.Format(time.RFC3339Nano),
		PlayerEmail:   msg.PlayerEmail,
		SessionNumber: msg.SessionNumber,
		Ordinal:       msg.Ordinal,
		Channel:       "chat",
		Direction:     direction,
		EventType:     eventType,
		ContentRaw:    text,
		Meta:          meta,
	})
}
