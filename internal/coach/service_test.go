package coach

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/rallycoach/internal/completion"
	"github.com/ashureev/rallycoach/internal/continuity"
	"github.com/ashureev/rallycoach/internal/domain"
	"github.com/ashureev/rallycoach/internal/store"
	"github.com/ashureev/rallycoach/internal/summary"
)

type fakeRetriever struct {
	chunks []domain.RetrievedChunk
	err    error
}

func (f *fakeRetriever) Retrieve(context.Context, string, int) ([]domain.RetrievedChunk, error) {
	if f.err != nil {
		return []domain.RetrievedChunk{}, f.err
	}
	return f.chunks, nil
}

type fakeCompleter struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeCompleter) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	svc       *Service
	repo      *store.SQLiteStore
	completer *fakeCompleter
	clock     *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "coach.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &fakeClock{t: time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)}
	completer := &fakeCompleter{reply: "Nice! Let's work on your split step. What feels hardest?"}
	svc := NewService(Deps{
		Repo: repo,
		Retriever: &fakeRetriever{chunks: []domain.RetrievedChunk{{
			ID: "c1", Text: "Keep the racket head up through the forehand follow-through.", Score: 0.91234,
		}}},
		Completer: completer,
		Continuity: continuity.NewManager(continuity.Options{
			Rand:   rand.New(rand.NewSource(1)),
			Now:    clock.Now,
			Logger: logger,
		}),
		Logger: logger,
		Now:    clock.Now,
	}, Config{TopK: 3, MaxTokens: 300})
	return &harness{svc: svc, repo: repo, completer: completer, clock: clock}
}

func replyKinds(replies []Reply) []ReplyKind {
	kinds := make([]ReplyKind, 0, len(replies))
	for _, r := range replies {
		kinds = append(kinds, r.Kind)
	}
	return kinds
}

func mustHandle(t *testing.T, sess *Session, text string) []Reply {
	t.Helper()
	replies, err := sess.Handle(context.Background(), text)
	if err != nil {
		t.Fatalf("Handle(%q) failed: %v", text, err)
	}
	return replies
}

func TestNewPlayerIntroThenCoaching(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	sess, replies, err := h.svc.Start(ctx, " Alex@Example.com ")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if len(replies) != 1 || replies[0].Kind != ReplyWelcome {
		t.Fatalf("expected a single welcome reply, got %v", replyKinds(replies))
	}
	if sess.Number() != 1 || sess.PlayerEmail() != "alex@example.com" {
		t.Fatalf("unexpected session %s", sess.Key())
	}

	if got := mustHandle(t, sess, "I'm Alex, how are you coach"); got[0].Kind != ReplyIntro {
		t.Fatalf("expected intro reply, got %v", replyKinds(got))
	}
	if got := mustHandle(t, sess, "just started, never played before"); got[0].Kind != ReplyIntro {
		t.Fatalf("expected intro reply on finalizing turn, got %v", replyKinds(got))
	}

	player, err := h.repo.FindPlayer(ctx, "alex@example.com")
	if err != nil {
		t.Fatalf("FindPlayer failed: %v", err)
	}
	if player.Name != "Alex" || player.Level != domain.LevelBeginner {
		t.Fatalf("profile not persisted: %+v", player)
	}

	got := mustHandle(t, sess, "How do I hit a better forehand?")
	if got[0].Kind != ReplyCoaching {
		t.Fatalf("expected coaching reply, got %v", replyKinds(got))
	}
	p := h.completer.lastPrompt()
	if !strings.Contains(p, "Alex") || !strings.Contains(p, "Beginner") {
		t.Fatalf("coaching prompt missing profile:\n%s", p)
	}
	if !strings.Contains(p, "racket head up") {
		t.Fatalf("coaching prompt missing knowledge:\n%s", p)
	}

	msgs, err := h.repo.ListMessages(ctx, "alex@example.com", 1)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	// welcome + 3 player turns + 3 coach replies
	if len(msgs) != 7 {
		t.Fatalf("expected 7 stored messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.Ordinal != i+1 {
			t.Fatalf("message %d has ordinal %d", i, m.Ordinal)
		}
	}
}

func seedReturningPlayer(t *testing.T, repo store.Repository, email string, last time.Time) {
	t.Helper()
	ctx := context.Background()
	if _, err := repo.CreatePlayer(ctx, email); err != nil {
		t.Fatalf("CreatePlayer failed: %v", err)
	}
	if _, err := repo.IncrementSessionCount(ctx, email); err != nil {
		t.Fatalf("IncrementSessionCount failed: %v", err)
	}
	if err := repo.UpdatePlayerProfile(ctx, email, "Sam", domain.LevelIntermediate); err != nil {
		t.Fatalf("UpdatePlayerProfile failed: %v", err)
	}
	if err := repo.CreateSummary(ctx, &domain.SessionSummary{
		PlayerEmail:    email,
		SessionNumber:  1,
		TechnicalFocus: "Serve toss placement",
		Homework:       "Hit 50 serves focusing on a consistent toss",
		MentalGame:     "None",
		NextFocus:      "None",
		Breakthroughs:  "None",
		Narrative:      "Worked on the serve.",
		CreatedAt:      last,
	}); err != nil {
		t.Fatalf("CreateSummary failed: %v", err)
	}
}

func TestReturningPlayerGetsGreetingAndFollowUp(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	seedReturningPlayer(t, h.repo, "sam@example.com", h.clock.Now().AddDate(0, 0, -2))

	sess, replies, err := h.svc.Start(ctx, "sam@example.com")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if len(replies) != 2 || replies[0].Kind != ReplyGreeting || replies[1].Kind != ReplyFollowUp {
		t.Fatalf("expected greeting then follow-up, got %v", replyKinds(replies))
	}
	if !strings.Contains(replies[0].Content, "Sam") {
		t.Fatalf("greeting not personalized: %q", replies[0].Content)
	}
	if !strings.Contains(replies[1].Content, "50 serves") {
		t.Fatalf("follow-up should reference homework: %q", replies[1].Content)
	}
	if sess.Number() != 2 {
		t.Fatalf("expected session 2, got %d", sess.Number())
	}

	msgs, err := h.repo.ListMessages(ctx, "sam@example.com", 2)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Ordinal != 1 || msgs[1].Ordinal != 2 {
		t.Fatalf("expected opening messages at ordinals 1 and 2, got %+v", msgs)
	}
	for _, m := range msgs {
		if m.Role != domain.RoleCoach {
			t.Fatalf("opening message has role %s", m.Role)
		}
	}

	got := mustHandle(t, sess, "Serves went well!")
	if got[0].Kind != ReplyCoaching {
		t.Fatalf("returning player should go straight to coaching, got %v", replyKinds(got))
	}
	if !strings.Contains(h.completer.lastPrompt(), "Serve toss placement") {
		t.Fatal("coaching prompt should carry the previous technical focus")
	}
}

func TestStartResumesActiveSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	first, _, err := h.svc.Start(ctx, "pat@example.com")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	second, replies, err := h.svc.Start(ctx, "PAT@example.com")
	if err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if second != first || replies != nil {
		t.Fatal("expected the active session to be resumed without replies")
	}
	if h.svc.ActiveCount() != 1 {
		t.Fatalf("expected 1 active session, got %d", h.svc.ActiveCount())
	}
}

func TestStartRejectsInvalidEmail(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	for _, email := range []string{"", "   ", "nobody"} {
		if _, _, err := h.svc.Start(context.Background(), email); !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("Start(%q): expected ErrInvalidEmail, got %v", email, err)
		}
	}
}

func TestHighConfidenceEndsSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	sess, _, err := h.svc.Start(ctx, "lee@example.com")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	mustHandle(t, sess, "Lee")
	got := mustHandle(t, sess, "end session please")
	if len(got) != 1 || got[0].Kind != ReplyFarewell {
		t.Fatalf("expected farewell, got %v", replyKinds(got))
	}
	if !sess.Ended() || sess.Summary() == nil {
		t.Fatal("session should be ended with a summary")
	}
	if _, err := h.svc.Lookup(sess.Token()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("ended session still registered: %v", err)
	}
	if _, err := sess.Handle(ctx, "hello?"); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}

	sums, err := h.repo.RecentSummaries(ctx, "lee@example.com", 5)
	if err != nil {
		t.Fatalf("RecentSummaries failed: %v", err)
	}
	if len(sums) != 1 || sums[0].SessionNumber != 1 {
		t.Fatalf("expected one summary for session 1, got %+v", sums)
	}
}

func TestMediumConfidenceConfirmation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		answer    string
		wantKind  ReplyKind
		wantEnded bool
		pending   bool
	}{
		{name: "yes ends", answer: "yes", wantKind: ReplyFarewell, wantEnded: true},
		{name: "no resumes", answer: "no, let's keep going", wantKind: ReplyResume},
		{name: "ambiguous asks again", answer: "hmm what about volleys", wantKind: ReplyConfirmEnd, pending: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			sess, _, err := h.svc.Start(context.Background(), "kai@example.com")
			if err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			if got := mustHandle(t, sess, "thanks coach"); got[0].Kind != ReplyConfirmEnd {
				t.Fatalf("expected confirmation prompt, got %v", replyKinds(got))
			}
			if !sess.Snapshot().PendingEnd {
				t.Fatal("confirmation should be pending")
			}

			got := mustHandle(t, sess, tt.answer)
			if got[len(got)-1].Kind != tt.wantKind {
				t.Fatalf("expected %s, got %v", tt.wantKind, replyKinds(got))
			}
			if sess.Ended() != tt.wantEnded {
				t.Fatalf("ended = %v, want %v", sess.Ended(), tt.wantEnded)
			}
			if !tt.wantEnded && sess.Snapshot().PendingEnd != tt.pending {
				t.Fatalf("pending = %v, want %v", sess.Snapshot().PendingEnd, tt.pending)
			}
		})
	}
}

func TestCompletionFailureIsTaggedReply(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.completer.err = &completion.ServiceError{Kind: completion.KindOverloaded, Attempts: 3, Err: completion.ErrOverloaded}

	sess, _, err := h.svc.Start(context.Background(), "zoe@example.com")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	got := mustHandle(t, sess, "Zoe")
	if len(got) != 1 || !got[0].IsError() {
		t.Fatalf("expected an error-tagged reply, got %+v", got)
	}
	if got[0].ErrorKind != "overloaded" {
		t.Fatalf("unexpected error kind %q", got[0].ErrorKind)
	}
	if !strings.HasPrefix(got[0].Content, "Error generating response:") {
		t.Fatalf("unexpected fallback text %q", got[0].Content)
	}
	if sess.Ended() {
		t.Fatal("completion failure must not end the session")
	}
}

func TestRetrievalFailureStillReplies(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.svc.retriever = &fakeRetriever{err: errors.New("index down")}

	sess, _, err := h.svc.Start(context.Background(), "ivy@example.com")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	got := mustHandle(t, sess, "Ivy")
	if got[0].Kind != ReplyIntro {
		t.Fatalf("expected intro reply, got %v", replyKinds(got))
	}
}

func TestEndSucceedsExactlyOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	sess, _, err := h.svc.Start(context.Background(), "max@example.com")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	mustHandle(t, sess, "Max")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sess.End(context.Background()); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else if !errors.Is(err, ErrSessionEnded) {
				t.Errorf("unexpected End error: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("expected exactly one successful End, got %d", successes)
	}

	sums, err := h.repo.RecentSummaries(context.Background(), "max@example.com", 5)
	if err != nil || len(sums) != 1 {
		t.Fatalf("expected one summary, got %d (%v)", len(sums), err)
	}
}

func TestEmptyUtteranceRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	sess, _, err := h.svc.Start(context.Background(), "eve@example.com")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := sess.Handle(context.Background(), "  \n "); !errors.Is(err, ErrEmptyUtterance) {
		t.Fatalf("expected ErrEmptyUtterance, got %v", err)
	}
}

func TestReaperEndsIdleSessions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	idle, _, err := h.svc.Start(ctx, "idle@example.com")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.clock.Advance(20 * time.Minute)
	busy, _, err := h.svc.Start(ctx, "busy@example.com")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var reaped []string
	n := reapIdleSessions(ctx, h.svc, 15*time.Minute, func(token string) { reaped = append(reaped, token) })
	if n != 1 || len(reaped) != 1 || reaped[0] != idle.Token() {
		t.Fatalf("expected only the idle session to be reaped, got %d %v", n, reaped)
	}
	if !idle.Ended() || busy.Ended() {
		t.Fatal("wrong session ended")
	}
	if h.svc.ActiveCount() != 1 {
		t.Fatalf("expected 1 active session, got %d", h.svc.ActiveCount())
	}
}

func TestShutdownEndsAllSessions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	a, _, _ := h.svc.Start(ctx, "a@example.com")
	b, _, _ := h.svc.Start(ctx, "b@example.com")

	h.svc.Shutdown(ctx)
	if !a.Ended() || !b.Ended() || h.svc.ActiveCount() != 0 {
		t.Fatal("shutdown should end every session")
	}
}

// gatedCompleter blocks every call until gate is closed, then fails.
type gatedCompleter struct {
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func newGatedCompleter() *gatedCompleter {
	return &gatedCompleter{entered: make(chan struct{}), gate: make(chan struct{})}
}

func (g *gatedCompleter) Complete(ctx context.Context, _ string, _ int) (string, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.gate:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "", errors.New("summary backend unavailable")
}

// gatedRepo parks the first FindPlayer call until gate is closed.
type gatedRepo struct {
	store.Repository
	entered chan struct{}
	gate    chan struct{}
	calls   atomic.Int32
}

func (r *gatedRepo) FindPlayer(ctx context.Context, email string) (*domain.Player, error) {
	if r.calls.Add(1) == 1 {
		close(r.entered)
		<-r.gate
	}
	return r.Repository.FindPlayer(ctx, email)
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestIdleScanDuringEndingTurn(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	sess, _, err := h.svc.Start(ctx, "lee@example.com")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	mustHandle(t, sess, "Lee")

	gated := newGatedCompleter()
	h.svc.summarizer = summary.New(gated, h.svc.logger)

	handled := make(chan error, 1)
	go func() {
		_, err := sess.Handle(ctx, "end session please")
		handled <- err
	}()
	waitFor(t, gated.entered, "the summary completion")

	scanned := make(chan []*Session, 1)
	go func() { scanned <- h.svc.IdleSessions(h.clock.Now().Add(time.Hour)) }()
	select {
	case idle := <-scanned:
		if len(idle) != 1 || idle[0] != sess {
			t.Fatalf("expected the in-flight session to be reported idle, got %d", len(idle))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("idle scan blocked behind a turn in flight")
	}
	if _, err := h.svc.Lookup(sess.Token()); err != nil {
		t.Fatalf("Lookup during an ending turn: %v", err)
	}

	close(gated.gate)
	select {
	case err := <-handled:
		if err != nil {
			t.Fatalf("Handle failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ending turn never returned")
	}
	if !sess.Ended() || h.svc.ActiveCount() != 0 {
		t.Fatal("session should be ended and unregistered")
	}
}

func TestFallbackSummaryUsesCoachingReply(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.completer.reply = "Focus on your split step timing before each return. What feels hardest?"

	sess, _, err := h.svc.Start(ctx, "sam@example.com")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	mustHandle(t, sess, "Sam")
	mustHandle(t, sess, "just started this spring")
	if got := mustHandle(t, sess, "How do I return serve better?"); got[0].Kind != ReplyCoaching {
		t.Fatalf("expected coaching reply, got %v", replyKinds(got))
	}

	h.completer.mu.Lock()
	h.completer.err = errors.New("upstream down")
	h.completer.mu.Unlock()

	if got := mustHandle(t, sess, "end session please"); got[0].Kind != ReplyFarewell {
		t.Fatalf("expected farewell, got %v", replyKinds(got))
	}
	const focus = "Focus on your split step timing before each return."
	if got := sess.Summary().TechnicalFocus; got != focus {
		t.Fatalf("TechnicalFocus = %q, want %q", got, focus)
	}

	next, _, err := h.svc.Start(ctx, "sam@example.com")
	if err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	mustHandle(t, next, "Let's keep working on returns")
	p := h.completer.lastPrompt()
	if !strings.Contains(p, focus) || strings.Contains(p, "Great work today") {
		t.Fatalf("next coaching prompt should carry the coaching focus:\n%s", p)
	}
}

func TestConcurrentStartOpensOneSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	repo := &gatedRepo{Repository: h.repo, entered: make(chan struct{}), gate: make(chan struct{})}
	h.svc.repo = repo

	type result struct {
		sess    *Session
		replies []Reply
		err     error
	}
	results := make(chan result, 2)
	start := func() {
		sess, replies, err := h.svc.Start(ctx, "duo@example.com")
		results <- result{sess, replies, err}
	}
	go start()
	waitFor(t, repo.entered, "the first player lookup")
	go start()
	time.Sleep(50 * time.Millisecond)
	close(repo.gate)

	a, b := <-results, <-results
	if a.err != nil || b.err != nil {
		t.Fatalf("Start failed: %v / %v", a.err, b.err)
	}
	if a.sess != b.sess {
		t.Fatal("concurrent Starts returned different sessions")
	}
	if (a.replies == nil) == (b.replies == nil) {
		t.Fatal("exactly one Start should carry the opening replies")
	}
	if n := repo.calls.Load(); n != 1 {
		t.Fatalf("expected one player lookup, got %d", n)
	}

	player, err := h.repo.FindPlayer(ctx, "duo@example.com")
	if err != nil {
		t.Fatalf("FindPlayer failed: %v", err)
	}
	if player.SessionCount != 1 {
		t.Fatalf("expected one session row, got count %d", player.SessionCount)
	}
	msgs, err := h.repo.ListMessages(ctx, "duo@example.com", 1)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("expected a single welcome message, got %d (%v)", len(msgs), err)
	}
	if h.svc.ActiveCount() != 1 {
		t.Fatalf("expected 1 active session, got %d", h.svc.ActiveCount())
	}
}
