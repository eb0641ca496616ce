// Package continuity greets returning players based on how long they were
// away and how their previous session went.
package continuity

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/ashureev/rallycoach/internal/domain"
)

// Opening is the pair of messages sent when a returning player starts a session.
type Opening struct {
	Greeting string
	FollowUp string
	Template string
	Bucket   Bucket
	Tone     Tone
	Days     int
}

// Manager selects greetings and follow-ups.
type Manager struct {
	templates Templates
	history   History
	logger    *slog.Logger
	now       func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// Options configure a Manager. Zero values select defaults.
type Options struct {
	Templates Templates
	History   History
	Rand      *rand.Rand
	Now       func() time.Time
	Logger    *slog.Logger
}

// NewManager creates a continuity manager.
func NewManager(opts Options) *Manager {
	m := &Manager{
		templates: opts.Templates,
		history:   opts.History,
		rng:       opts.Rand,
		now:       opts.Now,
		logger:    opts.Logger,
	}
	if m.templates == nil {
		m.templates = DefaultTemplates()
	}
	if m.history == nil {
		m.history = NewMemoryHistory()
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Open builds the greeting and follow-up for a returning player. last may be
// nil and lastMessageAt may be zero when nothing is known.
func (m *Manager) Open(ctx context.Context, player *domain.Player, last *domain.SessionSummary, lastMessageAt time.Time) Opening {
	days := DaysSince(lastMessageAt, m.now())
	tone := ToneNeutral
	if last != nil {
		tone = AnalyzeTone(last.Text())
	}
	bucket := BucketFor(days, tone)
	candidates := m.templates[bucket]
	if len(candidates) == 0 {
		bucket = toneBucket(ToneNeutral)
		candidates = m.templates[bucket]
	}

	recent, err := m.history.Recent(ctx, player.Email, RecentWindow)
	if err != nil {
		m.logger.Warn("Greeting history unavailable", "player_email", player.Email, "error", err)
	}

	m.mu.Lock()
	template := SelectGreeting(candidates, recent, m.rng)
	m.mu.Unlock()

	if err := m.history.Record(ctx, player.Email, template); err != nil {
		m.logger.Warn("Failed to record greeting", "player_email", player.Email, "error", err)
	}

	return Opening{
		Greeting: Render(template, player.Name),
		FollowUp: FollowUp(last, tone),
		Template: template,
		Bucket:   bucket,
		Tone:     tone,
		Days:     days,
	}
}
