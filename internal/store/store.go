// Package store provides the record store adapter used by the coaching controller.
package store

import (
	"context"

	"github.com/ashureev/rallycoach/internal/domain"
)

// Repository defines the operations the controller needs from the record store.
// Every method takes an email that is normalized before use.
type Repository interface {
	// FindPlayer returns the player for an email. A missing player is reported
	// as an error of KindNotFound.
	FindPlayer(ctx context.Context, email string) (*domain.Player, error)

	// CreatePlayer inserts a new player with an empty name and zero sessions.
	CreatePlayer(ctx context.Context, email string) (*domain.Player, error)

	// UpdatePlayerProfile stores the collected name and assessed level.
	UpdatePlayerProfile(ctx context.Context, email, name string, level domain.SkillLevel) error

	// IncrementSessionCount bumps the player's session counter and returns the new value,
	// which is also the number of the session being started.
	IncrementSessionCount(ctx context.Context, email string) (int, error)

	// AppendMessage stores one message record.
	AppendMessage(ctx context.Context, msg *domain.Message) error

	// CompleteSession marks a session completed.
	CompleteSession(ctx context.Context, email string, sessionNumber int) error

	// ListMessages returns the messages of a session ordered by ordinal.
	ListMessages(ctx context.Context, email string, sessionNumber int) ([]*domain.Message, error)

	// RecentSummaries returns up to n summaries for a player, newest first.
	RecentSummaries(ctx context.Context, email string, n int) ([]*domain.SessionSummary, error)

	// CreateSummary stores the summary of a completed session.
	CreateSummary(ctx context.Context, summary *domain.SessionSummary) error

	// Stats returns read-only aggregates for the admin surface.
	Stats(ctx context.Context) (*Stats, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Stats holds aggregates over already-computed fields.
type Stats struct {
	Players           int            `json:"players"`
	Sessions          int            `json:"sessions"`
	CompletedSessions int            `json:"completed_sessions"`
	Messages          int            `json:"messages"`
	Summaries         int            `json:"summaries"`
	Levels            map[string]int `json:"levels"`
}
