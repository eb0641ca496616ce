package domain

import (
	"strconv"
	"time"
)

// SessionStatus is the lifecycle status of a coaching session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Role identifies the author of a message.
type Role string

const (
	RolePlayer Role = "player"
	RoleCoach  Role = "coach"
)

// Label is the speaker name used in transcripts and prompts.
func (r Role) Label() string {
	if r == RoleCoach {
		return "Coach"
	}
	return "Player"
}

// Message is a single persisted turn inside a session.
type Message struct {
	PlayerEmail   string    `json:"player_email"`
	SessionNumber int       `json:"session_number"`
	Ordinal       int       `json:"ordinal"`
	Role          Role      `json:"role"`
	Content       string    `json:"content"`
	Resources     string    `json:"resources,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Session is one conversation between a player and the coach.
type Session struct {
	PlayerEmail string        `json:"player_email"`
	Number      int           `json:"number"`
	Status      SessionStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
}

// Key returns a stable identifier for the session.
func (s Session) Key() string {
	return s.PlayerEmail + "#" + strconv.Itoa(s.Number)
}

// Turn is one entry of in-memory conversation history.
type Turn struct {
	Role    Role
	Content string
}

// LastTurns returns at most n trailing turns.
func LastTurns(turns []Turn, n int) []Turn {
	if n <= 0 {
		return nil
	}
	if n >= len(turns) {
		return turns
	}
	return turns[len(turns)-n:]
}
