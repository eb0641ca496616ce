// Package domain contains core domain types for the coaching controller.
package domain

import (
	"strings"
	"time"
)

// SkillLevel is the inferred playing level of a player.
type SkillLevel string

const (
	LevelBeginner     SkillLevel = "Beginner"
	LevelIntermediate SkillLevel = "Intermediate"
	LevelAdvanced     SkillLevel = "Advanced"
)

// Valid reports whether l is one of the known level labels.
func (l SkillLevel) Valid() bool {
	switch l {
	case LevelBeginner, LevelIntermediate, LevelAdvanced:
		return true
	}
	return false
}

// PlayerStatus is the lifecycle status of a player record.
type PlayerStatus string

const (
	PlayerOnboarding PlayerStatus = "onboarding"
	PlayerActive     PlayerStatus = "active"
)

// Player represents a coached player keyed by normalized email.
type Player struct {
	Email        string       `json:"email"`
	Name         string       `json:"name"`
	Level        SkillLevel   `json:"level,omitempty"`
	SessionCount int          `json:"session_count"`
	Status       PlayerStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// IsReturning reports whether the player has finished onboarding in an earlier session.
func (p *Player) IsReturning() bool {
	return p.SessionCount > 0 && p.Name != "" && p.Level != ""
}

// NormalizeEmail trims and lower-cases an email so it can be used as a key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
