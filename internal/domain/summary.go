package domain

import (
	"strings"
	"time"
)

// SessionSummary is derived once from a completed session and never changed afterwards.
type SessionSummary struct {
	ID             string    `json:"id"`
	PlayerEmail    string    `json:"player_email"`
	SessionNumber  int       `json:"session_number"`
	TechnicalFocus string    `json:"technical_focus"`
	MentalGame     string    `json:"mental_game"`
	Homework       string    `json:"homework"`
	NextFocus      string    `json:"next_focus"`
	Breakthroughs  string    `json:"breakthroughs"`
	Narrative      string    `json:"narrative"`
	CreatedAt      time.Time `json:"created_at"`
}

// Text concatenates every field, used for tone scoring.
func (s *SessionSummary) Text() string {
	parts := []string{s.TechnicalFocus, s.MentalGame, s.Homework, s.NextFocus, s.Breakthroughs, s.Narrative}
	var b strings.Builder
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(p)
	}
	return b.String()
}
