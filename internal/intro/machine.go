// Package intro runs the onboarding exchange that collects a new player's
// name and infers their skill level.
package intro

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/rallycoach/internal/domain"
)

// State is a step of the introduction flow.
type State string

const (
	StateWaitingForName  State = "waiting_for_name"
	StateCheckingIfNew   State = "checking_if_new"
	StateAskingTime      State = "asking_time"
	StateAskingFrequency State = "asking_frequency"
	StateComplete        State = "complete"
)

// ProfileWriter persists the collected name and level.
type ProfileWriter interface {
	UpdatePlayerProfile(ctx context.Context, email, name string, level domain.SkillLevel) error
}

// negatedNew is checked before newKeywords so "not new to tennis" is not read as new.
var negatedNew = []string{"not new", "not a beginner", "not really new", "no, i've played", "no i've played"}

var newKeywords = []string{
	"just started", "never played", "brand new", "new to tennis", "first time",
	"complete beginner", "total beginner", "absolute beginner", "i'm new", "im new",
	"i am new", "pretty new", "very new", "beginner",
}

var experienceKeywords = []string{
	"years", "year", "played for", "been playing", "playing for", "played in",
	"played since", "experienced", "experience", "club", "league", "tournament",
	"lessons", "intermediate", "advanced", "high school", "college", "used to play",
}

// beginnerDurations are read only when no duration of a year or more is stated.
var beginnerDurations = []string{
	"few months", "couple months", "couple of months", "several months",
	"less than a year", "under a year", "not even a year", "half a year",
	"few weeks", "couple weeks", "couple of weeks", "about a month", "only a month",
	"for a month", "a month or so", "just started", "started recently", "only recently",
}

// Transition reports what one Advance call did.
type Transition struct {
	From      State
	To        State
	Finalized bool
	Level     domain.SkillLevel
}

// Machine is the per-session introduction flow. It is not safe for
// concurrent use; the session serializes turns.
type Machine struct {
	email      string
	writer     ProfileWriter
	state      State
	name       string
	level      domain.SkillLevel
	utterances []string
}

// New returns a machine in StateWaitingForName.
func New(email string, writer ProfileWriter) *Machine {
	return &Machine{email: domain.NormalizeEmail(email), writer: writer, state: StateWaitingForName}
}

// State returns the current step.
func (m *Machine) State() State { return m.state }

// Name returns the collected name, possibly empty.
func (m *Machine) Name() string { return m.name }

// Level returns the assessed level once complete.
func (m *Machine) Level() domain.SkillLevel { return m.level }

// Completed reports whether the flow has finalized.
func (m *Machine) Completed() bool { return m.state == StateComplete }

// Advance consumes one player utterance. The returned error only reports a
// failed profile write; the flow still completes so the conversation can
// continue.
func (m *Machine) Advance(ctx context.Context, utterance string) (Transition, error) {
	t := Transition{From: m.state, To: m.state}
	text := strings.TrimSpace(utterance)
	if m.state == StateComplete || text == "" {
		return t, nil
	}
	m.utterances = append(m.utterances, text)
	lower := strings.ToLower(text)

	switch m.state {
	case StateWaitingForName:
		m.name = ExtractName(text)
		m.state = StateCheckingIfNew
	case StateCheckingIfNew:
		switch {
		case containsAny(lower, negatedNew):
			m.state = StateAskingFrequency
		case containsAny(lower, newKeywords):
			return m.finalize(ctx, t, domain.LevelBeginner)
		case containsAny(lower, experienceKeywords):
			m.state = StateAskingFrequency
		default:
			m.state = StateAskingTime
		}
	case StateAskingTime:
		if years, ok := maxYears(lower); ok && years >= 1 {
			m.state = StateAskingFrequency
			break
		}
		if containsAny(lower, beginnerDurations) || hasSubYearMonths(lower) {
			return m.finalize(ctx, t, domain.LevelBeginner)
		}
		m.state = StateAskingFrequency
	case StateAskingFrequency:
		return m.finalize(ctx, t, AssessLevel(m.utterances))
	}

	t.To = m.state
	return t, nil
}

func (m *Machine) finalize(ctx context.Context, t Transition, level domain.SkillLevel) (Transition, error) {
	m.level = level
	m.state = StateComplete
	t.To = StateComplete
	t.Finalized = true
	t.Level = level
	if m.writer == nil {
		return t, nil
	}
	if err := m.writer.UpdatePlayerProfile(ctx, m.email, m.name, level); err != nil {
		return t, fmt.Errorf("persist intro profile: %w", err)
	}
	return t, nil
}

// StepPrompt describes what the coach should do in its next reply.
func (m *Machine) StepPrompt() string {
	name := m.name
	if name == "" {
		name = "the player"
	}
	switch m.state {
	case StateWaitingForName:
		return "Step 1: welcome the player and ask for their name."
	case StateCheckingIfNew:
		return fmt.Sprintf("Step 2: greet %s by name and ask whether they are new to tennis or have played before.", name)
	case StateAskingTime:
		return fmt.Sprintf("Step 2: ask %s roughly how long they have been playing.", name)
	case StateAskingFrequency:
		return fmt.Sprintf("Step 2: ask %s how often they play and whether they take lessons.", name)
	default:
		return fmt.Sprintf("Steps 3 and 4: ask %s what part of their game is the biggest challenge, then propose a focus for today's session.", name)
	}
}
