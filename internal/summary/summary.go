// Package summary condenses a completed session into a SessionSummary.
package summary

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/ashureev/rallycoach/internal/domain"
)

// maxSummaryTokens bounds the summarization reply.
const maxSummaryTokens = 400

// Completer is the completion capability the summarizer needs.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

const summaryTemplate = `You are a tennis coach writing private notes after a coaching session.
Read the transcript and answer with exactly these labeled lines. Write "None" when a field does not apply.

TECHNICAL FOCUS: the main stroke or technique worked on
MENTAL GAME: notes on confidence, focus or emotions
HOMEWORK: what the player should practice alone before next time
NEXT SESSION: what to focus on next time
BREAKTHROUGHS: any clear moment of progress
SUMMARY: two sentences describing the session

Transcript:
{{range .}}{{.Role.Label}}: {{.Content}}
{{end}}`

var summaryTmpl = template.Must(template.New("summary").Parse(summaryTemplate))

// Summarizer produces session summaries.
type Summarizer struct {
	completer Completer
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a summarizer. completer may be nil, in which case only the
// heuristic summary is produced.
func New(completer Completer, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{completer: completer, logger: logger, now: time.Now}
}

// Summarize builds the summary for one session. It never fails: completion
// errors fall back to a heuristic summary of the transcript.
func (s *Summarizer) Summarize(ctx context.Context, email string, number int, messages []domain.Message) *domain.SessionSummary {
	var sum *domain.SessionSummary
	if s.completer != nil && len(messages) > 0 {
		sum = s.fromModel(ctx, messages)
	}
	if sum == nil {
		sum = Heuristic(messages)
	}
	sum.PlayerEmail = email
	sum.SessionNumber = number
	sum.CreatedAt = s.now().UTC()
	return sum
}

func (s *Summarizer) fromModel(ctx context.Context, messages []domain.Message) *domain.SessionSummary {
	var buf bytes.Buffer
	if err := summaryTmpl.Execute(&buf, messages); err != nil {
		s.logger.Error("Failed to render summary prompt", "error", err)
		return nil
	}
	text, err := s.completer.Complete(ctx, buf.String(), maxSummaryTokens)
	if err != nil {
		s.logger.Warn("Summary completion failed, using heuristic", "error", err)
		return nil
	}
	sum, ok := Parse(text)
	if !ok {
		s.logger.Warn("Summary completion had no labeled fields, using heuristic")
		return nil
	}
	return sum
}

var labels = []struct {
	prefix string
	set    func(*domain.SessionSummary, string)
}{
	{"TECHNICAL FOCUS:", func(s *domain.SessionSummary, v string) { s.TechnicalFocus = v }},
	{"MENTAL GAME:", func(s *domain.SessionSummary, v string) { s.MentalGame = v }},
	{"HOMEWORK:", func(s *domain.SessionSummary, v string) { s.Homework = v }},
	{"NEXT SESSION:", func(s *domain.SessionSummary, v string) { s.NextFocus = v }},
	{"BREAKTHROUGHS:", func(s *domain.SessionSummary, v string) { s.Breakthroughs = v }},
	{"SUMMARY:", func(s *domain.SessionSummary, v string) { s.Narrative = v }},
}

// Parse reads labeled lines from a model reply. Continuation lines are
// appended to the preceding field. ok is false when no label was found.
func Parse(text string) (*domain.SessionSummary, bool) {
	sum := &domain.SessionSummary{}
	var current func(*domain.SessionSummary, string)
	var value strings.Builder
	found := false

	flush := func() {
		if current != nil {
			current(sum, strings.TrimSpace(value.String()))
		}
		value.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimLeft(strings.TrimSpace(line), "*-# ")
		upper := strings.ToUpper(trimmed)
		matched := false
		for _, l := range labels {
			if strings.HasPrefix(upper, l.prefix) {
				flush()
				current = l.set
				value.WriteString(strings.TrimLeft(trimmed[len(l.prefix):], "* "))
				matched, found = true, true
				break
			}
		}
		if !matched && current != nil && trimmed != "" {
			value.WriteString(" ")
			value.WriteString(trimmed)
		}
	}
	flush()
	return sum, found
}

// narrativeTurns is how many player turns feed the heuristic narrative.
const narrativeTurns = 3

// Heuristic summarizes without a model: the last substantive coach reply
// becomes the technical focus and the latest player turns the narrative.
func Heuristic(messages []domain.Message) *domain.SessionSummary {
	sum := &domain.SessionSummary{
		MentalGame:    "None",
		Homework:      "None",
		NextFocus:     "None",
		Breakthroughs: "None",
	}
	var playerTurns []string
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		content := strings.TrimSpace(m.Content)
		switch {
		case m.Role == domain.RoleCoach && sum.TechnicalFocus == "" && len(content) > 40 && !strings.HasPrefix(content, "Error generating"):
			sum.TechnicalFocus = firstSentence(content)
		case m.Role == domain.RolePlayer && len(playerTurns) < narrativeTurns && content != "":
			playerTurns = append([]string{content}, playerTurns...)
		}
	}
	if sum.TechnicalFocus == "" {
		sum.TechnicalFocus = "General practice"
	}
	if len(playerTurns) == 0 {
		sum.Narrative = "Short session with no player messages."
	} else {
		sum.Narrative = "Player discussed: " + strings.Join(playerTurns, " / ")
	}
	return sum
}

func firstSentence(s string) string {
	if i := strings.IndexAny(s, ".!?"); i > 0 {
		return strings.TrimSpace(s[:i+1])
	}
	return s
}
