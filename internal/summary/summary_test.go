package summary

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ashureev/rallycoach/internal/domain"
)

type fakeCompleter struct {
	text   string
	err    error
	prompt string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string, _ int) (string, error) {
	f.prompt = prompt
	return f.text, f.err
}

func transcript() []domain.Message {
	return []domain.Message{
		{Ordinal: 1, Role: domain.RoleCoach, Content: "Welcome back, Sam!"},
		{Ordinal: 2, Role: domain.RolePlayer, Content: "My serve keeps going long"},
		{Ordinal: 3, Role: domain.RoleCoach, Content: "Try tossing the ball a little further in front so you can hit up and over. How does that feel?"},
		{Ordinal: 4, Role: domain.RolePlayer, Content: "got it, thanks coach"},
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	text := `**TECHNICAL FOCUS:** Serve toss placement
MENTAL GAME: Staying patient
HOMEWORK: 20 toss-only reps daily
  keeping the arm straight
NEXT SESSION: Second serve spin
BREAKTHROUGHS: None
SUMMARY: Sam fixed the toss. Serves landed in more often.`

	sum, ok := Parse(text)
	if !ok {
		t.Fatal("expected labels to be found")
	}
	if sum.TechnicalFocus != "Serve toss placement" {
		t.Fatalf("technical focus = %q", sum.TechnicalFocus)
	}
	if sum.Homework != "20 toss-only reps daily keeping the arm straight" {
		t.Fatalf("homework = %q", sum.Homework)
	}
	if sum.NextFocus != "Second serve spin" || sum.Breakthroughs != "None" {
		t.Fatalf("unexpected fields %+v", sum)
	}
	if !strings.HasPrefix(sum.Narrative, "Sam fixed the toss.") {
		t.Fatalf("narrative = %q", sum.Narrative)
	}

	if _, ok := Parse("just some prose"); ok {
		t.Fatal("expected no labels")
	}
}

func TestSummarizeUsesModel(t *testing.T) {
	t.Parallel()

	fc := &fakeCompleter{text: "TECHNICAL FOCUS: Toss\nSUMMARY: Good work."}
	s := New(fc, nil)
	sum := s.Summarize(context.Background(), "sam@example.com", 4, transcript())
	if sum.TechnicalFocus != "Toss" || sum.PlayerEmail != "sam@example.com" || sum.SessionNumber != 4 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sum.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be set")
	}
	if !strings.Contains(fc.prompt, "Player: My serve keeps going long") {
		t.Fatalf("prompt missing transcript:\n%s", fc.prompt)
	}
}

func TestSummarizeFallsBackOnError(t *testing.T) {
	t.Parallel()

	s := New(&fakeCompleter{err: errors.New("overloaded")}, nil)
	sum := s.Summarize(context.Background(), "sam@example.com", 1, transcript())
	if !strings.HasPrefix(sum.TechnicalFocus, "Try tossing the ball") {
		t.Fatalf("expected heuristic technical focus, got %q", sum.TechnicalFocus)
	}
	if !strings.Contains(sum.Narrative, "My serve keeps going long") {
		t.Fatalf("expected narrative of player turns, got %q", sum.Narrative)
	}
}

func TestHeuristicEmptySession(t *testing.T) {
	t.Parallel()

	sum := New(nil, nil).Summarize(context.Background(), "x@example.com", 2, nil)
	if sum.TechnicalFocus != "General practice" || sum.Homework != "None" {
		t.Fatalf("unexpected heuristic summary %+v", sum)
	}
}
