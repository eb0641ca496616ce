package continuity

import (
	"fmt"
	"strings"

	"github.com/ashureev/rallycoach/internal/domain"
)

// homeworkPreviewLen bounds the quoted homework in a follow-up.
const homeworkPreviewLen = 100

var techniqueKeywords = []string{
	"forehand", "backhand", "serve", "volley", "footwork", "split step", "toss",
	"grip", "topspin", "slice", "overhead", "return", "drop shot", "lob", "stance",
}

// FollowUp builds the question that follows the greeting. Priority:
// homework, breakthrough (positive tone only), next focus, technical focus,
// mental game, generic.
func FollowUp(s *domain.SessionSummary, tone Tone) string {
	if s == nil {
		return genericFollowUp
	}
	if hw := meaningful(s.Homework); hw != "" {
		return fmt.Sprintf("Last time your homework was: %s How did it go?", ensurePeriod(truncate(hw, homeworkPreviewLen)))
	}
	if b := meaningful(s.Breakthroughs); b != "" && tone == TonePositive {
		return fmt.Sprintf("Last session you had a real breakthrough: %s Have you been able to keep that going?", ensurePeriod(b))
	}
	if nf := meaningful(s.NextFocus); nf != "" {
		return fmt.Sprintf("We planned to focus on %s today. Ready to dive in?", strings.TrimRight(lowerFirst(nf), ".!"))
	}
	if tf := meaningful(s.TechnicalFocus); tf != "" {
		if kw := findTechnique(tf); kw != "" {
			return fmt.Sprintf("How has your %s been feeling since we last worked on it?", kw)
		}
		return fmt.Sprintf("Last time we worked on %s. How has that been going?", strings.TrimRight(lowerFirst(tf), ".!"))
	}
	if meaningful(s.MentalGame) != "" {
		return "Last time we talked about the mental side of your game. How has your mindset been on court since then?"
	}
	return genericFollowUp
}

const genericFollowUp = "What would you like to work on today?"

func findTechnique(text string) string {
	lower := strings.ToLower(text)
	best, bestIdx := "", -1
	for _, kw := range techniqueKeywords {
		if i := strings.Index(lower, kw); i >= 0 && (bestIdx < 0 || i < bestIdx) {
			best, bestIdx = kw, i
		}
	}
	return best
}

// meaningful drops placeholder values the summarizer may emit.
func meaningful(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(strings.TrimRight(s, ".")) {
	case "", "none", "n/a", "na", "not specified", "nothing", "-":
		return ""
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}

func ensurePeriod(s string) string {
	if strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?") {
		return s
	}
	return s + "."
}

func lowerFirst(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	if len(r) > 1 && r[1] >= 'A' && r[1] <= 'Z' {
		return s
	}
	return strings.ToLower(string(r[:1])) + string(r[1:])
}
