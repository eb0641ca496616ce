// Package sessionend decides whether a player utterance ends the session.
package sessionend

import (
	"strings"
	"unicode"

	"github.com/ashureev/rallycoach/internal/domain"
)

// Tier is the confidence of an end signal.
type Tier int

const (
	TierNone Tier = iota
	TierLow
	TierMedium
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	case TierLow:
		return "low"
	default:
		return "none"
	}
}

// Decision is the detector's verdict for one utterance.
type Decision struct {
	ShouldEnd         bool
	NeedsConfirmation bool
	Tier              Tier
}

// Continue reports whether the conversation goes on without any end handling.
func (d Decision) Continue() bool { return !d.ShouldEnd && !d.NeedsConfirmation }

var highConfidence = []string{
	"end session", "end the session", "end our session", "stop session",
	"finish session", "finish the session", "goodbye coach", "bye coach",
	"i'm done for today", "im done for today", "i am done for today",
	"that's all for today", "thats all for today", "log off", "sign off",
	"see you next session", "end chat",
}

var mediumConfidence = []string{
	"thanks coach", "thank you coach", "great session", "good session",
	"awesome session", "that was helpful", "this was helpful", "that helped a lot",
	"i think that's it", "i think thats it", "that's enough for today",
	"thats enough for today", "i should go", "i have to go", "i gotta go",
	"talk to you later", "see you next time", "until next time",
}

var closingWords = map[string]bool{
	"bye": true, "goodbye": true, "done": true, "thanks": true, "thank": true,
	"thx": true, "ty": true, "cya": true, "later": true, "finished": true,
	"cheers": true,
}

var completionSignals = []string{
	"got it", "makes sense", "that makes sense", "understood", "i understand",
	"will do", "i'll try that", "ill try that", "i will try", "i'll practice",
	"sounds good", "perfect", "that helps", "good to know", "i see",
}

const (
	lowTierMaxWords       = 3
	lowTierMinHistory     = 4
	lowTierSignalLookback = 4
)

// Detect classifies utterance against the recent history. History holds the
// turns before utterance, oldest first.
func Detect(utterance string, history []domain.Turn) Decision {
	text := normalize(utterance)
	if text == "" {
		return Decision{}
	}
	if containsAny(text, highConfidence) {
		return Decision{ShouldEnd: true, Tier: TierHigh}
	}
	if containsAny(text, mediumConfidence) {
		return Decision{NeedsConfirmation: true, Tier: TierMedium}
	}

	words := strings.Fields(text)
	if len(words) > lowTierMaxWords || !hasClosingWord(words) {
		return Decision{}
	}
	if len(history) < lowTierMinHistory || !recentCompletionSignal(history) {
		return Decision{}
	}
	return Decision{NeedsConfirmation: true, Tier: TierLow}
}

// ConfirmationPrompt is the coach's question for a pending end.
func ConfirmationPrompt(tier Tier) string {
	switch tier {
	case TierMedium:
		return "Sounds like we covered some great ground today! Would you like to wrap up our session here? (yes/no)"
	case TierLow:
		return "Are you ready to end today's session, or is there anything else you'd like to work on? (yes/no)"
	default:
		return "Would you like to end our session now? (yes/no)"
	}
}

func recentCompletionSignal(history []domain.Turn) bool {
	seen := 0
	for i := len(history) - 1; i >= 0 && seen < lowTierSignalLookback; i-- {
		if history[i].Role != domain.RolePlayer {
			continue
		}
		seen++
		if containsAny(normalize(history[i].Content), completionSignals) {
			return true
		}
	}
	return false
}

func hasClosingWord(words []string) bool {
	for _, w := range words {
		if closingWords[strings.Trim(w, "'")] {
			return true
		}
	}
	return false
}

// normalize lower-cases text, folds curly apostrophes and turns other
// punctuation into spaces.
func normalize(s string) string {
	s = strings.ToLower(strings.ReplaceAll(s, "’", "'"))
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) && r != '\'' {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func containsAny(text string, phrases []string) bool {
	padded := " " + text + " "
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}
