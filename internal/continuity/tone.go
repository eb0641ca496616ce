package continuity

import (
	"strings"
	"time"
)

// Tone is the emotional character of the previous session.
type Tone string

const (
	TonePositive    Tone = "positive"
	ToneChallenging Tone = "challenging"
	ToneTechnical   Tone = "technical"
	ToneNeutral     Tone = "neutral"
)

// minToneHits is the hit count a category needs to win.
const minToneHits = 2

var toneKeywords = map[Tone][]string{
	TonePositive: {
		"great", "excellent", "improved", "improvement", "breakthrough", "confident",
		"progress", "success", "nailed", "proud", "fun", "awesome", "consistent",
	},
	ToneChallenging: {
		"struggle", "frustrat", "difficult", "hard time", "challenging", "inconsistent",
		"nervous", "tough", "mistakes", "errors", "tired", "anxious", "stuck",
	},
	ToneTechnical: {
		"grip", "footwork", "stance", "swing path", "toss", "follow-through",
		"follow through", "contact point", "topspin", "slice", "backhand", "forehand",
		"serve", "volley", "technique", "split step", "racket face",
	},
}

// AnalyzeTone scores text by keyword frequency. Technical wins on two or
// more hits; positive or challenging win with two or more hits that strictly
// exceed every other category. Anything else is neutral.
func AnalyzeTone(text string) Tone {
	lower := strings.ToLower(text)
	hits := make(map[Tone]int, len(toneKeywords))
	for tone, words := range toneKeywords {
		for _, w := range words {
			hits[tone] += strings.Count(lower, w)
		}
	}

	if hits[ToneTechnical] >= minToneHits {
		return ToneTechnical
	}
	for _, tone := range []Tone{TonePositive, ToneChallenging} {
		if hits[tone] < minToneHits {
			continue
		}
		wins := true
		for other, n := range hits {
			if other != tone && n >= hits[tone] {
				wins = false
				break
			}
		}
		if wins {
			return tone
		}
	}
	return ToneNeutral
}

// DefaultDaysSince is assumed when the previous message time is unknown.
const DefaultDaysSince = 7

// DaysSince counts calendar days between last and now in now's location.
func DaysSince(last, now time.Time) int {
	if last.IsZero() {
		return DefaultDaysSince
	}
	last = last.In(now.Location())
	y1, m1, d1 := last.Date()
	y2, m2, d2 := now.Date()
	from := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	to := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	days := int(to.Sub(from).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
