package intro

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ashureev/rallycoach/internal/domain"
)

var beginnerPhrases = []string{
	"just started",
	"just starting",
	"just began",
	"just picked up",
	"never played",
	"brand new",
	"new to tennis",
	"first time",
	"complete beginner",
	"total beginner",
	"absolute beginner",
}

var subYearPhrases = []string{"less than a year", "under a year", "not even a year", "half a year"}

var numberWords = map[string]float64{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
	"fifteen": 15, "twenty": 20, "thirty": 30,
}

const numberAlt = `\d+(?:\.\d+)?|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|fifteen|twenty|thirty`

var (
	monthsRe = regexp.MustCompile(`\b(` + numberAlt + `)\s*(?:-\s*)?months?\b`)
	yearsRe  = regexp.MustCompile(`\b(` + numberAlt + `)\s*\+?\s*(?:-\s*)?(?:years?|yrs?)\b`)
	// vagueYears maps indefinite phrasings to a year count.
	vagueYears = []struct {
		re    *regexp.Regexp
		years float64
	}{
		{regexp.MustCompile(`\ba\s+couple\s+(?:of\s+)?years\b`), 2},
		{regexp.MustCompile(`\b(?:a\s+)?few\s+years\b`), 3},
		{regexp.MustCompile(`\bseveral\s+years\b`), 4},
		{regexp.MustCompile(`\bmany\s+years\b`), 5},
		{regexp.MustCompile(`\ba\s+decade\b`), 10},
		{regexp.MustCompile(`\b(?:a|one)\s+year\b`), 1},
	}
)

var (
	regularSignals = []string{
		"every week", "weekly", "twice a week", "times a week", "once a week",
		"every day", "daily", "most days", "regularly", "each week",
		"every weekend", "in a league", "league", "at a club",
	}
	occasionalSignals = []string{
		"occasionally", "sometimes", "once in a while", "now and then",
		"rarely", "casually", "on and off", "not often", "not much",
		"once a month", "few times a year", "every few months",
	}
	lessonSignals = []string{
		"lesson", "my coach", "a coach", "coaching", "clinic", "academy", "trainer", "training",
	}
	noLessonSignals = []string{
		"no lessons", "never had lessons", "never had a lesson", "never taken lessons",
		"never taken a lesson", "without lessons", "self-taught", "self taught",
		"taught myself", "no coaching", "no formal",
	}
	experienceWords = []string{
		"played", "playing", "experience", "experienced", "competitive",
		"tournament", "match", "matches", "rally", "hit with",
	}
	advancedTerms = []string{
		"topspin", "slice", "kick serve", "flat serve", "drop shot", "approach shot",
		"split step", "serve and volley", "western grip", "eastern grip", "continental",
		"one-handed", "two-handed", "overhead", "half volley", "lob", "backspin",
	}
)

// AssessLevel infers a skill level from the player's intro replies. The
// first entry is the name turn and is ignored. Rules run in order and the
// first match wins; Advanced is never inferred.
func AssessLevel(history []string) domain.SkillLevel {
	if len(history) <= 1 {
		return domain.LevelBeginner
	}
	text := strings.ToLower(strings.Join(history[1:], " "))

	if containsAny(text, beginnerPhrases) {
		return domain.LevelBeginner
	}
	if containsAny(text, subYearPhrases) || hasSubYearMonths(text) {
		return domain.LevelBeginner
	}

	if years, ok := maxYears(text); ok {
		if years < 1 {
			return domain.LevelBeginner
		}
		return decideFromHabits(text)
	}

	if containsAny(text, experienceWords) && containsAny(text, advancedTerms) {
		return domain.LevelIntermediate
	}
	return domain.LevelBeginner
}

// decideFromHabits applies the play-frequency and lessons table once at
// least a year of play is established. Ties favor Intermediate.
func decideFromHabits(text string) domain.SkillLevel {
	regular := containsAny(text, regularSignals)
	occasional := containsAny(text, occasionalSignals)
	noLessons := containsAny(text, noLessonSignals)
	lessons := containsAny(text, lessonSignals) && !noLessons

	switch {
	case regular && lessons:
		return domain.LevelIntermediate
	case regular && !noLessons:
		return domain.LevelIntermediate
	case lessons && !occasional:
		return domain.LevelIntermediate
	case occasional && noLessons:
		return domain.LevelBeginner
	default:
		return domain.LevelIntermediate
	}
}

func hasSubYearMonths(text string) bool {
	for _, m := range monthsRe.FindAllStringSubmatch(text, -1) {
		if n, ok := parseNumber(m[1]); ok && n < 12 {
			return true
		}
	}
	return false
}

// maxYears returns the largest year count mentioned, counting months as
// fractions of a year.
func maxYears(text string) (float64, bool) {
	best, found := 0.0, false
	consider := func(v float64) {
		if !found || v > best {
			best, found = v, true
		}
	}
	for _, m := range yearsRe.FindAllStringSubmatch(text, -1) {
		if n, ok := parseNumber(m[1]); ok {
			consider(n)
		}
	}
	for _, m := range monthsRe.FindAllStringSubmatch(text, -1) {
		if n, ok := parseNumber(m[1]); ok {
			consider(n / 12)
		}
	}
	for _, v := range vagueYears {
		if v.re.MatchString(text) {
			consider(v.years)
		}
	}
	return best, found
}

func parseNumber(s string) (float64, bool) {
	if n, ok := numberWords[s]; ok {
		return n, true
	}
	n, err := strconv.ParseFloat(s, 64)
	return n, err == nil
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
