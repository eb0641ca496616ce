package continuity

import (
	_ "embed"
	"fmt"
	"math/rand"
	"strings"

	"gopkg.in/yaml.v3"
)

// Bucket names a group of greeting templates.
type Bucket string

const (
	BucketSameDay     Bucket = "same_day"
	BucketNextDay     Bucket = "next_day"
	BucketTenToTwenty Bucket = "ten_to_twenty_days"
	BucketThreeWeeks  Bucket = "three_weeks_plus"
)

// RecentWindow is how many previous greetings are excluded from selection.
const RecentWindow = 3

//go:embed greetings.yaml
var defaultGreetingsYAML []byte

// Templates maps a bucket to its greeting templates.
type Templates map[Bucket][]string

// LoadTemplates parses a YAML bucket table.
func LoadTemplates(data []byte) (Templates, error) {
	var t Templates
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse greeting templates: %w", err)
	}
	for _, b := range []Bucket{BucketSameDay, BucketNextDay, BucketTenToTwenty, BucketThreeWeeks, toneBucket(ToneNeutral)} {
		if len(t[b]) == 0 {
			return nil, fmt.Errorf("greeting bucket %q is empty", b)
		}
	}
	return t, nil
}

// DefaultTemplates returns the built-in greeting table.
func DefaultTemplates() Templates {
	t, err := LoadTemplates(defaultGreetingsYAML)
	if err != nil {
		panic(err)
	}
	return t
}

func toneBucket(t Tone) Bucket { return Bucket(t) }

// BucketFor picks the template bucket from elapsed days, using tone for
// visits two to nine days apart.
func BucketFor(days int, tone Tone) Bucket {
	switch {
	case days <= 0:
		return BucketSameDay
	case days == 1:
		return BucketNextDay
	case days >= 21:
		return BucketThreeWeeks
	case days >= 10:
		return BucketTenToTwenty
	default:
		return toneBucket(tone)
	}
}

// SelectGreeting picks a template from candidates that is not in recent. If
// every candidate was used recently, any candidate may repeat.
func SelectGreeting(candidates, recent []string, rng *rand.Rand) string {
	if len(candidates) == 0 {
		return ""
	}
	used := make(map[string]bool, len(recent))
	for _, r := range recent {
		used[r] = true
	}
	fresh := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if !used[c] {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 {
		fresh = candidates
	}
	return fresh[rng.Intn(len(fresh))]
}

// Render fills the {name} placeholder.
func Render(template, name string) string {
	if name == "" {
		name = "there"
	}
	return strings.ReplaceAll(template, "{name}", name)
}
