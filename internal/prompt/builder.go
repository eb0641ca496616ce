package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/ashureev/rallycoach/internal/domain"
)

const (
	// IntroWindow is how many recent turns the introduction prompt carries.
	IntroWindow = 6
	// CoachingWindow is how many recent turns the coaching prompt carries.
	CoachingWindow = 10
)

// IntroInput feeds the introduction template.
type IntroInput struct {
	Utterance string
	History   []domain.Turn
	Knowledge string
	// Step describes what the coach should do next in the four-step script.
	Step string
}

// CoachingInput feeds the coaching template.
type CoachingInput struct {
	Utterance     string
	Name          string
	Level         domain.SkillLevel
	PreviousFocus string
	History       []domain.Turn
	Knowledge     string
}

const introTemplate = `You are Coach Rally, an upbeat tennis coach meeting a new player for the first time.

Follow this four-step script, one step per reply:
1. Ask for the player's name.
2. Greet them by name and ask about their tennis experience.
3. Ask what part of their game is the biggest challenge right now.
4. Propose a focus for today's session.

Rules:
- Reply in 1 to 2 sentences.
- Be enthusiastic and warm.

Current step: {{.Step}}

Coaching knowledge:
{{.Knowledge}}

Recent conversation:
{{range .History}}{{.Role.Label}}: {{.Content}}
{{else}}(none yet)
{{end}}
Player: {{.Utterance}}
Coach:`

const coachingTemplate = `You are Coach Rally, a tennis coach working with {{.Name}}, a {{.Level}} player.

Rules:
- You already know the player's name and level. Never ask for them again.
- Reply in 2 to 3 sentences.
- End with an inviting question.
- Only suggest drills the player can do alone: no partner, hitting buddy, or feeder.
- Ground technical advice in the coaching knowledge below when it applies.
{{if .PreviousFocus}}
Last session's technical focus: {{.PreviousFocus}}
{{end}}
Coaching knowledge:
{{.Knowledge}}

Recent conversation:
{{range .History}}{{.Role.Label}}: {{.Content}}
{{else}}(none yet)
{{end}}
Player: {{.Utterance}}
Coach:`

var (
	introTmpl    = template.Must(template.New("intro").Parse(introTemplate))
	coachingTmpl = template.Must(template.New("coaching").Parse(coachingTemplate))
)

// BuildIntro renders the introduction prompt.
func BuildIntro(in IntroInput) (string, error) {
	data := in
	data.History = domain.LastTurns(in.History, IntroWindow)
	data.Knowledge = knowledgeOrPlaceholder(in.Knowledge)
	data.Utterance = strings.TrimSpace(in.Utterance)
	if data.Step == "" {
		data.Step = "Ask for the player's name."
	}
	return render(introTmpl, data)
}

// BuildCoaching renders the coaching prompt.
func BuildCoaching(in CoachingInput) (string, error) {
	data := in
	data.History = domain.LastTurns(in.History, CoachingWindow)
	data.Knowledge = knowledgeOrPlaceholder(in.Knowledge)
	data.Utterance = strings.TrimSpace(in.Utterance)
	data.PreviousFocus = strings.TrimSpace(in.PreviousFocus)
	if data.Name == "" {
		data.Name = "the player"
	}
	if data.Level == "" {
		data.Level = domain.LevelBeginner
	}
	return render(coachingTmpl, data)
}

func knowledgeOrPlaceholder(block string) string {
	if strings.TrimSpace(block) == "" {
		return NoKnowledgePlaceholder
	}
	return block
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
