package sessionend

import "strings"

// Confirmation classifies a reply to a pending end prompt.
type Confirmation int

const (
	Ambiguous Confirmation = iota
	Yes
	No
)

func (c Confirmation) String() string {
	switch c {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "ambiguous"
	}
}

var affirmative = []string{
	"yes", "yeah", "yep", "yup", "sure", "ok", "okay", "y", "yes please",
	"absolutely", "definitely", "let's end", "lets end", "end it", "sounds good",
	"i'm done", "im done", "that's it", "thats it",
}

var negative = []string{
	"no", "nope", "nah", "n", "not yet", "no thanks", "keep going", "continue",
	"not done", "wait", "one more", "hold on", "let's keep going", "lets keep going",
}

// ClassifyConfirmation maps a reply onto Yes, No or Ambiguous. Negative
// phrases are checked first so "no, not yet" never reads as a yes.
func ClassifyConfirmation(reply string) Confirmation {
	text := normalize(reply)
	if text == "" {
		return Ambiguous
	}
	if matchesReply(text, negative) {
		return No
	}
	if matchesReply(text, affirmative) {
		return Yes
	}
	return Ambiguous
}

// matchesReply accepts a phrase that is the whole reply or leads it.
func matchesReply(text string, phrases []string) bool {
	for _, p := range phrases {
		if text == p || strings.HasPrefix(text, p+" ") {
			return true
		}
	}
	return false
}
