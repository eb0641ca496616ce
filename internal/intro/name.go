package intro

import (
	"strings"
	"unicode"
)

// trailingFillers are removed from the end of a name reply, longest first.
var trailingFillers = []string{
	"how are you doing today coach",
	"how are you doing coach",
	"how are you today coach",
	"how are you coach",
	"how are you doing",
	"how are you today",
	"how are you",
	"how's it going",
	"hows it going",
	"nice to meet you coach",
	"nice to meet you",
	"good to meet you",
	"pleased to meet you",
	"thanks coach",
	"thank you",
	"thanks",
	"coach",
}

// namePrefixes introduce a name. Multi-word prefixes come first.
var namePrefixes = [][]string{
	{"they", "call", "me"},
	{"my", "name", "is"},
	{"my", "name's"},
	{"name's"},
	{"call", "me"},
	{"i", "am"},
	{"i'm"},
	{"im"},
	{"it's"},
	{"its"},
	{"this", "is"},
}

var nameStoplist = map[string]bool{
	"hi": true, "hello": true, "hey": true, "coach": true, "there": true,
	"yeah": true, "yes": true, "well": true, "oh": true, "so": true,
	"ok": true, "okay": true, "um": true, "uh": true, "and": true,
	"the": true, "a": true, "just": true, "sure": true, "good": true,
	"morning": true, "afternoon": true, "evening": true, "thanks": true,
}

// ExtractName pulls a display name out of a free-form reply. It is a
// forgiving heuristic, not a general name parser: it strips trailing
// pleasantries, skips an introducing phrase such as "my name is", drops
// incidental words and title-cases the first token left.
func ExtractName(utterance string) string {
	s := trimPunct(strings.TrimSpace(utterance))
	for changed := true; changed; {
		changed = false
		lower := strings.ToLower(s)
		for _, f := range trailingFillers {
			if strings.HasSuffix(lower, f) {
				s = trimPunct(s[:len(s)-len(f)])
				changed = true
				break
			}
		}
	}

	tokens := tokenize(s)
	for len(tokens) > 0 && nameStoplist[strings.ToLower(tokens[0])] {
		tokens = tokens[1:]
	}
	tokens = skipPrefix(tokens)

	for _, tok := range tokens {
		if nameStoplist[strings.ToLower(tok)] {
			continue
		}
		return titleCase(tok)
	}
	return ""
}

func skipPrefix(tokens []string) []string {
	for _, prefix := range namePrefixes {
		if len(tokens) < len(prefix) {
			continue
		}
		match := true
		for i, p := range prefix {
			if strings.ToLower(tokens[i]) != p {
				match = false
				break
			}
		}
		if match {
			return tokens[len(prefix):]
		}
	}
	return tokens
}

func tokenize(s string) []string {
	s = strings.ReplaceAll(s, "’", "'")
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '\'' && r != '-')
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'-")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func trimPunct(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
}

func titleCase(word string) string {
	runes := []rune(strings.ToLower(word))
	if len(runes) == 0 {
		return ""
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
