// Package prompt turns retrieved knowledge and conversation history into a
// single completion prompt.
package prompt

import (
	"strings"

	"github.com/ashureev/rallycoach/internal/domain"
)

// minCleanLength is the shortest cleaned passage kept as knowledge.
const minCleanLength = 11

// NoKnowledgePlaceholder stands in for an empty knowledge block.
const NoKnowledgePlaceholder = "(No coaching knowledge was retrieved for this message. Do not invent drills, statistics, or sources; coach from general principles and ask a clarifying question if needed.)"

// authoringMarkers are removed verbatim from passage text. Ordered so that
// longer markers are stripped before any marker they contain.
var authoringMarkers = []string{
	"[DEBUG]",
	"[debug]",
	"[INTERNAL]",
	"[TODO]",
	"[NOTE TO COACH]",
	"[COACH ONLY]",
	"Note to coach:",
	"NOTE TO COACH:",
	"Coach's note:",
	"Coach note:",
	"Internal note:",
	"Debug note:",
	"DEBUG:",
	"(for coach eyes only)",
	"(do not read aloud)",
	"Do not share this with the player.",
	"Instructor guidance:",
}

// Sanitize strips authoring markers from text. It returns "" when fewer than
// minCleanLength characters remain.
func Sanitize(text string) string {
	cleaned := text
	for {
		prev := cleaned
		for _, marker := range authoringMarkers {
			cleaned = strings.ReplaceAll(cleaned, marker, "")
		}
		if cleaned == prev {
			break
		}
	}
	cleaned = strings.TrimSpace(cleaned)
	if len([]rune(cleaned)) < minCleanLength {
		return ""
	}
	return cleaned
}

// CleanPassages sanitizes chunk texts in order, dropping passages that are
// empty after cleaning.
func CleanPassages(chunks []domain.RetrievedChunk) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if s := Sanitize(c.Text); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// KnowledgeBlock joins cleaned passages with a blank line between them.
// An empty result is returned as "" and replaced by the builder.
func KnowledgeBlock(chunks []domain.RetrievedChunk) string {
	return strings.Join(CleanPassages(chunks), "\n\n")
}
