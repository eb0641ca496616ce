package domain

import (
	"fmt"
	"math"
	"strings"
)

// NotSpecified is the display value used when chunk metadata is missing.
const NotSpecified = "Not specified"

// RetrievedChunk is a knowledge passage returned for one query. It is never persisted.
type RetrievedChunk struct {
	ID            string
	Text          string
	Score         float64
	Source        string
	Topics        string
	SkillLevel    string
	CoachingStyle string
}

// DisplayScore rounds the raw relevance score to three decimals.
func (c RetrievedChunk) DisplayScore() float64 {
	return math.Round(c.Score*1000) / 1000
}

// SummarizeChunks renders the resource record stored alongside a coach message.
func SummarizeChunks(chunks []RetrievedChunk) string {
	if len(chunks) == 0 {
		return ""
	}
	lines := make([]string, 0, len(chunks))
	for i, c := range chunks {
		lines = append(lines, fmt.Sprintf("%d. %s (score %.3f, topics: %s, level: %s, style: %s)",
			i+1, c.Source, c.DisplayScore(), c.Topics, c.SkillLevel, c.CoachingStyle))
	}
	return strings.Join(lines, "\n")
}
