package retrieval

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/rallycoach/internal/domain"
)

// NormalizeMetadata reduces a metadata value that may be a scalar, a list, or
// a stringified list to one display string: the first non-empty element.
// Anything unusable yields domain.NotSpecified.
func NormalizeMetadata(v any) string {
	switch val := v.(type) {
	case nil:
		return domain.NotSpecified
	case string:
		return normalizeString(val)
	case []string:
		for _, s := range val {
			if out := normalizeString(s); out != domain.NotSpecified {
				return out
			}
		}
		return domain.NotSpecified
	case []any:
		for _, item := range val {
			if out := NormalizeMetadata(item); out != domain.NotSpecified {
				return out
			}
		}
		return domain.NotSpecified
	case fmt.Stringer:
		return normalizeString(val.String())
	case bool, float64, float32, int, int64, int32, json.Number:
		return fmt.Sprint(val)
	default:
		return domain.NotSpecified
	}
}

func normalizeString(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.NotSpecified
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		return firstListElement(s[1 : len(s)-1])
	}
	return s
}

// firstListElement handles both JSON ("a", "b") and Python-style ('a', 'b') list bodies.
func firstListElement(body string) string {
	for _, part := range strings.Split(body, ",") {
		part = strings.TrimSpace(part)
		part = strings.Trim(part, `"'`)
		part = strings.TrimSpace(part)
		if part != "" {
			return part
		}
	}
	return domain.NotSpecified
}
