package retrieval

import (
	"testing"

	"github.com/ashureev/rallycoach/internal/domain"
)

func TestNormalizeMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "nil", in: nil, want: domain.NotSpecified},
		{name: "scalar", in: "serve", want: "serve"},
		{name: "blank scalar", in: "   ", want: domain.NotSpecified},
		{name: "list", in: []any{"", "footwork", "serve"}, want: "footwork"},
		{name: "string list", in: []string{"", "volley"}, want: "volley"},
		{name: "python list", in: "['', 'backhand', 'slice']", want: "backhand"},
		{name: "json list", in: `["topspin"]`, want: "topspin"},
		{name: "empty list", in: "[]", want: domain.NotSpecified},
		{name: "empty slice", in: []any{}, want: domain.NotSpecified},
		{name: "number", in: float64(3), want: "3"},
		{name: "map", in: map[string]any{"a": 1}, want: domain.NotSpecified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NormalizeMetadata(tt.in); got != tt.want {
				t.Fatalf("NormalizeMetadata(%#v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
