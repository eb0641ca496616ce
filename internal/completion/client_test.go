package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type scriptedGenerator struct {
	results []error
	text    string
	calls   int
}

func (g *scriptedGenerator) Generate(context.Context, string, int) (string, error) {
	i := g.calls
	g.calls++
	if i < len(g.results) && g.results[i] != nil {
		return "", g.results[i]
	}
	return g.text, nil
}

func recordingSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func overloaded() error { return fmt.Errorf("%w: 529", ErrOverloaded) }

func TestCompleteStopsAfterThreeOverloadedAttempts(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{results: []error{overloaded(), overloaded(), overloaded(), overloaded()}}
	var delays []time.Duration
	c := NewClient(gen, Options{BaseDelay: 10 * time.Millisecond, Sleep: recordingSleep(&delays)})

	text, err := c.Complete(context.Background(), "prompt", 100)
	if text != "" {
		t.Fatalf("expected no text, got %q", text)
	}
	if gen.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", gen.calls)
	}
	if KindOf(err) != KindOverloaded {
		t.Fatalf("expected overloaded kind, got %v", err)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if len(delays) != len(want) || delays[0] != want[0] || delays[1] != want[1] {
		t.Fatalf("expected delays %v, got %v", want, delays)
	}
	if !strings.HasPrefix(FallbackText(err), "Error generating response: ") {
		t.Fatalf("unexpected fallback text %q", FallbackText(err))
	}
}

func TestCompleteRecoversAfterOverload(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{results: []error{overloaded()}, text: "  Great question!  "}
	var delays []time.Duration
	c := NewClient(gen, Options{BaseDelay: time.Millisecond, Sleep: recordingSleep(&delays)})

	text, err := c.Complete(context.Background(), "prompt", 0)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "Great question!" || gen.calls != 2 || len(delays) != 1 {
		t.Fatalf("unexpected result text=%q calls=%d delays=%v", text, gen.calls, delays)
	}
}

func TestCompleteDoesNotRetryOtherErrors(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{results: []error{errors.New("invalid api key")}}
	c := NewClient(gen, Options{Sleep: func(context.Context, time.Duration) error {
		t.Fatal("unexpected sleep")
		return nil
	}})

	_, err := c.Complete(context.Background(), "prompt", 50)
	if gen.calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", gen.calls)
	}
	var se *ServiceError
	if !errors.As(err, &se) || se.Kind != KindUpstream {
		t.Fatalf("expected upstream ServiceError, got %v", err)
	}
}

func TestCompleteEmptyText(t *testing.T) {
	t.Parallel()

	c := NewClient(&scriptedGenerator{text: "   "}, Options{})
	if _, err := c.Complete(context.Background(), "prompt", 10); KindOf(err) != KindEmpty {
		t.Fatalf("expected empty kind, got %v", err)
	}
}

func TestCompleteCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen := &scriptedGenerator{results: []error{overloaded(), overloaded(), overloaded()}}
	c := NewClient(gen, Options{BaseDelay: time.Hour})

	_, err := c.Complete(ctx, "prompt", 10)
	if gen.calls != 1 || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation after first attempt, calls=%d err=%v", gen.calls, err)
	}
}

func TestClassifyGRPC(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code codes.Code
		want bool
	}{
		{codes.ResourceExhausted, true},
		{codes.Unavailable, true},
		{codes.InvalidArgument, false},
		{codes.Internal, false},
	}
	for _, tt := range tests {
		err := classifyGRPC(status.Error(tt.code, "x"))
		if got := errors.Is(err, ErrOverloaded); got != tt.want {
			t.Errorf("code %s: overloaded=%v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestIsOverloadStatus(t *testing.T) {
	t.Parallel()

	for code, want := range map[int]bool{429: true, 503: true, 529: true, 500: false, 401: false, 0: false} {
		if got := isOverloadStatus(code); got != want {
			t.Errorf("isOverloadStatus(%d) = %v, want %v", code, got, want)
		}
	}
}
