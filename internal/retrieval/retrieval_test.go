package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/ashureev/rallycoach/internal/domain"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return f.vec, f.err }

type fakeIndex struct {
	matches []Match
	err     error
	gotK    int
}

func (f *fakeIndex) Query(_ context.Context, _ []float32, topK int) ([]Match, error) {
	f.gotK = topK
	return f.matches, f.err
}

func TestRetrieveFailsClosedOnEmbeddingError(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{}
	c := NewClient(fakeEmbedder{err: errors.New("boom")}, idx, nil)
	chunks, err := c.Retrieve(context.Background(), "how do I hit a kick serve", 3)
	if err == nil {
		t.Fatal("expected error to be surfaced")
	}
	if chunks == nil || len(chunks) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", chunks)
	}
	if idx.gotK != 0 {
		t.Fatal("index must not be queried without a vector")
	}
}

func TestRetrieveIndexError(t *testing.T) {
	t.Parallel()

	c := NewClient(fakeEmbedder{vec: []float32{1}}, &fakeIndex{err: errors.New("down")}, nil)
	chunks, err := c.Retrieve(context.Background(), "volleys", 3)
	if err == nil || len(chunks) != 0 {
		t.Fatalf("expected empty result and error, got %d chunks, err=%v", len(chunks), err)
	}
}

func TestRetrieveKeepsIndexOrderAndBoundsLength(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{matches: []Match{
		{ID: "a", Score: 0.71, Metadata: map[string]any{"text": "Split step before every shot."}},
		{ID: "b", Score: 0.93, Metadata: map[string]any{"text": "Toss slightly in front.", "topics": []any{"", "serve"}}},
		{ID: "c", Score: 0.50, Metadata: map[string]any{"text": "extra"}},
	}}
	c := NewClient(fakeEmbedder{vec: []float32{0.1, 0.2}}, idx, nil)

	chunks, err := c.Retrieve(context.Background(), "footwork", 2)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if idx.gotK != 2 {
		t.Fatalf("expected index asked for 2, got %d", idx.gotK)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].ID != "a" || chunks[1].ID != "b" {
		t.Fatalf("order changed: %s, %s", chunks[0].ID, chunks[1].ID)
	}
	if chunks[1].Topics != "serve" {
		t.Fatalf("expected topics normalized to serve, got %q", chunks[1].Topics)
	}
	if chunks[0].Source != domain.NotSpecified {
		t.Fatalf("expected missing source to be %q, got %q", domain.NotSpecified, chunks[0].Source)
	}
}

func TestClampTopK(t *testing.T) {
	t.Parallel()

	tests := map[int]int{-1: DefaultTopK, 0: DefaultTopK, 1: 1, 7: 7, 10: 10, 50: 10}
	for in, want := range tests {
		if got := ClampTopK(in); got != want {
			t.Errorf("ClampTopK(%d) = %d, want %d", in, got, want)
		}
	}
}
