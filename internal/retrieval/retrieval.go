// Package retrieval fetches coaching knowledge passages for a query.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/rallycoach/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("rallycoach/retrieval")

const (
	MinTopK     = 1
	MaxTopK     = 10
	DefaultTopK = 3
)

// ErrEmptyQuery is returned when there is nothing to embed.
var ErrEmptyQuery = errors.New("empty query")

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Match is one raw neighbor returned by a vector index.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Index queries a vector index for nearest neighbors with metadata.
type Index interface {
	Query(ctx context.Context, vector []float32, topK int) ([]Match, error)
}

// Client coordinates the embedder and index.
type Client struct {
	embedder Embedder
	index    Index
	logger   *slog.Logger
}

// NewClient creates a retrieval client.
func NewClient(embedder Embedder, index Index, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{embedder: embedder, index: index, logger: logger}
}

// ClampTopK bounds k to [MinTopK, MaxTopK]; zero or negative selects the default.
func ClampTopK(k int) int {
	switch {
	case k <= 0:
		return DefaultTopK
	case k > MaxTopK:
		return MaxTopK
	default:
		return k
	}
}

// Retrieve returns up to topK chunks in the order the index ranked them.
// Every failure degrades to an empty slice; the error is returned for the
// caller to observe, never to abort the turn.
func (c *Client) Retrieve(ctx context.Context, query string, topK int) ([]domain.RetrievedChunk, error) {
	ctx, span := tracer.Start(ctx, "Retrieve", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	topK = ClampTopK(topK)
	span.SetAttributes(attribute.Int("top_k", topK))

	if query == "" {
		return []domain.RetrievedChunk{}, ErrEmptyQuery
	}

	vector, err := c.embedder.Embed(ctx, query)
	if err != nil || len(vector) == 0 {
		if err == nil {
			err = errors.New("embedder returned empty vector")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		c.logger.Warn("Embedding failed, continuing without knowledge", "error", err)
		return []domain.RetrievedChunk{}, fmt.Errorf("embed query: %w", err)
	}

	matches, err := c.index.Query(ctx, vector, topK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "index query failed")
		c.logger.Warn("Vector index query failed", "error", err)
		return []domain.RetrievedChunk{}, fmt.Errorf("query index: %w", err)
	}

	if len(matches) > topK {
		matches = matches[:topK]
	}
	chunks := make([]domain.RetrievedChunk, 0, len(matches))
	for _, m := range matches {
		chunks = append(chunks, chunkFromMatch(m))
	}
	span.SetAttributes(attribute.Int("chunks", len(chunks)))
	c.logger.Debug("Retrieved knowledge", "count", len(chunks))
	return chunks, nil
}

func chunkFromMatch(m Match) domain.RetrievedChunk {
	text := firstField(m.Metadata, "text", "content", "chunk")
	if text == domain.NotSpecified {
		text = ""
	}
	return domain.RetrievedChunk{
		ID:            m.ID,
		Text:          text,
		Score:         m.Score,
		Source:        firstField(m.Metadata, "source_url", "source", "url"),
		Topics:        firstField(m.Metadata, "topics", "tags", "topic"),
		SkillLevel:    firstField(m.Metadata, "skill_level", "level"),
		CoachingStyle: firstField(m.Metadata, "coaching_style", "style"),
	}
}

func firstField(md map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := md[k]; ok {
			if s := NormalizeMetadata(v); s != domain.NotSpecified {
				return s
			}
		}
	}
	return domain.NotSpecified
}
