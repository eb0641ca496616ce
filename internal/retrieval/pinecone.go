package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// PineconeConfig configures the Pinecone data-plane client.
type PineconeConfig struct {
	APIKey     string
	Host       string // index host, e.g. coach-abc123.svc.us-east1.pinecone.io
	Namespace  string
	APIVersion string
	Timeout    time.Duration
}

// PineconeIndex implements Index over the Pinecone query endpoint.
type PineconeIndex struct {
	cfg  PineconeConfig
	http *http.Client
}

// NewPineconeIndex creates a Pinecone-backed index.
func NewPineconeIndex(cfg PineconeConfig) (*PineconeIndex, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing Pinecone API key")
	}
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("missing Pinecone index host")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2025-10"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	cfg.Host = host
	return &PineconeIndex{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

type pineconeQueryRequest struct {
	Namespace       string    `json:"namespace,omitempty"`
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	IncludeValues   bool      `json:"includeValues"`
	IncludeMetadata bool      `json:"includeMetadata"`
}

type pineconeQueryResponse struct {
	Matches []struct {
		ID       string         `json:"id"`
		Score    float64        `json:"score"`
		Metadata map[string]any `json:"metadata,omitempty"`
	} `json:"matches"`
}

// Query returns the nearest neighbors with metadata, ordered as Pinecone ranked them.
func (p *PineconeIndex) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector required")
	}
	body, err := json.Marshal(pineconeQueryRequest{
		Namespace:       p.cfg.Namespace,
		Vector:          vector,
		TopK:            ClampTopK(topK),
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("encode pinecone query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Api-Key", p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pinecone-Api-Version", p.cfg.APIVersion)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pinecone query: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("pinecone query http %d: %s", resp.StatusCode, string(raw))
	}

	var out pineconeQueryResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("pinecone query decode: %w", err)
	}
	matches := make([]Match, 0, len(out.Matches))
	for _, m := range out.Matches {
		matches = append(matches, Match{ID: m.ID, Score: m.Score, Metadata: m.Metadata})
	}
	return matches, nil
}

var _ Index = (*PineconeIndex)(nil)
