package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// knowledgeProperties are the passage fields stored on the knowledge class.
var knowledgeProperties = []string{"text", "source_url", "topics", "skill_level", "coaching_style"}

// WeaviateIndex implements Index over a Weaviate class.
type WeaviateIndex struct {
	client    *weaviate.Client
	className string
}

// NewWeaviateIndex creates a Weaviate-backed index from a service URL such as http://localhost:8080.
func NewWeaviateIndex(serviceURL, apiKey, className string) (*WeaviateIndex, error) {
	parsed, err := url.Parse(serviceURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate URL %q", serviceURL)
	}
	cfg := weaviate.Config{Host: parsed.Host, Scheme: parsed.Scheme}
	if apiKey != "" {
		cfg.AuthConfig = auth.ApiKey{Value: apiKey}
	}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	if className == "" {
		className = "CoachingKnowledge"
	}
	return &WeaviateIndex{client: client, className: className}, nil
}

// Query runs a nearVector search; certainty is reported as the score.
func (w *WeaviateIndex) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	fields := make([]graphql.Field, 0, len(knowledgeProperties)+1)
	for _, p := range knowledgeProperties {
		fields = append(fields, graphql.Field{Name: p})
	}
	fields = append(fields, graphql.Field{Name: "_additional", Fields: []graphql.Field{
		{Name: "id"},
		{Name: "certainty"},
	}})

	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	result, err := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(ClampTopK(topK)).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	return parseWeaviateMatches(result, w.className)
}

func parseWeaviateMatches(resp *models.GraphQLResponse, className string) ([]Match, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
		return nil, fmt.Errorf("weaviate graphql errors: %s", strings.Join(msgs, "; "))
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal GraphQL data: %w", err)
	}
	var parsed struct {
		Get map[string][]map[string]any `json:"Get"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal GraphQL data: %w", err)
	}

	objects := parsed.Get[className]
	matches := make([]Match, 0, len(objects))
	for _, obj := range objects {
		m := Match{Metadata: make(map[string]any, len(knowledgeProperties))}
		for _, p := range knowledgeProperties {
			if v, ok := obj[p]; ok {
				m.Metadata[p] = v
			}
		}
		if add, ok := obj["_additional"].(map[string]any); ok {
			if id, ok := add["id"].(string); ok {
				m.ID = id
			}
			if c, ok := add["certainty"].(float64); ok {
				m.Score = c
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

var _ Index = (*WeaviateIndex)(nil)
