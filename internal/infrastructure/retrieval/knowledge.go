package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/ports"
)

// defaultKnowledgeCertainty is used when weaviate omits _additional.
const defaultKnowledgeCertainty = 0.5

// WeaviateIndex queries a weaviate class with nearText. Objects are
// expected to carry "path" and "content" properties.
type WeaviateIndex struct {
	client *weaviate.Client
	class  string
}

// NewWeaviateIndex connects to the weaviate instance at rawURL.
func NewWeaviateIndex(rawURL, class string) (*WeaviateIndex, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, errors.New("weaviate url is required")
	}
	if class == "" {
		return nil, errors.New("weaviate class is required")
	}
	cfg := weaviate.Config{Host: rawURL, Scheme: "http"}
	switch {
	case strings.HasPrefix(rawURL, "https://"):
		cfg.Scheme = "https"
		cfg.Host = strings.TrimPrefix(rawURL, "https://")
	case strings.HasPrefix(rawURL, "http://"):
		cfg.Host = strings.TrimPrefix(rawURL, "http://")
	}
	cfg.Host = strings.TrimSuffix(cfg.Host, "/")

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &WeaviateIndex{client: client, class: class}, nil
}

// SimilarChunks implements ports.KnowledgeIndex.
func (i *WeaviateIndex) SimilarChunks(ctx context.Context, query string, k int) ([]domain.KnowledgeChunk, error) {
	if strings.TrimSpace(query) == "" || k <= 0 {
		return nil, nil
	}
	nearText := i.client.GraphQL().NearTextArgBuilder().WithConcepts([]string{query})
	fields := []graphql.Field{
		{Name: "path"},
		{Name: "content"},
		{Name: "_additional { certainty }"},
	}

	result, err := i.client.GraphQL().Get().
		WithClassName(i.class).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("knowledge search: %s", result.Errors[0].Message)
	}
	return parseKnowledge(result, i.class), nil
}

func parseKnowledge(result *models.GraphQLResponse, class string) []domain.KnowledgeChunk {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[class].([]interface{})
	if !ok {
		return nil
	}

	chunks := make([]domain.KnowledgeChunk, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		content, _ := m["content"].(string)
		if strings.TrimSpace(content) == "" {
			continue
		}
		path, _ := m["path"].(string)
		score := defaultKnowledgeCertainty
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				score = certainty
			}
		}
		chunks = append(chunks, domain.KnowledgeChunk{Path: path, Text: content, Score: score})
	}
	sort.SliceStable(chunks, func(a, b int) bool { return chunks[a].Score > chunks[b].Score })
	return chunks
}

// NoopIndex is the knowledge index used when none is configured.
type NoopIndex struct{}

func (NoopIndex) SimilarChunks(context.Context, string, int) ([]domain.KnowledgeChunk, error) {
	return nil, nil
}

var (
	_ ports.KnowledgeIndex = (*WeaviateIndex)(nil)
	_ ports.KnowledgeIndex = NoopIndex{}
)
