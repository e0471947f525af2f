package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/ports"
)

func TestOpenAIProviderNativeToolCall(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test")

	var request map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &request))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "c1",
			"choices": [{
				"index": 0,
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "installPackage", "arguments": "{\"packageName\":\"lodash\",\"idempotency_key\":\"k1\"}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	model := domain.ModelDefinition{Name: "gpt", Backend: domain.BackendOpenAI, Endpoint: server.URL, AuthEnvVar: "TEST_OPENAI_KEY", ModelID: "gpt-4o-mini"}
	provider := newOpenAIProvider(model, server.Client())

	completion, err := provider.Generate(context.Background(), ports.ProviderRequest{
		Turns: []domain.ConversationTurn{{Role: domain.RoleUser, Content: "install lodash"}},
		Tools: []ports.ToolDefinition{{Name: "installPackage", Description: "install", Schema: map[string]any{"type": "object"}}},
	})
	require.NoError(t, err)
	require.Equal(t, 15, completion.Usage.TotalTokens)
	require.Equal(t, []domain.ToolCall{{
		ToolName:       domain.ToolInstallPackage,
		Parameters:     map[string]any{"packageName": "lodash"},
		IdempotencyKey: "k1",
	}}, completion.ToolCalls)

	require.Equal(t, "gpt-4o-mini", request["model"])
	tools := request["tools"].([]interface{})
	require.Len(t, tools, 1)
}

func TestOpenAIProviderClassifiesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer server.Close()

	provider := newOpenAIProvider(domain.ModelDefinition{Name: "gpt", Endpoint: server.URL}, server.Client())
	_, err := provider.Generate(context.Background(), ports.ProviderRequest{})

	kind, ok := domain.ModelErrorKindOf(err)
	require.True(t, ok)
	require.Equal(t, domain.ModelErrorRateLimit, kind)
}

func TestOpenAIProviderRejectsNonObjectArguments(t *testing.T) {
	_, err := fromOpenAIToolCalls(nil)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","tool_calls":[{"id":"c","type":"function","function":{"name":"writeFile","arguments":"not json"}}]}}]}`))
	}))
	defer server.Close()

	provider := newOpenAIProvider(domain.ModelDefinition{Name: "gpt", Endpoint: server.URL}, server.Client())
	_, err = provider.Generate(context.Background(), ports.ProviderRequest{})

	var validationErr *domain.ToolValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, domain.ToolWriteFile, validationErr.Tool)
}
