package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/ports"
)

const providerNameOpenAI = "openai"

// openAIProvider talks to OpenAI-compatible chat completion endpoints
// through go-openai. It is the only backend with native tool calls.
type openAIProvider struct {
	model  domain.ModelDefinition
	client *openai.Client
}

func newOpenAIProvider(model domain.ModelDefinition, httpClient *http.Client) ports.Provider {
	cfg := openai.DefaultConfig(getAPIKey(model))
	if endpoint := strings.TrimSpace(model.Endpoint); endpoint != "" {
		cfg.BaseURL = strings.TrimSuffix(endpoint, "/")
	}
	cfg.OrgID = getOrganization(model)
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &openAIProvider{model: model, client: openai.NewClientWithConfig(cfg)}
}

func (p *openAIProvider) Name() string {
	return providerNameOpenAI
}

func (p *openAIProvider) Model() domain.ModelDefinition {
	return p.model
}

func (p *openAIProvider) Generate(ctx context.Context, req ports.ProviderRequest) (domain.Completion, error) {
	request := openai.ChatCompletionRequest{
		Model:     p.model.ModelID,
		MaxTokens: p.model.GetMaxTokens(),
		Messages:  toOpenAIMessages(req.Turns),
		Tools:     toOpenAITools(req.Tools),
	}
	if req.Stream {
		return p.stream(ctx, request, req.StreamWriter)
	}

	resp, err := p.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return domain.Completion{}, p.classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return domain.Completion{}, p.fail(domain.ModelErrorMalformed, 0, errors.New("response has no choices"))
	}

	message := resp.Choices[0].Message
	calls, err := fromOpenAIToolCalls(message.ToolCalls)
	if err != nil {
		return domain.Completion{}, err
	}
	return domain.Completion{
		Content:    strings.TrimSpace(message.Content),
		ModelLabel: p.model.Label(),
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		ToolCalls: calls,
	}, nil
}

// stream copies content deltas to w as they arrive and accumulates tool
// call fragments by index.
func (p *openAIProvider) stream(ctx context.Context, request openai.ChatCompletionRequest, w io.Writer) (domain.Completion, error) {
	request.Stream = true
	stream, err := p.client.CreateChatCompletionStream(ctx, request)
	if err != nil {
		return domain.Completion{}, p.classify(ctx, err)
	}
	defer stream.Close()

	var content strings.Builder
	fragments := make(map[int]*openai.ToolCall)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.Completion{}, p.classify(ctx, err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if w != nil {
				_, _ = io.WriteString(w, delta.Content)
			}
		}
		for i, call := range delta.ToolCalls {
			index := i
			if call.Index != nil {
				index = *call.Index
			}
			acc, ok := fragments[index]
			if !ok {
				acc = &openai.ToolCall{ID: call.ID, Type: call.Type}
				fragments[index] = acc
			}
			if call.Function.Name != "" {
				acc.Function.Name = call.Function.Name
			}
			acc.Function.Arguments += call.Function.Arguments
		}
	}

	indexes := make([]int, 0, len(fragments))
	for index := range fragments {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)
	assembled := make([]openai.ToolCall, 0, len(indexes))
	for _, index := range indexes {
		assembled = append(assembled, *fragments[index])
	}
	calls, err := fromOpenAIToolCalls(assembled)
	if err != nil {
		return domain.Completion{}, err
	}

	return domain.Completion{
		Content:    strings.TrimSpace(content.String()),
		ModelLabel: p.model.Label(),
		ToolCalls:  calls,
	}, nil
}

func (p *openAIProvider) classify(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return p.fail(statusErrorKind(apiErr.HTTPStatusCode), apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return p.fail(statusErrorKind(reqErr.HTTPStatusCode), reqErr.HTTPStatusCode, err)
	}
	return p.fail(transportErrorKind(ctx, err), 0, err)
}

func (p *openAIProvider) fail(kind domain.ModelErrorKind, status int, err error) error {
	return &domain.ModelError{Kind: kind, Provider: p.model.Name, StatusCode: status, Err: err}
}

func toOpenAIMessages(turns []domain.ConversationTurn) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, turn := range turns {
		role := openai.ChatMessageRoleUser
		switch turn.Role {
		case domain.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case domain.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	return messages
}

func toOpenAITools(defs []ports.ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Schema,
			},
		})
	}
	return tools
}

// fromOpenAIToolCalls decodes the JSON arguments of native calls. An
// idempotency_key argument is lifted out of the parameters.
func fromOpenAIToolCalls(calls []openai.ToolCall) ([]domain.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	out := make([]domain.ToolCall, 0, len(calls))
	for _, call := range calls {
		params := map[string]any{}
		if args := strings.TrimSpace(call.Function.Arguments); args != "" {
			if err := json.Unmarshal([]byte(args), &params); err != nil {
				return nil, &domain.ToolValidationError{
					Tool:   domain.ToolName(call.Function.Name),
					Reason: "has arguments that are not a JSON object",
				}
			}
		}
		var key string
		if raw, ok := params["idempotency_key"].(string); ok {
			key = raw
			delete(params, "idempotency_key")
		}
		out = append(out, domain.ToolCall{
			ToolName:       domain.ToolName(call.Function.Name),
			Parameters:     params,
			IdempotencyKey: key,
		})
	}
	return out, nil
}

var _ ports.Provider = (*openAIProvider)(nil)
