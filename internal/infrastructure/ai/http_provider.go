package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/ports"
)

const (
	providerNameHTTP = "http"
	// maxResponseBytes bounds the body read from a model backend.
	maxResponseBytes = 4 << 20
)

// httpProvider is a configuration-driven HTTP-based provider.
// All provider-specific behavior is controlled through the model's APIFormat configuration.
type httpProvider struct {
	model      domain.ModelDefinition
	httpClient *http.Client
}

func newHTTPProvider(model domain.ModelDefinition, client *http.Client) ports.Provider {
	return &httpProvider{model: model, httpClient: client}
}

func (p *httpProvider) Name() string {
	return providerNameHTTP
}

func (p *httpProvider) Model() domain.ModelDefinition {
	return p.model
}

func (p *httpProvider) Generate(ctx context.Context, req ports.ProviderRequest) (domain.Completion, error) {
	requestBody, err := p.buildRequestBody(req.Turns)
	if err != nil {
		return domain.Completion{}, p.fail(domain.ModelErrorMalformed, 0, fmt.Errorf("build request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.model.Endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return domain.Completion{}, p.fail(domain.ModelErrorMalformed, 0, fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	p.setAuthHeaders(httpReq)
	p.setExtraHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return domain.Completion{}, p.fail(transportErrorKind(ctx, err), 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.Completion{}, p.fail(transportErrorKind(ctx, err), resp.StatusCode, fmt.Errorf("read response body: %w", err))
	}
	if resp.StatusCode >= 400 {
		return domain.Completion{}, p.fail(statusErrorKind(resp.StatusCode), resp.StatusCode, errors.New(snippet(body)))
	}

	completion, err := p.parseResponse(body)
	if err != nil {
		return domain.Completion{}, p.fail(domain.ModelErrorMalformed, resp.StatusCode, err)
	}
	if req.Stream && req.StreamWriter != nil {
		// the plain HTTP backend does not stream; the caller still sees the text
		_, _ = io.WriteString(req.StreamWriter, completion.Content)
	}
	return completion, nil
}

// buildRequestBody constructs the JSON request body based on the model's APIFormat configuration.
func (p *httpProvider) buildRequestBody(turns []domain.ConversationTurn) ([]byte, error) {
	format := p.model.APIFormat

	request := map[string]interface{}{
		"model":      p.model.ModelID,
		"max_tokens": p.model.GetMaxTokens(),
	}

	// Handle system messages based on configuration
	if format.IsSystemMessageSeparate() {
		systemPrompt, chatMessages := splitSystemMessages(turns, format)
		if systemPrompt != "" {
			request["system"] = systemPrompt
		}
		request["messages"] = chatMessages
	} else {
		request["messages"] = formatMessagesInline(turns, format)
	}

	return json.Marshal(request)
}

// splitSystemMessages separates system messages from chat messages for providers
// that require system messages in a separate field (e.g., Anthropic).
func splitSystemMessages(turns []domain.ConversationTurn, format domain.APIFormat) (string, []map[string]interface{}) {
	var systemLines []string
	chatMessages := make([]map[string]interface{}, 0, len(turns))

	for _, turn := range turns {
		if turn.Role == domain.RoleSystem {
			systemLines = append(systemLines, turn.Content)
			continue
		}
		chatMessages = append(chatMessages, formatMessage(turn, format))
	}

	return strings.TrimSpace(strings.Join(systemLines, "\n")), chatMessages
}

// formatMessagesInline formats all messages (including system) into the messages array.
func formatMessagesInline(turns []domain.ConversationTurn, format domain.APIFormat) []map[string]interface{} {
	result := make([]map[string]interface{}, 0, len(turns))
	for _, turn := range turns {
		result = append(result, formatMessage(turn, format))
	}
	return result
}

// formatMessage formats a single message based on the content wrapper configuration.
func formatMessage(turn domain.ConversationTurn, format domain.APIFormat) map[string]interface{} {
	message := map[string]interface{}{
		"role": string(turn.Role),
	}

	if format.IsContentWrapped() {
		message["content"] = []map[string]string{
			{"type": "text", "text": turn.Content},
		}
	} else {
		message["content"] = turn.Content
	}

	return message
}

// setAuthHeaders configures authentication headers based on the model's APIFormat.
func (p *httpProvider) setAuthHeaders(req *http.Request) {
	format := p.model.APIFormat
	if apiKey := getAPIKey(p.model); apiKey != "" {
		req.Header.Set(format.GetAuthHeaderName(), format.GetAuthHeaderPrefix()+apiKey)
	}
	if orgID := getOrganization(p.model); orgID != "" {
		req.Header.Set("OpenAI-Organization", orgID)
	}
}

// setExtraHeaders adds any additional headers defined in the APIFormat configuration.
func (p *httpProvider) setExtraHeaders(req *http.Request) {
	for key, value := range p.model.APIFormat.ExtraHeaders {
		req.Header.Set(key, value)
	}
}

// parseResponse reads the configured JSON path first and falls back to
// the common response shapes.
func (p *httpProvider) parseResponse(body []byte) (domain.Completion, error) {
	var response map[string]interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		return domain.Completion{}, fmt.Errorf("unmarshal JSON: %w", err)
	}

	content, err := extractJSONPath(response, p.model.APIFormat.GetResponseJSONPath())
	if err != nil || strings.TrimSpace(content) == "" {
		var ok bool
		content, ok = normalizeContent(response)
		if !ok {
			return domain.Completion{}, fmt.Errorf("no text content in response: %s", snippet(body))
		}
	}

	return domain.Completion{
		Content:    strings.TrimSpace(content),
		ModelLabel: p.model.Label(),
		Usage:      parseUsage(response),
	}, nil
}

func (p *httpProvider) fail(kind domain.ModelErrorKind, status int, err error) error {
	return &domain.ModelError{Kind: kind, Provider: p.model.Name, StatusCode: status, Err: err}
}

// parseUsage accepts both the prompt/completion and input/output naming.
func parseUsage(response map[string]interface{}) domain.Usage {
	raw, ok := response["usage"].(map[string]interface{})
	if !ok {
		return domain.Usage{}
	}
	number := func(keys ...string) int {
		for _, key := range keys {
			if v, ok := raw[key].(float64); ok {
				return int(v)
			}
		}
		return 0
	}
	usage := domain.Usage{
		PromptTokens:     number("prompt_tokens", "input_tokens"),
		CompletionTokens: number("completion_tokens", "output_tokens"),
		TotalTokens:      number("total_tokens"),
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}

func snippet(body []byte) string {
	const limit = 200
	text := strings.TrimSpace(string(body))
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}

var _ ports.Provider = (*httpProvider)(nil)
