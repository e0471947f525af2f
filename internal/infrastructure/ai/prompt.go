package ai

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/doeshing/shai-agent/assets"
	"github.com/doeshing/shai-agent/internal/domain"
)

type templateData struct {
	Context string
}

// renderSystemPrompt renders the model's prompt messages, or the embedded
// default system prompt, with the assembled context.
func renderSystemPrompt(model domain.ModelDefinition, contextText string) ([]domain.ConversationTurn, error) {
	data := templateData{Context: strings.TrimSpace(contextText)}

	messages := model.Prompt
	if len(messages) == 0 {
		messages = []domain.PromptMessage{{Role: string(domain.RoleSystem), Content: assets.DefaultSystemPrompt}}
	}

	rendered := make([]domain.ConversationTurn, 0, len(messages))
	for _, msg := range messages {
		content, err := executeTemplate(msg.Content, data)
		if err != nil {
			return nil, err
		}
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		role := domain.Role(msg.Role)
		if role == "" {
			role = domain.RoleSystem
		}
		rendered = append(rendered, domain.ConversationTurn{Role: role, Content: content})
	}
	return rendered, nil
}

func executeTemplate(text string, data templateData) (string, error) {
	tmpl, err := template.New("prompt").Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse prompt template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt template: %w", err)
	}
	return buf.String(), nil
}
