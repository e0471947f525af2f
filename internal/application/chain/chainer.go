// Package chain turns the outcome of an executed action into the final
// reply, asking the model for one more turn and falling back to a fixed
// template when that call fails.
package chain

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/ports"
)

// maxReportedOutput bounds the execution output quoted back to the model.
const maxReportedOutput = 2000

// Input is everything the chainer needs about one executed action.
type Input struct {
	Result      domain.ExecutionResult
	ToolCall    domain.ToolCall
	History     []domain.ConversationTurn
	UserMessage string
	Tier        domain.ModelTier
}

// Chainer produces the user-facing reply for an executed action.
type Chainer struct {
	completer ports.Completer
	logger    ports.Logger
}

// NewChainer creates a Chainer.
func NewChainer(completer ports.Completer, logger ports.Logger) *Chainer {
	return &Chainer{completer: completer, logger: logger}
}

// Chain never returns an empty string.
func (c *Chainer) Chain(ctx context.Context, in Input) string {
	ctx, span := otel.Tracer("shai-agent/chain").Start(ctx, "chain.result")
	defer span.End()

	lang := DetectLanguage(in.UserMessage)

	turns := domain.AppendTurns(in.History,
		domain.ConversationTurn{Role: domain.RoleUser, Content: in.UserMessage},
		domain.ConversationTurn{Role: domain.RoleUser, Content: summaryPrompt(in, lang)},
	)

	tier := in.Tier
	if !tier.IsCallable() {
		tier = domain.TierSmall
	}
	completion, err := c.completer.Complete(ctx, turns, tier, ports.CompleteOptions{})
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("result chaining failed, using template", map[string]interface{}{
				"tool":  string(in.ToolCall.ToolName),
				"error": err.Error(),
			})
		}
		return Template(lang, in.ToolCall.ToolName, in.Result)
	}
	if reply := strings.TrimSpace(completion.Content); reply != "" {
		return reply
	}
	return Template(lang, in.ToolCall.ToolName, in.Result)
}

func summaryPrompt(in Input, lang Language) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The action %s was executed.\n", in.ToolCall.ToolName)
	fmt.Fprintf(&b, "Success: %t\n", in.Result.Success)
	if in.Result.Success {
		fmt.Fprintf(&b, "Result: %s\n", clip(in.Result.Result))
	} else {
		fmt.Fprintf(&b, "Error: %s\n", clip(in.Result.Error))
	}
	fmt.Fprintf(&b, "Reply to the user in %s with a short natural-language summary of what happened. Do not propose another action.", lang.Name())
	return b.String()
}

func clip(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "(none)"
	}
	runes := []rune(text)
	if len(runes) > maxReportedOutput {
		return string(runes[:maxReportedOutput]) + domain.TruncatedMarker
	}
	return text
}

// Template is the deterministic reply used when the model is unavailable.
func Template(lang Language, tool domain.ToolName, result domain.ExecutionResult) string {
	detail := strings.TrimSpace(result.Error)
	if detail == "" {
		detail = "unknown error"
	}
	switch {
	case lang == Georgian && result.Success:
		return fmt.Sprintf("მოქმედება %s წარმატებით შესრულდა.", tool)
	case lang == Georgian:
		return fmt.Sprintf("მოქმედება %s ვერ შესრულდა: %s", tool, detail)
	case result.Success:
		return fmt.Sprintf("The %s action completed successfully.", tool)
	default:
		return fmt.Sprintf("The %s action failed: %s", tool, detail)
	}
}
