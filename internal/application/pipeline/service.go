// Package pipeline runs one message through routing, context assembly,
// the model, the safety gate and result chaining.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/doeshing/shai-agent/internal/application/chain"
	"github.com/doeshing/shai-agent/internal/application/contextassembly"
	"github.com/doeshing/shai-agent/internal/application/safety"
	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/infrastructure/metrics"
	"github.com/doeshing/shai-agent/internal/ports"
)

// ModelNone is reported as the model of answers that used no model.
const ModelNone = "none"

// Router classifies a message.
type Router interface {
	Route(message string, opts domain.RouteOptions) domain.RoutingDecision
}

// ContextBuilder assembles the context window. It never fails.
type ContextBuilder interface {
	Build(ctx context.Context, message string, opts contextassembly.BuildOptions) domain.ContextResult
}

// Parser locates a tool call in a completion.
type Parser interface {
	FromCompletion(domain.Completion) (*domain.ToolCall, error)
}

// Validator turns a raw tool call into a typed action.
type Validator interface {
	Validate(domain.ToolCall) (domain.Action, error)
}

// Gate confirms and executes actions.
type Gate interface {
	Run(ctx context.Context, key domain.SessionKey, call domain.ToolCall, action domain.Action, requestID string) (safety.Outcome, error)
}

// Chainer phrases the final reply for an executed action.
type Chainer interface {
	Chain(ctx context.Context, in chain.Input) string
}

// Service orchestrates the request lifecycle end-to-end.
type Service struct {
	Router    Router
	Context   ContextBuilder
	Completer ports.Completer
	Parser    Parser
	Validator Validator
	Gate      Gate
	Chainer   Chainer
	Logger    ports.Logger
	// Tools is advertised to backends with native function calling.
	Tools []ports.ToolDefinition
}

// Validate reports missing dependencies.
func (s *Service) Validate() error {
	if s.Router == nil || s.Context == nil || s.Completer == nil || s.Parser == nil ||
		s.Validator == nil || s.Gate == nil || s.Chainer == nil || s.Logger == nil {
		return errors.New("pipeline.Service dependencies not satisfied")
	}
	return nil
}

// ProcessMessage always returns exactly one non-empty response. Failures
// are reported as natural-language replies, never as errors or panics.
func (s *Service) ProcessMessage(ctx context.Context, req domain.ProcessRequest) (resp domain.ProcessResponse) {
	requestID := strings.TrimSpace(req.Options.RequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	lang := chain.DetectLanguage(req.Message)

	ctx, span := otel.Tracer("shai-agent/pipeline").Start(ctx, "pipeline.process")
	span.SetAttributes(attribute.String("request_id", requestID))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			if s.Logger != nil {
				s.Logger.Error("pipeline panic", fmt.Errorf("%v", r), map[string]interface{}{"request_id": requestID})
			}
			resp = domain.ProcessResponse{
				Response:  message(lang, msgInternal),
				Policy:    resp.Policy,
				Model:     ModelNone,
				RequestID: requestID,
			}
		}
		if strings.TrimSpace(resp.Response) == "" {
			resp.Response = message(lang, msgEmptyAnswer)
		}
	}()

	if err := s.Validate(); err != nil {
		return domain.ProcessResponse{Response: message(lang, msgInternal), Model: ModelNone, RequestID: requestID}
	}

	decision := s.Router.Route(req.Message, domain.RouteOptions{ModelOverride: req.Options.ModelOverride})
	metrics.ObserveRouting(string(decision.Policy), string(decision.Tier))
	span.SetAttributes(
		attribute.String("policy", string(decision.Policy)),
		attribute.String("tier", string(decision.Tier)),
	)
	s.Logger.Info("routed message", map[string]interface{}{
		"request_id": requestID,
		"policy":     string(decision.Policy),
		"tier":       string(decision.Tier),
		"overridden": decision.Overridden,
	})

	resp = domain.ProcessResponse{
		Policy:    decision.Policy,
		Model:     ModelNone,
		RequestID: requestID,
	}

	if !decision.Tier.IsCallable() {
		resp.Success = true
		resp.Response = greeting(lang)
		return resp
	}

	assembled := s.Context.Build(ctx, req.Message, contextassembly.BuildOptions{History: req.History})
	if len(assembled.Degraded) > 0 {
		s.Logger.Warn("context assembled without some sources", map[string]interface{}{
			"request_id": requestID,
			"degraded":   strings.Join(assembled.Degraded, ","),
		})
	}

	turns := domain.AppendTurns(req.History, domain.ConversationTurn{Role: domain.RoleUser, Content: req.Message})
	completion, err := s.Completer.Complete(ctx, turns, decision.Tier, ports.CompleteOptions{
		Context: assembled.Text,
		Tools:   s.Tools,
	})
	if err != nil {
		resp.Response = s.modelFailure(lang, requestID, err)
		return resp
	}
	resp.Model = completion.ModelLabel

	call, err := s.Parser.FromCompletion(completion)
	if err != nil {
		s.Logger.Warn("tool call rejected", map[string]interface{}{"request_id": requestID, "error": err.Error()})
		if errors.Is(err, domain.ErrMultipleToolCalls) {
			resp.Response = message(lang, msgMultipleActions)
		} else {
			resp.Response = message(lang, msgNotUnderstood)
		}
		return resp
	}
	if call == nil {
		resp.Success = true
		resp.Response = completion.Content
		return resp
	}

	action, err := s.Validator.Validate(*call)
	if err != nil {
		s.Logger.Warn("tool call failed validation", map[string]interface{}{
			"request_id": requestID,
			"tool":       string(call.ToolName),
			"error":      err.Error(),
		})
		resp.Response = message(lang, msgNotUnderstood)
		return resp
	}

	outcome, err := s.Gate.Run(ctx, req.Session(), *call, action, requestID)
	if err != nil {
		s.Logger.Error("safety gate failed", err, map[string]interface{}{"request_id": requestID})
		resp.Response = message(lang, msgInternal)
		return resp
	}
	if !outcome.Executed() {
		if outcome.Confirmation.State == domain.ConfirmationTimedOut {
			resp.Response = message(lang, msgTimedOut)
		} else {
			resp.Response = message(lang, msgDenied)
		}
		return resp
	}

	result := *outcome.Result
	resp.Success = result.Success
	resp.ToolExecuted = &domain.ToolExecutionSummary{
		Tool:       call.ToolName,
		Success:    result.Success,
		DurationMS: result.DurationMS,
	}
	resp.Response = s.Chainer.Chain(ctx, chain.Input{
		Result:      result,
		ToolCall:    *call,
		History:     req.History,
		UserMessage: req.Message,
		Tier:        decision.Tier,
	})
	return resp
}

func (s *Service) modelFailure(lang chain.Language, requestID string, err error) string {
	s.Logger.Error("model call failed", err, map[string]interface{}{"request_id": requestID})
	var validationErr *domain.ToolValidationError
	if errors.As(err, &validationErr) {
		return message(lang, msgNotUnderstood)
	}
	kind, ok := domain.ModelErrorKindOf(err)
	switch {
	case ok && kind == domain.ModelErrorAuth:
		return message(lang, msgMisconfigured)
	case ok:
		return message(lang, msgUnavailable)
	default:
		return message(lang, msgInternal)
	}
}
