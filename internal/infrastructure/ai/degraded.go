package ai

import (
	"context"
	"io"
	"strings"

	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/ports"
)

const providerNameDegraded = "degraded"

// DegradedProvider answers without a network call. It is used when a model
// has no credentials so the agent stays usable and says so.
type DegradedProvider struct {
	model domain.ModelDefinition
}

// NewDegradedProvider wraps the model definition.
func NewDegradedProvider(model domain.ModelDefinition) *DegradedProvider {
	return &DegradedProvider{model: model}
}

func (p *DegradedProvider) Name() string {
	return providerNameDegraded
}

func (p *DegradedProvider) Model() domain.ModelDefinition {
	return p.model
}

// Generate echoes the request back with a note that no model is available.
func (p *DegradedProvider) Generate(_ context.Context, req ports.ProviderRequest) (domain.Completion, error) {
	var b strings.Builder
	b.WriteString("The ")
	b.WriteString(p.model.Name)
	b.WriteString(" model is not available in this environment")
	if p.model.AuthEnvVar != "" {
		b.WriteString(" (set ")
		b.WriteString(p.model.AuthEnvVar)
		b.WriteString(")")
	}
	b.WriteString(".")
	if last, ok := domain.LastTurn(req.Turns, domain.RoleUser); ok {
		b.WriteString(" Your request was: ")
		b.WriteString(strings.TrimSpace(last.Content))
	}

	content := b.String()
	if req.Stream && req.StreamWriter != nil {
		_, _ = io.WriteString(req.StreamWriter, content)
	}
	return domain.Completion{
		Content:    content,
		ModelLabel: p.model.Label() + " (degraded)",
	}, nil
}

var _ ports.Provider = (*DegradedProvider)(nil)
