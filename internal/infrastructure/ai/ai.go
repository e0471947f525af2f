// Package ai provides the tier-aware model client and its backends.
//
// This package implements a configuration-driven approach to model backends:
//   - Client: selects the model for a tier, retries transient failures and
//     classifies every failure as a *domain.ModelError
//   - Factory: creates a provider for a model definition
//   - HTTP Provider: generic JSON client driven by the model's APIFormat
//   - OpenAI Provider: chat completions with streaming and native tools
//   - Degraded Provider: local answer when a model has no credentials
package ai

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/ports"
)

const httpClientTimeout = 5 * time.Minute

// ====================================================================================
// Factory
// ====================================================================================

// Factory creates provider instances based on model definitions.
// It maintains a single HTTP client shared across all providers; call
// deadlines come from the client's context, not from this timeout.
type Factory struct {
	httpClient *http.Client
	logger     ports.Logger
}

// NewFactory creates a new provider factory with a configured HTTP client.
func NewFactory(logger ports.Logger) *Factory {
	return &Factory{
		httpClient: &http.Client{Timeout: httpClientTimeout},
		logger:     logger,
	}
}

// ForModel selects the backend named by the model definition. A model
// whose credentials are missing gets the degraded provider instead of
// failing every call with an auth error.
func (f *Factory) ForModel(model domain.ModelDefinition) (ports.Provider, error) {
	backend := model.GetBackend()
	if backend != domain.BackendDegraded && !hasCredentials(model) {
		if f.logger != nil {
			f.logger.Warn("model credentials missing, using degraded backend", map[string]interface{}{
				"model":        model.Name,
				"auth_env_var": model.AuthEnvVar,
			})
		}
		return NewDegradedProvider(model), nil
	}

	switch backend {
	case domain.BackendHTTP:
		return newHTTPProvider(model, f.httpClient), nil
	case domain.BackendOpenAI:
		return newOpenAIProvider(model, f.httpClient), nil
	case domain.BackendDegraded:
		return NewDegradedProvider(model), nil
	default:
		return nil, fmt.Errorf("unsupported backend %q for model %s", backend, model.Name)
	}
}

// hasCredentials reports whether the model's key is available. Models
// without an auth_env_var (local servers) need none.
func hasCredentials(model domain.ModelDefinition) bool {
	if model.AuthEnvVar == "" {
		return true
	}
	return getAPIKey(model) != ""
}

// getAPIKey retrieves the API key from environment variables.
func getAPIKey(model domain.ModelDefinition) string {
	if model.AuthEnvVar == "" {
		return ""
	}
	return os.Getenv(model.AuthEnvVar)
}

func getOrganization(model domain.ModelDefinition) string {
	if model.OrgEnvVar == "" {
		return ""
	}
	return os.Getenv(model.OrgEnvVar)
}

var _ ports.ProviderFactory = (*Factory)(nil)
