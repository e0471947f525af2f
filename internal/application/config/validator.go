// Package config validates a loaded configuration beyond what YAML
// decoding can check.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/doeshing/shai-agent/internal/domain"
)

var validate = validator.New()

var (
	knownBackends  = []string{domain.BackendHTTP, domain.BackendOpenAI, domain.BackendDegraded}
	knownLogLevels = []string{"debug", "info", "warn", "error"}
	knownFormats   = []string{"", "console", "json"}
)

// Validate ensures config structure is consistent.
func Validate(cfg domain.Config) error {
	if len(cfg.Models) == 0 {
		return errors.New("at least one model must be configured")
	}
	for _, model := range cfg.Models {
		if err := validateModel(model); err != nil {
			return err
		}
	}
	if err := cfg.ValidateConsistency(); err != nil {
		return err
	}
	if err := validateContext(cfg.Context); err != nil {
		return err
	}
	if err := validateExecution(cfg.Execution); err != nil {
		return err
	}
	if err := validateLogging(cfg.Logging); err != nil {
		return err
	}
	if addr := cfg.Metrics.ListenAddr; addr != "" {
		if err := validate.Var(addr, "hostname_port"); err != nil {
			return fmt.Errorf("metrics.listen_addr %q must be host:port", addr)
		}
	}
	return nil
}

func validateModel(model domain.ModelDefinition) error {
	if strings.TrimSpace(model.Name) == "" {
		return errors.New("every model needs a name")
	}
	if !contains(knownBackends, model.GetBackend()) {
		return fmt.Errorf("model %s: backend must be one of %s, got %s", model.Name, strings.Join(knownBackends, "|"), model.Backend)
	}
	if model.GetBackend() == domain.BackendHTTP && model.Endpoint == "" {
		return fmt.Errorf("model %s: http backend needs an endpoint", model.Name)
	}
	if model.Endpoint != "" {
		if err := validate.Var(model.Endpoint, "url"); err != nil {
			return fmt.Errorf("model %s: endpoint %q is not a URL", model.Name, model.Endpoint)
		}
	}
	if model.MaxTokens < 0 {
		return fmt.Errorf("model %s: max_tokens must be >= 0", model.Name)
	}
	return nil
}

func validateContext(ctx domain.ContextSettings) error {
	if ctx.TokenBudget < 0 {
		return fmt.Errorf("context.token_budget must be >= 0")
	}
	if ctx.MaxChunkBytes < 0 {
		return fmt.Errorf("context.max_chunk_bytes must be >= 0")
	}
	for _, ext := range ctx.Extensions {
		if strings.TrimSpace(strings.TrimPrefix(ext, ".")) == "" {
			return fmt.Errorf("context.extensions contains an empty entry")
		}
	}
	if url := ctx.Weaviate.URL; url != "" {
		if err := validate.Var(url, "url"); err != nil {
			return fmt.Errorf("context.weaviate.url %q is not a URL", url)
		}
	}
	return nil
}

func validateExecution(exec domain.ExecutionSettings) error {
	if exec.MaxOutputBytes < 0 {
		return fmt.Errorf("execution.max_output_bytes must be >= 0")
	}
	if strings.ContainsAny(exec.PackageManager, " \t;|&$`") {
		return fmt.Errorf("execution.package_manager must be a single program name, got %q", exec.PackageManager)
	}
	return nil
}

func validateLogging(logging domain.LoggingSettings) error {
	if logging.Level != "" && !contains(knownLogLevels, strings.ToLower(logging.Level)) {
		return fmt.Errorf("logging.level must be one of %s, got %s", strings.Join(knownLogLevels, "|"), logging.Level)
	}
	if !contains(knownFormats, strings.ToLower(logging.Format)) {
		return fmt.Errorf("logging.format must be console|json, got %s", logging.Format)
	}
	return nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
