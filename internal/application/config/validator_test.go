package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/doeshing/shai-agent/internal/domain"
)

func validConfig() domain.Config {
	return domain.Config{
		Models: []domain.ModelDefinition{
			{Name: "small", Tier: domain.TierSmall, Backend: domain.BackendOpenAI},
			{Name: "large", Tier: domain.TierLarge, Endpoint: "https://api.anthropic.com/v1/messages"},
		},
	}
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	require.NoError(t, Validate(validConfig()))
}

func TestValidateRejections(t *testing.T) {
	cases := map[string]func(*domain.Config){
		"no models":          func(c *domain.Config) { c.Models = nil },
		"missing large tier": func(c *domain.Config) { c.Models = c.Models[:1] },
		"unknown backend":    func(c *domain.Config) { c.Models[0].Backend = "grpc" },
		"http without url":   func(c *domain.Config) { c.Models[1].Endpoint = "" },
		"bad endpoint":       func(c *domain.Config) { c.Models[1].Endpoint = "not a url" },
		"duplicate names":    func(c *domain.Config) { c.Models[1].Name = "small" },
		"bad weaviate url":   func(c *domain.Config) { c.Context.Weaviate.URL = "::" },
		"shell in manager":   func(c *domain.Config) { c.Execution.PackageManager = "npm; rm" },
		"bad log level":      func(c *domain.Config) { c.Logging.Level = "loud" },
		"bad log format":     func(c *domain.Config) { c.Logging.Format = "xml" },
		"bad metrics addr":   func(c *domain.Config) { c.Metrics.ListenAddr = "nine" },
		"unknown store":      func(c *domain.Config) { c.Audit.Store = "postgres" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			require.Error(t, Validate(cfg))
		})
	}
}
