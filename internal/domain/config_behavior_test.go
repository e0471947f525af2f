package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/doeshing/shai-agent/internal/domain"
)

func tieredConfig() domain.Config {
	return domain.Config{
		Models: []domain.ModelDefinition{
			{Name: "mini", Tier: domain.TierSmall, ModelID: "gpt-4o-mini"},
			{Name: "big", Tier: domain.TierLarge, ModelID: "gpt-4o"},
		},
	}
}

// TestConfig_ModelForTier tests tier to model resolution
func TestConfig_ModelForTier(t *testing.T) {
	tests := []struct {
		name      string
		tier      domain.ModelTier
		wantName  string
		wantError bool
	}{
		{name: "small tier", tier: domain.TierSmall, wantName: "mini"},
		{name: "large tier", tier: domain.TierLarge, wantName: "big"},
		{name: "none tier has no model", tier: domain.TierNone, wantError: true},
		{name: "unknown tier", tier: domain.ModelTier("huge"), wantError: true},
	}

	cfg := tieredConfig()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model, err := cfg.ModelForTier(tt.tier)
			if tt.wantError {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if model.Name != tt.wantName {
				t.Errorf("got model %s, want %s", model.Name, tt.wantName)
			}
		})
	}

	if _, err := cfg.ModelForTier(domain.TierNone); !errors.Is(err, domain.ErrNoModelTier) {
		t.Errorf("expected ErrNoModelTier, got %v", err)
	}
}

// TestConfig_Defaults tests that zero values fall back to defaults
func TestConfig_Defaults(t *testing.T) {
	var cfg domain.Config

	if got := cfg.GetTokenBudget(); got != domain.DefaultTokenBudget {
		t.Errorf("GetTokenBudget() = %d, want %d", got, domain.DefaultTokenBudget)
	}
	if got := cfg.GetMaxRetries(); got != domain.DefaultMaxRetries {
		t.Errorf("GetMaxRetries() = %d, want %d", got, domain.DefaultMaxRetries)
	}
	if got := cfg.GetCommandTimeout(); got != domain.DefaultCommandTimeout {
		t.Errorf("GetCommandTimeout() = %v, want %v", got, domain.DefaultCommandTimeout)
	}
	if got := cfg.GetPackageManager(); got != "npm" {
		t.Errorf("GetPackageManager() = %s, want npm", got)
	}
	if got := cfg.GetConfirmationStore(); got != domain.ConfirmationStoreMemory {
		t.Errorf("GetConfirmationStore() = %s, want memory", got)
	}
	if len(cfg.GetRateLimitDelays()) != len(domain.DefaultRateLimitDelays) {
		t.Errorf("GetRateLimitDelays() = %v", cfg.GetRateLimitDelays())
	}
	if cfg.IsKnowledgeIndexEnabled() {
		t.Error("knowledge index should be disabled without a URL")
	}
}

// TestConfig_RateLimitDelaysAreCopied guards the shared default slice
func TestConfig_RateLimitDelaysAreCopied(t *testing.T) {
	var cfg domain.Config
	delays := cfg.GetRateLimitDelays()
	delays[0] = time.Hour

	if domain.DefaultRateLimitDelays[0] == time.Hour {
		t.Fatal("default schedule was mutated through the accessor")
	}
}

// TestConfig_MaxRetriesNegativeDisablesRetry tests explicit opt-out
func TestConfig_MaxRetriesNegativeDisablesRetry(t *testing.T) {
	cfg := domain.Config{ModelClient: domain.ModelClientSettings{MaxRetries: -1}}
	if got := cfg.GetMaxRetries(); got != 0 {
		t.Errorf("GetMaxRetries() = %d, want 0", got)
	}
}

// TestConfig_ConfirmationTTLCoversTimeout tests the record outlives the wait
func TestConfig_ConfirmationTTLCoversTimeout(t *testing.T) {
	tests := []struct {
		name string
		ttl  time.Duration
		want time.Duration
	}{
		{name: "shorter than timeout", ttl: time.Minute, want: 5*time.Minute + domain.ConfirmationGrace},
		{name: "equal to timeout", ttl: 5 * time.Minute, want: 5*time.Minute + domain.ConfirmationGrace},
		{name: "long enough", ttl: time.Hour, want: time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.Config{Confirmation: domain.ConfirmationSettings{
				Timeout: 5 * time.Minute,
				TTL:     tt.ttl,
			}}
			if got := cfg.GetConfirmationTTL(); got != tt.want {
				t.Errorf("GetConfirmationTTL() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestConfig_ValidateConsistency tests configuration consistency validation
func TestConfig_ValidateConsistency(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*domain.Config)
		wantError bool
	}{
		{name: "valid configuration", mutate: func(*domain.Config) {}},
		{
			name: "duplicate model names",
			mutate: func(c *domain.Config) {
				c.Models = append(c.Models, domain.ModelDefinition{Name: "mini", Tier: domain.TierSmall})
			},
			wantError: true,
		},
		{
			name: "missing large tier",
			mutate: func(c *domain.Config) {
				c.Models = c.Models[:1]
			},
			wantError: true,
		},
		{
			name: "invalid tier",
			mutate: func(c *domain.Config) {
				c.Models[0].Tier = domain.TierNone
			},
			wantError: true,
		},
		{
			name: "unknown audit store",
			mutate: func(c *domain.Config) {
				c.Audit.Store = "redis"
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tieredConfig()
			tt.mutate(&cfg)
			err := cfg.ValidateConsistency()
			if tt.wantError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

// TestAppendTurns tests history is never mutated in place
func TestAppendTurns(t *testing.T) {
	history := make([]domain.ConversationTurn, 1, 4)
	history[0] = domain.ConversationTurn{Role: domain.RoleUser, Content: "hi"}

	extended := domain.AppendTurns(history, domain.ConversationTurn{Role: domain.RoleAssistant, Content: "hello"})
	extended[0].Content = "changed"

	if history[0].Content != "hi" {
		t.Fatal("AppendTurns shared the backing array with its input")
	}
	if len(extended) != 2 {
		t.Fatalf("len(extended) = %d, want 2", len(extended))
	}

	last, ok := domain.LastTurn(extended, domain.RoleAssistant)
	if !ok || last.Content != "hello" {
		t.Errorf("LastTurn = %+v, %v", last, ok)
	}
}
