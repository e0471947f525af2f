package domain

import (
	"fmt"
	"time"
)

// Rich domain model: defaults live next to the data they describe so that
// callers never have to repeat fallback logic.

// FindModelByName searches for a model by its name
// Returns the model definition and true if found, empty model and false otherwise
func (c *Config) FindModelByName(name string) (ModelDefinition, bool) {
	for _, model := range c.Models {
		if model.Name == name {
			return model, true
		}
	}
	return ModelDefinition{}, false
}

// ModelForTier returns the first model bound to the given tier.
func (c *Config) ModelForTier(tier ModelTier) (ModelDefinition, error) {
	if tier == TierNone {
		return ModelDefinition{}, ErrNoModelTier
	}
	for _, model := range c.Models {
		if model.Tier == tier {
			return model, nil
		}
	}
	return ModelDefinition{}, fmt.Errorf("no model configured for tier %s", tier)
}

// GetMaxRetries returns the transient-failure retry count.
func (c *Config) GetMaxRetries() int {
	if c.ModelClient.MaxRetries < 0 {
		return 0
	}
	if c.ModelClient.MaxRetries == 0 {
		return DefaultMaxRetries
	}
	return c.ModelClient.MaxRetries
}

// GetBaseBackoff returns the first exponential backoff delay.
func (c *Config) GetBaseBackoff() time.Duration {
	return durationOr(c.ModelClient.BaseBackoff, DefaultBaseBackoff)
}

// GetRateLimitDelays returns the progressive rate-limit schedule.
func (c *Config) GetRateLimitDelays() []time.Duration {
	if len(c.ModelClient.RateLimitDelays) == 0 {
		return append([]time.Duration(nil), DefaultRateLimitDelays...)
	}
	return append([]time.Duration(nil), c.ModelClient.RateLimitDelays...)
}

// GetRequestTimeout returns the non-streaming model call timeout.
func (c *Config) GetRequestTimeout() time.Duration {
	return durationOr(c.ModelClient.RequestTimeout, DefaultRequestTimeout)
}

// GetStreamTimeout returns the streaming model call timeout.
func (c *Config) GetStreamTimeout() time.Duration {
	return durationOr(c.ModelClient.StreamTimeout, DefaultStreamTimeout)
}

// GetTokenBudget returns the context budget in estimated tokens.
func (c *Config) GetTokenBudget() int {
	return intOr(c.Context.TokenBudget, DefaultTokenBudget)
}

// GetMaxChunkBytes returns the per-chunk byte cap.
func (c *Config) GetMaxChunkBytes() int {
	return intOr(c.Context.MaxChunkBytes, DefaultMaxChunkBytes)
}

// GetContextExtensions returns the extensions searched for live-file context.
func (c *Config) GetContextExtensions() []string {
	if len(c.Context.Extensions) == 0 {
		return append([]string(nil), DefaultContextExtensions...)
	}
	return append([]string(nil), c.Context.Extensions...)
}

// GetKnowledgeK returns how many knowledge chunks to request.
func (c *Config) GetKnowledgeK() int {
	return intOr(c.Context.KnowledgeK, DefaultKnowledgeK)
}

// GetRecentLimit returns how many recent changes to consider.
func (c *Config) GetRecentLimit() int {
	return intOr(c.Context.RecentLimit, DefaultRecentLimit)
}

// GetRelevanceCacheTTL returns how long the live-file listing is cached.
func (c *Config) GetRelevanceCacheTTL() time.Duration {
	return durationOr(c.Context.CacheTTL, DefaultRelevanceCacheTTL)
}

// IsKnowledgeIndexEnabled reports whether a weaviate URL is configured.
func (c *Config) IsKnowledgeIndexEnabled() bool {
	return c.Context.Weaviate.URL != ""
}

// GetKnowledgeClass returns the weaviate class holding knowledge chunks.
func (c *Config) GetKnowledgeClass() string {
	if c.Context.Weaviate.Class == "" {
		return "KnowledgeChunk"
	}
	return c.Context.Weaviate.Class
}

// GetPackageManager returns the installer binary used by installPackage.
func (c *Config) GetPackageManager() string {
	if c.Execution.PackageManager == "" {
		return DefaultPackageManager
	}
	return c.Execution.PackageManager
}

// GetWriteTimeout returns the writeFile timeout.
func (c *Config) GetWriteTimeout() time.Duration {
	return durationOr(c.Execution.WriteTimeout, DefaultWriteTimeout)
}

// GetInstallTimeout returns the installPackage timeout.
func (c *Config) GetInstallTimeout() time.Duration {
	return durationOr(c.Execution.InstallTimeout, DefaultInstallTimeout)
}

// GetCommandTimeout returns the executeCommand timeout.
func (c *Config) GetCommandTimeout() time.Duration {
	return durationOr(c.Execution.CommandTimeout, DefaultCommandTimeout)
}

// GetMaxOutputBytes returns the captured output cap.
func (c *Config) GetMaxOutputBytes() int {
	return intOr(c.Execution.MaxOutputBytes, DefaultMaxOutputBytes)
}

// GetConfirmationTimeout returns how long the safety gate waits.
func (c *Config) GetConfirmationTimeout() time.Duration {
	return durationOr(c.Confirmation.Timeout, DefaultConfirmationTimeout)
}

// GetConfirmationTTL returns how long a pending confirmation lives in the store.
// The record always outlives the wait timeout by ConfirmationGrace.
func (c *Config) GetConfirmationTTL() time.Duration {
	ttl := durationOr(c.Confirmation.TTL, DefaultConfirmationTTL)
	if minimum := c.GetConfirmationTimeout() + ConfirmationGrace; ttl < minimum {
		return minimum
	}
	return ttl
}

// GetConfirmationStore returns the store kind with the memory default.
func (c *Config) GetConfirmationStore() string {
	if c.Confirmation.Store == "" {
		return ConfirmationStoreMemory
	}
	return c.Confirmation.Store
}

// GetAuditCapacity returns the audit log cap.
func (c *Config) GetAuditCapacity() int {
	return intOr(c.Audit.Capacity, DefaultAuditCapacity)
}

// GetAuditStore returns the audit store kind with the memory default.
func (c *Config) GetAuditStore() string {
	if c.Audit.Store == "" {
		return AuditStoreMemory
	}
	return c.Audit.Store
}

// GetLogLevel returns the configured log level.
func (c *Config) GetLogLevel() string {
	if c.Logging.Level == "" {
		return "info"
	}
	return c.Logging.Level
}

// ValidateConsistency checks the internal consistency of the configuration
// Returns an error if there are inconsistencies (e.g., duplicate model names)
func (c *Config) ValidateConsistency() error {
	seen := make(map[string]bool, len(c.Models))
	for _, model := range c.Models {
		if seen[model.Name] {
			return fmt.Errorf("model %s is declared more than once", model.Name)
		}
		seen[model.Name] = true
		if !model.Tier.IsCallable() {
			return fmt.Errorf("model %s has invalid tier %q", model.Name, model.Tier)
		}
	}

	for _, tier := range []ModelTier{TierSmall, TierLarge} {
		if _, err := c.ModelForTier(tier); err != nil {
			return err
		}
	}

	if c.GetConfirmationStore() != ConfirmationStoreMemory && c.GetConfirmationStore() != ConfirmationStoreBadger {
		return fmt.Errorf("unknown confirmation store %q", c.Confirmation.Store)
	}
	if c.GetAuditStore() != AuditStoreMemory && c.GetAuditStore() != AuditStoreSQLite {
		return fmt.Errorf("unknown audit store %q", c.Audit.Store)
	}

	return nil
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

func intOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
