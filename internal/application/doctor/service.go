// Package doctor runs environment diagnostics for the agent.
package doctor

import (
	"context"
	"fmt"
	"os"

	appconfig "github.com/doeshing/shai-agent/internal/application/config"
	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/ports"
)

// probeCommand must always be blocked by a working guardrail.
const probeCommand = "rm -rf /"

// Service runs environment diagnostics.
type Service struct {
	ConfigProvider  ports.ConfigProvider
	SecurityService ports.SecurityService
	AuditLog        ports.AuditLog
	ChangeFeed      ports.ChangeFeed
}

// Run executes checks and returns a report. The error is set only when the
// configuration itself cannot be loaded.
func (s *Service) Run(ctx context.Context) (domain.HealthReport, error) {
	var checks []domain.HealthCheck

	cfg, err := s.ConfigProvider.Load(ctx)
	if err != nil {
		checks = append(checks, fail("Config file", fmt.Sprintf("load failed: %v", err)))
		return domain.HealthReport{Checks: checks}, err
	}
	if err := appconfig.Validate(cfg); err != nil {
		checks = append(checks, fail("Config file", err.Error()))
	} else {
		checks = append(checks, ok("Config file", fmt.Sprintf("format %s, %d models", cfg.ConfigFormatVersion, len(cfg.Models))))
	}

	checks = append(checks, s.guardrailCheck())
	checks = append(checks, projectRootCheck(cfg.Execution.ProjectRoot))
	checks = append(checks, credentialChecks(cfg.Models)...)
	checks = append(checks, s.auditCheck(ctx, cfg))
	checks = append(checks, s.changeFeedCheck(ctx))
	checks = append(checks, knowledgeCheck(cfg))

	return domain.HealthReport{Checks: checks}, nil
}

func (s *Service) guardrailCheck() domain.HealthCheck {
	if s.SecurityService == nil {
		return warn("Guardrail", "security service not initialized")
	}
	risk, err := s.SecurityService.Evaluate(probeCommand)
	if err != nil {
		return fail("Guardrail", err.Error())
	}
	if !risk.Blocked() {
		return fail("Guardrail", fmt.Sprintf("%q is not blocked", probeCommand))
	}
	return ok("Guardrail", "rules loaded")
}

func projectRootCheck(root string) domain.HealthCheck {
	if root == "" {
		root = "."
	}
	info, err := os.Stat(root)
	if err != nil {
		return fail("Project root", err.Error())
	}
	if !info.IsDir() {
		return fail("Project root", fmt.Sprintf("%s is not a directory", root))
	}
	return ok("Project root", root)
}

func credentialChecks(models []domain.ModelDefinition) []domain.HealthCheck {
	checks := make([]domain.HealthCheck, 0, len(models))
	for _, model := range models {
		name := fmt.Sprintf("Model %s (%s)", model.Name, model.Tier)
		switch {
		case model.GetBackend() == domain.BackendDegraded:
			checks = append(checks, warn(name, "degraded backend, answers locally"))
		case model.AuthEnvVar == "":
			checks = append(checks, ok(name, "no credentials required"))
		case os.Getenv(model.AuthEnvVar) == "":
			checks = append(checks, warn(name, model.AuthEnvVar+" missing, degraded answers will be used"))
		default:
			checks = append(checks, ok(name, model.AuthEnvVar+" set"))
		}
	}
	return checks
}

func (s *Service) auditCheck(ctx context.Context, cfg domain.Config) domain.HealthCheck {
	if s.AuditLog == nil {
		return warn("Audit log", "not initialized")
	}
	entries, err := s.AuditLog.Recent(ctx, 1)
	if err != nil {
		return fail("Audit log", err.Error())
	}
	return ok("Audit log", fmt.Sprintf("%s store, capacity %d, %d recent", cfg.GetAuditStore(), cfg.GetAuditCapacity(), len(entries)))
}

func (s *Service) changeFeedCheck(ctx context.Context) domain.HealthCheck {
	if s.ChangeFeed == nil {
		return warn("Change feed", "not initialized")
	}
	if _, err := s.ChangeFeed.RecentChanges(ctx, 1); err != nil {
		return warn("Change feed", err.Error())
	}
	return ok("Change feed", "available")
}

func knowledgeCheck(cfg domain.Config) domain.HealthCheck {
	if !cfg.IsKnowledgeIndexEnabled() {
		return warn("Knowledge index", "weaviate url not set, knowledge base disabled")
	}
	return ok("Knowledge index", fmt.Sprintf("%s (class %s)", cfg.Context.Weaviate.URL, cfg.GetKnowledgeClass()))
}

func ok(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthOK, Details: details}
}

func warn(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthWarn, Details: details}
}

func fail(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthError, Details: details}
}
