// Package app wires application services to infrastructure adapters.
package app

import (
	"context"
	"errors"
	"path/filepath"

	appconfig "github.com/doeshing/shai-agent/internal/application/config"
	"github.com/doeshing/shai-agent/internal/application/chain"
	"github.com/doeshing/shai-agent/internal/application/contextassembly"
	"github.com/doeshing/shai-agent/internal/application/doctor"
	"github.com/doeshing/shai-agent/internal/application/pipeline"
	"github.com/doeshing/shai-agent/internal/application/routing"
	"github.com/doeshing/shai-agent/internal/application/safety"
	"github.com/doeshing/shai-agent/internal/application/toolcall"
	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/infrastructure/ai"
	"github.com/doeshing/shai-agent/internal/infrastructure/audit"
	"github.com/doeshing/shai-agent/internal/infrastructure/config"
	"github.com/doeshing/shai-agent/internal/infrastructure/confirmation"
	"github.com/doeshing/shai-agent/internal/infrastructure/executor"
	"github.com/doeshing/shai-agent/internal/infrastructure/metrics"
	"github.com/doeshing/shai-agent/internal/infrastructure/retrieval"
	"github.com/doeshing/shai-agent/internal/infrastructure/security"
	"github.com/doeshing/shai-agent/internal/pkg/filesystem"
	"github.com/doeshing/shai-agent/internal/pkg/logger"
	"github.com/doeshing/shai-agent/internal/ports"
)

// Options tunes container construction.
type Options struct {
	ConfigPath string
	Verbose    bool
	// Confirmer asks the human. Nil means every action is denied.
	Confirmer ports.Confirmer
}

// Container wires up application services with infrastructure adapters.
type Container struct {
	Config         domain.Config
	ConfigLoader   *config.FileLoader
	Logger         ports.Logger
	Router         *routing.Router
	Pipeline       *pipeline.Service
	Gate           *safety.Gate
	DoctorService  *doctor.Service
	AuditLog       ports.AuditLog
	ConfirmerStore ports.ConfirmationStore

	closers []func() error
}

// BuildContainer constructs the dependency graph. Optional collaborators
// that cannot start are replaced by their degraded implementations.
func BuildContainer(ctx context.Context, opts Options) (*Container, error) {
	cfgLoader := config.NewFileLoader(opts.ConfigPath)
	cfg, err := cfgLoader.Load(ctx)
	if err != nil {
		return nil, err
	}

	c := &Container{Config: cfg, ConfigLoader: cfgLoader, Router: routing.NewRouter()}
	if err := c.wire(ctx, opts); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// wire builds every collaborator of c. Resources opened before a failure
// stay registered in c.closers.
func (c *Container) wire(ctx context.Context, opts Options) error {
	cfg := c.Config
	c.Logger = c.buildLogger(cfg, opts.Verbose)

	if err := appconfig.Validate(cfg); err != nil {
		return err
	}

	guardrail, err := security.NewGuardrail(cfg.Execution.RulesFile)
	if err != nil {
		c.Logger.Warn("sandbox rules unreadable, using defaults", map[string]interface{}{"error": err.Error()})
		rules, rulesErr := security.DefaultRules()
		if rulesErr != nil {
			return rulesErr
		}
		if guardrail, err = security.NewGuardrailFromRules(rules); err != nil {
			return err
		}
	}

	auditLog, err := c.buildAuditLog(cfg)
	if err != nil {
		return err
	}
	c.AuditLog = auditLog

	store, err := c.buildConfirmationStore(cfg)
	if err != nil {
		return err
	}
	c.ConfirmerStore = store

	sandbox, err := executor.NewSandbox(executor.ConfigFrom(cfg), guardrail, executor.NewLocalRunner(), auditLog, c.Logger)
	if err != nil {
		return err
	}

	confirmer := opts.Confirmer
	if confirmer == nil {
		confirmer = confirmation.DenyAll{}
	}
	gate, err := safety.NewGate(store, confirmer, sandbox, c.Logger, safety.Options{
		Timeout: cfg.GetConfirmationTimeout(),
		TTL:     cfg.GetConfirmationTTL(),
	})
	if err != nil {
		return err
	}
	c.Gate = gate

	searcher, err := retrieval.NewLocalSearcher(sandbox.Root(), guardrail, cfg.GetRelevanceCacheTTL())
	if err != nil {
		return err
	}
	feed := c.buildChangeFeed(ctx, sandbox.Root(), guardrail, searcher)

	assembler := &contextassembly.Assembler{
		Searcher:  searcher,
		Knowledge: c.buildKnowledgeIndex(cfg),
		Changes:   feed,
		Filter:    guardrail,
		Logger:    c.Logger,
		Settings:  contextassembly.SettingsFrom(cfg),
	}

	client := ai.NewClient(cfg, ai.NewFactory(c.Logger), c.Logger)
	c.Pipeline = &pipeline.Service{
		Router:    c.Router,
		Context:   assembler,
		Completer: client,
		Parser:    toolcall.NewParser(),
		Validator: toolcall.NewValidator(),
		Gate:      gate,
		Chainer:   chain.NewChainer(client, c.Logger),
		Logger:    c.Logger,
		Tools:     toolcall.Definitions(),
	}

	c.DoctorService = &doctor.Service{
		ConfigProvider:  c.ConfigLoader,
		SecurityService: guardrail,
		AuditLog:        auditLog,
		ChangeFeed:      feed,
	}

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr); err != nil {
				c.Logger.Warn("metrics listener stopped", map[string]interface{}{"addr": addr, "error": err.Error()})
			}
		}()
	}

	return nil
}

// Close releases stores and watchers in reverse order of creation.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) buildLogger(cfg domain.Config, verbose bool) ports.Logger {
	log, err := logger.NewZap(logger.Options{
		Level:   cfg.GetLogLevel(),
		Format:  cfg.Logging.Format,
		Verbose: verbose,
	})
	if err != nil {
		std := logger.NewStd(verbose)
		std.Warn("zap logger unavailable, using standard logger", map[string]interface{}{"error": err.Error()})
		return std
	}
	c.closers = append(c.closers, func() error {
		// syncing a terminal stderr fails on some platforms
		_ = log.Sync()
		return nil
	})
	return log
}

func (c *Container) buildAuditLog(cfg domain.Config) (ports.AuditLog, error) {
	if cfg.GetAuditStore() == domain.AuditStoreMemory {
		return audit.NewMemoryLog(cfg.GetAuditCapacity()), nil
	}
	path := cfg.Audit.Path
	if path == "" {
		path = filepath.Join(filesystem.AppDir(), "audit.db")
	}
	log, err := audit.NewSQLiteLog(path, cfg.GetAuditCapacity())
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, log.Close)
	return log, nil
}

func (c *Container) buildConfirmationStore(cfg domain.Config) (ports.ConfirmationStore, error) {
	if cfg.GetConfirmationStore() != domain.ConfirmationStoreBadger {
		return confirmation.NewMemoryStore(), nil
	}
	path := cfg.Confirmation.StorePath
	if path == "" {
		path = filepath.Join(filesystem.AppDir(), "pending")
	}
	store, err := confirmation.OpenBadgerStore(confirmation.BadgerOptions{Path: path, Logger: c.Logger})
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, store.Close)
	return store, nil
}

func (c *Container) buildChangeFeed(ctx context.Context, root string, filter retrieval.PathFilter, searcher *retrieval.LocalSearcher) ports.ChangeFeed {
	watcher, err := retrieval.NewWatcher(root, filter, c.Logger)
	if err != nil {
		c.Logger.Warn("file watcher unavailable, scanning modification times instead", map[string]interface{}{"error": err.Error()})
		return retrieval.NewScanFeed(searcher)
	}
	watcher.Start(ctx)
	c.closers = append(c.closers, watcher.Close)
	return watcher
}

func (c *Container) buildKnowledgeIndex(cfg domain.Config) ports.KnowledgeIndex {
	if !cfg.IsKnowledgeIndexEnabled() {
		return retrieval.NoopIndex{}
	}
	index, err := retrieval.NewWeaviateIndex(cfg.Context.Weaviate.URL, cfg.GetKnowledgeClass())
	if err != nil {
		c.Logger.Warn("knowledge index unavailable", map[string]interface{}{"error": err.Error()})
		return retrieval.NoopIndex{}
	}
	return index
}
