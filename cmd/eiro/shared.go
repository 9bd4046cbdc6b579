package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jkaninda/eiro/internal/agent"
	"github.com/jkaninda/eiro/internal/config"
	"github.com/jkaninda/eiro/internal/judge"
	"github.com/jkaninda/eiro/internal/llm"
	"github.com/jkaninda/eiro/internal/llm/anthropic"
	"github.com/jkaninda/eiro/internal/llm/gemini"
	"github.com/jkaninda/eiro/internal/observability"
	"github.com/jkaninda/eiro/internal/pipeline"
	"github.com/jkaninda/eiro/internal/session"
	"github.com/jkaninda/eiro/internal/storage/gormstore"
	"github.com/jkaninda/eiro/internal/tools/diagnostics"
	"github.com/jkaninda/eiro/internal/tools/incidentdb"
	"github.com/jkaninda/eiro/internal/tools/knowledge"
	"github.com/jkaninda/eiro/internal/tools/notify"
)

const defaultMaxTokens = 4096

// SharedComponents holds all initialized subsystems that both server and
// one-shot modes require. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config *config.Config
	Logger *slog.Logger
	Store  *gormstore.Store // nil = in-memory stores.

	Obs          *observability.Observability
	LLMProvider  llm.Provider
	Incidents    *incidentdb.Store
	Sessions     *session.Manager
	Notifier     *notify.Service
	Diagnostics  *diagnostics.Provider
	Knowledge    *knowledge.Base
	Orchestrator *pipeline.Orchestrator

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared performs all common initialization shared between server and
// one-shot modes. Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
		)
	}

	// LLM provider.
	llmProvider, err := newLLMProvider(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing LLM provider: %w", err)
	}
	logger.Debug("llm provider initialized", slog.String("provider", llmProvider.Name()))

	if obs != nil && obs.Metrics != nil {
		llmProvider = observability.NewInstrumentedProvider(llmProvider, configuredModel(cfg), obs.Metrics, obs.TracerOrNil())
	}
	sc.LLMProvider = llmProvider

	// Storage. A nil storage config keeps everything in memory.
	var (
		incidentRepo incidentdb.Repo
		historyStore session.HistoryStore
		traceStore   observability.TraceStore
		receiptStore notify.ReceiptStore
	)
	if cfg.Storage != nil {
		dataDir := cfg.ResolvedDataDir()
		if err := os.MkdirAll(dataDir, 0750); err != nil {
			sc.Cleanup()
			return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
		}

		store, err := gormstore.Open(cfg, logger)
		if err != nil {
			sc.Cleanup()
			return nil, fmt.Errorf("initializing storage: %w", err)
		}
		sc.Store = store
		sc.addCleanup(func() {
			if err := store.Close(); err != nil {
				logger.Error("closing store", slog.String("error", err.Error()))
			}
		})

		incidentRepo = store.Incidents()
		historyStore = store.History()
		traceStore = store.Traces()
		receiptStore = store.Receipts()
	} else {
		incidentRepo = incidentdb.NewMemRepo()
		logger.Debug("storage disabled, using in-memory stores")
	}

	// Tool contracts.
	sc.Incidents = incidentdb.NewStore(incidentRepo, logger)
	sc.Sessions = session.NewManager(historyStore)
	sc.Notifier = notify.NewService(nil, receiptStore, logger)
	sc.Diagnostics = diagnostics.NewProvider(logger)
	sc.Knowledge = knowledge.NewBase()

	// Health checks.
	if obs != nil && obs.Health != nil && sc.Store != nil {
		obs.Health.AddCheck("database", sc.Store.Ping)
	}

	// Stage agents.
	maxTokens := cfg.Pipeline.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	stages := pipeline.Stages{
		Triage:        agent.NewTriage(llmProvider, maxTokens, logger),
		Investigation: agent.NewInvestigation(llmProvider, sc.Diagnostics, sc.Knowledge, maxTokens, logger),
		Resolution:    agent.NewResolution(llmProvider, sc.Knowledge, maxTokens, logger),
		Communication: agent.NewCommunication(llmProvider, sc.Notifier, maxTokens, logger),
	}

	// Orchestrator.
	sc.Orchestrator = pipeline.New(sc.Incidents, sc.Sessions, stages, logger).
		WithJudge(judge.New(llmProvider, maxTokens, logger)).
		WithStageTimeout(cfg.Pipeline.StageTimeout()).
		WithObservability(obs.MetricsOrNil(), obs.TracerOrNil(), traceStore)

	return sc, nil
}

// newLLMProvider creates the LLM provider based on the configured default.
func newLLMProvider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	primary, err := buildProvider(cfg.Providers.Default, cfg, logger)
	if err != nil {
		return nil, err
	}

	// Build fallback chain if configured.
	if len(cfg.Providers.Fallback) > 0 {
		providers := []llm.Provider{primary}
		for _, name := range cfg.Providers.Fallback {
			fb, err := buildProvider(name, cfg, logger)
			if err != nil {
				logger.Warn("skipping fallback provider",
					slog.String("provider", name),
					slog.String("error", err.Error()),
				)
				continue
			}
			providers = append(providers, fb)
		}
		if len(providers) > 1 {
			return llm.NewFallbackProvider(providers, logger), nil
		}
	}

	return primary, nil
}

// buildProvider creates a single LLM provider by name.
func buildProvider(name string, cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	switch name {
	case "gemini", "":
		var opts []gemini.Option
		if cfg.Providers.Gemini.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.Providers.Gemini.BaseURL))
		}
		return gemini.NewClient(
			cfg.Providers.Gemini.APIKey,
			cfg.Providers.Gemini.Model,
			logger,
			opts...,
		), nil
	case "anthropic":
		return anthropic.NewClient(
			cfg.Providers.Anthropic.APIKey,
			cfg.Providers.Anthropic.Model,
			logger,
		), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", name)
	}
}

// configuredModel returns the default provider's model name, used as
// the model label on LLM metrics.
func configuredModel(cfg *config.Config) string {
	if cfg.Providers.Default == "anthropic" {
		return cfg.Providers.Anthropic.Model
	}
	return cfg.Providers.Gemini.Model
}

// loadConfig reads the config at path, falling back to built-in defaults
// when no config file exists at the default location.
func loadConfig(path string) (*config.Config, error) {
	if path == config.DefaultConfigPath() {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}
