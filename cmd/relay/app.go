package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtzanidakis/relay/internal/config"
	"github.com/mtzanidakis/relay/internal/domain"
	"github.com/mtzanidakis/relay/internal/handoff"
	"github.com/mtzanidakis/relay/internal/llm"
	"github.com/mtzanidakis/relay/internal/market"
	"github.com/mtzanidakis/relay/internal/natsbus"
	"github.com/mtzanidakis/relay/internal/orchestrator"
	"github.com/mtzanidakis/relay/internal/registry"
	"github.com/mtzanidakis/relay/internal/router"
	"github.com/mtzanidakis/relay/internal/store"
	"github.com/mtzanidakis/relay/internal/vault"
	"github.com/mtzanidakis/relay/internal/workflow"
)

var errNoModel = errors.New("no language model configured, set llm.api_key or OPENAI_API_KEY")

// app holds the components shared by the gateway and the local commands.
type app struct {
	cfg        *config.Config
	store      *store.Store
	secrets    *vault.Secrets
	model      llm.Model
	quotes     market.Source
	registry   *registry.Registry
	dispatcher *domain.Dispatcher
	planner    workflow.Planner
	engine     *workflow.Engine
	orch       *orchestrator.Orchestrator
}

// newApp opens the store and wires the conversation and workflow stacks.
// A nil client leaves events unpublished and IPC disabled.
func newApp(cfg *config.Config, client *natsbus.Client) (*app, error) {
	db, err := store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	if err := db.Seed(); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed store: %w", err)
	}
	a := &app{cfg: cfg, store: db}

	if cfg.Vault.Passphrase != "" {
		a.secrets = vault.NewSecrets(vault.New(cfg.Vault.Passphrase), db)
		if err := a.secrets.ResolveConfig(cfg); err != nil {
			db.Close()
			return nil, err
		}
	}

	a.model, err = newModel(cfg.LLM)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.quotes = newQuoteSource(cfg.Quotes)

	a.registry, err = registry.Load(cfg.Conversation.Cohort, cfg.Cohorts)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load cohort: %w", err)
	}
	if err := a.registry.Sync(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sync agent registry: %w", err)
	}

	a.dispatcher = domain.NewDefault(db, cfg.Payments, a.quotes, a.model)

	builder := workflow.NewBuilder()
	if cfg.Payments.Currency != "" {
		builder.Currency = cfg.Payments.Currency
	}
	a.planner = workflow.RulePlanner{Builder: builder}
	if cfg.Workflow.Planner == "model" && cfg.LLM.APIKey != "" {
		a.planner = workflow.NewModelPlanner(a.model, builder, a.dispatcher.Catalog())
	}

	engineOpts := []workflow.Option{workflow.WithRecorder(db)}
	runnerOpts := []handoff.Option{handoff.WithRecorder(db)}
	if client != nil {
		engineOpts = append(engineOpts, workflow.WithPublisher(client))
		runnerOpts = append(runnerOpts, handoff.WithPublisher(client))
	}
	a.engine = workflow.NewEngine(a.dispatcher, cfg.Workflow, engineOpts...)
	runner := handoff.NewRunner(a.registry, a.model, cfg.Conversation.MaxTurns, runnerOpts...)

	rtr := router.New()
	if cfg.LLM.APIKey != "" {
		rtr.SetModel(a.model)
	}

	a.orch = orchestrator.New(cfg.Conversation, rtr, runner, a.planner, a.engine, db, client)
	slog.Debug("components wired",
		"cohort", cfg.Conversation.Cohort,
		"agents", len(a.registry.Names()),
		"planner", cfg.Workflow.Planner,
		"quotes", cfg.Quotes.Source)
	return a, nil
}

func (a *app) Close() {
	if a.orch != nil {
		a.orch.Close()
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("close store failed", "error", err)
	}
}

// newModel returns the configured model. Without an API key every call
// fails, which keeps rule-based planning and prefixed workflows usable.
func newModel(cfg config.LLMConfig) (llm.Model, error) {
	if cfg.APIKey == "" {
		slog.Warn("llm api key not set, model calls will fail")
		return llm.ModelFunc(func(context.Context, llm.Request) (string, error) {
			return "", errNoModel
		}), nil
	}
	m, err := llm.NewOpenAI(cfg)
	if err != nil {
		return nil, fmt.Errorf("init llm: %w", err)
	}
	return llm.Instrument(m), nil
}

func newQuoteSource(cfg config.QuotesConfig) market.Source {
	if cfg.Source == "http" {
		return market.NewHTTPSource(cfg.URL, cfg.Token)
	}
	return market.NewSimulated(uint64(time.Now().UnixNano()))
}
