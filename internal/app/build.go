package app

import (
	"context"
	"fmt"

	"github.com/ent0n29/buddy/internal/archive"
	"github.com/ent0n29/buddy/internal/cache"
	"github.com/ent0n29/buddy/internal/classify"
	"github.com/ent0n29/buddy/internal/companion"
	"github.com/ent0n29/buddy/internal/config"
	"github.com/ent0n29/buddy/internal/dialogue"
	"github.com/ent0n29/buddy/internal/httpapi"
	"github.com/ent0n29/buddy/internal/knowledge"
	"github.com/ent0n29/buddy/internal/logging"
	"github.com/ent0n29/buddy/internal/observability"
	"github.com/ent0n29/buddy/internal/session"
	"github.com/ent0n29/buddy/internal/tasks"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Store     *session.Store
	Engine    *companion.Engine
	Archive   archive.Store
	Metrics   *observability.Metrics
	Detail    string
	RulesFrom string

	// Cleanup should be called on shutdown to release external resources (DB).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *logging.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	rules, err := classify.LoadRules(cfg.ClassifierRulesPath)
	if err != nil {
		return nil, fmt.Errorf("classifier rules init failed: %w", err)
	}
	rulesFrom := "embedded"
	if cfg.ClassifierRulesPath != "" {
		rulesFrom = cfg.ClassifierRulesPath
	}

	archiveStore, err := archive.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("archive store init failed: %w", err)
	}

	collab := resolveCollaborators(cfg)

	store := session.New(session.WithMaxConversation(cfg.MaxConversation))
	taskManager := tasks.NewManager(store, cfg.TaskCheckInterval)
	scheduler := knowledge.NewScheduler(store)
	responses := cache.New(store, cfg.CacheMaxEntries)
	classifier := classify.New(rules)
	machine := dialogue.NewMachine(store, scheduler, collab.generator, dialogue.WithFallbackText(cfg.FallbackText))

	engine := companion.NewEngine(companion.Config{
		CacheTTL:     cfg.CacheTTL,
		HistoryTurns: cfg.HistoryTurns,
		ChildVoice:   cfg.ChildVoiceID,
		DefaultVoice: cfg.DefaultVoiceID,
		FallbackText: cfg.FallbackText,
	}, companion.Deps{
		Store:       store,
		Tasks:       taskManager,
		Knowledge:   scheduler,
		Cache:       responses,
		Classifier:  classifier,
		Dialogue:    machine,
		Transcriber: collab.transcriber,
		Generator:   collab.generator,
		Synthesizer: collab.synthesizer,
		Searcher:    collab.searcher,
		Archive:     archiveStore,
		Metrics:     metrics,
		Logger:      logger.With("component", "companion"),
	})

	api := httpapi.New(cfg, httpapi.Services{
		Store:      store,
		Tasks:      taskManager,
		Knowledge:  scheduler,
		Cache:      responses,
		Classifier: classifier,
		Engine:     engine,
		Archive:    archiveStore,
	}, metrics, logger.With("component", "httpapi"))

	cleanup := func() error {
		if err := archiveStore.Close(); err != nil {
			return fmt.Errorf("archive close: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Store:     store,
		Engine:    engine,
		Archive:   archiveStore,
		Metrics:   metrics,
		Detail:    collab.detail,
		RulesFrom: rulesFrom,
		Cleanup:   cleanup,
	}, nil
}
