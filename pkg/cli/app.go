package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/adapter"
	"github.com/m-mizutani/recall/pkg/embedding"
	"github.com/m-mizutani/recall/pkg/interfaces"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/policy"
	"github.com/m-mizutani/recall/pkg/repository"
	"github.com/m-mizutani/recall/pkg/usecase/chat"
	"github.com/m-mizutani/recall/pkg/usecase/learn"
	"github.com/m-mizutani/recall/pkg/usecase/memory"
	"github.com/m-mizutani/recall/pkg/usecase/recall"
	"github.com/m-mizutani/recall/pkg/utils/logging"
)

// app bundles the components built from config for one command run
type app struct {
	gemini    *adapter.GeminiClient
	generator adapter.TextGenerator
	memories  *memory.Service
	engine    *recall.Engine
	expander  *recall.Expander
	extractor *learn.Extractor
	storage   adapter.Storage
	audit     adapter.AuditLog

	closers []func()
}

// Close releases clients in reverse order of creation
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// llm returns the Gemini client as the interface, or nil when Gemini is not configured
func (a *app) llm() adapter.Gemini {
	if a.gemini == nil {
		return nil
	}
	return a.gemini
}

func (cfg *config) newApp(ctx context.Context) (*app, error) {
	a := &app{}
	if err := cfg.build(ctx, a); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (cfg *config) build(ctx context.Context, a *app) error {
	if cfg.embedder == "gemini" || cfg.generator == "gemini" {
		client, err := cfg.newGemini(ctx)
		if err != nil {
			return err
		}
		a.gemini = client
	}

	generator, err := cfg.newGenerator(a.gemini)
	if err != nil {
		return err
	}
	a.generator = generator

	embedder, err := cfg.newEmbedder(a.gemini)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, embedder.Close)

	index, durable, err := cfg.newIndex(ctx, a)
	if err != nil {
		return err
	}

	router, err := policy.NewRouter(ctx, cfg.policyDir)
	if err != nil {
		return err
	}

	memOpts := []memory.Option{memory.WithConcurrency(int(cfg.concurrency))}
	if durable != nil {
		memOpts = append(memOpts, memory.WithDurableStore(durable))
	}
	if a.memories, err = memory.New(embedder, index, router, memOpts...); err != nil {
		return err
	}

	if a.engine, err = cfg.newEngine(embedder, index); err != nil {
		return err
	}
	if a.expander, err = recall.NewExpander(a.llm(), int(cfg.maxQueries)); err != nil {
		return err
	}
	if a.gemini != nil {
		if a.extractor, err = learn.NewExtractor(a.gemini); err != nil {
			return err
		}
	}

	if cfg.bucket != "" {
		if a.storage, err = adapter.NewStorage(ctx, cfg.bucket, adapter.WithStoragePrefix(cfg.namespace)); err != nil {
			return goerr.Wrap(err, "failed to create storage", goerr.T(model.ErrTagConfig))
		}
	}

	if cfg.auditSet != "" {
		if cfg.project == "" {
			return goerr.New("project is required for the audit log", goerr.T(model.ErrTagConfig))
		}
		if a.audit, err = adapter.NewBigQueryAudit(ctx, cfg.project, cfg.auditSet, cfg.auditTable); err != nil {
			return err
		}
	}

	logging.From(ctx).Debug("components ready",
		"backend", cfg.backend,
		"embedder", cfg.embedder,
		"generator", cfg.generator,
		"durable", durable != nil,
		"archive", a.storage != nil,
		"audit", a.audit != nil)
	return nil
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (*adapter.GeminiClient, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required", goerr.T(model.ErrTagConfig))
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required", goerr.T(model.ErrTagConfig))
	}
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation,
		adapter.WithGenerativeModel(cfg.geminiModel),
		adapter.WithEmbeddingModel(cfg.embeddingModel),
	)
}

func (cfg *config) newGenerator(gemini *adapter.GeminiClient) (adapter.TextGenerator, error) {
	switch cfg.generator {
	case "gemini":
		return gemini, nil
	case "claude":
		if cfg.anthropicAPIKey == "" {
			return nil, goerr.New("anthropic-api-key is required", goerr.T(model.ErrTagConfig))
		}
		return adapter.NewClaude(cfg.anthropicAPIKey, adapter.WithClaudeModel(cfg.claudeModel))
	case "none":
		return nil, nil
	default:
		return nil, goerr.New("unknown generator",
			goerr.V("generator", cfg.generator),
			goerr.T(model.ErrTagConfig))
	}
}

func (cfg *config) newEmbedder(gemini *adapter.GeminiClient) (*embedding.Client, error) {
	var backend interfaces.Embedder
	switch cfg.embedder {
	case "gemini":
		g, err := embedding.NewGemini(gemini, int(cfg.embeddingDim))
		if err != nil {
			return nil, err
		}
		backend = g
	case "hash":
		h, err := embedding.NewHash(int(cfg.embeddingDim))
		if err != nil {
			return nil, err
		}
		backend = h
	default:
		return nil, goerr.New("unknown embedder",
			goerr.V("embedder", cfg.embedder),
			goerr.T(model.ErrTagConfig))
	}

	return embedding.New(backend,
		embedding.WithRateLimit(cfg.embedRPS, int(cfg.concurrency)),
		embedding.WithCache(cfg.embedCacheMB),
	)
}

// newIndex opens the vector index and, for firestore, the durable store
func (cfg *config) newIndex(ctx context.Context, a *app) (interfaces.VectorIndex, interfaces.DurableStore, error) {
	switch cfg.backend {
	case "memory":
		index, err := repository.NewChromem(cfg.dataDir, cfg.namespace)
		if err != nil {
			return nil, nil, err
		}
		return index, nil, nil

	case "firestore":
		if cfg.project == "" {
			return nil, nil, goerr.New("project is required", goerr.T(model.ErrTagConfig))
		}
		if cfg.database == "" {
			return nil, nil, goerr.New("database is required", goerr.T(model.ErrTagConfig))
		}
		repo, err := repository.NewFirestore(ctx, cfg.project, cfg.database,
			repository.WithMemoryCollection(cfg.namespace),
			repository.WithPermanentCollection("permanent_"+cfg.namespace),
		)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func() { _ = repo.Close() })
		if !cfg.durable {
			return repo, nil, nil
		}
		return repo, repo, nil

	default:
		return nil, nil, goerr.New("unknown backend",
			goerr.V("backend", cfg.backend),
			goerr.T(model.ErrTagConfig))
	}
}

func (cfg *config) newEngine(embedder interfaces.Embedder, index interfaces.VectorIndex) (*recall.Engine, error) {
	scorer, err := recall.NewScorer(cfg.halfLifeDays, cfg.alpha, cfg.floor)
	if err != nil {
		return nil, err
	}
	return recall.NewEngine(embedder, index, scorer, recall.Config{
		KPerQuery:      int(cfg.kPerQuery),
		KFinal:         int(cfg.kFinal),
		MaxConcurrency: int(cfg.concurrency),
		EmbedTimeout:   cfg.embedTimeout,
		IndexTimeout:   cfg.indexTimeout,
		TimeWeighting:  !cfg.noTimeWeighting,
	})
}

// newAssistant requires a generator
func (a *app) newAssistant(opts ...chat.Option) (*chat.Assistant, error) {
	if a.generator == nil {
		return nil, goerr.New("a generator is required to answer questions, set --generator", goerr.T(model.ErrTagConfig))
	}
	if a.storage != nil {
		opts = append(opts, chat.WithStorage(a.storage))
	}
	if a.audit != nil {
		opts = append(opts, chat.WithAuditLog(a.audit))
	}
	return chat.New(a.generator, a.expander, a.engine, a.memories, opts...)
}
