// Package app assembles the configured components into a running
// application. All construction is explicit; nothing here is a package
// singleton.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/daverage/mnemo/internal/compress"
	"github.com/daverage/mnemo/internal/config"
	"github.com/daverage/mnemo/internal/embedding"
	"github.com/daverage/mnemo/internal/logging"
	"github.com/daverage/mnemo/internal/pipeline"
	"github.com/daverage/mnemo/internal/planner"
	"github.com/daverage/mnemo/internal/router"
	"github.com/daverage/mnemo/internal/score"
	"github.com/daverage/mnemo/internal/store"
)

// New initializes the application from the config file at configPath (""
// falls back to the MNEMO_CONFIG environment variable, then defaults).
func New(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	scorer := score.New(cfg)

	st, err := store.New(cfg, embedder, scorer, logger)
	if err != nil {
		logger.Error("failed to open store", zap.Error(err))
		return nil, err
	}

	var classifier *router.Classifier
	if cfg.RouterRefinement {
		classifier = router.NewClassifier(embedder, logger)
	}
	rt := router.New(classifier, logger)

	pl, err := planner.New(cfg, st, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize planner: %w", err)
	}

	cmp := compress.New(cfg, logger)
	engine := pipeline.New(cfg, embedder, st, rt, pl, cmp, logger)

	ctx, cancel := context.WithCancel(context.Background())

	return &App{
		Core: CoreModule{
			Config: cfg,
			Logger: logger,
			Store:  st,
		},
		Embedder: embedder,
		Engine:   engine,
		Ctx:      ctx,
		Cancel:   cancel,
	}, nil
}

func newEmbedder(cfg *config.Config) (embedding.Client, error) {
	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.EmbeddingAPIKey == "" {
			return nil, fmt.Errorf("embedding provider openai requires an API key")
		}
		return embedding.NewOpenAIClient(
			cfg.EmbeddingBaseURL,
			cfg.EmbeddingAPIKey,
			cfg.EmbeddingModel,
			cfg.EmbeddingDims,
			time.Duration(cfg.EmbeddingTimeout)*time.Second,
		), nil
	default:
		return embedding.NewLocalClient(0), nil
	}
}

// Close shuts down the application resources.
func (a *App) Close() {
	if a.Cancel != nil {
		a.Cancel()
	}

	if a.Core.Store != nil {
		if err := a.Core.Store.Close(); err != nil {
			a.Core.Logger.Error("failed to close store", zap.Error(err))
		}
	}
	if a.Core.Logger != nil {
		if err := a.Core.Logger.Sync(); err != nil {
			// Sync on stderr fails on some platforms; only surface the rest.
			if !strings.Contains(err.Error(), "invalid argument") &&
				!strings.Contains(err.Error(), "inappropriate ioctl for device") {
				fmt.Fprintf(os.Stderr, "error syncing logger: %v\n", err)
			}
		}
	}
}

// ContextWithLogger returns a context carrying the application's logger.
func (a *App) ContextWithLogger(ctx context.Context) context.Context {
	return logging.ContextWithLogger(ctx, a.Core.Logger)
}

// LoggerFromContext retrieves the logger from the context, falling back to
// the application logger.
func (a *App) LoggerFromContext(ctx context.Context) *zap.Logger {
	if logger, ok := logging.LoggerFromContext(ctx); ok {
		return logger
	}
	return a.Core.Logger
}
