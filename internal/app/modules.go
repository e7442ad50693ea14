package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/daverage/mnemo/internal/config"
	"github.com/daverage/mnemo/internal/embedding"
	"github.com/daverage/mnemo/internal/pipeline"
	"github.com/daverage/mnemo/internal/store"
)

// CoreModule holds the core application components.
type CoreModule struct {
	Config *config.Config
	Logger *zap.Logger
	Store  *store.Store
}

// App groups the assembled components for the lifetime of a process.
type App struct {
	Core     CoreModule
	Embedder embedding.Client
	Engine   *pipeline.Engine
	Ctx      context.Context
	Cancel   context.CancelFunc
}
