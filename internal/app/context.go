package app

import (
	"context"
	"io"

	"github.com/pspdemo/isoload/internal/domain"
	"github.com/pspdemo/isoload/internal/infra/config"
	"github.com/pspdemo/isoload/internal/infra/logger"
)

type Locator interface {
	// This allows the engine to resolve sources without importing the locator package
	Resolve(ctx context.Context) (domain.PayloadLocation, error)
}

type SourceOpener interface {
	Open(ctx context.Context, loc domain.PayloadLocation) (io.ReadCloser, int64, error)
}

type Extractor interface {
	Extract(ctx context.Context, job *domain.ExtractionJob, onProgress func(domain.ProgressEvent)) (string, error)
}

// Store persists acquisition history.
type Store interface {
	SaveAcquisition(ctx context.Context, rec *domain.AcquisitionRecord) error
	GetAcquisition(ctx context.Context, id string) (*domain.AcquisitionRecord, error)
	ListAcquisitions(ctx context.Context, limit int) ([]*domain.AcquisitionRecord, error)
	Close() error
}

// Context hold the core environment and shared resources for isoload.
// It acts as the "Single Source of Truth" for the application state.
type Context struct {
	Config *config.Config
	Logger *logger.Logger

	// High-level interfaces for services to use
	Locator   Locator
	Opener    SourceOpener
	Extractor Extractor

	// Store is optional; without it acquisitions are not recorded.
	Store Store
}

// NewContext initializes the base environment.
func NewContext(cfg *config.Config, log *logger.Logger) *Context {
	return &Context{
		Config: cfg,
		Logger: log,
	}
}
