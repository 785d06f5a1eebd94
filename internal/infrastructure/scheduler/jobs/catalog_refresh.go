package jobs

import (
	"context"
	"log/slog"
)

// CatalogReloader reloads the in-process belt catalog.
type CatalogReloader interface {
	Reload(ctx context.Context) error
}

// CatalogRefreshJob picks up belt definitions changed by another process.
type CatalogRefreshJob struct {
	registry CatalogReloader
	logger   *slog.Logger
}

// NewCatalogRefreshJob creates a new CatalogRefreshJob.
func NewCatalogRefreshJob(registry CatalogReloader, logger *slog.Logger) *CatalogRefreshJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogRefreshJob{registry: registry, logger: logger.With("job", "catalog_refresh")}
}

func (j *CatalogRefreshJob) Name() string { return "catalog_refresh" }

func (j *CatalogRefreshJob) Description() string { return "reloads belt definitions from storage" }

// Run keeps the previous catalog when the reload fails.
func (j *CatalogRefreshJob) Run(ctx context.Context) error {
	if err := j.registry.Reload(ctx); err != nil {
		j.logger.Warn("catalog reload failed, keeping previous", "error", err)
		return err
	}
	return nil
}
