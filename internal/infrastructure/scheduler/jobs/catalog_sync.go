// Package jobs contains the scheduled jobs of the resolver.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/tuition-hub/benefit-resolver/internal/application/command"
)

// CatalogSyncer runs a catalog refresh. Implemented by
// command.SyncCatalogHandler.
type CatalogSyncer interface {
	Handle(ctx context.Context, cmd command.SyncCatalogCommand) (*command.SyncCatalogResult, error)
}

// CatalogSyncJob refreshes courses and tuition rates from the academic
// service.
type CatalogSyncJob struct {
	syncer  CatalogSyncer
	timeout time.Duration
	logger  *slog.Logger
}

// NewCatalogSyncJob creates the job. timeout bounds one run; zero means
// ten minutes.
func NewCatalogSyncJob(syncer CatalogSyncer, timeout time.Duration, logger *slog.Logger) *CatalogSyncJob {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &CatalogSyncJob{
		syncer:  syncer,
		timeout: timeout,
		logger:  logger.With("job", "catalog_sync"),
	}
}

func (j *CatalogSyncJob) Name() string { return "catalog_sync" }

func (j *CatalogSyncJob) Description() string {
	return "Refreshes the course catalog and tuition rates from the academic service"
}

// Run performs one refresh. A run skipped because another replica holds the
// sync lock is not a failure.
func (j *CatalogSyncJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	result, err := j.syncer.Handle(ctx, command.SyncCatalogCommand{})
	if err != nil {
		return err
	}
	if result.Locked {
		j.logger.Info("catalog sync skipped, lock held elsewhere")
		return nil
	}
	if len(result.SkippedRows) > 0 {
		j.logger.Warn("catalog rows skipped", "count", len(result.SkippedRows), "first", result.SkippedRows[0])
	}
	return nil
}
