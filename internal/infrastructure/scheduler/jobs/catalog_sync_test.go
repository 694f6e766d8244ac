package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tuition-hub/benefit-resolver/internal/application/command"
)

type stubSyncer struct {
	result   *command.SyncCatalogResult
	err      error
	deadline bool
}

func (s *stubSyncer) Handle(ctx context.Context, _ command.SyncCatalogCommand) (*command.SyncCatalogResult, error) {
	_, s.deadline = ctx.Deadline()
	return s.result, s.err
}

func TestCatalogSyncJob(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		syncer := &stubSyncer{result: &command.SyncCatalogResult{Courses: 3, SkippedRows: []string{"row 2"}}}
		job := NewCatalogSyncJob(syncer, time.Minute, nil)

		assert.NoError(t, job.Run(context.Background()))
		assert.True(t, syncer.deadline, "runs are bounded")
		assert.Equal(t, "catalog_sync", job.Name())
	})

	t.Run("locked elsewhere is not a failure", func(t *testing.T) {
		job := NewCatalogSyncJob(&stubSyncer{result: &command.SyncCatalogResult{Locked: true}}, 0, nil)
		assert.NoError(t, job.Run(context.Background()))
	})

	t.Run("failure", func(t *testing.T) {
		boom := errors.New("upstream down")
		job := NewCatalogSyncJob(&stubSyncer{err: boom}, 0, nil)
		assert.ErrorIs(t, job.Run(context.Background()), boom)
	})
}
