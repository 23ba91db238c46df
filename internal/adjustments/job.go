package adjustments

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/shelfline/shelfline/jobs"
)

// SyncJob processes adjustment sync tasks.
type SyncJob struct {
	syncer *Syncer
	logger *slog.Logger
}

// NewSyncJob constructs a job handler.
func NewSyncJob(syncer *Syncer, logger *slog.Logger) *SyncJob {
	return &SyncJob{syncer: syncer, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *SyncJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload jobs.AdjustmentsSyncPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	result, err := j.syncer.Sync(ctx)
	if err != nil {
		if errors.Is(err, ErrSyncInProgress) {
			// Another run holds the lease; the pending set will be drained
			// by it or by the next scheduled trigger.
			if j.logger != nil {
				j.logger.Info("sync skipped, run already in flight")
			}
			return nil
		}
		if j.logger != nil {
			j.logger.Error("adjustments sync", slog.Any("error", err))
		}
		return err
	}

	if j.logger != nil {
		j.logger.Info("adjustments sync completed",
			slog.String("run_id", result.RunID),
			slog.String("trigger", payload.Trigger),
			slog.Int("success", result.SuccessCount),
			slog.Int("errors", result.ErrorCount))
	}
	return nil
}
