package coordinator

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"dispatchd/internal/jobs"
	"dispatchd/internal/queue"
	"dispatchd/internal/workers"
)

// RegisterCompletionHandlers wires the §4.1.3 completion handlers to the
// Queue Transport's pub/sub channels. Both handlers are idempotent: the
// same event delivered twice converges to the same terminal Job/Worker
// state because UpdateStatus is itself an idempotent setter.
func RegisterCompletionHandlers(ctx context.Context, transport *queue.Transport, jobStore *jobs.Store, workerStore *workers.Store, logger *zap.Logger) {
	go func() {
		if err := transport.Subscribe(ctx, queue.ChannelWorkerComplete, func(ctx context.Context, ev queue.Event) {
			handleJobComplete(ctx, jobStore, workerStore, logger, ev)
		}); err != nil && ctx.Err() == nil {
			logger.Error("worker:job-complete subscription ended", zap.Error(err))
		}
	}()

	go func() {
		if err := transport.Subscribe(ctx, queue.ChannelWorkerFailed, func(ctx context.Context, ev queue.Event) {
			handleJobFailed(ctx, jobStore, workerStore, logger, ev)
		}); err != nil && ctx.Err() == nil {
			logger.Error("worker:job-failed subscription ended", zap.Error(err))
		}
	}()
}

func handleJobComplete(ctx context.Context, jobStore *jobs.Store, workerStore *workers.Store, logger *zap.Logger, ev queue.Event) {
	workerID := ev.WorkerID
	if err := jobStore.UpdateStatus(ctx, ev.JobID, jobs.StatusCompleted, &workerID, ev.Result); err != nil {
		logger.Error("job completion handler failed", zap.Int64("job_id", ev.JobID), zap.Error(err))
	}
	if workerID != 0 {
		if err := workerStore.UpdateStatus(ctx, workerID, workers.StatusIdle); err != nil {
			logger.Error("worker idle transition failed", zap.Int64("worker_id", workerID), zap.Error(err))
		}
	}
}

func handleJobFailed(ctx context.Context, jobStore *jobs.Store, workerStore *workers.Store, logger *zap.Logger, ev queue.Event) {
	workerID := ev.WorkerID
	errResult, _ := json.Marshal(jobs.ErrorResult{Error: ev.Error})
	if err := jobStore.UpdateStatus(ctx, ev.JobID, jobs.StatusFailed, &workerID, errResult); err != nil {
		logger.Error("job failure handler failed", zap.Int64("job_id", ev.JobID), zap.Error(err))
	}
	if workerID != 0 {
		if err := workerStore.UpdateStatus(ctx, workerID, workers.StatusIdle); err != nil {
			logger.Error("worker idle transition failed", zap.Int64("worker_id", workerID), zap.Error(err))
		}
	}
}
