package runtime

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"dispatchd/internal/jobs"
	"dispatchd/internal/observability"
	"dispatchd/internal/queue"
	"dispatchd/internal/workers"
)

const pollInterval = time.Second
const healthProbeInterval = 30 * time.Second

// Runtime is one worker process: a single {worker id, worker type} pair
// that polls for work and executes it via the Dispatcher.
type Runtime struct {
	workerID   int64
	workerType string

	coordinator *CoordinatorClient
	transport   *queue.Transport
	dispatcher  *Dispatcher
	logger      *zap.Logger
	metrics     *observability.Metrics

	wakeCh chan struct{}
}

func New(workerID int64, workerType string, coordinator *CoordinatorClient, transport *queue.Transport, dispatcher *Dispatcher, logger *zap.Logger, metrics *observability.Metrics) *Runtime {
	return &Runtime{
		workerID:    workerID,
		workerType:  workerType,
		coordinator: coordinator,
		transport:   transport,
		dispatcher:  dispatcher,
		logger:      logger,
		metrics:     metrics,
		wakeCh:      make(chan struct{}, 1),
	}
}

// Run blocks, ticking every pollInterval and also waking on every
// job:new event whose type matches this worker's, until ctx is done.
func (r *Runtime) Run(ctx context.Context) {
	go r.subscribeNewJobs(ctx)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	healthTicker := time.NewTicker(healthProbeInterval)
	defer healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		case <-r.wakeCh:
			r.tick(ctx)
		case <-healthTicker.C:
			r.dispatcher.ProbeHealth(ctx)
		}
	}
}

func (r *Runtime) subscribeNewJobs(ctx context.Context) {
	err := r.transport.Subscribe(ctx, queue.ChannelJobNew, func(_ context.Context, ev queue.Event) {
		if ev.Type != r.workerType {
			return
		}
		select {
		case r.wakeCh <- struct{}{}:
		default:
		}
	})
	if err != nil && ctx.Err() == nil {
		r.logger.Warn("job:new subscription ended, falling back to poll-only", zap.Error(err))
	}
}

// tick implements the polling loop body of §4.4: check self status, go
// idle if not already, attempt a claim, and hand any claimed job to
// processJob.
func (r *Runtime) tick(ctx context.Context) {
	self, err := r.coordinator.GetWorker(ctx, r.workerID)
	if err != nil {
		r.logger.Warn("failed to read own worker record", zap.Int64("worker_id", r.workerID), zap.Error(err))
		return
	}
	if self.Status == workers.StatusBusy {
		return
	}

	if err := r.coordinator.SetWorkerStatus(ctx, r.workerID, workers.StatusIdle); err != nil {
		r.logger.Warn("failed to mark self idle", zap.Int64("worker_id", r.workerID), zap.Error(err))
	}

	job, err := r.coordinator.ClaimNext(ctx, r.workerType, r.workerID)
	if err != nil {
		r.logger.Warn("claim attempt failed", zap.Int64("worker_id", r.workerID), zap.Error(err))
		return
	}
	if job == nil {
		return
	}

	if err := r.coordinator.SetWorkerStatus(ctx, r.workerID, workers.StatusBusy); err != nil {
		r.logger.Warn("failed to mark self busy", zap.Int64("worker_id", r.workerID), zap.Error(err))
	}

	r.processJob(ctx, job)
}

// processJob implements the six-step sequence of §4.4. Every PATCH/
// PUBLISH failure is logged, never raised above the job boundary — the
// loop survives an unrelated network blip at any one of these steps.
func (r *Runtime) processJob(ctx context.Context, job *jobs.Job) {
	fields := append(observability.TraceFields(ctx),
		zap.Int64("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int64("worker_id", r.workerID))
	r.logger.Info("processing job", fields...)

	if err := r.coordinator.SetJobStatus(ctx, job.ID, jobs.StatusProcessing, &r.workerID, nil); err != nil {
		r.logger.Warn("patch job to processing failed", zap.Int64("job_id", job.ID), zap.Error(err))
	}

	result, execErr := r.dispatcher.Dispatch(ctx, job)

	if execErr != nil {
		r.onFailure(ctx, job, execErr)
		return
	}
	r.onSuccess(ctx, job, result)
}

func (r *Runtime) onSuccess(ctx context.Context, job *jobs.Job, result json.RawMessage) {
	if err := r.coordinator.SetJobStatus(ctx, job.ID, jobs.StatusCompleted, &r.workerID, result); err != nil {
		r.logger.Warn("patch job to completed failed", zap.Int64("job_id", job.ID), zap.Error(err))
	}
	if err := r.coordinator.SetWorkerStatus(ctx, r.workerID, workers.StatusIdle); err != nil {
		r.logger.Warn("patch worker to idle failed", zap.Int64("worker_id", r.workerID), zap.Error(err))
	}
	if err := r.transport.Publish(ctx, queue.ChannelWorkerComplete, queue.Event{JobID: job.ID, WorkerID: r.workerID, Result: result}); err != nil {
		r.logger.Warn("publish worker:job-complete failed", zap.Int64("job_id", job.ID), zap.Error(err))
	}
	if r.metrics != nil {
		r.metrics.JobsCompletedTotal.WithLabelValues(string(job.Type)).Inc()
	}
}

func (r *Runtime) onFailure(ctx context.Context, job *jobs.Job, execErr error) {
	errResult, _ := json.Marshal(jobs.ErrorResult{Error: execErr.Error()})

	if err := r.coordinator.SetJobStatus(ctx, job.ID, jobs.StatusFailed, &r.workerID, errResult); err != nil {
		r.logger.Warn("patch job to failed failed", zap.Int64("job_id", job.ID), zap.Error(err))
	}
	if err := r.coordinator.SetWorkerStatus(ctx, r.workerID, workers.StatusIdle); err != nil {
		r.logger.Warn("patch worker to idle failed", zap.Int64("worker_id", r.workerID), zap.Error(err))
	}
	if err := r.transport.Publish(ctx, queue.ChannelWorkerFailed, queue.Event{JobID: job.ID, WorkerID: r.workerID, Error: execErr.Error()}); err != nil {
		r.logger.Warn("publish worker:job-failed failed", zap.Int64("job_id", job.ID), zap.Error(err))
	}
	if r.metrics != nil {
		r.metrics.JobsFailedTotal.WithLabelValues(string(job.Type)).Inc()
	}
	r.logger.Warn("job failed", zap.Int64("job_id", job.ID), zap.Error(execErr))
}
