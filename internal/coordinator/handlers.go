package coordinator

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"dispatchd/internal/jobs"
	"dispatchd/internal/observability"
	"dispatchd/internal/queue"
	"dispatchd/internal/supervisor"
	"dispatchd/internal/workers"
)

// Handlers implements the HTTP contract of the Dispatch Coordinator (C6).
type Handlers struct {
	jobStore    *jobs.Store
	workerStore *workers.Store
	transport   *queue.Transport
	super       *supervisor.Supervisor
	validate    *validator.Validate
	logger      *zap.Logger
	metrics     *observability.Metrics
}

func NewHandlers(jobStore *jobs.Store, workerStore *workers.Store, transport *queue.Transport, super *supervisor.Supervisor, logger *zap.Logger, metrics *observability.Metrics) *Handlers {
	return &Handlers{
		jobStore:    jobStore,
		workerStore: workerStore,
		transport:   transport,
		super:       super,
		validate:    validator.New(),
		logger:      logger,
		metrics:     metrics,
	}
}

func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handlers) ReadyCheck(c *fiber.Ctx) error {
	if err := h.jobStore.Health(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready", "error": err.Error()})
	}
	if err := h.transport.HealthCheck(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready", "error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

// CreateJob handles POST /api/jobs.
func (h *Handlers) CreateJob(c *fiber.Ctx) error {
	var req jobs.CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed request body"})
	}

	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "type must be one of EMAIL, WHATSAPP, SMS, NOTIFICATION, CRONJOB"})
	}
	if err := jobs.ValidatePayload(req.Payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	correlationID := uuid.New().String()
	job, err := h.jobStore.Create(c.Context(), correlationID, req.Type, req.Payload)
	if err != nil {
		h.logger.Error("create job failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	if err := h.transport.Push(c.Context(), job.ID, string(job.Type)); err != nil {
		h.logger.Warn("push backlog failed", zap.Int64("job_id", job.ID), zap.Error(err))
	}

	if h.metrics != nil {
		h.metrics.JobsCreatedTotal.WithLabelValues(string(job.Type)).Inc()
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"jobId": job.ID})
}

// GetJob handles GET /api/jobs/:id.
func (h *Handlers) GetJob(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid job id"})
	}

	job, err := h.jobStore.GetByID(c.Context(), int64(id))
	if errors.Is(err, jobs.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
	}
	if err != nil {
		h.logger.Error("get job failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	return c.JSON(fiber.Map{"job": job})
}

// UpdateJobStatus handles PATCH /api/jobs/:id.
func (h *Handlers) UpdateJobStatus(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid job id"})
	}

	var req jobs.UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed request body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "status must be one of pending, processing, completed, failed"})
	}

	if err := h.jobStore.UpdateStatus(c.Context(), int64(id), req.Status, req.WorkerID, req.Result); err != nil {
		h.logger.Error("update job status failed", zap.Int64("job_id", int64(id)), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	if h.metrics != nil {
		switch req.Status {
		case jobs.StatusCompleted:
			h.metrics.JobsCompletedTotal.WithLabelValues("").Inc()
		case jobs.StatusFailed:
			h.metrics.JobsFailedTotal.WithLabelValues("").Inc()
		}
	}

	return c.JSON(fiber.Map{"success": true})
}

// NextJob handles GET /api/jobs/next/:type — the claim operation of §4.1.2.
func (h *Handlers) NextJob(c *fiber.Ctx) error {
	jobType := jobs.Type(c.Params("type"))
	if err := jobs.ValidateType(jobType); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	workerID := int64(0)
	if wid := c.QueryInt("workerId", 0); wid > 0 {
		workerID = int64(wid)
	}

	if h.metrics != nil {
		h.metrics.ClaimAttemptsTotal.WithLabelValues(string(jobType)).Inc()
	}

	job, err := h.jobStore.ClaimNext(c.Context(), jobType, workerID)
	if err != nil {
		h.logger.Error("claim next job failed", zap.String("type", string(jobType)), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
	if job == nil {
		if h.metrics != nil {
			h.metrics.ClaimMissesTotal.WithLabelValues(string(jobType)).Inc()
		}
		return c.JSON(fiber.Map{"job": nil})
	}

	// Drain the advisory backlog hint for this claim, best effort. The
	// Job Store above is the sole claim authority (§4.1.2); this only
	// keeps the Redis-side backlog (§4.3) from accumulating stale
	// entries for jobs already claimed by their row id.
	if _, _, err := h.transport.Pop(c.Context(), string(jobType)); err != nil {
		h.logger.Warn("backlog drain failed", zap.String("type", string(jobType)), zap.Error(err))
	}

	return c.JSON(fiber.Map{"job": job})
}

// CreateWorker handles POST /api/workers.
func (h *Handlers) CreateWorker(c *fiber.Ctx) error {
	var req struct {
		Type string `json:"type" validate:"required"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed request body"})
	}
	if err := jobs.ValidateType(jobs.Type(req.Type)); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	w, err := h.super.CreateWorker(c.Context(), req.Type)
	if err != nil {
		h.logger.Error("create worker failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"workerId": w.ID})
}

// GetWorker handles GET /api/workers/:id. The runtime polling loop calls
// this on every tick to read its own record (§4.4 step 1), so a
// successful read also doubles as a liveness heartbeat: it bumps
// last_active even on the idle-recheck/busy-skip paths that don't
// otherwise touch the row via UpdateStatus.
func (h *Handlers) GetWorker(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid worker id"})
	}

	w, err := h.workerStore.GetByID(c.Context(), int64(id))
	if errors.Is(err, workers.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "worker not found"})
	}
	if err != nil {
		h.logger.Error("get worker failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	if err := h.workerStore.Touch(c.Context(), w.ID); err != nil {
		h.logger.Warn("worker heartbeat touch failed", zap.Int64("worker_id", w.ID), zap.Error(err))
	}

	return c.JSON(fiber.Map{"worker": w})
}

// StopWorker handles DELETE /api/workers/:id.
func (h *Handlers) StopWorker(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid worker id"})
	}

	stopped, err := h.super.StopWorker(c.Context(), int64(id))
	if err != nil {
		h.logger.Error("stop worker failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
	if !stopped {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "worker not found"})
	}

	return c.JSON(fiber.Map{"success": true})
}

// UpdateWorkerStatus handles PATCH /api/workers/:id.
func (h *Handlers) UpdateWorkerStatus(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid worker id"})
	}

	var req workers.UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed request body"})
	}
	if !req.Status.IsValid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid worker status"})
	}

	if err := h.workerStore.UpdateStatus(c.Context(), int64(id), req.Status); err != nil {
		h.logger.Error("update worker status failed", zap.Int64("worker_id", int64(id)), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	return c.JSON(fiber.Map{"success": true})
}

// ScaleWorkers handles POST /api/workers/scale.
func (h *Handlers) ScaleWorkers(c *fiber.Ctx) error {
	var req workers.ScaleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed request body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "type is required and count must be >= 1"})
	}
	if err := jobs.ValidateType(jobs.Type(req.Type)); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if err := h.super.Scale(c.Context(), req.Type, req.Count); err != nil {
		h.logger.Error("scale workers failed", zap.String("type", req.Type), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	return c.JSON(fiber.Map{"success": true})
}

// GetStats handles GET /api/stats. Worker stats combine the durable
// registry's per-status/per-type counts (workers.Store.Stats) with the
// supervisor's in-memory process-handle counts, since the two track
// different concerns (claim state vs. live process).
func (h *Handlers) GetStats(c *fiber.Ctx) error {
	jobStats, err := h.jobStore.Stats(c.Context())
	if err != nil {
		h.logger.Error("get job stats failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	workerStats, err := h.workerStore.Stats(c.Context())
	if err != nil {
		h.logger.Error("get worker stats failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	backlog := map[string]int64{}
	for _, t := range []jobs.Type{jobs.TypeEmail, jobs.TypeWhatsApp, jobs.TypeSMS, jobs.TypeNotification, jobs.TypeCronjob} {
		n, err := h.transport.BacklogLen(c.Context(), string(t))
		if err != nil {
			h.logger.Warn("backlog length query failed", zap.String("type", string(t)), zap.Error(err))
			continue
		}
		backlog[string(t)] = n
	}

	return c.JSON(fiber.Map{
		"jobs":    jobStats,
		"backlog": backlog,
		"workers": fiber.Map{
			"registry":   workerStats,
			"supervisor": h.super.Stats(),
		},
	})
}
