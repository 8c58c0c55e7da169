// Package supervisor implements the Worker Supervisor (C5): it owns the
// in-memory mapping from worker id to live child-process handle and is
// the only component that ever starts or kills a worker runtime process.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"dispatchd/internal/queue"
	"dispatchd/internal/workers"
)

// handle is a supervised child process plus the bookkeeping needed to
// detect and react to its exit.
type handle struct {
	workerID int64
	jobType  string
	cmd      *exec.Cmd
	done     chan struct{}
}

// Supervisor holds live worker processes and reconciles the desired
// worker count per type against what is actually running.
type Supervisor struct {
	mu       sync.Mutex
	handles  map[int64]*handle
	order    []int64 // spawn order (respawns append again); Scale orders by registry id instead

	workerBin string
	workerStore *workers.Store
	audit       *queue.AuditBus
	logger      *zap.Logger

	maxPerType int

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Supervisor. workerBin is the path to the worker
// runtime executable the supervisor spawns for every worker id.
func New(workerBin string, workerStore *workers.Store, audit *queue.AuditBus, logger *zap.Logger, maxPerType int) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		handles:     make(map[int64]*handle),
		workerBin:   workerBin,
		workerStore: workerStore,
		audit:       audit,
		logger:      logger,
		maxPerType:  maxPerType,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Init reads the active Worker records of each type in jobTypes and
// spawns a child process for each, tagged with its id and type — per
// §4.2's init responsibility. Inactive records are not respawned.
func (s *Supervisor) Init(ctx context.Context, jobTypes []string) error {
	for _, jobType := range jobTypes {
		active, err := s.workerStore.ListActiveByType(ctx, jobType)
		if err != nil {
			return fmt.Errorf("list active workers for %s: %w", jobType, err)
		}
		for _, w := range active {
			if err := s.startWorker(w.ID, w.Type); err != nil {
				s.logger.Error("failed to spawn worker on init", zap.Int64("worker_id", w.ID), zap.Error(err))
			}
		}
	}
	return nil
}

// startWorker spawns the child process for id/jobType, wires its
// stdout/stderr into structured logs, and installs the crash-recovery
// loop: on exit with a non-zero code it respawns with the same id and
// type; the restart loop has no backoff cap or ceiling (left as observed
// behavior, see design notes).
func (s *Supervisor) startWorker(id int64, jobType string) error {
	cmd := exec.Command(s.workerBin,
		"-worker-id", strconv.FormatInt(id, 10),
		"-worker-type", jobType,
	)
	cmd.Env = append(os.Environ(), fmt.Sprintf("WORKER_ID=%d", id), fmt.Sprintf("WORKER_TYPE=%s", jobType))
	cmd.Stdout = &logWriter{logger: s.logger, workerID: id, stream: "stdout"}
	cmd.Stderr = &logWriter{logger: s.logger, workerID: id, stream: "stderr"}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker process: %w", err)
	}

	h := &handle{workerID: id, jobType: jobType, cmd: cmd, done: make(chan struct{})}

	s.mu.Lock()
	s.handles[id] = h
	s.order = append(s.order, id)
	s.mu.Unlock()

	s.logger.Info("worker process started", zap.Int64("worker_id", id), zap.String("type", jobType), zap.Int("pid", cmd.Process.Pid))
	if err := s.workerStore.UpdatePID(s.ctx, id, cmd.Process.Pid); err != nil {
		s.logger.Warn("failed to record worker pid", zap.Int64("worker_id", id), zap.Error(err))
	}
	s.audit.Spawned(id, jobType)

	go s.watch(h)
	return nil
}

func (s *Supervisor) watch(h *handle) {
	err := h.cmd.Wait()
	close(h.done)

	s.mu.Lock()
	_, stillTracked := s.handles[h.workerID]
	s.mu.Unlock()

	if !stillTracked {
		// stopWorker already removed the handle; this exit was requested.
		return
	}

	if err != nil {
		s.logger.Warn("worker process exited with error, respawning",
			zap.Int64("worker_id", h.workerID), zap.String("type", h.jobType), zap.Error(err))
		s.audit.Restarted(h.workerID, h.jobType, err.Error())
		if respawnErr := s.startWorker(h.workerID, h.jobType); respawnErr != nil {
			s.logger.Error("respawn failed", zap.Int64("worker_id", h.workerID), zap.Error(respawnErr))
		}
		return
	}

	s.logger.Info("worker process exited cleanly", zap.Int64("worker_id", h.workerID))
	s.mu.Lock()
	delete(s.handles, h.workerID)
	s.mu.Unlock()
}

// CreateWorker registers a new Worker record then starts its process.
func (s *Supervisor) CreateWorker(ctx context.Context, jobType string) (*workers.Worker, error) {
	w, err := s.workerStore.Create(ctx, jobType, 0)
	if err != nil {
		return nil, err
	}
	if err := s.startWorker(w.ID, jobType); err != nil {
		return nil, err
	}
	return w, nil
}

// StopWorker sends a termination signal to id's process and drops its
// handle. It reports whether a handle existed.
func (s *Supervisor) StopWorker(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	h, ok := s.handles[id]
	if ok {
		delete(s.handles, id)
	}
	s.mu.Unlock()

	if !ok {
		return false, nil
	}

	if err := h.cmd.Process.Kill(); err != nil {
		s.logger.Warn("failed to signal worker process", zap.Int64("worker_id", id), zap.Error(err))
	}

	if err := s.workerStore.Deactivate(ctx, id); err != nil {
		return true, fmt.Errorf("deactivate worker record: %w", err)
	}

	s.audit.Stopped(id, h.jobType, "stop requested")
	return true, nil
}

// Scale converges the number of active workers for jobType to desired.
// If current < desired, it creates (desired - current) more; if current
// > desired, it stops the first (current - desired) in existing order
// (oldest-first). Scaling is not made atomic with concurrent
// create/stop calls — callers are expected to serialize per §4.2.
func (s *Supervisor) Scale(ctx context.Context, jobType string, desired int) error {
	if desired < 1 || desired > s.maxPerType {
		return fmt.Errorf("desired count %d out of range [1, %d]", desired, s.maxPerType)
	}

	active, err := s.workerStore.ListActiveByType(ctx, jobType)
	if err != nil {
		return fmt.Errorf("list active workers: %w", err)
	}
	current := len(active)

	if current < desired {
		for i := 0; i < desired-current; i++ {
			if _, err := s.CreateWorker(ctx, jobType); err != nil {
				return fmt.Errorf("scale up: %w", err)
			}
		}
	} else if current > desired {
		toStop := current - desired
		for i := 0; i < toStop && i < len(active); i++ {
			if _, err := s.StopWorker(ctx, active[i].ID); err != nil {
				return fmt.Errorf("scale down: %w", err)
			}
		}
	}

	s.audit.Scaled(jobType, desired)
	return nil
}

// Stats reports the number of worker handles the supervisor currently
// tracks, for the stats endpoint.
func (s *Supervisor) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	byType := map[string]int{}
	for _, h := range s.handles {
		byType[h.jobType]++
	}
	return map[string]interface{}{
		"active_processes": len(s.handles),
		"by_type":          byType,
	}
}

// Shutdown stops every known worker process.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if _, err := s.StopWorker(ctx, id); err != nil {
			s.logger.Warn("shutdown: stop worker failed", zap.Int64("worker_id", id), zap.Error(err))
		}
	}
	s.cancel()
}

type logWriter struct {
	logger   *zap.Logger
	workerID int64
	stream   string
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.logger.Info("worker output",
		zap.Int64("worker_id", w.workerID),
		zap.String("stream", w.stream),
		zap.String("line", string(p)),
	)
	return len(p), nil
}
