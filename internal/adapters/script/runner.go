package script

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"dispatchd/internal/jobs"
)

// jobPayload is the producer-facing shape of a CRONJOB job's payload.
type jobPayload struct {
	Script string   `json:"script"`
	Args   []string `json:"args,omitempty"`
}

// execResult mirrors {exitCode, output, error} from §4.8.
type execResult struct {
	ExitCode int    `json:"exitCode"`
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
}

const outputBufferLimit = 1 << 20 // 1 MiB bounded buffer per stream

// Runner is the Script Runner (C10): resource-gated child-process
// execution with task-log persistence.
type Runner struct {
	scriptsDir    string
	gate          *ResourceGate
	store         *TaskStore
	logger        *zap.Logger
	cpuThreshold  float64
	memThreshold  float64
	checkInterval time.Duration
	checkRetries  int
}

func NewRunner(scriptsDir string, gate *ResourceGate, store *TaskStore, logger *zap.Logger, cpuThreshold, memThreshold float64, checkInterval time.Duration, checkRetries int) *Runner {
	return &Runner{
		scriptsDir:    scriptsDir,
		gate:          gate,
		store:         store,
		logger:        logger,
		cpuThreshold:  cpuThreshold,
		memThreshold:  memThreshold,
		checkInterval: checkInterval,
		checkRetries:  checkRetries,
	}
}

// Execute adapts Run to the runtime.Adapter interface for CRONJOB jobs.
func (r *Runner) Execute(ctx context.Context, job *jobs.Job) (json.RawMessage, error) {
	var p jobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, fmt.Errorf("invalid cronjob payload: %w", err)
	}
	if p.Script == "" {
		return nil, fmt.Errorf("cronjob payload missing 'script'")
	}

	result, err := r.Run(ctx, p.Script, p.Args)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

// Run gates on host resource availability, then spawns the script as a
// child process and reports its outcome.
func (r *Runner) Run(ctx context.Context, taskID string, args []string) (*execResult, error) {
	if err := r.waitForResources(ctx, taskID); err != nil {
		return nil, err
	}

	cmd := r.buildCommand(ctx, taskID, args)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = boundedWriter(&stdout, outputBufferLimit)
	cmd.Stderr = boundedWriter(&stderr, outputBufferLimit)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start script %s: %w", taskID, err)
	}

	logID, err := r.store.StartRun(ctx, taskID, cmd.Process.Pid)
	if err != nil {
		r.logger.Warn("failed to record task run start", zap.String("task_id", taskID), zap.Error(err))
	}

	waitErr := cmd.Wait()
	output := stdout.String() + stderr.String()

	result := &execResult{Output: output}
	status := "success"
	if waitErr != nil {
		status = "failed"
		result.Error = waitErr.Error()
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
	}

	if err := r.store.FinishRun(ctx, taskID, logID, status, output); err != nil {
		r.logger.Warn("failed to finalize task run", zap.String("task_id", taskID), zap.Error(err))
	}

	if waitErr != nil {
		return result, fmt.Errorf("script %s exited with error: %w", taskID, waitErr)
	}
	return result, nil
}

func (r *Runner) buildCommand(ctx context.Context, script string, args []string) *exec.Cmd {
	path := script
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.scriptsDir, script)
	}

	if strings.HasSuffix(path, ".js") {
		return exec.CommandContext(ctx, "node", append([]string{path}, args...)...)
	}
	return exec.CommandContext(ctx, "sh", append([]string{path}, args...)...)
}

// waitForResources blocks until both CPU and memory utilization are
// under their thresholds, retrying up to checkRetries times with
// checkInterval between attempts. On exhaustion it marks the task
// failed and returns an error.
func (r *Runner) waitForResources(ctx context.Context, taskID string) error {
	for attempt := 1; attempt <= r.checkRetries; attempt++ {
		cpu, _ := r.gate.CPUPercent()
		mem, _ := r.gate.MemPercent()

		if cpu <= r.cpuThreshold && mem <= r.memThreshold {
			return nil
		}

		msg := fmt.Sprintf("cpu=%.1f%% mem=%.1f%% above threshold (cpu<=%.1f%%, mem<=%.1f%%)", cpu, mem, r.cpuThreshold, r.memThreshold)
		if err := r.store.MarkWaiting(ctx, taskID, attempt, msg); err != nil {
			r.logger.Warn("failed to record waiting attempt", zap.String("task_id", taskID), zap.Error(err))
		}

		select {
		case <-time.After(r.checkInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	errMsg := fmt.Sprintf("exhausted %d resource check retries", r.checkRetries)
	if err := r.store.MarkFailed(ctx, taskID, errMsg); err != nil {
		r.logger.Warn("failed to record resource-exhaustion failure", zap.String("task_id", taskID), zap.Error(err))
	}

	return fmt.Errorf("task %s %s", taskID, errMsg)
}

// boundedWriter truncates writes beyond limit bytes rather than growing
// the buffer unbounded for a runaway script.
func boundedWriter(buf *bytes.Buffer, limit int) *limitedBuffer {
	return &limitedBuffer{buf: buf, limit: limit}
}

type limitedBuffer struct {
	buf   *bytes.Buffer
	limit int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	remaining := l.limit - l.buf.Len()
	if remaining <= 0 {
		return n, nil
	}
	if len(p) > remaining {
		p = p[:remaining]
	}
	if _, err := l.buf.Write(p); err != nil {
		return 0, err
	}
	return n, nil
}
