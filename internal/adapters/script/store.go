package script

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TaskRun is a task-scheduler record (§3: "owned externally, mutated by
// C10"): one row per scheduled cronjob task, plus its running/terminal
// log entries.
type TaskRun struct {
	TaskID       string
	IsRunning    bool
	StartRunning *time.Time
	PID          int
}

type TaskLog struct {
	ID        int64
	TaskID    string
	StartTime time.Time
	EndTime   *time.Time
	Status    string // running | success | failed | waiting
	Output    string
}

// TaskStore persists task-scheduler records and their log stream in the
// configured external task-scheduler database.
type TaskStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewTaskStore(db *sql.DB, logger *zap.Logger) *TaskStore {
	return &TaskStore{db: db, logger: logger}
}

// MarkWaiting appends a new waiting log row for an attempt that could
// not start yet due to resource pressure.
func (s *TaskStore) MarkWaiting(ctx context.Context, taskID string, attempt int, message string) error {
	query := `INSERT INTO task_logs (task_id, start_time, status, output)
		VALUES ($1, $2, 'waiting', $3)`
	_, err := s.db.ExecContext(ctx, query, taskID, time.Now().UTC(), fmt.Sprintf("attempt %d: %s", attempt, message))
	return err
}

// StartRun records that taskID has begun running with the given pid,
// inserting a running log row and returning its id so the caller can
// finalize it later.
func (s *TaskStore) StartRun(ctx context.Context, taskID string, pid int) (int64, error) {
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`UPDATE task_runs SET is_running = true, start_running = $2, pid = $3 WHERE task_id = $1`,
		taskID, now, pid)
	if err != nil {
		return 0, fmt.Errorf("update task run state: %w", err)
	}

	var logID int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO task_logs (task_id, start_time, status, output) VALUES ($1, $2, 'running', '') RETURNING id`,
		taskID, now).Scan(&logID)
	if err != nil {
		return 0, fmt.Errorf("insert task log: %w", err)
	}
	return logID, nil
}

// MarkFailed persists a terminal failed log row directly, for a task that
// never reached StartRun — e.g. resource-check retries exhausted before a
// process was ever spawned (§4.8: "On exhaustion, mark the task failed").
func (s *TaskStore) MarkFailed(ctx context.Context, taskID string, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE task_runs SET is_running = false, start_running = NULL, pid = NULL WHERE task_id = $1`,
		taskID)
	if err != nil {
		return fmt.Errorf("clear task run state: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO task_logs (task_id, start_time, end_time, status, output) VALUES ($1, $2, $2, 'failed', $3)`,
		taskID, now, message)
	if err != nil {
		return fmt.Errorf("insert failed task log: %w", err)
	}
	return nil
}

// FinishRun clears is_running/start_running/pid on the task run and
// brings the log row to its terminal status.
func (s *TaskStore) FinishRun(ctx context.Context, taskID string, logID int64, status, output string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE task_runs SET is_running = false, start_running = NULL, pid = NULL WHERE task_id = $1`,
		taskID)
	if err != nil {
		return fmt.Errorf("clear task run state: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE task_logs SET end_time = $2, status = $3, output = $4 WHERE id = $1`,
		logID, time.Now().UTC(), status, output)
	if err != nil {
		return fmt.Errorf("finalize task log: %w", err)
	}
	return nil
}
