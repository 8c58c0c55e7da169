package workers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var ErrNotFound = errors.New("worker not found")

// Store is the Worker Registry (C4): the durable record of every worker
// process the supervisor has spawned, its type, and its last known
// lifecycle status. The supervisor is the only writer of PID and
// is_active; the idle/busy status is written by the coordinator's PATCH
// handler and its completion handlers.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

func (s *Store) Create(ctx context.Context, jobType string, pid int) (*Worker, error) {
	now := time.Now().UTC()
	w := &Worker{
		Type:       jobType,
		Status:     StatusIdle,
		IsActive:   true,
		PID:        pid,
		LastActive: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	query := `INSERT INTO workers (type, status, is_active, pid, last_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	err := s.db.QueryRowContext(ctx, query, w.Type, w.Status, w.IsActive, w.PID, w.LastActive, w.CreatedAt, w.UpdatedAt).Scan(&w.ID)
	if err != nil {
		return nil, fmt.Errorf("create worker: %w", err)
	}

	s.logger.Info("worker registered", zap.Int64("worker_id", w.ID), zap.String("type", w.Type), zap.Int("pid", pid))
	return w, nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*Worker, error) {
	query := `SELECT id, type, status, is_active, pid, last_active, created_at, updated_at
		FROM workers WHERE id = $1`

	var w Worker
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&w.ID, &w.Type, &w.Status, &w.IsActive, &w.PID, &w.LastActive, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get worker: %w", err)
	}
	return &w, nil
}

// ListActiveByType returns the workers the supervisor currently considers
// active for a type, used to decide how many to spawn/stop on scale.
func (s *Store) ListActiveByType(ctx context.Context, jobType string) ([]*Worker, error) {
	query := `SELECT id, type, status, is_active, pid, last_active, created_at, updated_at
		FROM workers WHERE type = $1 AND is_active = true ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, jobType)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var out []*Worker
	for rows.Next() {
		var w Worker
		if err := rows.Scan(&w.ID, &w.Type, &w.Status, &w.IsActive, &w.PID, &w.LastActive, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

// UpdateStatus is the idempotent idle/busy setter; it never touches
// IsActive, which is the supervisor's exclusive concern (process
// lifecycle, not claim state).
func (s *Store) UpdateStatus(ctx context.Context, id int64, status Status) error {
	query := `UPDATE workers SET status = $2, last_active = $3, updated_at = $3 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update worker status: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Touch(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workers SET last_active = $2 WHERE id = $1`, id, time.Now().UTC())
	return err
}

// Deactivate marks a worker stopped without deleting its history, so the
// registry retains a record of every process the supervisor has ever run.
func (s *Store) Deactivate(ctx context.Context, id int64) error {
	query := `UPDATE workers SET is_active = false, updated_at = $2 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deactivate worker: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats aggregates durable registry counts per status and per type for
// /api/stats (spec §4.1: "aggregate counts per status and per type for
// both Job and Worker"), including the active count broken down by type.
type Stats struct {
	ByStatus map[Status]int64 `json:"by_status"`
	ByType   map[string]int64 `json:"by_type"`
	Active   map[string]int64 `json:"active_by_type"`
	Total    int64            `json:"total"`
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByStatus: map[Status]int64{},
		ByType:   map[string]int64{},
		Active:   map[string]int64{},
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM workers GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("worker stats by status: %w", err)
	}
	for rows.Next() {
		var st Status
		var count int64
		if err := rows.Scan(&st, &count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByStatus[st] = count
		stats.Total += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM workers GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("worker stats by type: %w", err)
	}
	for rows.Next() {
		var ty string
		var count int64
		if err := rows.Scan(&ty, &count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByType[ty] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM workers WHERE is_active = true GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("worker stats active by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ty string
		var count int64
		if err := rows.Scan(&ty, &count); err != nil {
			return nil, err
		}
		stats.Active[ty] = count
	}
	return stats, rows.Err()
}

// UpdatePID records the OS pid of the process the supervisor spawned for
// this worker id, once known.
func (s *Store) UpdatePID(ctx context.Context, id int64, pid int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workers SET pid = $2, updated_at = $3 WHERE id = $1`, id, pid, time.Now().UTC())
	return err
}
