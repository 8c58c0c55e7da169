package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned when a Job row does not exist.
var ErrNotFound = errors.New("job not found")

// Store is the Job Store (C3): the durable record of each job's state,
// payload, and result. It is the single source of truth for the state
// machine — the queue transport's backlog is only a notification hint.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

func (s *Store) DB() *sql.DB { return s.db }

// Create persists a new pending Job and assigns its id.
func (s *Store) Create(ctx context.Context, correlationID string, jobType Type, payload json.RawMessage) (*Job, error) {
	now := time.Now().UTC()
	j := &Job{
		CorrelationID: correlationID,
		Type:          jobType,
		Payload:       payload,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	query := `INSERT INTO jobs (correlation_id, type, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	err := s.db.QueryRowContext(ctx, query, j.CorrelationID, j.Type, []byte(j.Payload), j.Status, j.CreatedAt, j.UpdatedAt).Scan(&j.ID)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.logger.Info("job created", zap.Int64("job_id", j.ID), zap.String("type", string(j.Type)))
	return j, nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	query := `SELECT id, correlation_id, type, payload, status, worker_id, result, created_at, updated_at
		FROM jobs WHERE id = $1`

	var j Job
	var payload, result []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&j.ID, &j.CorrelationID, &j.Type, &payload, &j.Status, &j.WorkerID, &result, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	j.Payload = payload
	j.Result = result
	return &j, nil
}

// UpdateStatus is the idempotent setter used both by the HTTP PATCH
// endpoint and by the coordinator's completion handlers (§4.1.3). Calling
// it twice with the same terminal status is a no-op on state but still
// succeeds, since the handler that invokes it may be retried.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status Status, workerID *int64, result json.RawMessage) error {
	query := `UPDATE jobs SET status = $2, worker_id = COALESCE($3, worker_id), result = COALESCE($4, result), updated_at = $5
		WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, id, status, workerID, nullableJSON(result), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimNext implements the claim protocol of spec §4.1.2 as the literal
// two-statement sequence: select the oldest pending job of type t, then
// attempt a compare-and-set UPDATE guarded on id AND status = pending. If
// the CAS affects zero rows, some other worker won the race and the caller
// gets (nil, nil) rather than an error.
func (s *Store) ClaimNext(ctx context.Context, t Type, workerID int64) (*Job, error) {
	var candidateID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM jobs WHERE status = $1 AND type = $2 ORDER BY created_at ASC, id ASC LIMIT 1`,
		StatusPending, t).Scan(&candidateID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select candidate: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = $1, worker_id = $2, updated_at = $3 WHERE id = $4 AND status = $5`,
		StatusProcessing, workerID, time.Now().UTC(), candidateID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("claim candidate: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim rows affected: %w", err)
	}
	if rows == 0 {
		// Lost the race to another worker; not an error.
		return nil, nil
	}

	return s.GetByID(ctx, candidateID)
}

// Stats aggregates counts per status and per type for /api/stats.
type Stats struct {
	ByStatus map[Status]int64 `json:"by_status"`
	ByType   map[Type]int64   `json:"by_type"`
	Total    int64            `json:"total"`
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByStatus: map[Status]int64{}, ByType: map[Type]int64{}}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("stats by status: %w", err)
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

	rows, err = s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM jobs GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("stats by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ty Type
		var count int64
		if err := rows.Scan(&ty, &count); err != nil {
			return nil, err
		}
		stats.ByType[ty] = count
	}
	return stats, rows.Err()
}

func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
