package jobs

import (
	"encoding/json"
	"time"
)

// Type is the closed set of job types the coordinator admits.
type Type string

const (
	TypeEmail        Type = "EMAIL"
	TypeWhatsApp     Type = "WHATSAPP"
	TypeSMS          Type = "SMS"
	TypeNotification Type = "NOTIFICATION"
	TypeCronjob      Type = "CRONJOB"
)

// IsValid reports whether t is one of the closed set of job types.
func (t Type) IsValid() bool {
	switch t {
	case TypeEmail, TypeWhatsApp, TypeSMS, TypeNotification, TypeCronjob:
		return true
	default:
		return false
	}
}

// Status is the job's position in the state machine:
// pending -> processing -> {completed, failed}. failed -> pending is not
// supported by the core; retries are a producer concern.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Job is a unit of producer-submitted work. ID is a monotonically assigned
// integer, stable for the job's life. CorrelationID is a separate
// free-standing identifier assigned at admission, stored with the row and
// returned by the API; it is not written to logs or queue events, and it
// plays no role in the claim CAS or the state machine.
type Job struct {
	ID            int64           `json:"id"`
	CorrelationID string          `json:"correlation_id"`
	Type          Type            `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Status        Status          `json:"status"`
	WorkerID      *int64          `json:"worker_id,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CreateRequest is the producer-facing payload for POST /api/jobs.
type CreateRequest struct {
	Type    Type            `json:"type" validate:"required,oneof=EMAIL WHATSAPP SMS NOTIFICATION CRONJOB"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// UpdateStatusRequest is the internal setter workers use to report outcomes.
type UpdateStatusRequest struct {
	Status   Status          `json:"status" validate:"required,oneof=pending processing completed failed"`
	WorkerID *int64          `json:"workerId,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// ErrorResult is the shape an adapter failure takes inside Job.Result.
type ErrorResult struct {
	Error string `json:"error"`
}
