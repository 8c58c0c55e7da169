package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subjects for the supervisor lifecycle audit bus (C11). This is additive
// to the Redis-backed backlog/pub-sub above, not a replacement for it —
// the audit bus carries worker process lifecycle events (spawned,
// restarted, stopped, scaled), never job data.
const (
	SubjectWorkerSpawned   = "worker.spawned"
	SubjectWorkerRestarted = "worker.restarted"
	SubjectWorkerStopped   = "worker.stopped"
	SubjectWorkerScaled    = "worker.scaled"
)

// LifecycleEvent is one entry on the audit bus.
type LifecycleEvent struct {
	WorkerID  int64     `json:"worker_id,omitempty"`
	Type      string    `json:"type"`
	Reason    string    `json:"reason,omitempty"`
	Count     int       `json:"count,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditBus publishes worker lifecycle events for external observers
// (dashboards, alerting) without requiring them to poll the Worker
// Registry. A nil *AuditBus is valid and every method becomes a no-op,
// since NATS_URL is optional configuration.
type AuditBus struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// NewAuditBus connects to NATS. If natsURL is empty, it returns a nil
// *AuditBus and no error — callers publish through it unconditionally and
// the bus silently does nothing until configured.
func NewAuditBus(natsURL string, logger *zap.Logger) (*AuditBus, error) {
	if natsURL == "" {
		return nil, nil
	}

	opts := []nats.Option{
		nats.Name("dispatchd-supervisor"),
		nats.Timeout(10 * time.Second),
		nats.ReconnectWait(5 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Error("audit bus disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("audit bus reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect audit bus: %w", err)
	}

	logger.Info("connected to supervisor audit bus", zap.String("url", conn.ConnectedUrl()))
	return &AuditBus{conn: conn, logger: logger}, nil
}

func (b *AuditBus) publish(subject string, ev LifecycleEvent) {
	if b == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("marshal lifecycle event", zap.Error(err))
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		b.logger.Error("publish lifecycle event", zap.String("subject", subject), zap.Error(err))
	}
}

func (b *AuditBus) Spawned(workerID int64, jobType string) {
	b.publish(SubjectWorkerSpawned, LifecycleEvent{WorkerID: workerID, Type: jobType, Timestamp: time.Now().UTC()})
}

func (b *AuditBus) Restarted(workerID int64, jobType, reason string) {
	b.publish(SubjectWorkerRestarted, LifecycleEvent{WorkerID: workerID, Type: jobType, Reason: reason, Timestamp: time.Now().UTC()})
}

func (b *AuditBus) Stopped(workerID int64, jobType, reason string) {
	b.publish(SubjectWorkerStopped, LifecycleEvent{WorkerID: workerID, Type: jobType, Reason: reason, Timestamp: time.Now().UTC()})
}

func (b *AuditBus) Scaled(jobType string, count int) {
	b.publish(SubjectWorkerScaled, LifecycleEvent{Type: jobType, Count: count, Timestamp: time.Now().UTC()})
}

func (b *AuditBus) Close() {
	if b == nil {
		return
	}
	b.conn.Close()
}
