// Package queue implements the Queue Transport (C2): a Redis-backed
// notification layer sitting in front of the Job Store. The backlog lists
// and pub/sub channels here are a hint to wake idle workers sooner than
// their next poll tick — the Job Store's claim CAS remains the only
// authority over who actually gets a job.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	ChannelJobNew          = "job:new"
	ChannelWorkerComplete  = "worker:job-complete"
	ChannelWorkerFailed    = "worker:job-failed"
)

func backlogKey(jobType string) string {
	return fmt.Sprintf("jobs:%s", jobType)
}

// Event is the payload carried over job:new / worker:job-complete /
// worker:job-failed. Result and Error are only populated on the
// completion channels, per §4.1.3's {jobId, workerId, result} and
// {jobId, workerId, error} event shapes.
type Event struct {
	JobID    int64           `json:"job_id"`
	Type     string          `json:"type,omitempty"`
	WorkerID int64           `json:"worker_id,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Handler reacts to an Event received on a subscribed channel.
type Handler func(ctx context.Context, ev Event)

// Transport wraps a Redis client with the backlog push/pop and
// publish/subscribe operations C2 needs.
type Transport struct {
	client *redis.Client
	logger *zap.Logger
}

func NewTransport(client *redis.Client, logger *zap.Logger) *Transport {
	return &Transport{client: client, logger: logger}
}

// Push records a hint that a new job of jobType is available, both as a
// backlog list entry (LPUSH) and as a pub/sub notification (PUBLISH) for
// any worker already blocked waiting on job:new.
func (t *Transport) Push(ctx context.Context, jobID int64, jobType string) error {
	if err := t.client.LPush(ctx, backlogKey(jobType), jobID).Err(); err != nil {
		return fmt.Errorf("push backlog: %w", err)
	}
	return t.Publish(ctx, ChannelJobNew, Event{JobID: jobID, Type: jobType})
}

// Pop removes and returns the oldest backlog hint for jobType, if any.
// It returns (0, false, nil) when the backlog is empty — not an error,
// since the backlog is advisory and workers fall back to polling the Job
// Store directly.
func (t *Transport) Pop(ctx context.Context, jobType string) (int64, bool, error) {
	res, err := t.client.RPop(ctx, backlogKey(jobType)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("pop backlog: %w", err)
	}

	var jobID int64
	if _, err := fmt.Sscanf(res, "%d", &jobID); err != nil {
		return 0, false, fmt.Errorf("parse backlog entry: %w", err)
	}
	return jobID, true, nil
}

func (t *Transport) Publish(ctx context.Context, channel string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := t.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe blocks, invoking handler for each Event received on channel,
// until ctx is cancelled. Malformed messages are logged and skipped.
func (t *Transport) Subscribe(ctx context.Context, channel string, handler Handler) error {
	sub := t.client.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				t.logger.Warn("dropping malformed queue event", zap.String("channel", channel), zap.Error(err))
				continue
			}
			handler(ctx, ev)
		}
	}
}

func (t *Transport) HealthCheck(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// BacklogLen reports the pending-hint depth for a job type, used by the
// stats endpoint.
func (t *Transport) BacklogLen(ctx context.Context, jobType string) (int64, error) {
	return t.client.LLen(ctx, backlogKey(jobType)).Result()
}
