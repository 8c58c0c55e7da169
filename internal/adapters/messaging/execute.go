package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"dispatchd/internal/jobs"
)

// Execute adapts Adapter.Send to the runtime.Adapter interface for
// WHATSAPP jobs.
func (a *Adapter) Execute(ctx context.Context, job *jobs.Job) (json.RawMessage, error) {
	var req SendRequest
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		return nil, fmt.Errorf("invalid messaging payload: %w", err)
	}

	result, err := a.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}
