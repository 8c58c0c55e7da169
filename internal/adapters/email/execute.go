package email

import (
	"context"
	"encoding/json"
	"fmt"

	"dispatchd/internal/jobs"
)

// jobPayload is the producer-facing shape of an EMAIL job's payload.
type jobPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
	Module  string `json:"module,omitempty"`
}

// Execute adapts Adapter.Send to the runtime.Adapter interface (C7
// dispatches to this without knowing about SMTP).
func (a *Adapter) Execute(ctx context.Context, job *jobs.Job) (json.RawMessage, error) {
	var p jobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, fmt.Errorf("invalid email payload: %w", err)
	}
	if p.To == "" {
		return nil, fmt.Errorf("email payload missing 'to'")
	}
	if p.Module == "" {
		p.Module = globalModule
	}

	result, err := a.Send(ctx, Message{To: p.To, Subject: p.Subject, HTML: p.HTML, Text: p.Text, Module: p.Module})
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}
