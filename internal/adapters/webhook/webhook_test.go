package webhook_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"dispatchd/internal/adapters/webhook"
	"dispatchd/internal/jobs"
)

func TestExecutePostsPayloadWithHeaders(t *testing.T) {
	var gotType, gotWorker string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("X-Job-Type")
		gotWorker = r.Header.Get("X-Worker-ID")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"accepted":true}`))
	}))
	defer srv.Close()

	workerID := int64(42)
	adapter := webhook.NewAdapter(srv.URL, jobs.TypeSMS)
	job := &jobs.Job{ID: 1, Type: jobs.TypeSMS, WorkerID: &workerID, Payload: json.RawMessage(`{"to":"+15551234"}`)}

	result, err := adapter.Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if gotType != "SMS" {
		t.Errorf("X-Job-Type = %q, want SMS", gotType)
	}
	if gotWorker != "42" {
		t.Errorf("X-Worker-ID = %q, want 42", gotWorker)
	}
	if string(result) != `{"accepted":true}` {
		t.Errorf("result = %s", result)
	}
}

func TestExecuteNoURLConfigured(t *testing.T) {
	adapter := webhook.NewAdapter("", jobs.TypeNotification)
	job := &jobs.Job{ID: 1, Type: jobs.TypeNotification, Payload: json.RawMessage(`{}`)}

	if _, err := adapter.Execute(context.Background(), job); err == nil {
		t.Error("Execute() with no configured URL = nil error, want error")
	}
}

func TestExecuteNonJSONResponseWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain text ack"))
	}))
	defer srv.Close()

	adapter := webhook.NewAdapter(srv.URL, jobs.TypeSMS)
	job := &jobs.Job{ID: 1, Type: jobs.TypeSMS, Payload: json.RawMessage(`{}`)}

	result, err := adapter.Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var out map[string]string
	if err := json.Unmarshal(result, &out); err != nil {
		t.Fatalf("result not valid JSON: %v", err)
	}
	if out["response"] != "plain text ack" {
		t.Errorf("wrapped response = %q, want %q", out["response"], "plain text ack")
	}
}

func TestExecuteErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	adapter := webhook.NewAdapter(srv.URL, jobs.TypeSMS)
	job := &jobs.Job{ID: 1, Type: jobs.TypeSMS, Payload: json.RawMessage(`{}`)}

	if _, err := adapter.Execute(context.Background(), job); err == nil {
		t.Error("Execute() with 500 response = nil error, want error")
	}
}
