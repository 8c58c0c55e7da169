package runtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"dispatchd/internal/jobs"
	"dispatchd/internal/runtime"
)

type stubAdapter struct {
	result json.RawMessage
	err    error
	calls  int
}

func (s *stubAdapter) Execute(ctx context.Context, job *jobs.Job) (json.RawMessage, error) {
	s.calls++
	return s.result, s.err
}

type stubLimiter struct {
	allow bool
	err   error
}

func (s *stubLimiter) Allow(ctx context.Context, key string) (bool, float64, error) {
	return s.allow, 0, s.err
}

func TestDispatchUnregisteredType(t *testing.T) {
	d := runtime.NewDispatcher(nil, zap.NewNop())
	job := &jobs.Job{ID: 1, Type: jobs.TypeEmail}

	if _, err := d.Dispatch(context.Background(), job); err == nil {
		t.Error("Dispatch with no registered adapter = nil error, want error")
	}
}

func TestDispatchRoutesToRegisteredAdapter(t *testing.T) {
	adapter := &stubAdapter{result: json.RawMessage(`{"ok":true}`)}
	d := runtime.NewDispatcher(nil, zap.NewNop())
	d.Register(jobs.TypeEmail, adapter)

	job := &jobs.Job{ID: 1, Type: jobs.TypeEmail}
	result, err := d.Dispatch(context.Background(), job)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if adapter.calls != 1 {
		t.Errorf("adapter called %d times, want 1", adapter.calls)
	}
	if string(result) != `{"ok":true}` {
		t.Errorf("Dispatch() result = %s", result)
	}
}

func TestDispatchDeniedByRateLimiter(t *testing.T) {
	adapter := &stubAdapter{result: json.RawMessage(`{}`)}
	d := runtime.NewDispatcher(&stubLimiter{allow: false}, zap.NewNop())
	d.Register(jobs.TypeEmail, adapter)

	job := &jobs.Job{ID: 1, Type: jobs.TypeEmail}
	if _, err := d.Dispatch(context.Background(), job); err == nil {
		t.Error("Dispatch() with denying limiter = nil error, want error")
	}
	if adapter.calls != 0 {
		t.Errorf("adapter called %d times, want 0 when rate limited", adapter.calls)
	}
}

func TestDispatchPropagatesLimiterError(t *testing.T) {
	adapter := &stubAdapter{}
	d := runtime.NewDispatcher(&stubLimiter{err: errors.New("redis down")}, zap.NewNop())
	d.Register(jobs.TypeEmail, adapter)

	job := &jobs.Job{ID: 1, Type: jobs.TypeEmail}
	if _, err := d.Dispatch(context.Background(), job); err == nil {
		t.Error("Dispatch() with limiter error = nil error, want error")
	}
}

func TestDispatchPropagatesAdapterError(t *testing.T) {
	adapter := &stubAdapter{err: errors.New("smtp failure")}
	d := runtime.NewDispatcher(&stubLimiter{allow: true}, zap.NewNop())
	d.Register(jobs.TypeEmail, adapter)

	job := &jobs.Job{ID: 1, Type: jobs.TypeEmail}
	if _, err := d.Dispatch(context.Background(), job); err == nil {
		t.Error("Dispatch() with adapter error = nil error, want error")
	}
}

type probingAdapter struct {
	stubAdapter
	probed int
	err    error
}

func (p *probingAdapter) HealthProbe(ctx context.Context) error {
	p.probed++
	return p.err
}

func TestProbeHealthCallsHealthProberAdapters(t *testing.T) {
	probing := &probingAdapter{}
	plain := &stubAdapter{}

	d := runtime.NewDispatcher(nil, zap.NewNop())
	d.Register(jobs.TypeEmail, probing)
	d.Register(jobs.TypeWhatsApp, plain)

	d.ProbeHealth(context.Background())

	if probing.probed != 1 {
		t.Errorf("HealthProbe called %d times, want 1", probing.probed)
	}
}

func TestProbeHealthToleratesProbeError(t *testing.T) {
	probing := &probingAdapter{err: errors.New("smtp still down")}

	d := runtime.NewDispatcher(nil, zap.NewNop())
	d.Register(jobs.TypeEmail, probing)

	d.ProbeHealth(context.Background())

	if probing.probed != 1 {
		t.Errorf("HealthProbe called %d times, want 1", probing.probed)
	}
}
