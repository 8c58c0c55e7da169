package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"dispatchd/internal/jobs"
)

// Adapter executes one job's payload and returns its result, or an error
// describing why it failed. Implementations are the typed adapters
// (C8 email, C9 messaging, C10 script) plus the webhook adapter for
// SMS/NOTIFICATION.
type Adapter interface {
	Execute(ctx context.Context, job *jobs.Job) (json.RawMessage, error)
}

// RateLimiter is consumed by the dispatcher before each outbound call to
// a rate-limited external provider, per §4.5.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// HealthProber is implemented by adapters that hold degradable state —
// currently the email adapter's primary/backup failover flag (§4.6). The
// runtime loop calls HealthProbe on every registered HealthProber (via
// Dispatcher.ProbeHealth) so a
// degraded adapter gets a chance to recover without waiting for another
// send to fail through it first.
type HealthProber interface {
	HealthProbe(ctx context.Context) error
}

// Dispatcher routes a job to the Adapter registered for its type, first
// clearing it against an optional rate limiter.
type Dispatcher struct {
	adapters map[jobs.Type]Adapter
	limiter  RateLimiter
	logger   *zap.Logger
}

func NewDispatcher(limiter RateLimiter, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{adapters: make(map[jobs.Type]Adapter), limiter: limiter, logger: logger}
}

func (d *Dispatcher) Register(t jobs.Type, a Adapter) {
	d.adapters[t] = a
}

func (d *Dispatcher) Dispatch(ctx context.Context, job *jobs.Job) (json.RawMessage, error) {
	a, ok := d.adapters[job.Type]
	if !ok {
		return nil, errUnregisteredType(job.Type)
	}

	if d.limiter != nil {
		allowed, _, err := d.limiter.Allow(ctx, string(job.Type))
		if err != nil {
			return nil, fmt.Errorf("rate limit check: %w", err)
		}
		if !allowed {
			return nil, fmt.Errorf("rate limited for job type %s, retry after a short delay", job.Type)
		}
	}

	return a.Execute(ctx, job)
}

// ProbeHealth calls HealthProbe on every registered adapter that
// implements HealthProber, ignoring adapters that don't (most of them —
// only the email adapter currently has degradable state to recover).
func (d *Dispatcher) ProbeHealth(ctx context.Context) {
	for t, a := range d.adapters {
		prober, ok := a.(HealthProber)
		if !ok {
			continue
		}
		if err := prober.HealthProbe(ctx); err != nil {
			d.logger.Warn("adapter health probe failed", zap.String("type", string(t)), zap.Error(err))
		}
	}
}

type unregisteredTypeError string

func (e unregisteredTypeError) Error() string {
	return "no adapter registered for job type " + string(e)
}

func errUnregisteredType(t jobs.Type) error {
	return unregisteredTypeError(t)
}
