package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/wardwatch/wardwatch/server/internal/alert"
	"github.com/wardwatch/wardwatch/server/internal/metrics"
)

// Default values for RetryOptions.
const (
	DefaultInitialBackoff  = 1 * time.Second
	DefaultMaxBackoff      = 60 * time.Second
	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = 30 * time.Second
)

// RetryOptions tunes a Retrying store. Zero values select the defaults.
type RetryOptions struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// BreakerFailures is the number of consecutive failures that opens the
	// circuit breaker.
	BreakerFailures uint32

	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration
}

// Retrying wraps an alert.Store. A failed Persist is returned to the caller
// and the alert state is queued; Run keeps retrying queued states with
// exponential backoff until they are written. Only the newest version of each
// alert is kept in the queue.
type Retrying struct {
	next alert.Store
	cb   *gobreaker.CircuitBreaker
	opts RetryOptions

	mu      sync.Mutex
	pending map[string]alert.Alert
	wake    chan struct{}
}

// NewRetrying wraps next.
func NewRetrying(next alert.Store, opts RetryOptions) *Retrying {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = DefaultMaxBackoff
		if opts.MaxBackoff < opts.InitialBackoff {
			opts.MaxBackoff = opts.InitialBackoff
		}
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = DefaultBreakerFailures
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = DefaultBreakerTimeout
	}

	failures := opts.BreakerFailures
	return &Retrying{
		next: next,
		opts: opts,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "alert-store",
			MaxRequests: 1,
			Timeout:     opts.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				slog.Warn("store: circuit breaker state changed",
					"name", name,
					"from", from.String(),
					"to", to.String())
			},
		}),
		pending: make(map[string]alert.Alert),
		wake:    make(chan struct{}, 1),
	}
}

// LoadActive reads through the circuit breaker.
func (r *Retrying) LoadActive(ctx context.Context, hospitalID string) ([]alert.Alert, error) {
	res, err := r.cb.Execute(func() (interface{}, error) {
		return r.next.LoadActive(ctx, hospitalID)
	})
	if err != nil {
		return nil, fmt.Errorf("store: load active %s: %w", hospitalID, err)
	}
	return res.([]alert.Alert), nil
}

// Persist writes a through the circuit breaker. On failure a is queued for
// background retry and the error is returned.
func (r *Retrying) Persist(ctx context.Context, a alert.Alert) error {
	if err := r.write(ctx, a); err != nil {
		r.enqueue(a)
		return fmt.Errorf("store: persist %s v%d: %w", a.ID, a.Version, err)
	}
	return nil
}

// Pending returns the number of alert states waiting for a retry.
func (r *Retrying) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Run retries queued writes until ctx is cancelled.
func (r *Retrying) Run(ctx context.Context) {
	sched := newRetrySchedule(r.opts.InitialBackoff, r.opts.MaxBackoff)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		}

		for r.Pending() > 0 {
			if r.flush(ctx) {
				sched.succeeded()
				continue
			}
			d := sched.wait()
			slog.Debug("store: retry round failed", "pending", r.Pending(), "attempt", sched.attempts, "wait", d)
			select {
			case <-ctx.Done():
				return
			case <-time.After(d):
			}
		}
	}
}

// --- internal ---------------------------------------------------------------

func (r *Retrying) write(ctx context.Context, a alert.Alert) error {
	_, err := r.cb.Execute(func() (interface{}, error) {
		return nil, r.next.Persist(ctx, a)
	})
	return err
}

func (r *Retrying) enqueue(a alert.Alert) {
	r.mu.Lock()
	if cur, ok := r.pending[a.ID]; !ok || cur.Version < a.Version {
		r.pending[a.ID] = a
	}
	depth := len(r.pending)
	r.mu.Unlock()

	metrics.RetryQueueDepth.Set(float64(depth))
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// flush attempts every queued write once and reports whether all succeeded.
func (r *Retrying) flush(ctx context.Context) bool {
	r.mu.Lock()
	batch := make([]alert.Alert, 0, len(r.pending))
	for _, a := range r.pending {
		batch = append(batch, a)
	}
	r.mu.Unlock()

	ok := true
	for _, a := range batch {
		if err := r.write(ctx, a); err != nil {
			metrics.PersistRetries.WithLabelValues("failed").Inc()
			ok = false
			continue
		}
		metrics.PersistRetries.WithLabelValues("success").Inc()
		r.mu.Lock()
		// A newer version may have been queued while this one was in flight.
		if cur, found := r.pending[a.ID]; found && cur.Version == a.Version {
			delete(r.pending, a.ID)
		}
		r.mu.Unlock()
	}

	metrics.RetryQueueDepth.Set(float64(r.Pending()))
	if ok {
		slog.Info("store: retry queue drained", "written", len(batch))
	}
	return ok
}
