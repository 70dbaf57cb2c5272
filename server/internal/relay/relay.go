package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/wardwatch/wardwatch/server/internal/alert"
	"github.com/wardwatch/wardwatch/server/internal/metrics"
)

// Default values for Relay.
const (
	DefaultQueueSize   = 256
	DefaultSendTimeout = 5 * time.Second
)

// Sink delivers events to one external system.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev alert.Event) error
}

// Relay queues events from the engine and delivers them to its sinks.
type Relay struct {
	sinks   []Sink
	queue   chan alert.Event
	timeout time.Duration
}

// New creates a Relay with a queue of queueSize events. Each Send is bounded
// by sendTimeout. Zero values select the defaults.
func New(queueSize int, sendTimeout time.Duration, sinks ...Sink) *Relay {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Relay{
		sinks:   sinks,
		queue:   make(chan alert.Event, queueSize),
		timeout: sendTimeout,
	}
}

// PublishAlertEvent queues ev without blocking.
func (r *Relay) PublishAlertEvent(ev alert.Event) {
	if len(r.sinks) == 0 {
		return
	}
	select {
	case r.queue <- ev:
	default:
		metrics.RelayEvents.WithLabelValues("queue", "dropped").Inc()
		slog.Warn("relay: queue full, event dropped",
			"alert_id", ev.Alert.ID,
			"event", ev.Type,
		)
	}
}

// Run delivers queued events until ctx is cancelled. Events still queued at
// cancellation are delivered before Run returns.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case ev := <-r.queue:
			r.dispatch(ctx, ev)
		}
	}
}

// --- internal ---------------------------------------------------------------

func (r *Relay) drain() {
	for {
		select {
		case ev := <-r.queue:
			r.dispatch(context.Background(), ev)
		default:
			return
		}
	}
}

func (r *Relay) dispatch(parent context.Context, ev alert.Event) {
	for _, s := range r.sinks {
		ctx, cancel := context.WithTimeout(parent, r.timeout)
		err := s.Send(ctx, ev)
		cancel()

		if err != nil {
			metrics.RelayEvents.WithLabelValues(s.Name(), "failed").Inc()
			slog.Error("relay: delivery failed",
				"sink", s.Name(),
				"alert_id", ev.Alert.ID,
				"event", ev.Type,
				"err", err,
			)
			continue
		}
		metrics.RelayEvents.WithLabelValues(s.Name(), "sent").Inc()
	}
}
