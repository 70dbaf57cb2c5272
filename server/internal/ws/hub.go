package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wardwatch/wardwatch/server/internal/alert"
	"github.com/wardwatch/wardwatch/server/internal/auth"
	"github.com/wardwatch/wardwatch/server/internal/metrics"
	"github.com/wardwatch/wardwatch/server/internal/subscription"
)

// Default values for Options.
const (
	DefaultMetricsInterval = 5 * time.Second
	DefaultPongWait        = 60 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultPongDeadline    = 10 * time.Second
	DefaultSendBuffer      = 64
	DefaultMaxMessageBytes = 4096
	DefaultInboundRate     = 5
	DefaultInboundBurst    = 10
)

// ErrConnection marks a failed delivery to one session.
var ErrConnection = errors.New("ws: connection error")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; callers should apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Authenticator resolves the principal behind a handshake request.
type Authenticator interface {
	Authenticate(r *http.Request) (auth.Principal, error)
}

// MetricsSource supplies per-hospital alert statistics for the metrics tick.
type MetricsSource interface {
	Stats(hospitalID string) alert.Stats
}

// Options tunes a Hub. Zero values select the defaults.
type Options struct {
	// MetricsInterval is the cadence of the metrics tick.
	MetricsInterval time.Duration

	// PongWait is how long to wait for any pong before treating the peer as
	// dead.
	PongWait time.Duration

	// PingInterval controls how often ping frames are sent. Must be less
	// than PongWait. Defaults to 90% of PongWait.
	PingInterval time.Duration

	// WriteTimeout is the deadline for a single write to a client.
	WriteTimeout time.Duration

	// PongDeadline is how long a session whose event queue overflowed has to
	// answer the liveness ping before it is closed as a slow consumer.
	// Capped at PongWait.
	PongDeadline time.Duration

	// SendBuffer is the per-session alert event queue depth. Events beyond it
	// are summarised in a resync message instead of being queued.
	SendBuffer int

	// MaxMessageBytes bounds inbound client messages.
	MaxMessageBytes int64

	// InboundRate and InboundBurst limit client messages per second.
	InboundRate  float64
	InboundBurst int
}

func (o *Options) setDefaults() {
	if o.MetricsInterval <= 0 {
		o.MetricsInterval = DefaultMetricsInterval
	}
	if o.PongWait <= 0 {
		o.PongWait = DefaultPongWait
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = (o.PongWait * 9) / 10
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.PongDeadline <= 0 {
		o.PongDeadline = DefaultPongDeadline
	}
	if o.PongDeadline > o.PongWait {
		o.PongDeadline = o.PongWait
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if o.InboundRate <= 0 {
		o.InboundRate = DefaultInboundRate
	}
	if o.InboundBurst <= 0 {
		o.InboundBurst = DefaultInboundBurst
	}
}

// Hub fans alert events and metrics ticks out to subscribed sessions.
//
// Hub is safe for concurrent use.
type Hub struct {
	reg   *subscription.Registry
	authn Authenticator
	opts  Options
	now   func() time.Time

	mu       sync.RWMutex
	sessions map[*Session]struct{}
}

// NewHub creates a Hub indexing subscriptions in reg. authn may be nil, in
// which case every handshake is accepted with an empty principal.
func NewHub(reg *subscription.Registry, authn Authenticator, opts Options) *Hub {
	opts.setDefaults()
	return &Hub{
		reg:      reg,
		authn:    authn,
		opts:     opts,
		now:      time.Now,
		sessions: make(map[*Session]struct{}),
	}
}

// PublishAlertEvent delivers ev to every session subscribed to the alert's
// hospital. It never blocks on network I/O.
func (h *Hub) PublishAlertEvent(ev alert.Event) {
	subs := h.reg.SubscribersFor(ev.Alert.HospitalID, subscription.KindAlerts)
	if len(subs) == 0 {
		return
	}
	data, err := json.Marshal(AlertPayload{
		Event:      ev.Type,
		Alert:      ev.Alert,
		Renotify:   ev.Renotify,
		ServerTime: h.now().UTC(),
	})
	if err != nil {
		slog.Error("ws: encode alert event", "alert_id", ev.Alert.ID, "err", err)
		return
	}
	h.fanout(TypeAlert, subs, data)
}

// PublishMetricsTick delivers m to every metrics subscriber of hospitalID.
func (h *Hub) PublishMetricsTick(hospitalID string, m Metrics) {
	subs := h.reg.SubscribersFor(hospitalID, subscription.KindMetrics)
	if len(subs) == 0 {
		return
	}
	m.HospitalID = hospitalID
	if m.ServerTime.IsZero() {
		m.ServerTime = h.now().UTC()
	}
	data, err := json.Marshal(m)
	if err != nil {
		slog.Error("ws: encode metrics", "hospital", hospitalID, "err", err)
		return
	}
	h.fanout(TypeMetrics, subs, data)
}

// Run drives the metrics tick from src every MetricsInterval. Run blocks until
// ctx is cancelled, then closes all sessions.
func (h *Hub) Run(ctx context.Context, src MetricsSource) {
	t := time.NewTicker(h.opts.MetricsInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			if src != nil {
				h.tick(src)
			}
		}
	}
}

// ServeHTTP authenticates the handshake, upgrades the connection and serves
// the session. Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var p auth.Principal
	if h.authn != nil {
		var err error
		if p, err = h.authn.Authenticate(r); err != nil {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	s := newSession(h, conn, p)
	h.register(s)
	slog.Info("ws: session opened", "session", s.id, "identity", s.Identity(), "remote", r.RemoteAddr)

	go s.writePump()
	reason := s.readPump() // blocks until the connection fails
	s.Close(reason)
}

// Count returns the number of connected sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	metrics.Sessions.Inc()
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	_, ok := h.sessions[s]
	delete(h.sessions, s)
	h.mu.Unlock()
	if ok {
		metrics.Sessions.Dec()
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.Close(ReasonShutdown)
	}
}

func (h *Hub) tick(src MetricsSource) {
	for _, hospitalID := range h.reg.Hospitals(subscription.KindMetrics) {
		st := src.Stats(hospitalID)
		metrics.ActiveAlerts.WithLabelValues(hospitalID).Set(float64(st.Active))
		h.PublishMetricsTick(hospitalID, Metrics{
			ActiveAlertCount:       st.Active,
			StaffOnline:            h.reg.Identities(hospitalID),
			AvgResponseTimeSeconds: st.AvgResponse.Seconds(),
			CriticalAlertCount:     st.Critical,
		})
	}
}

// fanout wraps data once per subscription with that subscription's token.
// A failed delivery is counted and skipped; it never affects other sessions.
func (h *Hub) fanout(typ string, subs []subscription.Subscription, data json.RawMessage) {
	for _, sub := range subs {
		msg, err := json.Marshal(Envelope{
			Type:       typ,
			HospitalID: sub.HospitalID,
			Token:      sub.Token,
			Data:       data,
		})
		if err != nil {
			continue
		}
		if s, ok := sub.Subscriber.(*Session); ok {
			err = s.queue(sub, typ, msg)
		} else {
			err = sub.Subscriber.Deliver(msg)
		}
		if err != nil {
			if errors.Is(err, errClosed) {
				continue
			}
			metrics.DeliveryFailures.WithLabelValues(typ).Inc()
			if errors.Is(err, errBacklog) {
				// The session logs the overflow once per gap.
				continue
			}
			slog.Warn("ws: delivery failed",
				"subscriber", sub.Subscriber.ID(),
				"hospital", sub.HospitalID,
				"type", typ,
				"err", err,
			)
		}
	}
}
