package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wardwatch/wardwatch/server/internal/auth"
	"github.com/wardwatch/wardwatch/server/internal/metrics"
	"github.com/wardwatch/wardwatch/server/internal/subscription"
)

// Close reasons.
const (
	ReasonDisconnected     = "disconnected"
	ReasonHeartbeatTimeout = "heartbeat timeout"
	ReasonSlowConsumer     = "slow consumer"
	ReasonShutdown         = "server shutdown"
)

// maxReplies bounds replies waiting for the write pump. Only a peer that keeps
// sending requests without reading anything can reach it.
const maxReplies = 64

var (
	errClosed  = errors.New("ws: session closed")
	errBacklog = fmt.Errorf("%w: event queue full", ErrConnection)
)

// Session is one live WebSocket connection. It owns its subscriptions; the
// registry only indexes them.
//
// Outgoing traffic is split three ways. Replies (acks, errors, pongs) and the
// newest metrics message per subscription are held on the session and written
// ahead of the next alert event. Alert events use a bounded FIFO queue. When
// that queue is full, further events for the hospital are counted instead of
// queued, a liveness ping is sent, and once the queue has room the client gets
// a "resync" message with the number it missed.
type Session struct {
	id          string
	hub         *Hub
	conn        *websocket.Conn
	principal   auth.Principal
	connectedAt time.Time
	limiter     *rate.Limiter
	send        chan []byte
	kick        chan struct{} // replies or metrics are waiting
	check       chan struct{} // liveness check requested
	done        chan struct{}
	closeOnce   sync.Once

	// suspect is set when the event queue overflows and cleared by the next
	// pong.
	suspect atomic.Bool

	// mu guards everything below and sends on the send channel.
	mu      sync.Mutex
	closed  bool
	reason  string
	subs    map[subscription.Key]string
	replies [][]byte
	latest  map[subscription.Key][]byte
	gaps    map[string]*gap
}

// gap counts alert events dropped for one hospital.
type gap struct {
	token  string
	missed int
}

func newSession(h *Hub, conn *websocket.Conn, p auth.Principal) *Session {
	return &Session{
		id:          uuid.NewString(),
		hub:         h,
		conn:        conn,
		principal:   p,
		connectedAt: h.now(),
		limiter:     rate.NewLimiter(rate.Limit(h.opts.InboundRate), h.opts.InboundBurst),
		send:        make(chan []byte, h.opts.SendBuffer),
		kick:        make(chan struct{}, 1),
		check:       make(chan struct{}, 1),
		done:        make(chan struct{}),
		subs:        make(map[subscription.Key]string),
		latest:      make(map[subscription.Key][]byte),
		gaps:        make(map[string]*gap),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Identity returns the principal subject, or the session id for anonymous
// sessions.
func (s *Session) Identity() string {
	if s.principal.Subject != "" {
		return s.principal.Subject
	}
	return s.id
}

// ConnectedAt returns when the session was accepted.
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Deliver queues msg on the event queue without blocking. A full queue starts
// a liveness check and returns an error wrapping ErrConnection; the session
// stays open.
func (s *Session) Deliver(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	select {
	case s.send <- msg:
		return nil
	default:
	}
	s.checkLiveness()
	return errBacklog
}

// Close tears the session down: it stops delivery, removes every owned
// subscription from the registry and deregisters from the hub. Only the first
// call has any effect.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.reason = reason
		keys := make([]subscription.Key, 0, len(s.subs))
		for k := range s.subs {
			keys = append(keys, k)
		}
		s.subs = make(map[subscription.Key]string)
		close(s.send)
		s.mu.Unlock()

		s.hub.reg.RemoveAll(s, keys)
		s.hub.unregister(s)
		close(s.done)

		metrics.SessionsClosed.WithLabelValues(reason).Inc()
		slog.Info("ws: session closed",
			"session", s.id,
			"identity", s.Identity(),
			"reason", reason,
			"subscriptions", len(keys),
			"duration", time.Since(s.connectedAt).Round(time.Millisecond).String(),
		)
	})
}

// --- internal ---------------------------------------------------------------

// queue accepts one fan-out message for sub. Metrics replace any metrics
// message still waiting for the same subscription. Alert events go through
// the FIFO queue; while a hospital has an unreported gap its events are only
// counted, so the resync notice precedes anything newer.
func (s *Session) queue(sub subscription.Subscription, typ string, msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	if typ == TypeMetrics {
		s.latest[subscription.Key{HospitalID: sub.HospitalID, Kind: sub.Kind}] = msg
		s.wake()
		return nil
	}

	if g, ok := s.gaps[sub.HospitalID]; ok {
		g.missed++
		g.token = sub.Token
		return errBacklog
	}
	select {
	case s.send <- msg:
		return nil
	default:
	}
	s.gaps[sub.HospitalID] = &gap{token: sub.Token, missed: 1}
	slog.Warn("ws: event queue full, holding a resync notice",
		"session", s.id,
		"identity", s.Identity(),
		"hospital", sub.HospitalID,
	)
	s.checkLiveness()
	return errBacklog
}

// checkLiveness asks the write pump for an out-of-band ping unless one is
// already outstanding.
func (s *Session) checkLiveness() {
	if !s.suspect.CompareAndSwap(false, true) {
		return
	}
	metrics.LivenessChecks.Inc()
	select {
	case s.check <- struct{}{}:
	default:
	}
}

func (s *Session) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Session) handle(raw []byte) {
	if !s.limiter.Allow() {
		s.reply(Envelope{Type: TypeError, Error: "rate limited"})
		return
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		s.reply(Envelope{Type: TypeError, Error: "malformed message"})
		return
	}

	var err error
	switch req.Type {
	case TypeSubscribe:
		err = s.handleSubscribe(req)
	case TypeUnsubscribe:
		err = s.handleUnsubscribe(req)
	case TypePing:
		// An application ping proves the peer writes, not that it reads.
		if !s.suspect.Load() {
			s.conn.SetReadDeadline(time.Now().Add(s.hub.opts.PongWait)) //nolint:errcheck
		}
		s.reply(Envelope{Type: TypePong, RequestID: req.RequestID})
	default:
		err = fmt.Errorf("unknown message type %q", req.Type)
	}
	if err != nil && !errors.Is(err, errClosed) {
		s.reply(Envelope{Type: TypeError, RequestID: req.RequestID, Error: err.Error()})
	}
}

// handleSubscribe registers the subscription and queues its ack under s.mu,
// so the ack is written before any event published after registration.
func (s *Session) handleSubscribe(req Request) error {
	kind := subscription.Kind(req.Kind)
	if !kind.Valid() {
		return fmt.Errorf("unknown kind %q", req.Kind)
	}
	if req.HospitalID == "" {
		return errors.New("hospital_id is required")
	}
	if !s.principal.CanAccess(req.HospitalID) {
		return fmt.Errorf("not authorized for hospital %s", req.HospitalID)
	}
	token := req.Token
	if token == "" {
		token = uuid.NewString()
	}
	ack, err := json.Marshal(Envelope{
		Type:       TypeSubscribed,
		RequestID:  req.RequestID,
		HospitalID: req.HospitalID,
		Kind:       req.Kind,
		Token:      token,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	s.subs[subscription.Key{HospitalID: req.HospitalID, Kind: kind}] = token
	s.hub.reg.Subscribe(s, req.HospitalID, kind, token)
	ok := s.replyLocked(ack)
	s.mu.Unlock()

	if !ok {
		s.Close(ReasonSlowConsumer)
		return errClosed
	}
	slog.Debug("ws: subscribed", "session", s.id, "hospital", req.HospitalID, "kind", kind)
	return nil
}

// handleUnsubscribe removes the subscription. Unknown subscriptions are
// acknowledged all the same.
func (s *Session) handleUnsubscribe(req Request) error {
	kind := subscription.Kind(req.Kind)
	if !kind.Valid() {
		return fmt.Errorf("unknown kind %q", req.Kind)
	}
	ack, err := json.Marshal(Envelope{
		Type:       TypeUnsubscribed,
		RequestID:  req.RequestID,
		HospitalID: req.HospitalID,
		Kind:       req.Kind,
	})
	if err != nil {
		return err
	}

	key := subscription.Key{HospitalID: req.HospitalID, Kind: kind}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	delete(s.subs, key)
	delete(s.latest, key)
	s.hub.reg.Unsubscribe(s, req.HospitalID, kind)
	ok := s.replyLocked(ack)
	s.mu.Unlock()

	if !ok {
		s.Close(ReasonSlowConsumer)
		return errClosed
	}
	return nil
}

func (s *Session) reply(env Envelope) {
	msg, err := json.Marshal(env)
	if err != nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ok := s.replyLocked(msg)
	s.mu.Unlock()
	if !ok {
		s.Close(ReasonSlowConsumer)
	}
}

// replyLocked must be called with s.mu held and s.closed false. It reports
// false when the reply backlog is exhausted.
func (s *Session) replyLocked(msg []byte) bool {
	if len(s.replies) >= maxReplies {
		return false
	}
	s.replies = append(s.replies, msg)
	s.wake()
	return true
}

// takePending removes and returns the waiting replies followed by the waiting
// metrics messages.
func (s *Session) takePending() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 && len(s.latest) == 0 {
		return nil
	}
	out := append(make([][]byte, 0, len(s.replies)+len(s.latest)), s.replies...)
	s.replies = nil
	for k, msg := range s.latest {
		out = append(out, msg)
		delete(s.latest, k)
	}
	return out
}

// flushGaps queues one resync notice per hospital with dropped events, as far
// as the event queue has room.
func (s *Session) flushGaps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.gaps) == 0 {
		return
	}
	now := s.hub.now().UTC()
	for hospitalID, g := range s.gaps {
		data, err := json.Marshal(Resync{Missed: g.missed, ServerTime: now})
		if err != nil {
			continue
		}
		msg, err := json.Marshal(Envelope{
			Type:       TypeResync,
			HospitalID: hospitalID,
			Kind:       string(subscription.KindAlerts),
			Token:      g.token,
			Data:       data,
		})
		if err != nil {
			continue
		}
		select {
		case s.send <- msg:
		default:
			return
		}
		delete(s.gaps, hospitalID)
		metrics.ResyncNotices.Inc()
		slog.Info("ws: resync notice queued", "session", s.id, "hospital", hospitalID, "missed", g.missed)
	}
}

func (s *Session) closeReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Session) write(typ int, msg []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(s.hub.opts.WriteTimeout)) //nolint:errcheck
	return s.conn.WriteMessage(typ, msg)
}

func (s *Session) writePending() error {
	for _, msg := range s.takePending() {
		if err := s.write(websocket.TextMessage, msg); err != nil {
			return err
		}
	}
	return nil
}

// writePump drains the session's queues to the connection and sends periodic
// ping frames. Runs in its own goroutine per session.
func (s *Session) writePump() {
	o := s.hub.opts
	ticker := time.NewTicker(o.PingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			if !ok {
				// Session closed; tell the peer why.
				s.conn.SetWriteDeadline(time.Now().Add(o.WriteTimeout)) //nolint:errcheck
				s.conn.WriteMessage(websocket.CloseMessage, //nolint:errcheck
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, s.closeReason()))
				return
			}
			if err := s.writePending(); err != nil {
				return
			}
			if err := s.write(websocket.TextMessage, msg); err != nil {
				return
			}
			s.flushGaps()

		case <-s.kick:
			if err := s.writePending(); err != nil {
				return
			}

		case <-s.check:
			// The pong has to come back within PongDeadline or the read pump
			// gives up on the peer.
			s.conn.SetReadDeadline(time.Now().Add(o.PongDeadline)) //nolint:errcheck
			if err := s.write(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client messages and pong frames until the connection fails,
// then returns the close reason.
func (s *Session) readPump() string {
	o := s.hub.opts
	s.conn.SetReadLimit(o.MaxMessageBytes)
	s.conn.SetReadDeadline(time.Now().Add(o.PongWait)) //nolint:errcheck
	s.conn.SetPongHandler(func(string) error {
		s.suspect.Store(false)
		return s.conn.SetReadDeadline(time.Now().Add(o.PongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if s.suspect.Load() {
					return ReasonSlowConsumer
				}
				return ReasonHeartbeatTimeout
			}
			return ReasonDisconnected
		}
		s.handle(raw)
	}
}
