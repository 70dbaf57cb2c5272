package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wardwatch/wardwatch/server/internal/alert"
)

// DefaultSubjectPrefix is the root of the subject tree.
const DefaultSubjectPrefix = "wardwatch.alerts"

// Connect opens a NATS connection that reconnects forever.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("relay: nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("relay: nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("relay: connect nats %s: %w", url, err)
	}
	return nc, nil
}

// NATSSink publishes each event as JSON on <prefix>.<hospital>.<event>.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSSink publishes on nc below prefix.
func NewNATSSink(nc *nats.Conn, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{nc: nc, prefix: prefix}
}

// Name implements Sink.
func (s *NATSSink) Name() string { return "nats" }

// Send implements Sink. Publishing is buffered by the client; ctx is unused.
func (s *NATSSink) Send(_ context.Context, ev alert.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	subj := s.Subject(ev)
	if err := s.nc.Publish(subj, data); err != nil {
		return fmt.Errorf("publish %s: %w", subj, err)
	}
	return nil
}

// Subject returns the subject ev is published on.
func (s *NATSSink) Subject(ev alert.Event) string {
	return s.prefix + "." + subjectToken(ev.Alert.HospitalID) + "." + string(ev.Type)
}

// subjectToken makes id safe to use as a single subject token.
func subjectToken(id string) string {
	if id == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, id)
}
