package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wardwatch/wardwatch/server/internal/alert"
)

// WebhookTarget is one outbound HTTP endpoint.
type WebhookTarget struct {
	// Type selects the payload shape: "slack", "teams" or "http".
	Type string
	URL  string

	// Events limits delivery to these event types. Empty means all.
	Events []alert.EventType
}

func (t WebhookTarget) wants(e alert.EventType) bool {
	if len(t.Events) == 0 {
		return true
	}
	for _, want := range t.Events {
		if want == e {
			return true
		}
	}
	return false
}

// WebhookSink posts events to HTTP targets.
type WebhookSink struct {
	targets []WebhookTarget
	client  *http.Client
}

// NewWebhookSink creates a sink for targets. Targets with an unknown type are
// rejected.
func NewWebhookSink(targets []WebhookTarget) (*WebhookSink, error) {
	for _, t := range targets {
		switch t.Type {
		case "slack", "teams", "http":
		default:
			return nil, fmt.Errorf("relay: unknown webhook type %q", t.Type)
		}
		if t.URL == "" {
			return nil, fmt.Errorf("relay: %s webhook has no url", t.Type)
		}
	}
	return &WebhookSink{
		targets: targets,
		client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Name implements Sink.
func (s *WebhookSink) Name() string { return "webhook" }

// Send implements Sink. Every matching target is attempted; the failures are
// joined.
func (s *WebhookSink) Send(ctx context.Context, ev alert.Event) error {
	var errs []error
	for _, t := range s.targets {
		if !t.wants(ev.Type) {
			continue
		}
		var body []byte
		switch t.Type {
		case "slack":
			body = slackBody(ev)
		case "teams":
			body = teamsBody(ev)
		default:
			body, _ = json.Marshal(ev)
		}
		if err := s.post(ctx, t.URL, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Type, err))
		}
	}
	return errors.Join(errs...)
}

func (s *WebhookSink) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func summary(ev alert.Event) string {
	a := ev.Alert
	switch ev.Type {
	case alert.EventCreated:
		return fmt.Sprintf("%s in room %s (%s)", a.Type, a.Room, a.HospitalID)
	case alert.EventEscalated:
		if ev.Renotify {
			return fmt.Sprintf("%s in room %s (%s) still unacknowledged at tier %d", a.Type, a.Room, a.HospitalID, a.Tier)
		}
		return fmt.Sprintf("%s in room %s (%s) escalated to tier %d", a.Type, a.Room, a.HospitalID, a.Tier)
	case alert.EventAcknowledged:
		return fmt.Sprintf("%s in room %s (%s) acknowledged by %s", a.Type, a.Room, a.HospitalID, a.AcknowledgedBy)
	default:
		return fmt.Sprintf("%s in room %s (%s) resolved by %s", a.Type, a.Room, a.HospitalID, a.ResolvedBy)
	}
}

func slackBody(ev alert.Event) []byte {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s", urgencyLabel(ev.Alert.Urgency), summary(ev)),
	})
	return body
}

func teamsBody(ev alert.Event) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": urgencyColor(ev.Alert.Urgency),
		"summary":    string(ev.Alert.Type),
		"title":      fmt.Sprintf("WardWatch %s: %s", ev.Type, ev.Alert.Type),
		"text":       summary(ev),
	})
	return body
}

func urgencyLabel(u int) string {
	switch u {
	case 1:
		return "[CRITICAL]"
	case 2:
		return "[URGENT]"
	default:
		return "[NOTICE]"
	}
}

func urgencyColor(u int) string {
	switch u {
	case 1:
		return "FF4F6A"
	case 2:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
