package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/wardwatch/wardwatch/server/internal/alert"
)

type capture struct {
	mu     sync.Mutex
	bodies [][]byte
	status int
}

func (c *capture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, b)
		c.mu.Unlock()
		if c.status != 0 {
			w.WriteHeader(c.status)
		}
	}
}

func (c *capture) last(t *testing.T) []byte {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bodies) == 0 {
		t.Fatal("no request received")
	}
	return c.bodies[len(c.bodies)-1]
}

func TestWebhookSink_Slack(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler())
	defer srv.Close()

	s, err := NewWebhookSink([]WebhookTarget{{Type: "slack", URL: srv.URL}})
	if err != nil {
		t.Fatalf("NewWebhookSink: %v", err)
	}
	ev := event("a1", alert.EventEscalated)
	ev.Alert.Tier = 3
	if err := s.Send(context.Background(), ev); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var body map[string]string
	if err := json.Unmarshal(c.last(t), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(body["text"], "*[CRITICAL]*") {
		t.Errorf("text: got %q, want [CRITICAL] prefix", body["text"])
	}
	if !strings.Contains(body["text"], "escalated to tier 3") {
		t.Errorf("text: got %q", body["text"])
	}
}

func TestWebhookSink_TeamsCard(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler())
	defer srv.Close()

	s, _ := NewWebhookSink([]WebhookTarget{{Type: "teams", URL: srv.URL}})
	if err := s.Send(context.Background(), event("a1", alert.EventCreated)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var card map[string]interface{}
	if err := json.Unmarshal(c.last(t), &card); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if card["@type"] != "MessageCard" {
		t.Errorf("@type: got %v", card["@type"])
	}
	if card["themeColor"] != "FF4F6A" {
		t.Errorf("themeColor: got %v, want FF4F6A", card["themeColor"])
	}
}

func TestWebhookSink_EventFilter(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler())
	defer srv.Close()

	s, _ := NewWebhookSink([]WebhookTarget{{
		Type:   "http",
		URL:    srv.URL,
		Events: []alert.EventType{alert.EventEscalated},
	}})
	s.Send(context.Background(), event("a1", alert.EventCreated))   //nolint:errcheck
	s.Send(context.Background(), event("a1", alert.EventEscalated)) //nolint:errcheck

	c.mu.Lock()
	n := len(c.bodies)
	c.mu.Unlock()
	if n != 1 {
		t.Fatalf("requests: got %d, want 1", n)
	}
	var got alert.Event
	if err := json.Unmarshal(c.last(t), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != alert.EventEscalated {
		t.Errorf("event: got %s, want escalated", got.Type)
	}
}

func TestWebhookSink_HTTPErrorIsReturned(t *testing.T) {
	c := &capture{status: http.StatusBadGateway}
	srv := httptest.NewServer(c.handler())
	defer srv.Close()

	s, _ := NewWebhookSink([]WebhookTarget{{Type: "http", URL: srv.URL}})
	err := s.Send(context.Background(), event("a1", alert.EventCreated))
	if err == nil || !strings.Contains(err.Error(), "HTTP 502") {
		t.Errorf("err: got %v, want HTTP 502", err)
	}
}

func TestNewWebhookSink_RejectsUnknownType(t *testing.T) {
	if _, err := NewWebhookSink([]WebhookTarget{{Type: "pager", URL: "http://x"}}); err == nil {
		t.Error("expected error for unknown type")
	}
	if _, err := NewWebhookSink([]WebhookTarget{{Type: "slack"}}); err == nil {
		t.Error("expected error for missing url")
	}
}
