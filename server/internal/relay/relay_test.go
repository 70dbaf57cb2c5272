package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wardwatch/wardwatch/server/internal/alert"
)

type recordingSink struct {
	name string
	err  error

	mu     sync.Mutex
	events []alert.Event
	block  chan struct{}
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(ctx context.Context, ev alert.Event) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func event(id string, typ alert.EventType) alert.Event {
	return alert.Event{
		Type:  typ,
		Alert: alert.Alert{ID: id, HospitalID: "H1", Room: "ER-2", Type: alert.TypeCodeBlue, Urgency: 1},
		At:    time.Now(),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestRelay_DeliversToEverySink(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b", err: errors.New("down")}
	r := New(8, time.Second, a, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.PublishAlertEvent(event("x1", alert.EventCreated))
	r.PublishAlertEvent(event("x1", alert.EventEscalated))

	waitFor(t, func() bool { return a.count() == 2 && b.count() == 2 })

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.events[0].Type != alert.EventCreated || a.events[1].Type != alert.EventEscalated {
		t.Errorf("order: got %s, %s", a.events[0].Type, a.events[1].Type)
	}
}

func TestRelay_FullQueueDropsWithoutBlocking(t *testing.T) {
	s := &recordingSink{name: "slow", block: make(chan struct{})}
	r := New(1, time.Second, s)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			r.PublishAlertEvent(event("x", alert.EventCreated))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PublishAlertEvent blocked on a full queue")
	}
	if n := len(r.queue); n != 1 {
		t.Errorf("queue depth: got %d, want 1", n)
	}
	close(s.block)
}

func TestRelay_DrainsOnCancel(t *testing.T) {
	s := &recordingSink{name: "s"}
	r := New(8, time.Second, s)

	r.PublishAlertEvent(event("x1", alert.EventCreated))
	r.PublishAlertEvent(event("x2", alert.EventCreated))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx)

	if n := s.count(); n != 2 {
		t.Errorf("delivered: got %d, want 2", n)
	}
}

func TestRelay_NoSinksIsNoop(t *testing.T) {
	r := New(1, time.Second)
	r.PublishAlertEvent(event("x", alert.EventCreated))
	r.PublishAlertEvent(event("x", alert.EventCreated))
	if n := len(r.queue); n != 0 {
		t.Errorf("queue depth: got %d, want 0", n)
	}
}
