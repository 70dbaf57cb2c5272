package escalation

import (
	"log/slog"
	"sync"
	"time"
)

// FireFunc is invoked when an armed timer expires. tier is the tier the timer
// was armed for, so the callee can discard fires that no longer match.
type FireFunc func(alertID string, tier int)

// Scheduler tracks one cancellable timer per alert id.
//
// Scheduler is safe for concurrent use. FireFunc is called without any
// scheduler lock held, so it may call Arm or Cancel.
type Scheduler struct {
	policy *Policy
	fire   FireFunc

	mu      sync.Mutex
	timers  map[string]*pending
	seq     uint64
	stopped bool
}

type pending struct {
	gen   uint64
	tier  int
	due   time.Time
	timer *time.Timer
}

// NewScheduler creates a Scheduler that reads tier timeouts from p and calls
// fire on expiry.
func NewScheduler(p *Policy, fire FireFunc) *Scheduler {
	return &Scheduler{
		policy: p,
		fire:   fire,
		timers: make(map[string]*pending),
	}
}

// Arm starts the countdown for alertID at tier using the policy timeout.
// Any timer already pending for alertID is cancelled first.
func (s *Scheduler) Arm(alertID string, tier int) {
	s.ArmAfter(alertID, tier, s.policy.Timeout(tier))
}

// ArmAfter is Arm with an explicit delay. A non-positive d fires as soon as
// the runtime schedules the timer.
func (s *Scheduler) ArmAfter(alertID string, tier int, d time.Duration) {
	if d < 0 {
		d = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.timers[alertID]; ok {
		old.timer.Stop()
	}

	s.seq++
	p := &pending{gen: s.seq, tier: tier, due: time.Now().Add(d)}
	gen := p.gen
	// expire takes s.mu, so it cannot observe the map before p.timer is set.
	p.timer = time.AfterFunc(d, func() { s.expire(alertID, gen) })
	s.timers[alertID] = p
}

// Cancel stops and forgets the timer for alertID. No-op if none is pending.
func (s *Scheduler) Cancel(alertID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.timers[alertID]; ok {
		p.timer.Stop()
		delete(s.timers, alertID)
	}
}

// Armed returns the tier and due time of the pending timer for alertID.
func (s *Scheduler) Armed(alertID string) (tier int, due time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.timers[alertID]
	if !ok {
		return 0, time.Time{}, false
	}
	return p.tier, p.due, true
}

// Pending returns the number of outstanding timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending timer. Later calls to Arm are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, p := range s.timers {
		p.timer.Stop()
		delete(s.timers, id)
	}
}

// --- internal ---------------------------------------------------------------

func (s *Scheduler) expire(alertID string, gen uint64) {
	s.mu.Lock()
	p, ok := s.timers[alertID]
	if !ok || p.gen != gen {
		s.mu.Unlock()
		// Replaced or cancelled after the runtime already started this callback.
		slog.Debug("escalation: stale timer discarded", "alert_id", alertID)
		return
	}
	delete(s.timers, alertID)
	tier := p.tier
	s.mu.Unlock()

	s.fire(alertID, tier)
}
