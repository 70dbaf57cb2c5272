package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardwatch/wardwatch/server/internal/escalation"
	"github.com/wardwatch/wardwatch/server/internal/metrics"
)

// Default values for Options.
const (
	DefaultMaxDescription = 500
	DefaultArchiveSize    = 200
)

// Publisher receives lifecycle events. PublishAlertEvent is called with the
// alert's lock held and must not block.
type Publisher interface {
	PublishAlertEvent(Event)
}

// Store is the durable storage the engine writes through.
type Store interface {
	// LoadActive returns every unresolved alert for hospitalID.
	LoadActive(ctx context.Context, hospitalID string) ([]Alert, error)

	// Persist records a. Writes whose Version is not newer than the stored
	// one must be ignored.
	Persist(ctx context.Context, a Alert) error
}

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	// MaxDescription bounds the description length in characters.
	MaxDescription int

	// ArchiveSize is how many resolved alerts stay queryable before the
	// oldest are evicted.
	ArchiveSize int

	// CreatorRoles lists the roles allowed to raise alerts. Empty allows
	// every role.
	CreatorRoles []string
}

// Engine is the alert state machine.
//
// Engine is safe for concurrent use.
type Engine struct {
	policy *escalation.Policy
	sched  *escalation.Scheduler
	store  Store
	pubs   []Publisher
	opts   Options
	now    func() time.Time // injectable for deterministic tests

	// mu guards the entries map and the archive order only. It is never held
	// while an entry lock is being acquired.
	mu       sync.RWMutex
	entries  map[string]*entry
	archived []string
}

// entry serialises every mutation of one alert.
type entry struct {
	mu sync.Mutex
	a  Alert
}

// NewEngine creates an Engine that escalates according to policy, writes
// through st and emits events to pubs. st may be nil for a memory-only engine.
func NewEngine(policy *escalation.Policy, st Store, opts Options, pubs ...Publisher) *Engine {
	if opts.MaxDescription <= 0 {
		opts.MaxDescription = DefaultMaxDescription
	}
	if opts.ArchiveSize <= 0 {
		opts.ArchiveSize = DefaultArchiveSize
	}
	e := &Engine{
		policy:  policy,
		store:   st,
		pubs:    pubs,
		opts:    opts,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	e.sched = escalation.NewScheduler(policy, e.fire)
	return e
}

// Create validates req, registers a new alert at tier 1 and arms its
// escalation timer.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (Alert, error) {
	if !e.mayCreate(req.CreatorRole) {
		return Alert{}, forbidden(CodeNotCreator, "role %q may not raise alerts", req.CreatorRole)
	}
	if err := req.validate(e.policy.Len(), e.opts.MaxDescription); err != nil {
		return Alert{}, err
	}

	now := e.now()
	en := &entry{a: Alert{
		ID:            uuid.NewString(),
		HospitalID:    req.HospitalID,
		Room:          req.Room,
		Type:          req.Type,
		Urgency:       req.Urgency,
		Description:   req.Description,
		CreatedBy:     req.CreatedBy,
		CreatedAt:     now,
		Tier:          1,
		TierEnteredAt: now,
		Status:        StatusActive,
		Version:       1,
	}}

	// Hold the entry lock across insertion so no other operation can emit an
	// event for this alert before "created".
	en.mu.Lock()
	e.mu.Lock()
	e.entries[en.a.ID] = en
	e.mu.Unlock()

	e.sched.Arm(en.a.ID, 1)
	snap := en.a
	e.emit(Event{Type: EventCreated, Alert: snap, At: now})
	en.mu.Unlock()

	slog.Warn("alert: created",
		"alert_id", snap.ID,
		"hospital", snap.HospitalID,
		"room", snap.Room,
		"type", snap.Type,
		"urgency", snap.Urgency,
	)
	return snap, e.persist(ctx, snap)
}

// Acknowledge records that responder, acting as role, has taken the alert.
// It cancels the pending escalation timer.
func (e *Engine) Acknowledge(ctx context.Context, id, responder, role string) (Alert, error) {
	en, ok := e.lookup(id)
	if !ok {
		return Alert{}, notFound(id)
	}

	en.mu.Lock()
	switch en.a.Status {
	case StatusResolved:
		en.mu.Unlock()
		return Alert{}, invalidState(CodeAlreadyResolved, "alert %s is already resolved", id)
	case StatusAcknowledged:
		en.mu.Unlock()
		return Alert{}, invalidState(CodeAlreadyAcknowledged,
			"alert %s was already acknowledged by %s", id, en.a.AcknowledgedBy)
	}
	if responder == "" {
		en.mu.Unlock()
		return Alert{}, validationError("responder is required")
	}
	if !e.policy.Eligible(en.a.Tier, role) {
		tier := en.a.Tier
		en.mu.Unlock()
		return Alert{}, forbidden(CodeNotEligible, "role %q may not acknowledge alert %s at tier %d", role, id, tier)
	}

	now := e.now()
	en.a.Status = StatusAcknowledged
	en.a.AcknowledgedBy = responder
	en.a.AcknowledgedAt = &now
	en.a.Version++
	e.sched.Cancel(id)
	snap := en.a
	e.emit(Event{Type: EventAcknowledged, Alert: snap, At: now})
	en.mu.Unlock()

	metrics.AcknowledgeLatency.Observe(now.Sub(snap.CreatedAt).Seconds())
	slog.Info("alert: acknowledged",
		"alert_id", id,
		"responder", responder,
		"role", role,
		"tier", snap.Tier,
	)
	return snap, e.persist(ctx, snap)
}

// Resolve closes the alert from any non-resolved state and moves it to the
// archive.
func (e *Engine) Resolve(ctx context.Context, id, resolver string) (Alert, error) {
	en, ok := e.lookup(id)
	if !ok {
		return Alert{}, notFound(id)
	}

	en.mu.Lock()
	if en.a.Status == StatusResolved {
		en.mu.Unlock()
		return Alert{}, invalidState(CodeAlreadyResolved, "alert %s is already resolved", id)
	}
	if resolver == "" {
		en.mu.Unlock()
		return Alert{}, validationError("resolver is required")
	}

	now := e.now()
	en.a.Status = StatusResolved
	en.a.ResolvedBy = resolver
	en.a.ResolvedAt = &now
	en.a.Version++
	e.sched.Cancel(id)
	snap := en.a
	e.emit(Event{Type: EventResolved, Alert: snap, At: now})
	en.mu.Unlock()

	e.archive(id)
	slog.Info("alert: resolved", "alert_id", id, "resolver", resolver)
	return snap, e.persist(ctx, snap)
}

// Escalate advances the alert one tier, or re-notifies at the last tier.
// It is a silent no-op when the alert is unknown or no longer escalating.
func (e *Engine) Escalate(ctx context.Context, id string) error {
	return e.advance(ctx, id, 0)
}

// Get returns the current state of an open or archived alert.
func (e *Engine) Get(id string) (Alert, error) {
	en, ok := e.lookup(id)
	if !ok {
		return Alert{}, notFound(id)
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.a, nil
}

// List returns open and archived alerts for hospitalID, newest first.
func (e *Engine) List(hospitalID string) []Alert {
	return e.collect(hospitalID, func(Alert) bool { return true })
}

// Active returns the open alerts for hospitalID, newest first.
func (e *Engine) Active(hospitalID string) []Alert {
	return e.collect(hospitalID, Alert.Open)
}

// Stats summarises hospitalID for the metrics stream.
func (e *Engine) Stats(hospitalID string) Stats {
	var (
		st    Stats
		total time.Duration
		acked int
	)
	for _, a := range e.List(hospitalID) {
		if a.Open() {
			st.Active++
			if a.Critical() {
				st.Critical++
			}
		}
		if a.AcknowledgedAt != nil {
			total += a.AcknowledgedAt.Sub(a.CreatedAt)
			acked++
		}
	}
	if acked > 0 {
		st.AvgResponse = total / time.Duration(acked)
	}
	return st
}

// Restore loads unresolved alerts for each hospital from the store and re-arms
// their timers with whatever time remains at the current tier. Alerts already
// tracked are left untouched. It returns the number of alerts restored.
func (e *Engine) Restore(ctx context.Context, hospitalIDs []string) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	restored := 0
	for _, h := range hospitalIDs {
		alerts, err := e.store.LoadActive(ctx, h)
		if err != nil {
			return restored, fmt.Errorf("alert: restore hospital %s: %w", h, err)
		}
		for _, a := range alerts {
			if !a.Open() || a.Tier < 1 {
				continue
			}
			if e.insertRestored(a) {
				restored++
			}
		}
	}
	if restored > 0 {
		slog.Info("alert: restored open alerts", "count", restored)
	}
	return restored, nil
}

// Pending returns the number of armed escalation timers.
func (e *Engine) Pending() int { return e.sched.Pending() }

// Close stops every escalation timer.
func (e *Engine) Close() { e.sched.Stop() }

// --- internal ---------------------------------------------------------------

func (e *Engine) fire(id string, tier int) {
	if err := e.advance(context.Background(), id, tier); err != nil {
		slog.Error("alert: escalation not persisted", "alert_id", id, "err", err)
	}
}

// advance applies a timeout. armedTier is the tier the timer was armed for,
// or 0 to accept any tier.
func (e *Engine) advance(ctx context.Context, id string, armedTier int) error {
	en, ok := e.lookup(id)
	if !ok {
		slog.Debug("alert: escalation for untracked alert discarded", "alert_id", id)
		return nil
	}

	en.mu.Lock()
	if !en.a.Escalating() || (armedTier != 0 && en.a.Tier != armedTier) {
		en.mu.Unlock()
		return nil
	}

	now := e.now()
	renotify := e.policy.IsLast(en.a.Tier)
	if !renotify {
		en.a.Tier++
		en.a.TierEnteredAt = now
		e.sched.Arm(id, en.a.Tier)
	}
	en.a.Status = StatusEscalated
	en.a.Version++
	snap := en.a
	e.emit(Event{Type: EventEscalated, Alert: snap, Renotify: renotify, At: now})
	en.mu.Unlock()

	if renotify {
		metrics.Renotifications.Inc()
	}
	slog.Warn("alert: escalated",
		"alert_id", id,
		"hospital", snap.HospitalID,
		"tier", snap.Tier,
		"renotify", renotify,
	)
	return e.persist(ctx, snap)
}

func (e *Engine) insertRestored(a Alert) bool {
	if last := e.policy.Len(); a.Tier > last {
		// The ladder was shortened since the alert was stored.
		slog.Warn("alert: restored tier beyond policy, clamping to last tier",
			"alert_id", a.ID,
			"tier", a.Tier,
			"last_tier", last,
		)
		a.Tier = last
	}
	en := &entry{a: a}
	en.mu.Lock()
	defer en.mu.Unlock()

	e.mu.Lock()
	if _, exists := e.entries[a.ID]; exists {
		e.mu.Unlock()
		return false
	}
	e.entries[a.ID] = en
	e.mu.Unlock()

	if !a.Escalating() {
		return true
	}
	remaining := e.policy.Timeout(a.Tier) - e.now().Sub(a.TierEnteredAt)
	// A last-tier alert already past its timeout has re-notified before.
	if e.policy.IsLast(a.Tier) && a.Status == StatusEscalated && remaining <= 0 {
		return true
	}
	e.sched.ArmAfter(a.ID, a.Tier, remaining)
	return true
}

func (e *Engine) mayCreate(role string) bool {
	if len(e.opts.CreatorRoles) == 0 {
		return true
	}
	for _, r := range e.opts.CreatorRoles {
		if r == role {
			return true
		}
	}
	return false
}

func (e *Engine) lookup(id string) (*entry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	en, ok := e.entries[id]
	return en, ok
}

func (e *Engine) collect(hospitalID string, keep func(Alert) bool) []Alert {
	e.mu.RLock()
	ens := make([]*entry, 0, len(e.entries))
	for _, en := range e.entries {
		ens = append(ens, en)
	}
	e.mu.RUnlock()

	out := make([]Alert, 0, len(ens))
	for _, en := range ens {
		en.mu.Lock()
		a := en.a
		en.mu.Unlock()
		if a.HospitalID == hospitalID && keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// archive records id as resolved and evicts the oldest archived alerts past
// the configured bound.
func (e *Engine) archive(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.archived = append(e.archived, id)
	for len(e.archived) > e.opts.ArchiveSize {
		delete(e.entries, e.archived[0])
		e.archived = e.archived[1:]
	}
}

func (e *Engine) emit(ev Event) {
	metrics.AlertEvents.WithLabelValues(string(ev.Type)).Inc()
	for _, p := range e.pubs {
		p.PublishAlertEvent(ev)
	}
}

func (e *Engine) persist(ctx context.Context, a Alert) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.Persist(ctx, a); err != nil {
		metrics.PersistFailures.Inc()
		slog.Error("alert: persist failed",
			"alert_id", a.ID,
			"version", a.Version,
			"err", err,
		)
		return persistenceError(a, err)
	}
	return nil
}
