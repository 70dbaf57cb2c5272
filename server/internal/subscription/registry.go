package subscription

import (
	"sort"
	"sync"
)

// Kind is the stream a subscription asks for.
type Kind string

const (
	KindAlerts  Kind = "alerts"
	KindMetrics Kind = "metrics"
)

// Valid reports whether k is a known stream kind.
func (k Kind) Valid() bool { return k == KindAlerts || k == KindMetrics }

// Subscriber is a live endpoint that can receive encoded messages.
type Subscriber interface {
	// ID uniquely identifies the subscriber for its lifetime.
	ID() string

	// Identity is the principal behind the subscriber. Several subscribers
	// may share one identity.
	Identity() string

	// Deliver queues msg for the subscriber. It must not block.
	Deliver(msg []byte) error
}

// Key addresses one stream of one hospital.
type Key struct {
	HospitalID string
	Kind       Kind
}

// Subscription is one subscriber's interest in a Key.
type Subscription struct {
	Subscriber Subscriber
	HospitalID string
	Kind       Kind
	Token      string
}

// Registry maps Keys to their current subscribers.
//
// Registry is safe for concurrent use. Critical sections only touch the maps.
type Registry struct {
	mu    sync.RWMutex
	index map[Key]map[string]Subscription
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[Key]map[string]Subscription)}
}

// Subscribe registers sub for hospitalID/kind. Subscribing again replaces the
// stored token and reports replaced=true.
func (r *Registry) Subscribe(sub Subscriber, hospitalID string, kind Kind, token string) (replaced bool) {
	k := Key{HospitalID: hospitalID, Kind: kind}
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.index[k]
	if !ok {
		subs = make(map[string]Subscription)
		r.index[k] = subs
	}
	_, replaced = subs[sub.ID()]
	subs[sub.ID()] = Subscription{Subscriber: sub, HospitalID: hospitalID, Kind: kind, Token: token}
	return replaced
}

// Unsubscribe removes sub from hospitalID/kind and reports whether it was
// present.
func (r *Registry) Unsubscribe(sub Subscriber, hospitalID string, kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remove(sub.ID(), Key{HospitalID: hospitalID, Kind: kind})
}

// RemoveAll drops sub from every key in keys in a single critical section and
// returns how many entries were removed.
func (r *Registry) RemoveAll(sub Subscriber, keys []Key) int {
	id := sub.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for _, k := range keys {
		if r.remove(id, k) {
			removed++
		}
	}
	return removed
}

// SubscribersFor returns a copy of the subscriptions for hospitalID/kind.
func (r *Registry) SubscribersFor(hospitalID string, kind Kind) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.index[Key{HospitalID: hospitalID, Kind: kind}]
	out := make([]Subscription, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	return out
}

// Hospitals returns the sorted hospital ids that have at least one subscriber
// of the given kind.
func (r *Registry) Hospitals(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.index))
	for k := range r.index {
		if k.Kind == kind {
			out = append(out, k.HospitalID)
		}
	}
	sort.Strings(out)
	return out
}

// Identities returns the number of distinct identities subscribed to any
// stream of hospitalID.
func (r *Registry) Identities(hospitalID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, kind := range []Kind{KindAlerts, KindMetrics} {
		for _, s := range r.index[Key{HospitalID: hospitalID, Kind: kind}] {
			seen[s.Subscriber.Identity()] = struct{}{}
		}
	}
	return len(seen)
}

// Len returns the total number of subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, subs := range r.index {
		n += len(subs)
	}
	return n
}

// remove must be called with r.mu held for writing.
func (r *Registry) remove(id string, k Key) bool {
	subs, ok := r.index[k]
	if !ok {
		return false
	}
	if _, ok := subs[id]; !ok {
		return false
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(r.index, k)
	}
	return true
}
