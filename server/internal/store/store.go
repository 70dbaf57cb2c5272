package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wardwatch/wardwatch/server/internal/alert"
)

// Memory is a thread-safe in-memory alert store keyed by alert id.
// A background goroutine (Run) evicts resolved alerts older than the
// configured retention.
type Memory struct {
	mu        sync.RWMutex
	data      map[string]alert.Alert
	retention time.Duration
	now       func() time.Time // injectable for deterministic tests
}

// NewMemory creates a Memory store that keeps resolved alerts for retention.
func NewMemory(retention time.Duration) *Memory {
	return &Memory{
		data:      make(map[string]alert.Alert),
		retention: retention,
		now:       time.Now,
	}
}

// LoadActive returns the unresolved alerts of hospitalID.
func (m *Memory) LoadActive(_ context.Context, hospitalID string) ([]alert.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]alert.Alert, 0)
	for _, a := range m.data {
		if a.HospitalID == hospitalID && a.Open() {
			out = append(out, a)
		}
	}
	return out, nil
}

// Persist stores a unless the stored copy has the same or a newer version.
func (m *Memory) Persist(_ context.Context, a alert.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.data[a.ID]; ok && cur.Version >= a.Version {
		return nil
	}
	m.data[a.ID] = a
	return nil
}

// Get returns the stored alert for id.
func (m *Memory) Get(id string) (alert.Alert, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.data[id]
	return a, ok
}

// Count returns the number of stored alerts, resolved ones included.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Evict removes resolved alerts whose resolution is older than now minus
// retention. It returns the number of alerts removed.
func (m *Memory) Evict(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now.Add(-m.retention)
	removed := 0
	for id, a := range m.data {
		if a.ResolvedAt != nil && !a.ResolvedAt.After(cutoff) {
			delete(m.data, id)
			removed++
		}
	}
	return removed
}

// Run starts the background eviction loop. It ticks at half the retention
// (minimum 1 second). Run blocks until ctx is cancelled.
func (m *Memory) Run(ctx context.Context) {
	interval := m.retention / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := m.Evict(m.now()); n > 0 {
				slog.Debug("store: evicted resolved alerts", "count", n)
			}
		}
	}
}
