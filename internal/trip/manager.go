package trip

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager owns one Tracker per vehicle and sweeps vehicles that stopped
// reporting.
type Manager struct {
	deps          *Deps
	staleAfter    time.Duration
	sweepInterval time.Duration

	mu       sync.Mutex
	trackers map[string]*Tracker

	sweepCancel context.CancelFunc
	sweepWG     sync.WaitGroup
}

func NewManager(deps Deps, staleAfter, sweepInterval time.Duration) *Manager {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Manager{
		deps:          &deps,
		staleAfter:    staleAfter,
		sweepInterval: sweepInterval,
		trackers:      make(map[string]*Tracker),
	}
}

// Get returns the tracker of id, creating an offline one on first use.
func (m *Manager) Get(id string) *Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trackers[id]
	if !ok {
		id = strings.Clone(id)
		t = newTracker(id, m.deps)
		m.trackers[id] = t
	}
	return t
}

// Lookup returns the tracker of id without creating one.
func (m *Manager) Lookup(id string) (*Tracker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trackers[id]
	return t, ok
}

func (m *Manager) snapshot() []*Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Tracker, 0, len(m.trackers))
	for _, t := range m.trackers {
		out = append(out, t)
	}
	return out
}

// Statuses lists every known vehicle, ordered by id.
func (m *Manager) Statuses() []Status {
	ts := m.snapshot()
	out := make([]Status, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Status())
	}
	slices.SortFunc(out, func(a, b Status) int { return cmp.Compare(a.VehicleID, b.VehicleID) })
	return out
}

// Sweep takes vehicles offline that were silent for longer than the stale
// window and returns how many it removed.
func (m *Manager) Sweep(ctx context.Context) int {
	cutoff := m.deps.Now().Add(-m.staleAfter)
	swept := 0
	online, enRoute := 0, 0
	for _, t := range m.snapshot() {
		if t.staleSince(cutoff) {
			if err := t.GoOffline(ctx, ReasonStale); err != nil {
				m.deps.Log.Warn("stale vehicle not removed", zap.String("vehicle", t.ID()), zap.Error(err))
			}
			swept++
			if m.deps.Metrics != nil {
				m.deps.Metrics.VehicleSweptInc()
			}
		}
		switch t.Status().State {
		case StateIdle:
			online++
		case StateEnRoute:
			online++
			enRoute++
		}
	}
	if m.deps.Metrics != nil {
		m.deps.Metrics.SetCounts(online, enRoute)
	}
	if swept > 0 {
		m.deps.Log.Info("swept stale vehicles", zap.Int("count", swept))
	}
	return swept
}

// StartSweeper runs Sweep every sweep interval until ctx ends or Stop is called.
func (m *Manager) StartSweeper(parent context.Context) {
	if m.sweepInterval <= 0 || m.staleAfter <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.sweepCancel = cancel
	m.sweepWG.Add(1)
	go func() {
		defer m.sweepWG.Done()
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(ctx)
			}
		}
	}()
}

// Stop halts the sweeper and waits for it to exit.
func (m *Manager) Stop() {
	if m.sweepCancel != nil {
		m.sweepCancel()
	}
	m.sweepWG.Wait()
}
