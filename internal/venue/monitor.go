package venue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"swap-router/internal/config"
)

// Monitor tracks per-venue health from worker outcomes. A venue that fails
// FailureLimit times in a row is marked down for Cooldown; the scheduler
// excludes down venues from quote fan-out. Workers report every quote and
// swap outcome here.
type Monitor struct {
	cfg    config.MonitorConfig
	logger *slog.Logger

	mu     sync.Mutex
	states map[string]*venueState
}

type venueState struct {
	consecutiveFailures int
	downUntil           time.Time
}

// NewMonitor creates a monitor for the given venues, all initially healthy.
func NewMonitor(cfg config.MonitorConfig, venues []string, logger *slog.Logger) *Monitor {
	states := make(map[string]*venueState, len(venues))
	for _, v := range venues {
		states[v] = &venueState{}
	}
	return &Monitor{
		cfg:    cfg,
		logger: logger.With("component", "venue-monitor"),
		states: states,
	}
}

// RecordSuccess resets the venue's failure streak and clears any cooldown.
func (m *Monitor) RecordSuccess(venue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[venue]
	if !ok {
		return
	}
	st.consecutiveFailures = 0
	st.downUntil = time.Time{}
}

// RecordFailure increments the streak; hitting the limit puts the venue in
// cooldown.
func (m *Monitor) RecordFailure(venue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[venue]
	if !ok {
		return
	}
	st.consecutiveFailures++
	if st.consecutiveFailures >= m.cfg.FailureLimit && st.downUntil.IsZero() {
		st.downUntil = time.Now().Add(m.cfg.Cooldown)
		m.logger.Warn("venue marked unhealthy",
			"venue", venue,
			"failures", st.consecutiveFailures,
			"until", st.downUntil,
		)
	}
}

// Healthy reports whether the venue is currently usable.
func (m *Monitor) Healthy(venue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[venue]
	if !ok {
		return false
	}
	return st.downUntil.IsZero() || time.Now().After(st.downUntil)
}

// HealthyVenues filters the given venue set down to usable ones,
// preserving order.
func (m *Monitor) HealthyVenues(venues []string) []string {
	out := make([]string, 0, len(venues))
	for _, v := range venues {
		if m.Healthy(v) {
			out = append(out, v)
		}
	}
	return out
}

// Run periodically lifts expired cooldowns so recovery is logged even when
// no traffic probes the venue. Blocks until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.liftExpired()
		}
	}
}

func (m *Monitor) liftExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for venue, st := range m.states {
		if !st.downUntil.IsZero() && now.After(st.downUntil) {
			st.downUntil = time.Time{}
			st.consecutiveFailures = 0
			m.logger.Info("venue cooldown expired, marking healthy", "venue", venue)
		}
	}
}
