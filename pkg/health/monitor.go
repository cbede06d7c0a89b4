// Package health decides what the liveness probe reports. The effective
// status is resolved in precedence order: a forced status wins over a custom
// probe, and the probe wins over the automatic busy check against the task
// tracker. Busyness reflects tracked tasks only; handler work in flight does
// not count.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/theumbrella1/agentcore/internal/observability"
)

// Status is a probe status as it appears on the wire.
type Status string

const (
	StatusHealthy     Status = "Healthy"
	StatusHealthyBusy Status = "HealthyBusy"
)

// Valid reports whether s is one of the two known statuses.
func (s Status) Valid() bool {
	return s == StatusHealthy || s == StatusHealthyBusy
}

// ProbeFunc is a custom status callback. An error, a panic or an unknown
// status makes the monitor fall through to the automatic check.
type ProbeFunc func(ctx context.Context) (Status, error)

// ActiveCounter reports how many tracked tasks are running.
type ActiveCounter interface {
	ActiveCount() int
}

// Monitor evaluates the effective health status and remembers when it last
// changed. All methods are safe for concurrent use.
type Monitor struct {
	mu          sync.Mutex
	tasks       ActiveCounter
	probe       ProbeFunc
	forced      *Status
	last        Status
	lastChanged time.Time
	logger      zerolog.Logger
	now         func() time.Time
}

// NewMonitor creates a monitor over the given task counter.
func NewMonitor(tasks ActiveCounter, logger zerolog.Logger) *Monitor {
	m := &Monitor{
		tasks:  tasks,
		logger: logger,
		now:    time.Now,
	}
	m.last = StatusHealthy
	m.lastChanged = m.now()
	return m
}

// SetProbe installs the custom status callback. A nil probe removes it.
func (m *Monitor) SetProbe(p ProbeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probe = p
}

// Current evaluates the effective status. The change timestamp moves only
// when the evaluated status differs from the previous evaluation.
func (m *Monitor) Current(ctx context.Context) Status {
	m.mu.Lock()
	forced := m.forced
	probe := m.probe
	m.mu.Unlock()

	var status Status
	switch {
	case forced != nil:
		status = *forced
	default:
		status = m.evaluate(ctx, probe)
	}

	m.observe(status)
	return status
}

// LastUpdate returns when the last effective status change was observed.
func (m *Monitor) LastUpdate() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastChanged
}

// Force pins the status. Forcing the same status again is a no-op. Unknown
// statuses are ignored with a warning.
func (m *Monitor) Force(s Status) {
	if !s.Valid() {
		m.logger.Warn().Str("status", string(s)).Msg("Ignoring unknown forced status")
		return
	}

	m.mu.Lock()
	if m.forced != nil && *m.forced == s {
		m.mu.Unlock()
		return
	}
	m.forced = &s
	m.mu.Unlock()

	m.logger.Info().Str("status", string(s)).Msg("Health status forced")
}

// ClearForced removes a forced status. Clearing when nothing is forced is a
// no-op.
func (m *Monitor) ClearForced() {
	m.mu.Lock()
	if m.forced == nil {
		m.mu.Unlock()
		return
	}
	m.forced = nil
	m.mu.Unlock()

	m.logger.Info().Msg("Forced health status cleared")
}

// Forced returns the pinned status, if any.
func (m *Monitor) Forced() (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.forced == nil {
		return "", false
	}
	return *m.forced, true
}

func (m *Monitor) evaluate(ctx context.Context, probe ProbeFunc) Status {
	if probe != nil {
		if s, ok := m.runProbe(ctx, probe); ok {
			return s
		}
	}
	return m.automatic()
}

func (m *Monitor) runProbe(ctx context.Context, probe ProbeFunc) (s Status, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn().Interface("panic", r).Msg("Ping probe panicked, using automatic status")
			s, ok = "", false
		}
	}()

	s, err := probe(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Ping probe failed, using automatic status")
		return "", false
	}
	if !s.Valid() {
		m.logger.Warn().Str("status", string(s)).Msg("Ping probe returned unknown status, using automatic status")
		return "", false
	}
	return s, true
}

func (m *Monitor) automatic() Status {
	if m.tasks != nil && m.tasks.ActiveCount() > 0 {
		return StatusHealthyBusy
	}
	return StatusHealthy
}

func (m *Monitor) observe(s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == m.last {
		return
	}

	m.logger.Info().
		Str("from", string(m.last)).
		Str("to", string(s)).
		Msg("Health status changed")
	observability.RecordHealthTransition(string(s))
	m.last = s
	m.lastChanged = m.now()
}
