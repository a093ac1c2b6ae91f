// Package lb implements per-pool backend health tracking and the three
// load-balancing policies described in spec §4.4.
package lb

import (
	"sync"
	"time"

	"edgeproxy/internal/config"
)

// HealthState is the FSM state a backend occupies (spec §3 HealthState).
type HealthState int

const (
	Healthy HealthState = iota
	Unhealthy
)

func (s HealthState) String() string {
	if s == Healthy {
		return "healthy"
	}
	return "unhealthy"
}

// BackendState tracks the live health of one configured backend. A backend
// starts Healthy; it is never probed before the prober's first tick, so new
// backends are optimistically routable from process start.
type BackendState struct {
	Backend config.Backend

	mu              sync.Mutex
	state           HealthState
	consecutiveFail int
	consecutiveOK   int
	cooldownUntil   time.Time
}

// NewBackendState creates a tracker in the Healthy state.
func NewBackendState(b config.Backend) *BackendState {
	return &BackendState{Backend: b, state: Healthy}
}

// State returns the current health state.
func (b *BackendState) State() HealthState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsHealthy reports whether this backend should be considered for
// selection at the given instant. Only the Healthy state is eligible
// (spec §4.4, §8 property 6); an elapsed cooldown makes a backend
// eligible for recovery probes, not for live-traffic picks — it only
// becomes selectable again once RecordSuccess has driven it back to
// Healthy.
func (b *BackendState) IsHealthy(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == Healthy
}

// RecordSuccess applies a successful probe/request outcome to the FSM.
// Transition rule (spec §4.4): consecutive successes reaching the
// success threshold while Unhealthy moves the backend back to Healthy.
// A success observed before the cooldown has elapsed is ignored outright
// (spec §4.4: "if now < until, ignored") — it neither counts toward the
// success streak nor touches the failure streak.
func (b *BackendState) RecordSuccess(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Healthy {
		b.consecutiveFail = 0
		return
	}

	if now.Before(b.cooldownUntil) {
		return
	}

	b.consecutiveOK++
	if b.consecutiveOK >= b.Backend.HealthCheck.SuccessThreshold {
		b.state = Healthy
		b.consecutiveOK = 0
	}
}

// RecordFailure applies a failed probe/request outcome to the FSM.
// Transition rule (spec §4.4): consecutive failures reaching the failure
// threshold while Healthy moves the backend to Unhealthy and starts a
// cooldown window; repeated failures while already Unhealthy reset the
// cooldown clock and the success streak.
func (b *BackendState) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveOK = 0

	if b.state == Healthy {
		b.consecutiveFail++
		if b.consecutiveFail >= b.Backend.HealthCheck.FailureThreshold {
			b.state = Unhealthy
			b.cooldownUntil = now.Add(b.Backend.HealthCheck.Cooldown())
			b.consecutiveFail = 0
		}
		return
	}

	// Already unhealthy: a failure observed during the probationary
	// cooldown window pushes the cooldown out again.
	b.cooldownUntil = now.Add(b.Backend.HealthCheck.Cooldown())
}

// Snapshot returns a point-in-time copy for logging/metrics, without
// holding the lock across caller code.
type Snapshot struct {
	BackendID string
	State     HealthState
	Healthy   bool
}

func (b *BackendState) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		BackendID: b.Backend.ID,
		State:     b.State(),
		Healthy:   b.IsHealthy(now),
	}
}
