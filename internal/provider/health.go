package provider

import (
	"sync"

	"fundsync/internal/logger"
	"fundsync/internal/metrics"
)

const (
	// DefaultFailureThreshold is the consecutive-failure count that trips
	// the breaker. Kept as configuration rather than re-derived; the value
	// is inherited, not tuned.
	DefaultFailureThreshold = 5
	// DefaultSmoothingAlpha is the EMA smoothing factor for the
	// reliability score.
	DefaultSmoothingAlpha = 0.2
)

// HealthMonitor is the circuit breaker in front of one provider. ACTIVE
// trips to ERROR after K consecutive failures; ERROR clears only via
// explicit manual reactivation; RATE_LIMITED is transient and self-clears
// once budget capacity returns; MAINTENANCE is entered and left manually.
type HealthMonitor struct {
	mu sync.Mutex

	provider            string
	status              Status
	consecutiveFailures int
	reliability         float64 // 0-100

	failureThreshold int
	alpha            float64
}

// NewHealthMonitor creates a monitor starting in the given status with the
// given reliability score (both usually restored from persisted state).
func NewHealthMonitor(provider string, status Status, reliability float64, failureThreshold int, alpha float64) *HealthMonitor {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultSmoothingAlpha
	}
	if status == "" {
		status = StatusActive
	}
	if reliability < 0 {
		reliability = 0
	}
	if reliability > 100 {
		reliability = 100
	}

	return &HealthMonitor{
		provider:         provider,
		status:           status,
		reliability:      reliability,
		failureThreshold: failureThreshold,
		alpha:            alpha,
	}
}

// CanProceed reports whether a new call may go out. False for any status
// other than ACTIVE, short-circuiting before network I/O.
func (m *HealthMonitor) CanProceed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status == StatusActive
}

// Status returns the current status.
func (m *HealthMonitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// ReliabilityScore returns the smoothed reliability score in [0,100].
func (m *HealthMonitor) ReliabilityScore() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reliability
}

// ConsecutiveFailures returns the current failure streak.
func (m *HealthMonitor) ConsecutiveFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveFailures
}

// RecordSuccess registers a successful call. This is the only event that
// resets the consecutive-failure count, and it also clears a transient
// RATE_LIMITED state.
func (m *HealthMonitor) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consecutiveFailures = 0
	m.updateScoreLocked(100)
	if m.status == StatusRateLimited {
		m.status = StatusActive
	}
}

// RecordFailure registers a failed call. After failureThreshold consecutive
// failures the status trips to ERROR and stays there until Reactivate.
func (m *HealthMonitor) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consecutiveFailures++
	m.updateScoreLocked(0)

	if m.status == StatusActive && m.consecutiveFailures >= m.failureThreshold {
		m.status = StatusError
		logger.Warnf("provider %s tripped to ERROR after %d consecutive failures",
			m.provider, m.consecutiveFailures)
	}
}

// MarkRateLimited flags the transient rate-limited state. Only an ACTIVE
// provider transitions; ERROR and MAINTENANCE stay put.
func (m *HealthMonitor) MarkRateLimited() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == StatusActive {
		m.status = StatusRateLimited
	}
}

// ClearRateLimited returns a RATE_LIMITED provider to ACTIVE once budget
// capacity is back.
func (m *HealthMonitor) ClearRateLimited() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == StatusRateLimited {
		m.status = StatusActive
	}
}

// Reactivate is the manual ERROR (or INACTIVE) to ACTIVE transition. There
// is no automatic timeout recovery. The failure streak is not cleared here;
// only a successful call resets it.
func (m *HealthMonitor) Reactivate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = StatusActive
}

// SetMaintenance moves the provider into MAINTENANCE from any state.
func (m *HealthMonitor) SetMaintenance() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = StatusMaintenance
}

// updateScoreLocked applies score = alpha*outcome + (1-alpha)*score, with
// outcome in {0,100}, clamped to [0,100].
func (m *HealthMonitor) updateScoreLocked(outcome float64) {
	m.reliability = m.alpha*outcome + (1-m.alpha)*m.reliability
	if m.reliability < 0 {
		m.reliability = 0
	}
	if m.reliability > 100 {
		m.reliability = 100
	}
	metrics.ProviderReliability.WithLabelValues(m.provider).Set(m.reliability)
}
