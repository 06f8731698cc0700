package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor() *HealthMonitor {
	return NewHealthMonitor("test", StatusActive, 100, DefaultFailureThreshold, DefaultSmoothingAlpha)
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	m := newTestMonitor()

	for i := 0; i < DefaultFailureThreshold-1; i++ {
		m.RecordFailure()
		assert.True(t, m.CanProceed(), "still proceedable after %d failures", i+1)
	}

	m.RecordFailure()
	assert.False(t, m.CanProceed())
	assert.Equal(t, StatusError, m.Status())
	assert.Equal(t, DefaultFailureThreshold, m.ConsecutiveFailures())
}

func TestNoAutomaticRecoveryFromError(t *testing.T) {
	m := newTestMonitor()
	for i := 0; i < DefaultFailureThreshold; i++ {
		m.RecordFailure()
	}
	require.Equal(t, StatusError, m.Status())

	// A success while tripped does not reopen the breaker on its own; only
	// explicit reactivation does.
	m.RecordSuccess()
	assert.Equal(t, StatusError, m.Status())

	m.Reactivate()
	assert.True(t, m.CanProceed())
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	m := newTestMonitor()
	for i := 0; i < DefaultFailureThreshold; i++ {
		m.RecordFailure()
	}
	m.Reactivate()
	// Reactivation alone does not clear the streak.
	assert.Equal(t, DefaultFailureThreshold, m.ConsecutiveFailures())

	m.RecordSuccess()
	assert.Equal(t, 0, m.ConsecutiveFailures())
}

func TestRateLimitedIsTransient(t *testing.T) {
	m := newTestMonitor()

	m.MarkRateLimited()
	assert.False(t, m.CanProceed())
	assert.Equal(t, StatusRateLimited, m.Status())

	m.ClearRateLimited()
	assert.True(t, m.CanProceed())
}

func TestMarkRateLimitedDoesNotMaskError(t *testing.T) {
	m := newTestMonitor()
	for i := 0; i < DefaultFailureThreshold; i++ {
		m.RecordFailure()
	}

	m.MarkRateLimited()
	assert.Equal(t, StatusError, m.Status())

	m.ClearRateLimited()
	assert.Equal(t, StatusError, m.Status())
}

func TestMaintenanceGatesCalls(t *testing.T) {
	m := newTestMonitor()
	m.SetMaintenance()
	assert.False(t, m.CanProceed())
}

func TestReliabilityEMA(t *testing.T) {
	m := NewHealthMonitor("test", StatusActive, 100, 5, 0.2)

	m.RecordFailure()
	assert.InDelta(t, 80.0, m.ReliabilityScore(), 1e-9) // 0.2*0 + 0.8*100

	m.RecordSuccess()
	assert.InDelta(t, 84.0, m.ReliabilityScore(), 1e-9) // 0.2*100 + 0.8*80
}

func TestReliabilityStaysInBounds(t *testing.T) {
	m := NewHealthMonitor("test", StatusActive, 100, 1000, 0.5)

	for i := 0; i < 100; i++ {
		m.RecordFailure()
	}
	assert.GreaterOrEqual(t, m.ReliabilityScore(), 0.0)

	for i := 0; i < 100; i++ {
		m.RecordSuccess()
	}
	assert.LessOrEqual(t, m.ReliabilityScore(), 100.0)
}
