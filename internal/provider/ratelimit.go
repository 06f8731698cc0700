package provider

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "fundsync/internal/errors"
	"fundsync/internal/metrics"
)

// RateLimiter enforces a request budget of N requests per window T for one
// provider. TryAcquire is side-effecting, safe under concurrent callers and
// never blocks; AcquireBlocking polls until capacity frees or maxWait
// elapses.
//
// Fixed windows reset at deterministic boundaries (UTC midnight for daily
// budgets); sliding windows recompute the oldest-timestamp cutoff on every
// check instead of using a reset instant.
type RateLimiter struct {
	provider string
	budget   int
	window   time.Duration
	sliding  bool

	mu          sync.Mutex
	windowStart time.Time   // fixed-window mode
	count       int         // fixed-window mode
	stamps      []time.Time // sliding-window mode

	pacer *rate.Limiter // optional requests-per-second pacing

	now func() time.Time
}

// NewRateLimiter creates a limiter with the given budget. sliding selects
// the window discipline.
func NewRateLimiter(provider string, budget int, window time.Duration, sliding bool) *RateLimiter {
	return &RateLimiter{
		provider: provider,
		budget:   budget,
		window:   window,
		sliding:  sliding,
		now:      time.Now,
	}
}

// WithPacing adds a secondary requests-per-second limit on top of the
// window budget, for providers that enforce both a daily quota and a
// burst rate.
func (l *RateLimiter) WithPacing(rps float64) *RateLimiter {
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		l.pacer = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return l
}

// TryAcquire consumes one unit of budget if available. It never blocks.
// A failed attempt counts as one denial.
func (l *RateLimiter) TryAcquire() bool {
	ok := l.acquire()
	if !ok {
		metrics.RateLimitDenials.WithLabelValues(l.provider).Inc()
	}
	return ok
}

// acquire is TryAcquire without the denial metric, for polling callers that
// count one denial per caller-visible outcome rather than per attempt.
func (l *RateLimiter) acquire() bool {
	l.mu.Lock()
	ok := l.tryAcquireLocked()
	l.mu.Unlock()

	if ok && l.pacer != nil && !l.pacer.Allow() {
		// Budget was available but the pacer was not; give the unit back.
		l.refund()
		ok = false
	}
	return ok
}

func (l *RateLimiter) tryAcquireLocked() bool {
	now := l.now().UTC()

	if l.sliding {
		cutoff := now.Add(-l.window)
		kept := l.stamps[:0]
		for _, ts := range l.stamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		l.stamps = kept
		if len(l.stamps) >= l.budget {
			return false
		}
		l.stamps = append(l.stamps, now)
		return true
	}

	start := now.Truncate(l.window)
	if !start.Equal(l.windowStart) {
		l.windowStart = start
		l.count = 0
	}
	if l.count >= l.budget {
		return false
	}
	l.count++
	return true
}

func (l *RateLimiter) refund() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sliding {
		if n := len(l.stamps); n > 0 {
			l.stamps = l.stamps[:n-1]
		}
		return
	}
	if l.count > 0 {
		l.count--
	}
}

// HasCapacity reports whether a TryAcquire would currently succeed, without
// consuming budget.
func (l *RateLimiter) HasCapacity() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	if l.sliding {
		cutoff := now.Add(-l.window)
		inWindow := 0
		for _, ts := range l.stamps {
			if ts.After(cutoff) {
				inWindow++
			}
		}
		return inWindow < l.budget
	}

	if !now.Truncate(l.window).Equal(l.windowStart) {
		return l.budget > 0
	}
	return l.count < l.budget
}

// RetryAfter returns how long until capacity frees, for error reporting.
func (l *RateLimiter) RetryAfter() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	if l.sliding {
		if len(l.stamps) < l.budget {
			return 0
		}
		oldest := l.stamps[0]
		return oldest.Add(l.window).Sub(now)
	}
	if l.count < l.budget {
		return 0
	}
	return l.windowStart.Add(l.window).Sub(now)
}

// AcquireBlocking waits up to maxWait for capacity, polling rather than
// reserving. It returns a RateLimitError on timeout; a silently dropped
// request is never acceptable. A whole blocked wait counts as a single
// denial, and only when it times out.
func (l *RateLimiter) AcquireBlocking(ctx context.Context, maxWait time.Duration) error {
	deadline := l.now().Add(maxWait)

	for {
		if l.acquire() {
			return nil
		}
		if !l.now().Before(deadline) {
			metrics.RateLimitDenials.WithLabelValues(l.provider).Inc()
			return apperrors.NewRateLimitError(l.provider, l.RetryAfter())
		}

		wait := 50 * time.Millisecond
		if remaining := deadline.Sub(l.now()); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
