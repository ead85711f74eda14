// Package throttle implements per-key request spacing: each key (upstream
// host) is admitted no more often than once per configured interval, using
// a fixed-interval-spacing algorithm rather than a token bucket.
package throttle

import (
	"context"
	"time"

	"github.com/otero/throttleproxy/pkg/shardmap"
)

// Throttler enforces a minimum interval between admissions for the same
// key. Keys are independent: spacing enforced for one key never blocks or
// delays admissions for any other key.
type Throttler struct {
	interval time.Duration
	slots    *shardmap.Map[time.Time] // key -> next_admit
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

// New creates a Throttler admitting at most once per interval for any given
// key.
func New(interval time.Duration) *Throttler {
	return &Throttler{
		interval: interval,
		slots:    shardmap.New[time.Time](0),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// WithClock overrides the time source, for deterministic tests.
func (t *Throttler) WithClock(now func() time.Time) *Throttler {
	t.now = now
	return t
}

// withSleep overrides the wait mechanism, for deterministic tests that want
// to observe the computed delay without actually blocking.
func (t *Throttler) withSleep(sleep func(context.Context, time.Duration) error) *Throttler {
	t.sleep = sleep
	return t
}

// Wait blocks until key is admitted, per the fixed-interval-spacing rule:
//
//	start      = max(now, next_admit[key])
//	next_admit[key] = start + interval
//	wait       = start - now
//
// The first caller for a fresh key is admitted immediately (wait=0).
// Concurrent callers for the same key serialize through the admission
// index and each receive a distinct, strictly increasing start time.
func (t *Throttler) Wait(ctx context.Context, key string) error {
	now := t.now()
	interval := t.interval

	start := t.slots.Update(key, func(nextAdmit time.Time, ok bool) time.Time {
		effectiveStart := now
		if ok && nextAdmit.After(effectiveStart) {
			effectiveStart = nextAdmit
		}
		return effectiveStart.Add(interval)
	}).Add(-interval)

	wait := start.Sub(now)
	if wait <= 0 {
		return nil
	}
	return t.sleep(ctx, wait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
