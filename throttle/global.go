package throttle

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// GlobalLimiter wraps a Throttler with an optional shared golang.org/x/time/rate
// limiter applied across all keys, useful when per-key spacing alone isn't
// enough to protect a shared upstream from aggregate load. It is a
// library-level knob: nothing in cmd/proxy wires it to a CLI flag, but
// embedders that need an aggregate cap on top of per-key spacing can
// construct one directly.
type GlobalLimiter struct {
	*Throttler
	global *rate.Limiter
}

// NewGlobalLimiter creates a Throttler that also enforces an aggregate rate
// across all keys, expressed as events per second with the given burst.
func NewGlobalLimiter(interval time.Duration, rps float64, burst int) *GlobalLimiter {
	return &GlobalLimiter{
		Throttler: New(interval),
		global:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Wait applies the per-key spacing first, then blocks on the shared limiter
// so no combination of keys can exceed the aggregate admission rate.
func (g *GlobalLimiter) Wait(ctx context.Context, key string) error {
	if err := g.Throttler.Wait(ctx, key); err != nil {
		return err
	}
	return g.global.Wait(ctx)
}
