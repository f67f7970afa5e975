package driver

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttle paces unit-of-work calls against the portal. The portal tolerates
// only a few submissions per minute before postbacks start timing out, so
// the session runner waits on the throttle between items.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle builds a throttle allowing itemsPerMinute sustained calls with
// a small burst. itemsPerMinute <= 0 disables pacing.
func NewThrottle(itemsPerMinute int) *Throttle {
	if itemsPerMinute <= 0 {
		return &Throttle{}
	}
	rps := float64(itemsPerMinute) / 60.0
	burst := itemsPerMinute / 5
	if burst < 1 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until the next call is allowed, or the context is cancelled.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil || t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}
