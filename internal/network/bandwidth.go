// Package network provides global bandwidth limiting for image downloads.
package network

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// BandwidthManager enforces a global speed limit with zero overhead when
// disabled.
type BandwidthManager struct {
	globalLimiter *rate.Limiter
	limitEnabled  atomic.Bool
}

// NewBandwidthManager creates a manager with no limit.
func NewBandwidthManager() *BandwidthManager {
	return &BandwidthManager{
		globalLimiter: rate.NewLimiter(rate.Inf, 0),
	}
}

// SetLimit updates the global speed limit in bytes per second. 0 means
// unlimited.
func (bm *BandwidthManager) SetLimit(bytesPerSec int) {
	if bytesPerSec <= 0 {
		bm.limitEnabled.Store(false)
		bm.globalLimiter.SetLimit(rate.Inf)
		return
	}
	bm.limitEnabled.Store(true)
	bm.globalLimiter.SetLimit(rate.Limit(bytesPerSec))
	bm.globalLimiter.SetBurst(bytesPerSec)
}

// Wait blocks until n bytes may be consumed. Returns immediately if the
// limit is disabled.
func (bm *BandwidthManager) Wait(ctx context.Context, n int) error {
	if !bm.limitEnabled.Load() {
		return nil
	}
	for n > 0 {
		chunk := n
		if burst := bm.globalLimiter.Burst(); burst > 0 && chunk > burst {
			chunk = burst
		}
		if err := bm.globalLimiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
