// Package quota provides the hourly submission counter consulted at
// admission. Fixed-window accounting is enough here: the window only guards
// against sustained abuse, and the scheduler's queue caps bound burst.
package quota

import (
	"context"
	"sync"
	"time"

	"soundd/pkg/types"
)

type bucket struct {
	windowStart time.Time
	count       int
}

// Window counts submissions per owner key in fixed hourly windows.
type Window struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	period  time.Duration
	now     func() time.Time
}

func NewWindow() *Window {
	return &Window{
		buckets: make(map[string]*bucket),
		period:  time.Hour,
		now:     time.Now,
	}
}

// CheckAndIncrement counts one submission against the caller's window.
// Returns false without counting when the tier's hourly quota is spent.
func (w *Window) CheckAndIncrement(_ context.Context, ownerKey string, tier types.TierInfo) (bool, error) {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.buckets[ownerKey]
	if !ok || now.Sub(b.windowStart) >= w.period {
		b = &bucket{windowStart: now}
		w.buckets[ownerKey] = b
	}
	if b.count >= tier.HourlyQuota {
		return false, nil
	}
	b.count++
	return true, nil
}

// Remaining reports how many submissions the caller has left this window.
func (w *Window) Remaining(ownerKey string, tier types.TierInfo) int {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.buckets[ownerKey]
	if !ok || now.Sub(b.windowStart) >= w.period {
		return tier.HourlyQuota
	}
	rem := tier.HourlyQuota - b.count
	if rem < 0 {
		rem = 0
	}
	return rem
}
