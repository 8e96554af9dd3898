// Package lifecycle tracks whether this instance still accepts new work.
// Once draining, readiness fails and new voice sessions are refused.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// Lifecycle is safe for concurrent use. The zero value is serving; a nil
// *Lifecycle never drains.
type Lifecycle struct {
	drainingSince atomic.Int64
}

// Drain switches to draining. It reports false when already draining.
func (l *Lifecycle) Drain(now time.Time) bool {
	if l == nil {
		return false
	}
	return l.drainingSince.CompareAndSwap(0, max(1, now.UnixNano()))
}

func (l *Lifecycle) IsDraining() bool {
	return l != nil && l.drainingSince.Load() != 0
}

func (l *Lifecycle) DrainingSince() (time.Time, bool) {
	if l == nil {
		return time.Time{}, false
	}
	ns := l.drainingSince.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}
