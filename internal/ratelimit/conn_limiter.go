package ratelimit

import "sync/atomic"

// ConnLimiter caps the number of concurrently open connections. A max of 0
// means unlimited, but the current count is still tracked.
type ConnLimiter struct {
	max    int64
	active atomic.Int64
}

func NewConnLimiter(max int) *ConnLimiter {
	return &ConnLimiter{max: int64(max)}
}

// TryAcquire reserves a slot. Every successful call must be paired with
// Release.
func (l *ConnLimiter) TryAcquire() bool {
	for {
		cur := l.active.Load()
		if l.max > 0 && cur >= l.max {
			return false
		}
		if l.active.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (l *ConnLimiter) Release() {
	if l.active.Add(-1) < 0 {
		panic("ratelimit: ConnLimiter released more than acquired")
	}
}

func (l *ConnLimiter) Active() int {
	return int(l.active.Load())
}
