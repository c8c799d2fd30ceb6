package clock

import "sync/atomic"

// AtomicClock is a lock-free monotonic counter.
type AtomicClock struct {
	atomic.Uint64
}

func NewAtomic(init uint64) *AtomicClock {
	var ac AtomicClock
	ac.Set(init)
	return &ac
}

func (ac *AtomicClock) Val() uint64 {
	return ac.Load()
}

// Next advances the clock and returns the new value. Values are never handed out twice.
func (ac *AtomicClock) Next() uint64 {
	return ac.Add(1)
}

// Set moves the clock forward to t. It never moves the clock backwards.
func (ac *AtomicClock) Set(t uint64) {
	for {
		cur := ac.Load()
		if t <= cur {
			return
		}
		if ac.CompareAndSwap(cur, t) {
			return
		}
	}
}
