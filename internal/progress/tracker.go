package progress

import "sync/atomic"

// Complete is the value a stage tracker reaches when every step has run.
const Complete = 100

// Tracker is a percentage counter bounded to [0, Complete]. It is safe for
// concurrent readers while a single stage task advances it.
type Tracker struct {
	value atomic.Int64
}

// Reset sets the counter back to zero.
func (t *Tracker) Reset() {
	t.value.Store(0)
}

// Add advances the counter by weight, saturating at Complete, and returns
// the new value.
func (t *Tracker) Add(weight int) int {
	for {
		old := t.value.Load()
		next := old + int64(weight)
		if next > Complete {
			next = Complete
		}
		if next < 0 {
			next = 0
		}
		if t.value.CompareAndSwap(old, next) {
			return int(next)
		}
	}
}

// Value returns the current percentage.
func (t *Tracker) Value() int {
	return int(t.value.Load())
}
