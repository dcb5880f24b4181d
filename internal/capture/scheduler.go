package capture

import "time"

// Timer is a cancellable one-shot timer armed through a [Scheduler].
type Timer interface {
	// Stop cancels the timer. It reports whether the call prevented the
	// callback from firing.
	Stop() bool
}

// Scheduler creates cancellable one-shot timers. The production
// implementation delegates to [time.AfterFunc]; tests substitute a virtual
// clock so transitions can be driven without real delays.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// realScheduler is the production [Scheduler] backed by the runtime timer
// heap.
type realScheduler struct{}

// NewScheduler returns the production [Scheduler].
func NewScheduler() Scheduler {
	return realScheduler{}
}

func (realScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
