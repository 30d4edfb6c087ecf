package session

import "time"

// Clock abstracts timer creation so tests can drive debounce windows
// deterministically instead of sleeping through real delays.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancelable scheduled task.
type Timer interface {
	// Stop cancels the timer. It reports whether the call prevented the
	// function from firing.
	Stop() bool
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{time.AfterFunc(d, f)}
}

type realTimer struct {
	t *time.Timer
}

func (t realTimer) Stop() bool { return t.t.Stop() }

// NewRealClock returns a Clock backed by time.AfterFunc.
func NewRealClock() Clock { return realClock{} }
