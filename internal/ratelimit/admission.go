package ratelimit

import "errors"

// ErrBusy is returned when every execution slot is taken.
var ErrBusy = errors.New("all execution slots busy")

// Admission caps how many operations run at once. It is non-blocking:
// callers that cannot get a slot are turned away immediately rather than
// queued, so the API can answer with a retryable status.
type Admission struct {
	slots chan struct{}
}

// NewAdmission creates a gate with the given number of slots.
// A limit below 1 is clamped to 1.
func NewAdmission(limit int) *Admission {
	if limit < 1 {
		limit = 1
	}
	return &Admission{slots: make(chan struct{}, limit)}
}

// TryAcquire claims a slot, or returns ErrBusy when none are free.
// Every successful TryAcquire must be paired with a Release.
func (a *Admission) TryAcquire() error {
	select {
	case a.slots <- struct{}{}:
		return nil
	default:
		return ErrBusy
	}
}

// Release frees a slot claimed by TryAcquire.
func (a *Admission) Release() {
	select {
	case <-a.slots:
	default:
	}
}

// InUse reports how many slots are currently held.
func (a *Admission) InUse() int {
	return len(a.slots)
}

// Capacity reports the total number of slots.
func (a *Admission) Capacity() int {
	return cap(a.slots)
}
