package engine

import "sync/atomic"

// Clock provides monotonically increasing sequence numbers for logical time.
// All journal records are stamped from this counter; wall-clock time is never
// used for ordering.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at sequence 0.
// The first call to Next() returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock that resumes from the given sequence number.
// The first call to Next() returns start+1. Used when reopening a journal
// so new records continue after the highest persisted seq.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number, incrementing the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
