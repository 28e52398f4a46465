package storage

import "sync/atomic"

// Clock hands out strictly increasing insertion sequence numbers. Stores
// stamp each newly written fact with one, and successor lookups order by
// it, so results do not depend on wall-clock time.
//
// Clock is safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClockAt returns a clock whose next value is start+1. Stores that
// reopen persisted data resume from their highest stored sequence.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last sequence number handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
