package engine

import "sync/atomic"

// Clock hands out the runtime's logical time.
//
// Notifications carry a Tick so subscribers can order them across nodes,
// and each scope instance records the Tick at which it was created. A
// NodeID reused after disposal therefore never shares a serial with its
// predecessor.
type Clock struct {
	now atomic.Int64
}

// NewClock returns a clock whose first Tick is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt returns a clock whose first Tick is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.now.Store(start)
	return c
}

// Tick advances the clock and returns the new time.
func (c *Clock) Tick() int64 {
	return c.now.Add(1)
}

// Now reports the last time handed out, or the start value if Tick has
// not been called.
func (c *Clock) Now() int64 {
	return c.now.Load()
}
