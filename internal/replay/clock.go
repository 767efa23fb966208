package replay

import (
	"sync"
	"time"
)

// Clock is the engine clock during replay. It follows operation timestamps.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Unix(0, 0).UTC()}
}

// Now satisfies orbital.WithClock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to unix seconds ts. Zero and backwards moves are ignored.
func (c *Clock) Set(ts uint64) {
	if ts == 0 {
		return
	}
	next := time.Unix(int64(ts), 0).UTC()
	c.mu.Lock()
	if next.After(c.now) {
		c.now = next
	}
	c.mu.Unlock()
}
