// Package clock provides the millisecond timestamps carried in timestamped
// UAVTalk frames.
package clock

import (
	"sync"
	"time"
)

// Clock counts milliseconds from its epoch. The frame timestamp field is
// 16 bits wide, so Millis wraps every 65.536 seconds; receivers only compare
// nearby timestamps.
type Clock struct {
	mu    sync.Mutex
	epoch time.Time
	nowFn func() time.Time // overridable for testing
}

// New creates a Clock whose epoch is the current time.
func New() *Clock {
	return &Clock{
		epoch: time.Now(),
		nowFn: time.Now,
	}
}

// Elapsed returns the time since the epoch.
func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowFn().Sub(c.epoch)
}

// Millis returns the milliseconds since the epoch truncated to 16 bits.
func (c *Clock) Millis() uint16 {
	return uint16(c.Elapsed().Milliseconds())
}

// Reset moves the epoch to the current time, e.g. when a link reconnects.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch = c.nowFn()
}
