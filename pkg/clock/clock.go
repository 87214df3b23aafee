package clock

import (
	"sync"
	"time"
)

// Clock is a virtual time source. Time only moves when Advance is called, so
// timer callbacks fire at exactly their deadlines regardless of host speed.
type Clock struct {
	mu  sync.Mutex
	now time.Duration
	seq uint64

	// timers holds only armed timers.
	timers []*Timer
}

// Timer is a one-shot callback owned by a Clock. Re-arm it with Mod from
// inside the callback to make it periodic.
type Timer struct {
	c        *Clock
	cb       func()
	deadline time.Duration
	seq      uint64
	armed    bool
}

func New() *Clock {
	return &Clock{}
}

// Now returns the virtual time elapsed since the clock was created.
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// SetNow moves the clock to t without firing timers. It is used when
// restoring a hibernated machine.
func (c *Clock) SetNow(t time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// NowMs returns Now in whole milliseconds.
func (c *Clock) NowMs() int64 {
	return c.Now().Milliseconds()
}

// NewTimer creates a disarmed timer. The clock only tracks it while armed.
func (c *Clock) NewTimer(cb func()) *Timer {
	return &Timer{c: c, cb: cb}
}

// ScheduleAfter runs cb once, d after the current virtual time.
func (c *Clock) ScheduleAfter(d time.Duration, cb func()) *Timer {
	t := c.NewTimer(cb)
	t.Mod(c.Now() + d)
	return t
}

// Mod (re)arms the timer for an absolute virtual deadline. A deadline in the
// past fires on the next Advance.
func (t *Timer) Mod(deadline time.Duration) {
	c := t.c
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t.deadline = deadline
	t.seq = c.seq
	if !t.armed {
		c.timers = append(c.timers, t)
		t.armed = true
	}
}

// Del disarms the timer.
func (t *Timer) Del() {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	t.c.remove(t)
}

// Pending reports whether the timer is armed.
func (t *Timer) Pending() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	return t.armed
}

// Deadline returns the absolute deadline of an armed timer.
func (t *Timer) Deadline() (time.Duration, bool) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	return t.deadline, t.armed
}

// NextDeadline returns the earliest armed deadline.
func (c *Clock) NextDeadline() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next()
	if t == nil {
		return 0, false
	}
	return t.deadline, true
}

// remove disarms t. It must be called with the lock held.
func (c *Clock) remove(t *Timer) {
	if !t.armed {
		return
	}
	t.armed = false
	for i, x := range c.timers {
		if x == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}

// next must be called with the lock held. Ties on deadline go to the timer
// armed first.
func (c *Clock) next() *Timer {
	var best *Timer
	for _, t := range c.timers {
		if best == nil || t.deadline < best.deadline || (t.deadline == best.deadline && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

// Advance moves virtual time forward by d, firing every timer whose deadline
// falls within the window in deadline order. While a callback runs, Now
// reports that callback's deadline.
func (c *Clock) Advance(d time.Duration) {
	if d < 0 {
		return
	}
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()
	c.RunUntil(target)
}

// RunUntil advances virtual time to the absolute time target.
func (c *Clock) RunUntil(target time.Duration) {
	for {
		c.mu.Lock()
		t := c.next()
		if t == nil || t.deadline > target {
			if target > c.now {
				c.now = target
			}
			c.mu.Unlock()
			return
		}
		if t.deadline > c.now {
			c.now = t.deadline
		}
		c.remove(t)
		cb := t.cb
		c.mu.Unlock()

		if cb != nil {
			cb()
		}
	}
}
