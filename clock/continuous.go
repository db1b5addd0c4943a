package clock

import (
	"time"

	"github.com/fep3/participant/fep3time"
)

// ContinuousClock is a Clock whose Now reflects elapsed monotonic wall-clock
// time since Start, scaled by nothing: it is the module's
// local_system_realtime implementation. It emits only reset events (on
// Start); it never emits update events since nothing drives discrete
// steps.
type ContinuousClock struct {
	baseClock
	epoch time.Time
}

// NewContinuousClock constructs a ContinuousClock named name.
func NewContinuousClock(name string) *ContinuousClock {
	return &ContinuousClock{baseClock: baseClock{name: name}}
}

func (c *ContinuousClock) Type() Type { return Continuous }

// Now returns the monotonic nanosecond count since Start if running, or the
// last-observed time if idle.
func (c *ContinuousClock) Now() fep3time.Timestamp {
	if c.State() != StateRunning {
		return c.now_()
	}
	return fep3time.Timestamp(time.Since(c.epoch))
}

func (c *ContinuousClock) Start(sink EventSink) error {
	c.epoch = time.Now()
	return c.start(sink)
}

func (c *ContinuousClock) Stop() error {
	c.mu.Lock()
	c.now = c.Now()
	c.mu.Unlock()
	return c.stop()
}
