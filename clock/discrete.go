package clock

import (
	"sync"
	"time"

	"github.com/fep3/participant/fep3time"
)

const (
	minCycleTime = fep3time.Duration(time.Millisecond)
	minTimeFactor = 0.1
	// AFAP is the time_factor value meaning "as fast as possible": each
	// cycle advances simulation time without waiting out the wall-clock
	// interval.
	AFAP = 0.0
)

// DiscreteClock is a Clock that advances simulation time by a fixed step
// every wall-clock interval, scaled by a time factor (the module's
// local_system_simtime implementation). On each step it emits, in order,
// TimeUpdateBegin, TimeUpdating, TimeUpdateEnd.
type DiscreteClock struct {
	baseClock

	cycleTime  fep3time.Duration
	timeFactor float64

	stopCh chan struct{}
	doneCh chan struct{}
	runMu  sync.Mutex
}

// NewDiscreteClock constructs a DiscreteClock named name, with the given
// cycle time (simulation-time step per tick, minimum 1ms) and time factor
// (wall-clock pacing; 0.0 = AFAP, minimum 0.1 otherwise).
func NewDiscreteClock(name string, cycleTime fep3time.Duration, timeFactor float64) *DiscreteClock {
	if cycleTime < minCycleTime {
		cycleTime = minCycleTime
	}
	if timeFactor != AFAP && timeFactor < minTimeFactor {
		timeFactor = minTimeFactor
	}
	return &DiscreteClock{
		baseClock:  baseClock{name: name},
		cycleTime:  cycleTime,
		timeFactor: timeFactor,
	}
}

func (c *DiscreteClock) Type() Type { return Discrete }

func (c *DiscreteClock) Now() fep3time.Timestamp { return c.now_() }

// Step advances the clock by one cycle, emitting the update event triple to
// the active sink. Exposed so a Scheduler's discrete EventSink registration
// and tests can drive ticks deterministically, as an alternative to the
// autonomous goroutine started by Start.
func (c *DiscreteClock) Step() {
	sink := c.currentSink()
	c.mu.Lock()
	old := c.now
	c.now += fep3time.Timestamp(c.cycleTime)
	new := c.now
	c.mu.Unlock()

	sink.TimeUpdateBegin(old, new)
	sink.TimeUpdating(new)
	sink.TimeUpdateEnd(new)
}

func (c *DiscreteClock) Start(sink EventSink) error {
	if err := c.start(sink); err != nil {
		return err
	}
	c.runMu.Lock()
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	stopCh, doneCh := c.stopCh, c.doneCh
	c.runMu.Unlock()
	go c.run(stopCh, doneCh)
	return nil
}

func (c *DiscreteClock) Stop() error {
	c.runMu.Lock()
	stopCh, doneCh := c.stopCh, c.doneCh
	c.runMu.Unlock()
	if err := c.stop(); err != nil {
		return err
	}
	if stopCh != nil {
		close(stopCh)
		<-doneCh
	}
	return nil
}

func (c *DiscreteClock) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	if c.timeFactor == AFAP {
		for {
			select {
			case <-stopCh:
				return
			default:
				c.Step()
			}
		}
	}
	interval := time.Duration(float64(c.cycleTime.AsDuration()) / c.timeFactor)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			c.Step()
		}
	}
}
