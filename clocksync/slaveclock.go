package clocksync

import (
	"context"
	"sync/atomic"

	"github.com/fep3/participant/clock"
	"github.com/fep3/participant/fep3time"
	"github.com/fep3/participant/ferrors"
)

// SlaveClock adapts a Slave to clock.Clock, so it can be registered into a
// clock.Service under master_on_demand or master_on_demand_discrete (spec
// §4.2's glossary names for the two sync-slave clocks) and selected as the
// main clock like any other.
type SlaveClock struct {
	name  string
	typ   clock.Type
	slave *Slave

	running atomic.Bool
}

// NewSlaveClock wraps slave as a clock.Clock named name, of the given type
// (clock.Continuous for master_on_demand, clock.Discrete for
// master_on_demand_discrete — the type must match the configured master's
// actual type, validated at Start by GetMasterType).
func NewSlaveClock(name string, typ clock.Type, slave *Slave) *SlaveClock {
	return &SlaveClock{name: name, typ: typ, slave: slave}
}

func (c *SlaveClock) Name() string            { return c.name }
func (c *SlaveClock) Type() clock.Type        { return c.typ }
func (c *SlaveClock) Now() fep3time.Timestamp { return c.slave.Now() }

// Slave returns the underlying clocksync.Slave, e.g. to register it as the
// clock_sync_slave Service Bus endpoint.
func (c *SlaveClock) Slave() *Slave { return c.slave }

func (c *SlaveClock) State() clock.State {
	if c.running.Load() {
		return clock.StateRunning
	}
	return clock.StateIdle
}

// Start registers with the master and, for a continuous master, begins
// polling; sink receives forwarded events per Slave.SyncTimeEvent.
func (c *SlaveClock) Start(sink clock.EventSink) error {
	if !c.running.CompareAndSwap(false, true) {
		return ferrors.InvalidStatef("clock %q: already running", c.name)
	}
	if err := c.slave.Start(context.Background(), sink); err != nil {
		c.running.Store(false)
		return err
	}
	want := MasterContinuous
	if c.typ == clock.Discrete {
		want = MasterDiscrete
	}
	c.slave.mu.Lock()
	got := c.slave.masterType
	c.slave.mu.Unlock()
	if got != want {
		_ = c.slave.Stop(context.Background())
		c.running.Store(false)
		return ferrors.InvalidTypef("clock %q: master clock type %d does not match clock type %s", c.name, got, c.typ)
	}
	return nil
}

// Stop unregisters from the master and stops polling, if running.
func (c *SlaveClock) Stop() error {
	if !c.running.CompareAndSwap(true, false) {
		return ferrors.InvalidStatef("clock %q: not running", c.name)
	}
	return c.slave.Stop(context.Background())
}

var _ clock.Clock = (*SlaveClock)(nil)
