// Package participant wires the clock, clock synchronization, data
// registry, job scheduler, and service bus subsystems into one runtime:
// the full participant lifecycle state machine stays out of scope, but the
// construct -> tense -> relax transitions those subsystems depend on are
// implemented here.
package participant

import (
	"time"

	"github.com/fep3/participant/clock"
	"github.com/fep3/participant/fep3time"
	"github.com/fep3/participant/ferrors"
	"github.com/fep3/participant/flog"
	"github.com/fep3/participant/servicebus"
)

// Config collects every configurable clock, scheduler, and service-bus
// property, plus the identity and transport details a participant needs
// to join a system.
type Config struct {
	// ParticipantName is this participant's name within SystemName.
	ParticipantName string
	SystemName      string

	// ServiceBusAddr is the address the Service Bus server binds to;
	// "127.0.0.1:0" picks an ephemeral port.
	ServiceBusAddr string
	// LocationURL is advertised to peers via discovery. If empty, it is set
	// to the bound Service Bus address once Start succeeds.
	LocationURL string
	// Concurrency sizes the Service Bus dispatch worker pool (default 8).
	Concurrency int

	// Transport carries discovery announcements; required.
	Transport servicebus.DiscoveryTransport
	// Dial resolves a discovered peer's LocationURL into an invoker. If nil,
	// New supplies a default that dials over gRPC.
	Dial servicebus.Dialer
	// TTL is the discovery advertisement lifetime (default 30s).
	TTL time.Duration

	// MainClock selects the active clock: local_system_realtime (default),
	// local_system_simtime, master_on_demand, or master_on_demand_discrete.
	MainClock string
	// CycleTimeMs is local_system_simtime's step length (default 100).
	CycleTimeMs int64
	// TimeFactor is local_system_simtime's wall-clock pacing (default 1.0).
	// A zero value, which equals clock.AFAP, is replaced by the default, so
	// as-fast-as-possible pacing cannot be selected through Config.
	TimeFactor float64
	// TimeUpdateTimeoutMs is the per-slave clock-sync RPC timeout (default
	// 5000), also used to derive clocksync's safety timeout.
	TimeUpdateTimeoutMs int64

	// TimingMaster names the peer participant to synchronize against
	// ("<participant>@<system>" or bare, resolved within SystemName); empty
	// disables synchronization.
	TimingMaster string
	// SlaveSyncCycleTimeMs is the continuous-slave polling period; required
	// (>0), like TimingMaster, if MainClock is master_on_demand or
	// master_on_demand_discrete.
	SlaveSyncCycleTimeMs int64

	// Scheduler names the active Scheduler (default
	// scheduler.DefaultSchedulerName).
	Scheduler string

	Logger *flog.Logger
}

func (c *Config) setDefaults() {
	if c.ServiceBusAddr == "" {
		c.ServiceBusAddr = "127.0.0.1:0"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
	if c.MainClock == "" {
		c.MainClock = clock.NameLocalSystemRealtime
	}
	if c.CycleTimeMs <= 0 {
		c.CycleTimeMs = 100
	}
	// TimeFactor's zero value is indistinguishable from an explicit
	// clock.AFAP request in this struct-based Config (unlike clock.Service's
	// functional options, where WithTimeFactor(0.0) only takes effect if
	// actually called); both default to 1.0 here. Callers needing AFAP
	// pacing should construct *clock.Service directly with WithTimeFactor.
	if c.TimeFactor == 0 {
		c.TimeFactor = 1.0
	}
	if c.TimeUpdateTimeoutMs <= 0 {
		c.TimeUpdateTimeoutMs = 5000
	}
	if c.Logger == nil {
		c.Logger = flog.NewNop()
	}
}

// validate applies the master-on-demand clocks' failure model: selecting
// one without a timing master and a positive slave sync cycle time fails
// initialization.
func (c *Config) validate() error {
	if c.MainClock == NameMasterOnDemand || c.MainClock == NameMasterOnDemandDiscrete {
		if c.TimingMaster == "" {
			return ferrors.InvalidArgf("participant: main clock %q requires clock_synchronization/timing_master", c.MainClock)
		}
		if c.SlaveSyncCycleTimeMs <= 0 {
			return ferrors.InvalidArgf("participant: main clock %q requires a positive slave_sync_cycle_time_ms", c.MainClock)
		}
	}
	return nil
}

func (c *Config) cycleTime() fep3time.Duration { return fep3time.FromMillis(c.CycleTimeMs) }

func (c *Config) timeUpdateTimeout() time.Duration {
	return fep3time.FromMillis(c.TimeUpdateTimeoutMs).AsDuration()
}

func (c *Config) slaveSyncCycleTime() time.Duration {
	return fep3time.FromMillis(c.SlaveSyncCycleTimeMs).AsDuration()
}
