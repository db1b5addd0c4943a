package clocksync

import (
	"context"
	"sync"
	"time"

	"github.com/fep3/participant/clock"
	"github.com/fep3/participant/fep3time"
	"github.com/fep3/participant/ferrors"
	"github.com/fep3/participant/flog"
)

// MasterHandle is the slave's view of the master's RPC endpoint
// (clock_sync_master). Implementations live in the servicebus package.
type MasterHandle interface {
	RegisterSyncSlave(ctx context.Context, mask Mask, name string) error
	UnregisterSyncSlave(ctx context.Context, name string) error
	GetMasterTime(ctx context.Context) (fep3time.Timestamp, error)
	GetMasterType(ctx context.Context) (MasterType, error)
}

// Slave is the clock-synchronization slave endpoint registered against one
// of the on-demand clocks (master_on_demand / master_on_demand_discrete).
// It implements clock.EventSink bridging, Cristian's-algorithm interpolation
// for a continuous master, and reactive forwarding for a discrete master.
type Slave struct {
	name   string
	master MasterHandle
	mask   Mask

	cycleTime time.Duration

	mu         sync.Mutex
	current    fep3time.Timestamp
	sink       clock.EventSink
	interp     *InterpolationTime
	masterType MasterType

	stopCh chan struct{}
	doneCh chan struct{}

	log *flog.Logger
}

// NewSlave constructs a Slave that will register itself against master as
// name, with the given event mask and continuous-poll cycle time.
func NewSlave(name string, master MasterHandle, mask Mask, cycleTime time.Duration, logger *flog.Logger) *Slave {
	return &Slave{
		name:      name,
		master:    master,
		mask:      mask,
		cycleTime: cycleTime,
		interp:    NewInterpolationTime(),
		log:       flog.Component(logger, "clocksync.slave"),
	}
}

// Start registers the slave with the master and, if the master is
// continuous, begins polling; if the master is discrete, it only prepares
// to receive pushed events via SyncTimeEvent.
func (s *Slave) Start(ctx context.Context, sink clock.EventSink) error {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()

	if err := s.master.RegisterSyncSlave(ctx, s.mask, s.name); err != nil {
		return ferrors.Wrap(ferrors.DeviceIO, err, "registering sync slave %q", s.name)
	}

	masterType, err := s.master.GetMasterType(ctx)
	if err != nil {
		return ferrors.Wrap(ferrors.DeviceIO, err, "querying master type for %q", s.name)
	}
	s.mu.Lock()
	s.masterType = masterType
	s.mu.Unlock()

	if masterType == MasterContinuous {
		s.mu.Lock()
		s.stopCh = make(chan struct{})
		s.doneCh = make(chan struct{})
		stopCh, doneCh := s.stopCh, s.doneCh
		s.mu.Unlock()
		go s.pollLoop(stopCh, doneCh)
	}
	return nil
}

// Stop unregisters the slave from the master and stops the poll loop, if
// running.
func (s *Slave) Stop(ctx context.Context) error {
	s.mu.Lock()
	stopCh, doneCh := s.stopCh, s.doneCh
	s.stopCh, s.doneCh = nil, nil
	s.mu.Unlock()
	if stopCh != nil {
		close(stopCh)
		<-doneCh
	}
	return s.master.UnregisterSyncSlave(ctx, s.name)
}

// Now returns the slave's current local time: for a continuous master, the
// Cristian's-algorithm interpolated time; for a discrete master, the last
// time value delivered via SyncTimeEvent.
func (s *Slave) Now() fep3time.Timestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.masterType == MasterContinuous {
		return s.interp.GetTime()
	}
	return s.current
}

func (s *Slave) pollLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(s.cycleTime)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *Slave) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cycleTime)
	defer cancel()

	start := time.Now()
	t, err := s.master.GetMasterTime(ctx)
	rtt := time.Since(start)
	if err != nil {
		s.log.Err().Str("slave", s.name).Str("error", err.Error()).Log("polling master time failed")
		return
	}

	s.mu.Lock()
	s.interp.SetTime(t, fep3time.FromDuration(rtt))
	s.mu.Unlock()
}

// SyncTimeEvent is the clock_sync_slave.syncTimeEvent RPC handler: the
// master pushes event id with the new/old timestamps, and the slave reacts
// according to its discrete-slave behavior table.
func (s *Slave) SyncTimeEvent(ctx context.Context, id EventID, new, old fep3time.Timestamp) error {
	s.mu.Lock()
	sink := s.sink
	if sink == nil {
		sink = clock.NopEventSink{}
	}
	s.mu.Unlock()

	switch id {
	case TimeReset:
		if new != old {
			s.mu.Lock()
			polling := s.stopCh != nil
			s.stopPollLocked()
			s.current = new
			s.interp.ResetTime(new)
			if polling {
				s.stopCh = make(chan struct{})
				s.doneCh = make(chan struct{})
				go s.pollLoop(s.stopCh, s.doneCh)
			}
			s.mu.Unlock()
			sink.TimeResetBegin(old, new)
			sink.TimeResetEnd(new)
		}
	case TimeUpdateBefore:
		sink.TimeUpdateBegin(old, new)
	case TimeUpdating:
		s.mu.Lock()
		s.current = new
		s.mu.Unlock()
		sink.TimeUpdating(new)
	case TimeUpdateAfter:
		sink.TimeUpdateEnd(new)
	}
	return nil
}

// stopPollLocked stops the poll loop, if running. Callers must hold s.mu.
func (s *Slave) stopPollLocked() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	s.doneCh = nil
}
