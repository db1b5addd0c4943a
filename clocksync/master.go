package clocksync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fep3/participant/fep3time"
	"github.com/fep3/participant/ferrors"
	"github.com/fep3/participant/flog"
	"github.com/joeycumines/go-microbatch"
)

// SyncRequester is the master's view of a single slave's RPC endpoint: the
// means to invoke the slave's clock_sync_slave.syncTimeEvent method.
// Implementations live in the servicebus package, over the wire.
type SyncRequester interface {
	SyncTimeEvent(ctx context.Context, id EventID, new, old fep3time.Timestamp) error
}

// ErrorCallback is invoked when a slave's safety timeout elapses: the
// participant is put into an error state (fail-fast on an internal bug,
// e.g. a hung slave RPC implementation).
type ErrorCallback func(slave string, err error)

type slaveRegistration struct {
	name      string
	requester SyncRequester
	mask      Mask
	deactivated bool
	executor  *microbatch.Batcher[syncTask]
}

type syncTask struct {
	id      EventID
	new, old fep3time.Timestamp
}

// Master fans clock events out to registered slaves: event fan-out is
// parallel across slaves, serial per slave. Each slave's tasks
// run on a dedicated single-concurrency microbatch.Batcher (one task per
// batch), so a slow slave only ever blocks its own queue.
type Master struct {
	mu         sync.Mutex
	slaves     map[string]*slaveRegistration
	masterType MasterType
	rpcTimeout time.Duration
	onError    ErrorCallback
	log        *flog.Logger
}

// NewMaster constructs a Master for a clock of the given MasterType. rpcTimeout
// is the per-call RPC timeout used to derive the safety timeout
// (max(2*rpcTimeout, 1s)). onError is invoked if a slave's safety timeout
// elapses.
func NewMaster(masterType MasterType, rpcTimeout time.Duration, onError ErrorCallback, logger *flog.Logger) *Master {
	return &Master{
		slaves:     make(map[string]*slaveRegistration),
		masterType: masterType,
		rpcTimeout: rpcTimeout,
		onError:    onError,
		log:        flog.Component(logger, "clocksync.master"),
	}
}

// safetyTimeout returns max(2*rpcTimeout, 1s).
func (m *Master) safetyTimeout() time.Duration {
	t := 2 * m.rpcTimeout
	if t < time.Second {
		t = time.Second
	}
	return t
}

// MasterType reports whether this master's clock is continuous or discrete
// (the getMasterType RPC value).
func (m *Master) MasterType() MasterType { return m.masterType }

// RegisterSlave registers (or re-activates) a slave: a deactivated slave
// is kept in the map so re-registration is O(1).
func (m *Master) RegisterSlave(name string, requester SyncRequester, mask Mask) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if reg, exists := m.slaves[name]; exists {
		reg.requester = requester
		reg.mask = mask
		reg.deactivated = false
		return nil
	}

	reg := &slaveRegistration{name: name, requester: requester, mask: mask}
	reg.executor = microbatch.NewBatcher[syncTask](
		&microbatch.BatcherConfig{MaxSize: 1, FlushInterval: -1, MaxConcurrency: 1},
		func(ctx context.Context, jobs []syncTask) error {
			if len(jobs) != 1 {
				return fmt.Errorf("clocksync: master executor: expected exactly one task per batch, got %d", len(jobs))
			}
			job := jobs[0]
			return requester.SyncTimeEvent(ctx, job.id, job.new, job.old)
		},
	)
	m.slaves[name] = reg
	m.log.Info().Str("slave", name).Log("registered sync slave")
	return nil
}

// UnregisterSlave removes the named slave, shutting down its executor. It
// returns ferrors.NotFound if the slave is not registered.
func (m *Master) UnregisterSlave(name string) error {
	m.mu.Lock()
	reg, exists := m.slaves[name]
	if exists {
		delete(m.slaves, name)
	}
	m.mu.Unlock()

	if !exists {
		return ferrors.NotFoundf("sync slave %q not registered", name)
	}
	_ = reg.executor.Close()
	return nil
}

// activeSlaves returns a snapshot of the currently active (non-deactivated)
// slave registrations subscribed to id.
func (m *Master) activeSlaves(id EventID) []*slaveRegistration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*slaveRegistration, 0, len(m.slaves))
	for _, reg := range m.slaves {
		if !reg.deactivated && reg.mask.Includes(id) {
			out = append(out, reg)
		}
	}
	return out
}

func (m *Master) deactivate(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reg, ok := m.slaves[name]; ok {
		reg.deactivated = true
	}
}

// Dispatch fans event id out to every active slave whose mask includes it.
// It blocks until every slave's task completes or the safety timeout
// elapses.
func (m *Master) Dispatch(id EventID, new, old fep3time.Timestamp) {
	slaves := m.activeSlaves(id)
	if len(slaves) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(slaves))
	for _, reg := range slaves {
		go func(reg *slaveRegistration) {
			defer wg.Done()
			m.dispatchOne(reg, id, new, old)
		}(reg)
	}
	wg.Wait()
}

func (m *Master) dispatchOne(reg *slaveRegistration, id EventID, new, old fep3time.Timestamp) {
	ctx, cancel := context.WithTimeout(context.Background(), m.rpcTimeout)
	defer cancel()

	result, err := reg.executor.Submit(ctx, syncTask{id: id, new: new, old: old})
	if err != nil {
		// submission itself failed (executor closed, context canceled before
		// the task could even be enqueued) - treat as an RPC exception.
		m.log.Err().Str("slave", reg.name).Str("error", err.Error()).Log("failed to enqueue sync event")
		m.deactivate(reg.name)
		return
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), m.safetyTimeout())
	defer waitCancel()

	if err := result.Wait(waitCtx); err != nil {
		if waitCtx.Err() != nil {
			// safety timeout elapsed: fail fast.
			m.log.Err().Str("slave", reg.name).Log("safety timeout waiting for sync event")
			if m.onError != nil {
				m.onError(reg.name, fmt.Errorf("clocksync: safety timeout waiting for slave %q", reg.name))
			}
			return
		}
		m.log.Err().Str("slave", reg.name).Str("error", err.Error()).Log("sync event RPC failed")
		m.deactivate(reg.name)
	}
}
