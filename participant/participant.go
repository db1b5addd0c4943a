package participant

import (
	"context"
	"strings"
	"sync"

	"github.com/fep3/participant/clock"
	"github.com/fep3/participant/clocksync"
	"github.com/fep3/participant/dataregistry"
	"github.com/fep3/participant/fep3time"
	"github.com/fep3/participant/ferrors"
	"github.com/fep3/participant/flog"
	"github.com/fep3/participant/scheduler"
	"github.com/fep3/participant/servicebus"
)

// Names of the two clock-synchronization slave clocks, alongside
// clock.NameLocalSystemRealtime/NameLocalSystemSimtime.
const (
	NameMasterOnDemand         = "master_on_demand"
	NameMasterOnDemandDiscrete = "master_on_demand_discrete"
)

// Participant aggregates one FEP3-style runtime's subsystems: the clock
// service, clock synchronization (master side always, slave side if
// configured), the data registry, the job scheduler, and the Service Bus.
// It does not implement the full participant lifecycle state machine itself
// — only the construct/tense/relax transitions those subsystems need.
type Participant struct {
	cfg Config
	log *flog.Logger

	Clock      *clock.Service
	Data       *dataregistry.Registry
	Jobs       *scheduler.JobRegistry
	Schedulers *scheduler.SchedulerRegistry
	Bus        *servicebus.Server
	System     *servicebus.SystemAccess

	master *clocksync.Master

	mu       sync.Mutex
	started  bool
	tensed   bool
	lastErr  error
	syncSink *clocksync.MasterSink
}

// New constructs a Participant from cfg, applying defaults and validating
// the master-on-demand failure model. It registers every subsystem's
// Service Bus RPC surface but does not yet bind the network or start the
// clock — call Start, then Tense.
func New(cfg Config) (*Participant, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := flog.Component(cfg.Logger, "participant."+cfg.ParticipantName)

	clockSvc, err := clock.NewService(
		clock.WithCycleTime(cfg.cycleTime()),
		clock.WithTimeFactor(cfg.TimeFactor),
		clock.WithTimeUpdateTimeout(cfg.TimeUpdateTimeoutMs),
		clock.WithLogger(cfg.Logger),
	)
	if err != nil {
		return nil, err
	}

	jobs := scheduler.NewJobRegistry()
	schedulers := scheduler.NewSchedulerRegistry(jobs)
	if cfg.Scheduler != "" && cfg.Scheduler != scheduler.DefaultSchedulerName {
		if err := schedulers.SetActiveScheduler(cfg.Scheduler); err != nil {
			return nil, err
		}
	}

	data := dataregistry.NewRegistry(cfg.Logger)

	bus := servicebus.NewServer(cfg.ServiceBusAddr, cfg.Concurrency, cfg.Logger)

	dial := cfg.Dial
	if dial == nil {
		dial = servicebus.NewGRPCDialer()
	}

	system := servicebus.NewSystemAccess(servicebus.SystemAccessConfig{
		ParticipantName: cfg.ParticipantName,
		SystemName:      cfg.SystemName,
		LocationURL:     cfg.LocationURL,
		TTL:             cfg.TTL,
		Transport:       cfg.Transport,
		Dial:            dial,
	}, cfg.Logger)

	p := &Participant{
		cfg:        cfg,
		log:        logger,
		Clock:      clockSvc,
		Data:       data,
		Jobs:       jobs,
		Schedulers: schedulers,
		Bus:        bus,
		System:     system,
	}

	masterType := clocksync.MasterContinuous
	if cfg.MainClock == clock.NameLocalSystemSimtime || cfg.MainClock == NameMasterOnDemandDiscrete {
		masterType = clocksync.MasterDiscrete
	}
	p.master = clocksync.NewMaster(masterType, p.cfg.timeUpdateTimeout(), p.onSlaveError, cfg.Logger)
	p.syncSink = clocksync.NewMasterSink(p.master)

	if err := bus.RegisterService(servicebus.NewClockSyncMasterService(p.master, p.resolveSlave, p.now)); err != nil {
		return nil, err
	}
	if err := bus.RegisterService(servicebus.NewDataRegistryService(data)); err != nil {
		return nil, err
	}
	if err := bus.RegisterService(servicebus.NewJobRegistryService(jobs)); err != nil {
		return nil, err
	}
	if err := bus.RegisterService(servicebus.NewSchedulerService(schedulers)); err != nil {
		return nil, err
	}

	if cfg.TimingMaster != "" {
		slaveClock, err := p.buildSlaveClock()
		if err != nil {
			return nil, err
		}
		if err := clockSvc.Register(slaveClock); err != nil {
			return nil, err
		}
		if err := bus.RegisterService(servicebus.NewClockSyncSlaveService(slaveClock.Slave())); err != nil {
			return nil, err
		}
	}
	if err := clockSvc.SetMainClock(cfg.MainClock); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Participant) now() fep3time.Timestamp { return p.Clock.Now() }

// resolveSlave turns a registering slave's own participant name into a
// clocksync.SyncRequester, per NewClockSyncMasterService's callback
// contract: it resolves the name via discovery and dials its
// clock_sync_slave endpoint.
func (p *Participant) resolveSlave(ctx context.Context, name string) (clocksync.SyncRequester, error) {
	inv, err := p.System.Resolve(ctx, p.qualify(name))
	if err != nil {
		return nil, err
	}
	return servicebus.NewSlaveEndpoint(inv), nil
}

func (p *Participant) qualify(name string) string {
	if strings.Contains(name, "@") {
		return name
	}
	return name + "@" + p.cfg.SystemName
}

// buildSlaveClock resolves TimingMaster's invoker and wraps a clocksync.Slave
// for the configured on-demand clock name. Resolution is deferred (see
// lazyMasterHandle) until the slave first calls the master, which happens
// when the main clock starts in Tense; the master must have been
// discovered by then, since Tense itself does not wait for discovery.
func (p *Participant) buildSlaveClock() (*clocksync.SlaveClock, error) {
	var typ clock.Type
	switch p.cfg.MainClock {
	case NameMasterOnDemand:
		typ = clock.Continuous
	case NameMasterOnDemandDiscrete:
		typ = clock.Discrete
	default:
		return nil, ferrors.InvalidArgf("participant: timing_master requires main_clock to be %q or %q, got %q", NameMasterOnDemand, NameMasterOnDemandDiscrete, p.cfg.MainClock)
	}

	handle := &lazyMasterHandle{resolve: func(ctx context.Context) (clocksync.MasterHandle, error) {
		inv, err := p.System.Resolve(ctx, p.qualify(p.cfg.TimingMaster))
		if err != nil {
			return nil, err
		}
		return servicebus.NewMasterEndpoint(inv, p.cfg.ParticipantName), nil
	}}
	slave := clocksync.NewSlave(p.cfg.ParticipantName, handle, clocksync.DefaultMask, p.cfg.slaveSyncCycleTime(), p.cfg.Logger)
	return clocksync.NewSlaveClock(p.cfg.MainClock, typ, slave), nil
}

// onSlaveError implements clocksync.ErrorCallback: a slave's safety timeout
// transitions this participant to its error state.
func (p *Participant) onSlaveError(slave string, err error) {
	p.SetErrorState(ferrors.Wrap(ferrors.DeviceIO, err, "clock synchronization: slave %q", slave))
}

// SetErrorState implements scheduler.StateSetter: it records reason as this
// participant's last error and logs it. The full lifecycle state machine is
// out of scope; callers needing to observe the transition use LastError.
func (p *Participant) SetErrorState(reason error) {
	p.mu.Lock()
	p.lastErr = reason
	p.mu.Unlock()
	p.log.Err().Str("error", reason.Error()).Log("participant: entered error state")
}

// LastError returns the most recent error SetErrorState recorded, if any.
func (p *Participant) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Start binds the Service Bus listener and joins discovery, making this
// participant reachable and discoverable. Must be called before Tense when
// TimingMaster is set, so the master can be resolved.
func (p *Participant) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ferrors.InvalidStatef("participant %q: already started", p.cfg.ParticipantName)
	}
	p.started = true
	p.mu.Unlock()

	if err := p.Bus.Listen(); err != nil {
		return err
	}
	if p.cfg.LocationURL == "" {
		p.cfg.LocationURL = p.Bus.Addr()
	}
	return p.System.Start(ctx)
}

// Stop leaves discovery and shuts down the Service Bus listener. Relax
// should be called first if the participant is tensed.
func (p *Participant) Stop(ctx context.Context) error {
	if err := p.System.Stop(ctx); err != nil {
		p.log.Warning().Str("error", err.Error()).Log("participant: discovery stop failed")
	}
	return p.Bus.Shutdown(ctx)
}

// Tense binds the data registry to bus, initializes and starts the active
// scheduler against the main clock, and (for a discrete main clock) starts
// it — a continuous main clock is started directly here, since the
// scheduler never starts one itself (its per-job goroutine model only ever
// reads Now()). The active scheduler is selected before tense;
// SchedulerRegistry.SetRunning(true) then locks that selection in.
func (p *Participant) Tense(ctx context.Context, bus dataregistry.SimulationBus) error {
	p.mu.Lock()
	if p.tensed {
		p.mu.Unlock()
		return ferrors.InvalidStatef("participant %q: already tensed", p.cfg.ParticipantName)
	}
	p.tensed = true
	p.mu.Unlock()

	if err := p.Data.Tense(ctx, bus); err != nil {
		return err
	}

	mainClock, err := p.Clock.Get(p.cfg.MainClock)
	if err != nil {
		return err
	}

	active, err := p.Schedulers.Active()
	if err != nil {
		return err
	}
	if err := active.Initialize(mainClock, p.Jobs.Jobs()); err != nil {
		return err
	}
	if cbs, ok := active.(*scheduler.ClockBasedScheduler); ok {
		cbs.WithStateSetter(p).WithSyncSink(p.syncSink)
	}

	if mainClock.Type() == clock.Continuous {
		if err := mainClock.Start(p.syncSink); err != nil {
			return err
		}
	}
	if err := active.Start(ctx); err != nil {
		return err
	}
	p.Schedulers.SetRunning(true)
	return nil
}

// Relax stops the active scheduler, stops the main clock if continuous, and
// unbinds the data registry from its bus.
func (p *Participant) Relax() error {
	p.mu.Lock()
	if !p.tensed {
		p.mu.Unlock()
		return ferrors.InvalidStatef("participant %q: not tensed", p.cfg.ParticipantName)
	}
	p.tensed = false
	p.mu.Unlock()

	p.Schedulers.SetRunning(false)
	active, err := p.Schedulers.Active()
	if err != nil {
		return err
	}
	if err := active.Stop(); err != nil {
		return err
	}

	mainClock, err := p.Clock.Get(p.cfg.MainClock)
	if err != nil {
		return err
	}
	if mainClock.Type() == clock.Continuous {
		if err := mainClock.Stop(); err != nil {
			return err
		}
	}

	p.Data.Relax()
	return nil
}

// lazyMasterHandle defers resolving the real clocksync.MasterHandle until
// first use, since the peer named by timing_master may not be discoverable
// yet at Participant construction time.
type lazyMasterHandle struct {
	resolve func(ctx context.Context) (clocksync.MasterHandle, error)

	mu     sync.Mutex
	handle clocksync.MasterHandle
}

func (h *lazyMasterHandle) get(ctx context.Context) (clocksync.MasterHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handle != nil {
		return h.handle, nil
	}
	handle, err := h.resolve(ctx)
	if err != nil {
		return nil, err
	}
	h.handle = handle
	return handle, nil
}

func (h *lazyMasterHandle) RegisterSyncSlave(ctx context.Context, mask clocksync.Mask, name string) error {
	handle, err := h.get(ctx)
	if err != nil {
		return err
	}
	return handle.RegisterSyncSlave(ctx, mask, name)
}

func (h *lazyMasterHandle) UnregisterSyncSlave(ctx context.Context, name string) error {
	handle, err := h.get(ctx)
	if err != nil {
		return err
	}
	return handle.UnregisterSyncSlave(ctx, name)
}

func (h *lazyMasterHandle) GetMasterTime(ctx context.Context) (fep3time.Timestamp, error) {
	handle, err := h.get(ctx)
	if err != nil {
		return 0, err
	}
	return handle.GetMasterTime(ctx)
}

func (h *lazyMasterHandle) GetMasterType(ctx context.Context) (clocksync.MasterType, error) {
	handle, err := h.get(ctx)
	if err != nil {
		return 0, err
	}
	return handle.GetMasterType(ctx)
}

var _ clocksync.MasterHandle = (*lazyMasterHandle)(nil)
