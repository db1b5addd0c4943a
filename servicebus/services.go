package servicebus

import (
	"context"
	"strconv"

	"github.com/fep3/participant/clocksync"
	"github.com/fep3/participant/dataregistry"
	"github.com/fep3/participant/fep3time"
	"github.com/fep3/participant/ferrors"
	"github.com/fep3/participant/scheduler"
)

// NewClockSyncMasterService exposes a clocksync.Master as the
// clock_sync_master RPC service: registerSyncSlave,
// unregisterSyncSlave, getMasterTime, getMasterType. resolve turns the
// calling slave's own unique name into a SyncRequester able to reach its
// clock_sync_slave endpoint (via discovery, see SystemAccess.Resolve).
func NewClockSyncMasterService(master *clocksync.Master, resolve func(ctx context.Context, name string) (clocksync.SyncRequester, error), now func() fep3time.Timestamp) *Service {
	return &Service{
		Name: "clock_sync_master",
		Methods: map[string]Handler{
			"registerSyncSlave": func(ctx context.Context, args []string) Result {
				if len(args) != 2 {
					return Fail(ferrors.InvalidArgf("registerSyncSlave: expected 2 args, got %d", len(args)))
				}
				maskVal, err := strconv.Atoi(args[0])
				if err != nil {
					return Fail(ferrors.InvalidArgf("registerSyncSlave: malformed mask: %v", err))
				}
				name := args[1]
				requester, err := resolve(ctx, name)
				if err != nil {
					return Fail(err)
				}
				if err := master.RegisterSlave(name, requester, clocksync.Mask(maskVal)); err != nil {
					return Fail(err)
				}
				return OK("0")
			},
			"unregisterSyncSlave": func(ctx context.Context, args []string) Result {
				if len(args) != 1 {
					return Fail(ferrors.InvalidArgf("unregisterSyncSlave: expected 1 arg, got %d", len(args)))
				}
				if err := master.UnregisterSlave(args[0]); err != nil {
					return Fail(err)
				}
				return OK("0")
			},
			"getMasterTime": func(ctx context.Context, args []string) Result {
				return OK(now().String())
			},
			"getMasterType": func(ctx context.Context, args []string) Result {
				return OK(strconv.Itoa(int(master.MasterType())))
			},
		},
	}
}

// NewClockSyncSlaveService exposes a clocksync.Slave as the
// clock_sync_slave RPC service: syncTimeEvent.
func NewClockSyncSlaveService(slave *clocksync.Slave) *Service {
	return &Service{
		Name: "clock_sync_slave",
		Methods: map[string]Handler{
			"syncTimeEvent": func(ctx context.Context, args []string) Result {
				if len(args) != 3 {
					return Fail(ferrors.InvalidArgf("syncTimeEvent: expected 3 args, got %d", len(args)))
				}
				idVal, err := strconv.Atoi(args[0])
				if err != nil {
					return Fail(ferrors.InvalidArgf("syncTimeEvent: malformed event id: %v", err))
				}
				newT, err := fep3time.ParseTimestamp(args[1])
				if err != nil {
					return Fail(ferrors.InvalidArgf("syncTimeEvent: malformed new time: %v", err))
				}
				oldT, err := fep3time.ParseTimestamp(args[2])
				if err != nil {
					return Fail(ferrors.InvalidArgf("syncTimeEvent: malformed old time: %v", err))
				}
				if err := slave.SyncTimeEvent(ctx, clocksync.EventID(idVal), newT, oldT); err != nil {
					return Fail(err)
				}
				return OK(newT.String())
			},
		},
	}
}

// NewDataRegistryService exposes a dataregistry.Registry as the
// data_registry RPC service: getSignalInNames, getSignalOutNames,
// getStreamType.
func NewDataRegistryService(reg *dataregistry.Registry) *Service {
	return &Service{
		Name: "data_registry",
		Methods: map[string]Handler{
			"getSignalInNames": func(ctx context.Context, args []string) Result {
				return OK(EncodeCSV(reg.NamesByDirection(dataregistry.DirectionIn)))
			},
			"getSignalOutNames": func(ctx context.Context, args []string) Result {
				return OK(EncodeCSV(reg.NamesByDirection(dataregistry.DirectionOut)))
			},
			"getStreamType": func(ctx context.Context, args []string) Result {
				if len(args) != 1 {
					return Fail(ferrors.InvalidArgf("getStreamType: expected 1 arg, got %d", len(args)))
				}
				st, ok := reg.StreamTypeOf(args[0])
				if !ok {
					return Fail(ferrors.NotFoundf("signal %q", args[0]))
				}
				return OK(string(st.Marshal()))
			},
		},
	}
}

// NewJobRegistryService exposes a scheduler.JobRegistry as the job_registry
// RPC service: getJobNames, getJobInfo.
func NewJobRegistryService(reg *scheduler.JobRegistry) *Service {
	return &Service{
		Name: "job_registry",
		Methods: map[string]Handler{
			"getJobNames": func(ctx context.Context, args []string) Result {
				jobs := reg.Jobs()
				names := make([]string, len(jobs))
				for i, j := range jobs {
					names[i] = j.Name
				}
				return OK(EncodeCSV(names))
			},
			"getJobInfo": func(ctx context.Context, args []string) Result {
				if len(args) != 1 {
					return Fail(ferrors.InvalidArgf("getJobInfo: expected 1 arg, got %d", len(args)))
				}
				job, ok := reg.Get(args[0])
				if !ok {
					return Fail(ferrors.NotFoundf("job %q", args[0]))
				}
				return OK(
					job.Name,
					job.Cycle.String(),
					job.Delay.String(),
					job.MaxRuntime.String(),
					job.ViolationStrategy.String(),
					EncodeCSV(job.DependsOn),
				)
			},
		},
	}
}

// NewSchedulerService exposes a scheduler.SchedulerRegistry as the
// scheduler_service RPC service: getSchedulerNames,
// getActiveSchedulerName.
func NewSchedulerService(reg *scheduler.SchedulerRegistry) *Service {
	return &Service{
		Name: "scheduler_service",
		Methods: map[string]Handler{
			"getSchedulerNames": func(ctx context.Context, args []string) Result {
				return OK(EncodeCSV(reg.Names()))
			},
			"getActiveSchedulerName": func(ctx context.Context, args []string) Result {
				return OK(reg.ActiveName())
			},
		},
	}
}
