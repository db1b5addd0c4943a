package servicebus

import (
	"context"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/fep3/participant/clocksync"
	"github.com/fep3/participant/fep3time"
	"github.com/fep3/participant/ferrors"
)

// invoker is the common client-side dispatch surface: call a named method
// on a named service, get back a Result. Two implementations exist: one for
// same-process calls that skip wire encoding entirely (used when the peer's
// *Server is directly reachable, e.g. in tests or a single-process
// deployment), and one for an actual gRPC connection.
type invoker interface {
	invoke(ctx context.Context, service, method string, args []string) Result
}

// Call exposes Server's dispatch table to an invoker without requiring the
// caller to hold the *Service pointer directly.
func (s *Server) Call(ctx context.Context, service, method string, args []string) Result {
	s.mu.Lock()
	svc := s.services[service]
	s.mu.Unlock()
	if svc == nil {
		return Fail(ferrors.NotFoundf("servicebus: service %q", service))
	}
	return s.Dispatch(ctx, svc, Envelope{Service: service, Method: method, Args: args})
}

// inProcInvoker dispatches directly against a local *Server, for peers
// reachable in the same process.
type inProcInvoker struct{ srv *Server }

func (i inProcInvoker) invoke(ctx context.Context, service, method string, args []string) Result {
	return i.srv.Call(ctx, service, method, args)
}

// grpcInvoker dispatches over an established gRPC connection, using
// ClientConn.Invoke directly rather than a generated stub — the same
// codegen-free pattern inprocgrpc's Channel implements
// grpc.ClientConnInterface for.
type grpcInvoker struct{ conn *grpc.ClientConn }

func (i grpcInvoker) invoke(ctx context.Context, service, method string, args []string) Result {
	env := Envelope{Service: service, Method: method, Args: args}
	req := ToBytesValue(env.Marshal())
	reply := new(wrapperspb.BytesValue)
	fullMethod := "/" + serviceDescName(service) + "/Invoke"
	if err := i.conn.Invoke(ctx, fullMethod, req, reply); err != nil {
		return Fail(ferrors.Unexpectedf("servicebus: invoke %s: %v", fullMethod, err))
	}
	resultBytes, err := FromBytesValue(reply)
	if err != nil {
		return Fail(ferrors.Unexpectedf("servicebus: invoke %s: %v", fullMethod, err))
	}
	result, err := UnmarshalResult(resultBytes)
	if err != nil {
		return Fail(ferrors.Unexpectedf("servicebus: invoke %s: %v", fullMethod, err))
	}
	return result
}

// NewInProcessInvoker builds an invoker that dispatches directly against
// srv, bypassing wire encoding.
func NewInProcessInvoker(srv *Server) invoker { return inProcInvoker{srv: srv} }

// NewGRPCInvoker builds an invoker over an established gRPC ClientConn.
func NewGRPCInvoker(conn *grpc.ClientConn) invoker { return grpcInvoker{conn: conn} }

// NewGRPCDialer builds a Dialer that dials a discovered peer's LocationURL
// as an insecure gRPC target (transport security is out of scope; deployments
// needing it supply their own Dialer). Defined here, rather than by callers,
// because Dialer's return type is this package's unexported invoker
// interface.
func NewGRPCDialer() Dialer {
	return func(ctx context.Context, locationURL string) (invoker, error) {
		conn, err := grpc.DialContext(ctx, locationURL, grpc.WithTransportCredentials(insecure.NewCredentials()), grpc.WithBlock())
		if err != nil {
			return nil, ferrors.DeviceIOf("servicebus: dial %s: %v", locationURL, err)
		}
		return grpcInvoker{conn: conn}, nil
	}
}

// SlaveEndpoint is the master's callable handle to one slave's
// clock_sync_slave service, implementing clocksync.SyncRequester.
type SlaveEndpoint struct{ inv invoker }

// NewSlaveEndpoint wraps inv as a clocksync.SyncRequester.
func NewSlaveEndpoint(inv invoker) *SlaveEndpoint { return &SlaveEndpoint{inv: inv} }

// SyncTimeEvent implements clocksync.SyncRequester.
func (e *SlaveEndpoint) SyncTimeEvent(ctx context.Context, id clocksync.EventID, new, old fep3time.Timestamp) error {
	result := e.inv.invoke(ctx, "clock_sync_slave", "syncTimeEvent", []string{
		strconv.Itoa(int(id)), new.String(), old.String(),
	})
	return result.AsError()
}

// MasterEndpoint is the slave's callable handle to the clock_sync_master
// service, implementing clocksync.MasterHandle.
type MasterEndpoint struct {
	inv  invoker
	name string // this slave's own participant name; RegisterSyncSlave sends the name passed to it
}

// NewMasterEndpoint wraps inv as a clocksync.MasterHandle for the slave
// named name.
func NewMasterEndpoint(inv invoker, name string) *MasterEndpoint {
	return &MasterEndpoint{inv: inv, name: name}
}

// RegisterSyncSlave implements clocksync.MasterHandle.
func (e *MasterEndpoint) RegisterSyncSlave(ctx context.Context, mask clocksync.Mask, name string) error {
	result := e.inv.invoke(ctx, "clock_sync_master", "registerSyncSlave", []string{
		strconv.Itoa(int(mask)), name,
	})
	return result.AsError()
}

// UnregisterSyncSlave implements clocksync.MasterHandle.
func (e *MasterEndpoint) UnregisterSyncSlave(ctx context.Context, name string) error {
	result := e.inv.invoke(ctx, "clock_sync_master", "unregisterSyncSlave", []string{name})
	return result.AsError()
}

// GetMasterTime implements clocksync.MasterHandle.
func (e *MasterEndpoint) GetMasterTime(ctx context.Context) (fep3time.Timestamp, error) {
	result := e.inv.invoke(ctx, "clock_sync_master", "getMasterTime", nil)
	if err := result.AsError(); err != nil {
		return 0, err
	}
	if len(result.Values) != 1 {
		return 0, ferrors.Unexpectedf("servicebus: getMasterTime: malformed result")
	}
	return fep3time.ParseTimestamp(result.Values[0])
}

// GetMasterType implements clocksync.MasterHandle.
func (e *MasterEndpoint) GetMasterType(ctx context.Context) (clocksync.MasterType, error) {
	result := e.inv.invoke(ctx, "clock_sync_master", "getMasterType", nil)
	if err := result.AsError(); err != nil {
		return 0, err
	}
	if len(result.Values) != 1 {
		return 0, ferrors.Unexpectedf("servicebus: getMasterType: malformed result")
	}
	v, err := strconv.Atoi(result.Values[0])
	if err != nil {
		return 0, ferrors.Unexpectedf("servicebus: getMasterType: %v", err)
	}
	return clocksync.MasterType(v), nil
}
