package servicebus

import (
	"context"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joeycumines/go-microbatch"

	"github.com/fep3/participant/ferrors"
	"github.com/fep3/participant/flog"
)

// Handler answers one RPC method call against a registered service.
type Handler func(ctx context.Context, args []string) Result

// Service is a named group of Handlers, addressable over the bus by name
// (clock_sync_master, clock_sync_slave, data_registry,
// job_registry, scheduler_service).
type Service struct {
	Name    string
	Methods map[string]Handler
}

// invokeJob is one dispatch submitted to the worker pool.
type invokeJob struct {
	ctx    context.Context
	req    Envelope
	result Result
}

// nopCloseListener defers the underlying Close until the Server itself is
// shut down, so registerService/unregisterService can restart the gRPC
// server ("restart the listener") without re-binding the address —
// grpc.Server.Stop/GracefulStop both close the listener passed to Serve,
// which would otherwise make every restart require a fresh port.
type nopCloseListener struct{ net.Listener }

func (nopCloseListener) Close() error { return nil }

// Server is the Service Bus's RPC side: a name-addressable dispatch table,
// served over a single hand-registered gRPC method ("Invoke", carrying a
// wrapperspb.BytesValue-wrapped Envelope) per registered service — grounded
// on inprocgrpc's handlerMap (name -> {desc, handler}, mutex-guarded,
// register-or-panic-on-duplicate), generalised here with a real Unregister
// and non-panicking ferrors returns, since the Service Bus must support
// services coming and going at runtime, unlike a static gRPC server setup.
//
// RPC dispatch runs on a worker pool ("Service Bus dispatches RPC
// calls on the transport's worker pool"), implemented as a
// microbatch.Batcher with MaxSize 1 (one job per batch, so ordering per
// dispatch call is irrelevant) and a configurable MaxConcurrency — the same
// library used for clocksync.Master's per-slave executor and
// dataregistry.Writer's batched transmit, here configured for concurrent
// fan-in instead of serial fan-out.
type Server struct {
	addr string
	log  *flog.Logger

	mu       sync.Mutex
	services map[string]*Service
	lis      net.Listener
	srv      *grpc.Server
	pool     *microbatch.Batcher[*invokeJob]
}

// NewServer constructs a Server that will bind addr when Listen is called.
// Concurrency is the worker-pool size used for RPC dispatch.
func NewServer(addr string, concurrency int, logger *flog.Logger) *Server {
	if concurrency <= 0 {
		concurrency = 8
	}
	s := &Server{
		addr:     addr,
		log:      flog.Component(logger, "servicebus.server"),
		services: make(map[string]*Service),
	}
	s.pool = microbatch.NewBatcher[*invokeJob](
		&microbatch.BatcherConfig{MaxSize: 1, FlushInterval: -1, MaxConcurrency: concurrency},
		s.processInvoke,
	)
	return s
}

// Addr returns the address the listener is bound to, once Listen has
// succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

// Listen binds the server's address and starts serving. It must be called
// once before any RegisterService call takes effect over the wire (the
// in-process dispatch table is usable immediately via Call).
func (s *Server) Listen() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return ferrors.DeviceNotReadyf("servicebus: listen %s: %v", s.addr, err)
	}
	s.mu.Lock()
	s.lis = nopCloseListener{lis}
	s.mu.Unlock()
	s.restartLocked()
	return nil
}

// Shutdown stops serving, closes the listener for real, and drains the
// dispatch worker pool.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.srv != nil {
		s.srv.Stop()
		s.srv = nil
	}
	lis := s.lis
	s.lis = nil
	s.mu.Unlock()
	if lis != nil {
		// the real Close, bypassing nopCloseListener's suppression.
		if nc, ok := lis.(nopCloseListener); ok {
			_ = nc.Listener.Close()
		} else {
			_ = lis.Close()
		}
	}
	return s.pool.Shutdown(ctx)
}

// RegisterService adds svc to the dispatch table. Duplicate names fail with
// ferrors.InvalidArg. The gRPC listener (if bound) is restarted so its
// service descriptor set reflects the new registration.
func (s *Server) RegisterService(svc *Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[svc.Name]; ok {
		return ferrors.InvalidArgf("servicebus: service %q already registered", svc.Name)
	}
	s.services[svc.Name] = svc
	s.restartLocked()
	return nil
}

// UnregisterService removes the service named name. ferrors.NotFound if
// absent. The listener is restarted, as with RegisterService.
func (s *Server) UnregisterService(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[name]; !ok {
		return ferrors.NotFoundf("servicebus: service %q", name)
	}
	delete(s.services, name)
	s.restartLocked()
	return nil
}

// ServiceNames returns the names of every currently registered service.
func (s *Server) ServiceNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	return names
}

// restartLocked rebuilds and restarts the gRPC server against the current
// service set. Must be called with s.mu held. A no-op until Listen has
// bound a listener.
func (s *Server) restartLocked() {
	if s.lis == nil {
		return
	}
	if s.srv != nil {
		s.srv.Stop()
	}
	srv := grpc.NewServer()
	for name, svc := range s.services {
		svc := svc
		srv.RegisterService(&grpc.ServiceDesc{
			ServiceName: serviceDescName(name),
			HandlerType: (*any)(nil),
			Methods: []grpc.MethodDesc{{
				MethodName: "Invoke",
				Handler:    s.invokeMethodHandler(svc),
			}},
		}, s)
	}
	s.srv = srv
	go func() {
		if err := srv.Serve(s.lis); err != nil {
			s.log.Info().Str("error", err.Error()).Log("servicebus: gRPC server stopped")
		}
	}()
}

func serviceDescName(name string) string { return "fep3.servicebus." + name }

// invokeMethodHandler returns a grpc.methodHandler-shaped closure that
// decodes the incoming wrapperspb.BytesValue into an Envelope, dispatches it
// against svc via the worker pool, and re-wraps the Result as a
// wrapperspb.BytesValue reply.
func (s *Server) invokeMethodHandler(svc *Service) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(wrapperspb.BytesValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		handle := func(ctx context.Context, req any) (any, error) {
			envBytes, err := FromBytesValue(req.(*wrapperspb.BytesValue))
			if err != nil {
				return nil, err
			}
			env, err := UnmarshalEnvelope(envBytes)
			if err != nil {
				return nil, err
			}
			result := s.Dispatch(ctx, svc, env)
			return ToBytesValue(result.Marshal()), nil
		}
		if interceptor != nil {
			info := &grpc.UnaryServerInfo{FullMethod: "/" + serviceDescName(svc.Name) + "/Invoke"}
			return interceptor(ctx, in, info, handle)
		}
		return handle(ctx, in)
	}
}

// Dispatch runs env's method against svc on the worker pool and returns the
// Result, synchronously. Used both by the gRPC entrypoint and by Call, the
// in-process path behind inProcInvoker (see requester.go), which skips the
// wire encoding entirely.
func (s *Server) Dispatch(ctx context.Context, svc *Service, env Envelope) Result {
	if _, ok := svc.Methods[env.Method]; !ok {
		return Fail(ferrors.NotFoundf("servicebus: method %q on service %q", env.Method, svc.Name))
	}
	job := &invokeJob{ctx: ctx, req: env}
	res, err := s.pool.Submit(ctx, job)
	if err != nil {
		return Fail(ferrors.Unexpectedf("servicebus: dispatch %q.%q: %v", svc.Name, env.Method, err))
	}
	if err := res.Wait(ctx); err != nil {
		return Fail(ferrors.Unexpectedf("servicebus: dispatch %q.%q: %v", svc.Name, env.Method, err))
	}
	return job.result
}

// processInvoke is the microbatch.BatchProcessor backing s.pool: it
// resolves and calls the handler for each submitted job, in parallel up to
// the configured concurrency.
func (s *Server) processInvoke(ctx context.Context, jobs []*invokeJob) error {
	for _, job := range jobs {
		svc := s.lookupServiceLocked(job.req.Service)
		if svc == nil {
			job.result = Fail(ferrors.NotFoundf("servicebus: service %q", job.req.Service))
			continue
		}
		fn, ok := svc.Methods[job.req.Method]
		if !ok {
			job.result = Fail(ferrors.NotFoundf("servicebus: method %q on service %q", job.req.Method, job.req.Service))
			continue
		}
		job.result = fn(job.ctx, job.req.Args)
	}
	return nil
}

func (s *Server) lookupServiceLocked(name string) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.services[name]
}
