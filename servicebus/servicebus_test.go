package servicebus

import (
	"context"
	"testing"
	"time"

	"github.com/fep3/participant/ferrors"
	"github.com/fep3/participant/flog"
)

func kindIs(err error, want ferrors.Kind) bool {
	k, ok := ferrors.KindOf(err)
	return ok && k == want
}

func echoService() *Service {
	return &Service{
		Name: "echo",
		Methods: map[string]Handler{
			"ping": func(ctx context.Context, args []string) Result {
				return OK(append([]string{"pong"}, args...)...)
			},
		},
	}
}

func TestServerDispatchRoundTrip(t *testing.T) {
	srv := NewServer("127.0.0.1:0", 4, flog.NewNop())
	if err := srv.RegisterService(echoService()); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}
	inv := NewInProcessInvoker(srv)
	result := inv.invoke(context.Background(), "echo", "ping", []string{"hello"})
	if result.AsError() != nil {
		t.Fatalf("unexpected error: %v", result.AsError())
	}
	if len(result.Values) != 2 || result.Values[0] != "pong" || result.Values[1] != "hello" {
		t.Fatalf("values = %v, want [pong hello]", result.Values)
	}
}

func TestServerDispatchUnknownServiceFails(t *testing.T) {
	srv := NewServer("127.0.0.1:0", 4, flog.NewNop())
	inv := NewInProcessInvoker(srv)
	result := inv.invoke(context.Background(), "missing", "ping", nil)
	if result.Err == nil || result.Err.Kind != ferrors.NotFound.String() {
		t.Fatalf("err = %+v, want not_found", result.Err)
	}
}

func TestServerDispatchUnknownMethodFails(t *testing.T) {
	srv := NewServer("127.0.0.1:0", 4, flog.NewNop())
	if err := srv.RegisterService(echoService()); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}
	inv := NewInProcessInvoker(srv)
	result := inv.invoke(context.Background(), "echo", "nope", nil)
	if result.Err == nil || result.Err.Kind != ferrors.NotFound.String() {
		t.Fatalf("err = %+v, want not_found", result.Err)
	}
}

func TestServerRegisterDuplicateFails(t *testing.T) {
	srv := NewServer("127.0.0.1:0", 4, flog.NewNop())
	if err := srv.RegisterService(echoService()); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}
	if err := srv.RegisterService(echoService()); err == nil || !kindIs(err, ferrors.InvalidArg) {
		t.Fatalf("expected InvalidArg, got %v", err)
	}
}

func TestServerUnregisterThenReregister(t *testing.T) {
	srv := NewServer("127.0.0.1:0", 4, flog.NewNop())
	if err := srv.RegisterService(echoService()); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}
	if err := srv.UnregisterService("echo"); err != nil {
		t.Fatalf("UnregisterService: %v", err)
	}
	if err := srv.UnregisterService("echo"); err == nil || !kindIs(err, ferrors.NotFound) {
		t.Fatalf("expected NotFound on double-unregister, got %v", err)
	}
	if err := srv.RegisterService(echoService()); err != nil {
		t.Fatalf("re-register after unregister: %v", err)
	}
}

func TestEnvelopeMarshalRoundTrip(t *testing.T) {
	env := Envelope{Service: "clock_sync_master", Method: "registerSyncSlave", Args: []string{"10", "slaveA"}}
	got, err := UnmarshalEnvelope(env.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalEnvelope: %v", err)
	}
	if got.Service != env.Service || got.Method != env.Method || len(got.Args) != 2 || got.Args[1] != "slaveA" {
		t.Fatalf("got = %+v, want %+v", got, env)
	}
}

func TestResultMarshalRoundTrip(t *testing.T) {
	r := Fail(ferrors.NotFoundf("signal %q", "x"))
	got, err := UnmarshalResult(r.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalResult: %v", err)
	}
	if got.Err == nil || got.Err.Kind != ferrors.NotFound.String() {
		t.Fatalf("got = %+v", got)
	}
}

func TestDiscoveryFindsPeer(t *testing.T) {
	transport := NewMemoryDiscoveryTransport()

	a := NewSystemAccess(SystemAccessConfig{
		ParticipantName: "a",
		SystemName:      "sysA",
		LocationURL:     "inproc://a",
		TTL:             time.Second,
		Transport:       transport,
	}, flog.NewNop())
	b := NewSystemAccess(SystemAccessConfig{
		ParticipantName: "b",
		SystemName:      "sysA",
		LocationURL:     "inproc://b",
		TTL:             time.Second,
		Transport:       transport,
	}, flog.NewNop())

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("a.Start: %v", err)
	}
	defer a.Stop(ctx)
	if err := b.Start(ctx); err != nil {
		t.Fatalf("b.Start: %v", err)
	}
	defer b.Stop(ctx)

	peers, err := a.Discover(ctx, 1, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	found := false
	for _, p := range peers {
		if p.UniqueName == "b@sysA" {
			found = true
		}
	}
	if !found {
		t.Fatalf("peers = %+v, want to include b@sysA", peers)
	}
}

func TestDiscoveryByeByeRemovesPeer(t *testing.T) {
	transport := NewMemoryDiscoveryTransport()
	a := NewSystemAccess(SystemAccessConfig{ParticipantName: "a", SystemName: "sysB", LocationURL: "inproc://a", TTL: time.Second, Transport: transport}, flog.NewNop())
	b := NewSystemAccess(SystemAccessConfig{ParticipantName: "b", SystemName: "sysB", LocationURL: "inproc://b", TTL: time.Second, Transport: transport}, flog.NewNop())

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("a.Start: %v", err)
	}
	defer a.Stop(ctx)
	if err := b.Start(ctx); err != nil {
		t.Fatalf("b.Start: %v", err)
	}

	if _, err := a.Discover(ctx, 1, 500*time.Millisecond); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if err := b.Stop(ctx); err != nil {
		t.Fatalf("b.Stop: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		a.mu.Lock()
		_, present := a.peers["b@sysB"]
		a.mu.Unlock()
		if !present {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("peer b@sysB was not removed after byebye")
}
