package dataregistry

import (
	"context"
	"testing"
	"time"

	"github.com/fep3/participant/fep3time"
	"github.com/fep3/participant/ferrors"
	"github.com/fep3/participant/flog"
	"github.com/fep3/participant/sample"
	"github.com/fep3/participant/streamtype"
)

func testRegistry() *Registry {
	return NewRegistry(flog.NewNop())
}

func kindIs(err error, want ferrors.Kind) bool {
	kind, ok := ferrors.KindOf(err)
	return ok && kind == want
}

// TestReaderOverflowDropsOldest covers spec scenario S3: a capacity-3
// queue fed samples with counters 1-5 pops 3, 4, 5, then empty, empty.
func TestReaderOverflowDropsOldest(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry()
	bus := NewMemoryBus()

	st := streamtype.New(streamtype.MetaRaw)
	reader, err := reg.RegisterDataIn(ctx, "x", st, 3)
	if err != nil {
		t.Fatalf("RegisterDataIn: %v", err)
	}
	writer, err := reg.RegisterDataOut(ctx, "x-out", st, 0)
	if err != nil {
		t.Fatalf("RegisterDataOut: %v", err)
	}
	_ = writer

	if err := reg.Tense(ctx, bus); err != nil {
		t.Fatalf("Tense: %v", err)
	}
	defer reg.Relax()

	busWriter, err := bus.CreateWriter(ctx, "x", 0)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	for i := uint32(1); i <= 5; i++ {
		s := sample.NewDataSample(fep3TimeOf(int64(i)), i, []byte{byte(i)})
		if err := busWriter.WriteSample(ctx, s); err != nil {
			t.Fatalf("WriteSample: %v", err)
		}
	}

	waitForSize(t, reader, 3)

	for _, want := range []uint32{3, 4, 5} {
		item, err := reader.Pop()
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if item.Sample.Counter != want {
			t.Fatalf("Pop: counter = %d, want %d", item.Sample.Counter, want)
		}
	}
	if _, err := reader.Pop(); !kindIs(err, ferrors.Empty) {
		t.Fatalf("Pop on empty queue: err = %v, want Empty", err)
	}
	if _, err := reader.Pop(); !kindIs(err, ferrors.Empty) {
		t.Fatalf("Pop on empty queue (again): err = %v, want Empty", err)
	}
}

// TestListenerPanicIsolation covers spec scenario S4: a listener that
// panics must not prevent delivery to the reader queue or to other
// listeners.
func TestListenerPanicIsolation(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry()
	bus := NewMemoryBus()
	st := streamtype.New(streamtype.MetaRaw)

	var delivered int
	goodListener := receiverFunc(func(Item) { delivered++ })
	badListener := receiverFunc(func(Item) { panic("boom") })

	if err := reg.RegisterDataReceiveListener("x", st, badListener); err != nil {
		t.Fatalf("RegisterDataReceiveListener(bad): %v", err)
	}
	if err := reg.RegisterDataReceiveListener("x", st, goodListener); err != nil {
		t.Fatalf("RegisterDataReceiveListener(good): %v", err)
	}
	reader, err := reg.RegisterDataIn(ctx, "x", st, 0)
	if err != nil {
		t.Fatalf("RegisterDataIn: %v", err)
	}

	if err := reg.Tense(ctx, bus); err != nil {
		t.Fatalf("Tense: %v", err)
	}
	defer reg.Relax()

	busWriter, err := bus.CreateWriter(ctx, "x", 0)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	s := sample.NewDataSample(fep3TimeOf(1), 1, []byte{1})
	if err := busWriter.WriteSample(ctx, s); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}

	waitForSize(t, reader, 1)
	if delivered != 1 {
		t.Fatalf("good listener delivered = %d, want 1", delivered)
	}
}

// TestRenameCollisionRejected covers spec scenario S5: re-registering an
// existing input signal with a different stream type fails with
// invalid_type, and the signal's stream type is unchanged.
func TestRenameCollisionRejected(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry()

	raw := streamtype.New(streamtype.MetaRaw)
	plain := streamtype.New(streamtype.MetaPlain)

	if _, err := reg.RegisterDataIn(ctx, "x", raw, 0); err != nil {
		t.Fatalf("RegisterDataIn(raw): %v", err)
	}
	if _, err := reg.RegisterDataIn(ctx, "x", plain, 0); !kindIs(err, ferrors.InvalidType) {
		t.Fatalf("RegisterDataIn(plain): err = %v, want InvalidType", err)
	}

	reg.mu.Lock()
	got := reg.signals["x"].StreamType()
	reg.mu.Unlock()
	if got.MetaType != streamtype.MetaRaw {
		t.Fatalf("signal stream type = %q after rejected re-registration, want %q", got.MetaType, streamtype.MetaRaw)
	}
}

// TestSignalNameUniquenessIdempotent exercises the idempotent
// re-registration half of the signal name uniqueness invariant.
func TestSignalNameUniquenessIdempotent(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry()
	raw := streamtype.New(streamtype.MetaRaw)

	if _, err := reg.RegisterDataIn(ctx, "x", raw, 0); err != nil {
		t.Fatalf("RegisterDataIn: %v", err)
	}
	if _, err := reg.RegisterDataIn(ctx, "x", raw, 0); err != nil {
		t.Fatalf("idempotent RegisterDataIn: %v", err)
	}
}

// TestUnregisterDataInAllowsReregistration verifies that unregistering a
// signal drops it entirely, so a subsequent registration with a
// different stream type succeeds.
func TestUnregisterDataInAllowsReregistration(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry()
	raw := streamtype.New(streamtype.MetaRaw)
	plain := streamtype.New(streamtype.MetaPlain)

	if _, err := reg.RegisterDataIn(ctx, "x", raw, 0); err != nil {
		t.Fatalf("RegisterDataIn: %v", err)
	}
	if err := reg.UnregisterDataIn("x"); err != nil {
		t.Fatalf("UnregisterDataIn: %v", err)
	}
	if _, err := reg.RegisterDataIn(ctx, "x", plain, 0); err != nil {
		t.Fatalf("RegisterDataIn after unregister: %v", err)
	}
}

// TestBacklogReadBefore covers the backlog variant's monotonicity
// invariant: read() returns the newest sample, readBefore(t) walks
// backward for the first sample at or before t.
func TestBacklogReadBefore(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry()
	bus := NewMemoryBus()
	st := streamtype.New(streamtype.MetaRaw)

	if _, err := reg.RegisterDataIn(ctx, "x", st, 0); err != nil {
		t.Fatalf("RegisterDataIn: %v", err)
	}
	reader, err := reg.GetBacklogReader(ctx, "x")
	if err != nil {
		t.Fatalf("GetBacklogReader: %v", err)
	}
	if err := reg.Tense(ctx, bus); err != nil {
		t.Fatalf("Tense: %v", err)
	}
	defer reg.Relax()

	if _, err := reader.Read(); !kindIs(err, ferrors.Empty) {
		t.Fatalf("Read before any sample: err = %v, want Empty", err)
	}

	busWriter, err := bus.CreateWriter(ctx, "x", 0)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	for _, ts := range []int64{10, 20, 30} {
		s := sample.NewDataSample(fep3TimeOf(ts), uint32(ts), []byte{byte(ts)})
		if err := busWriter.WriteSample(ctx, s); err != nil {
			t.Fatalf("WriteSample: %v", err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for {
		item, err := reader.Read()
		if err == nil && item.Sample.Counter == 30 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("backlog did not observe newest sample in time: err=%v", err)
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := reader.Pop(); !kindIs(err, ferrors.InvalidState) {
		t.Fatalf("Pop on backlog reader: err = %v, want InvalidState", err)
	}

	item, err := reader.ReadBefore(fep3TimeOf(25))
	if err != nil {
		t.Fatalf("ReadBefore(25): %v", err)
	}
	if item.Sample.Counter != 20 {
		t.Fatalf("ReadBefore(25): counter = %d, want 20", item.Sample.Counter)
	}

	if _, err := reader.ReadBefore(fep3TimeOf(5)); !kindIs(err, ferrors.Empty) {
		t.Fatalf("ReadBefore(5): err = %v, want Empty", err)
	}
}

func TestUnregisterDataInUnknownFails(t *testing.T) {
	reg := testRegistry()
	if err := reg.UnregisterDataIn("nope"); !kindIs(err, ferrors.NotFound) {
		t.Fatalf("UnregisterDataIn: err = %v, want NotFound", err)
	}
}

type receiverFunc func(Item)

func (f receiverFunc) Receive(item Item) { f(item) }

func fep3TimeOf(v int64) fep3time.Timestamp { return fep3time.Timestamp(v) }

// waitForSize polls reader until it reports at least n queued items,
// accommodating the asynchronous recvLoop goroutine.
func waitForSize(t *testing.T, reader *Reader, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if reader.Size() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("reader did not reach size %d within deadline (got %d)", n, reader.Size())
}
