package dataregistry

import (
	"context"
	"sync"

	"github.com/fep3/participant/ferrors"
	"github.com/fep3/participant/sample"
	"github.com/fep3/participant/streamtype"
	"github.com/joeycumines/go-microbatch"
)

// writeJob is the unit submitted to a Writer's batcher: either a sample or
// a stream-type write, mirroring the Item tagged variant on the read side.
type writeJob struct {
	kind       ItemKind
	sample     *sample.DataSample
	streamType streamtype.StreamType
}

// Writer is the data-registry handle for an output signal.
// With capacity 0, Write transmits immediately. With capacity > 0, writes
// accumulate on a microbatch.Batcher (MaxSize = capacity, time-based
// flushing disabled) until either the batch fills or Flush is called;
// Flush forces the pending partial batch through by shutting down the
// current batcher (whose drain path runs the trailing incomplete batch)
// and starting a fresh one for subsequent writes.
type Writer struct {
	mu       sync.Mutex
	bus      BusWriter
	capacity int
	batcher  *microbatch.Batcher[writeJob]
	closed   bool
}

// NewWriter constructs a Writer bound to bus with the given capacity.
func NewWriter(bus BusWriter, capacity int) *Writer {
	w := &Writer{bus: bus, capacity: capacity}
	if capacity > 0 {
		w.batcher = w.newBatcher()
	}
	return w
}

func (w *Writer) newBatcher() *microbatch.Batcher[writeJob] {
	return microbatch.NewBatcher[writeJob](
		&microbatch.BatcherConfig{MaxSize: w.capacity, FlushInterval: -1, MaxConcurrency: 1},
		func(ctx context.Context, jobs []writeJob) error {
			for _, job := range jobs {
				var err error
				switch job.kind {
				case ItemSample:
					err = w.bus.WriteSample(ctx, job.sample)
				case ItemStreamType:
					err = w.bus.WriteStreamType(ctx, job.streamType)
				}
				if err != nil {
					return err
				}
			}
			return nil
		},
	)
}

// WriteSample writes s, transmitting immediately if capacity is 0 or
// accumulating otherwise.
func (w *Writer) WriteSample(ctx context.Context, s *sample.DataSample) error {
	return w.write(ctx, writeJob{kind: ItemSample, sample: s})
}

// WriteStreamType writes st, transmitting immediately if capacity is 0 or
// accumulating otherwise.
func (w *Writer) WriteStreamType(ctx context.Context, st streamtype.StreamType) error {
	return w.write(ctx, writeJob{kind: ItemStreamType, streamType: st})
}

func (w *Writer) write(ctx context.Context, job writeJob) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ferrors.InvalidStatef("writer: released")
	}
	if w.capacity <= 0 {
		switch job.kind {
		case ItemSample:
			return w.bus.WriteSample(ctx, job.sample)
		default:
			return w.bus.WriteStreamType(ctx, job.streamType)
		}
	}
	result, err := w.batcher.Submit(ctx, job)
	if err != nil {
		return err
	}
	// Flush is non-blocking: the result is not awaited here, only when the
	// batch actually runs (at capacity, or on Flush).
	_ = result
	return nil
}

// Flush forces any pending accumulated writes through to the bus. It does
// not block on the transmission completing: it enqueues the drain and
// returns.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	if w.closed || w.capacity <= 0 {
		w.mu.Unlock()
		return nil
	}
	old := w.batcher
	w.batcher = w.newBatcher()
	w.mu.Unlock()

	go func() {
		_ = old.Shutdown(ctx)
	}()
	return nil
}

// Release stops further writes and drains any pending batch.
func (w *Writer) Release() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	batcher := w.batcher
	w.mu.Unlock()

	if batcher != nil {
		_ = batcher.Close()
	}
	w.bus.Release()
}
