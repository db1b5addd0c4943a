package dataregistry

import (
	"context"
	"sync"

	"github.com/fep3/participant/sample"
	"github.com/fep3/participant/streamtype"
)

// MemoryBus is an in-process SimulationBus: writers on a name fan samples
// and stream types out to every reader bound to the same name. It has no
// network surface of its own and exists for single-process participants
// and tests.
type MemoryBus struct {
	mu      sync.Mutex
	readers map[string][]*memReader
}

// NewMemoryBus constructs an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{readers: make(map[string][]*memReader)}
}

type memReader struct {
	ch chan Item
}

func (r *memReader) Items() <-chan Item { return r.ch }
func (r *memReader) Release()           { close(r.ch) }

// memBusChannelCapacity is the transport-level channel buffer: generously
// sized so the bounded, drop-oldest behaviour specified for a signal lives
// entirely in ReaderQueue/Backlog, not in this transport.
const memBusChannelCapacity = 4096

// CreateReader implements SimulationBus.
func (b *MemoryBus) CreateReader(_ context.Context, name string, _ int) (BusReader, error) {
	r := &memReader{ch: make(chan Item, memBusChannelCapacity)}
	b.mu.Lock()
	b.readers[name] = append(b.readers[name], r)
	b.mu.Unlock()
	return r, nil
}

type memWriter struct {
	bus  *MemoryBus
	name string
}

func (w *memWriter) WriteSample(_ context.Context, s *sample.DataSample) error {
	w.bus.publish(w.name, SampleItem(s.Time, s))
	return nil
}

func (w *memWriter) WriteStreamType(_ context.Context, st streamtype.StreamType) error {
	w.bus.publish(w.name, StreamTypeItem(0, st))
	return nil
}

func (w *memWriter) Release() {}

// CreateWriter implements SimulationBus.
func (b *MemoryBus) CreateWriter(_ context.Context, name string, _ int) (BusWriter, error) {
	return &memWriter{bus: b, name: name}, nil
}

func (b *MemoryBus) publish(name string, item Item) {
	b.mu.Lock()
	readers := append([]*memReader(nil), b.readers[name]...)
	b.mu.Unlock()
	for _, r := range readers {
		select {
		case r.ch <- item:
		default:
		}
	}
}
