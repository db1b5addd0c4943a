package dataregistry

import (
	"context"

	"github.com/fep3/participant/sample"
	"github.com/fep3/participant/streamtype"
)

// BusReader is the simulation bus's side of one bound input signal: items
// received from the bus are delivered on the Items channel.
type BusReader interface {
	// Items returns a channel of items received from the bus. Closed when
	// the reader is released.
	Items() <-chan Item
	// Release stops delivery and frees bus-side resources.
	Release()
}

// BusWriter is the simulation bus's side of one bound output signal.
type BusWriter interface {
	// WriteSample transmits s immediately.
	WriteSample(ctx context.Context, s *sample.DataSample) error
	// WriteStreamType transmits st immediately (used once, right after
	// creation, so subscribers receive the descriptor before any sample).
	WriteStreamType(ctx context.Context, st streamtype.StreamType) error
	// Release frees bus-side resources.
	Release()
}

// SimulationBus is the transport the data registry binds signals to when
// it tenses.
type SimulationBus interface {
	// CreateReader binds name as an input signal with the given capacity
	// (0 means dynamic).
	CreateReader(ctx context.Context, name string, capacity int) (BusReader, error)
	// CreateWriter binds name as an output signal with the given capacity
	// (0 means transmit-immediately).
	CreateWriter(ctx context.Context, name string, capacity int) (BusWriter, error)
}
