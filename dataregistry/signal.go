package dataregistry

import (
	"context"
	"sync"

	"github.com/fep3/participant/ferrors"
	"github.com/fep3/participant/flog"
	"github.com/fep3/participant/streamtype"
)

// Direction distinguishes input from output signals.
type Direction int

const (
	DirectionIn Direction = iota
	DirectionOut
)

// Signal is a named, typed channel inside a participant: an input signal
// owns readers and receive listeners; an output signal owns writers.
type Signal struct {
	mu         sync.Mutex
	name       string
	streamType streamtype.StreamType
	direction  Direction

	readers   map[*Reader]struct{}
	listeners map[Receiver]struct{}
	writers   map[*Writer]struct{}

	busReader BusReader
	busWriter BusWriter
	stopRecv  chan struct{}
	doneRecv  chan struct{}

	log *flog.Logger
}

func newSignal(name string, st streamtype.StreamType, dir Direction, logger *flog.Logger) *Signal {
	return &Signal{
		name:       name,
		streamType: st,
		direction:  dir,
		readers:    make(map[*Reader]struct{}),
		listeners:  make(map[Receiver]struct{}),
		writers:    make(map[*Writer]struct{}),
		log:        flog.Component(logger, "dataregistry.signal"),
	}
}

// StreamType returns the signal's currently registered stream type.
func (s *Signal) StreamType() streamtype.StreamType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamType
}

// reregister validates a re-registration attempt against the existing
// stream type: equal stream types are idempotent, a mismatch is
// ferrors.InvalidType.
func (s *Signal) reregister(st streamtype.StreamType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streamType.Equal(st) || !st.Equal(s.streamType) {
		return ferrors.InvalidTypef("signal %q: re-registration with differing stream type", s.name)
	}
	return nil
}

// addReader requests a new queue-mode reader with the given capacity,
// attached to this (input) signal.
func (s *Signal) addReader(capacity int) *Reader {
	return s.attachReader(NewReader(capacity))
}

// addBacklogReader requests a new backlog-mode reader, attached to this
// (input) signal.
func (s *Signal) addBacklogReader() *Reader {
	return s.attachReader(NewBacklogReader())
}

func (s *Signal) attachReader(r *Reader) *Reader {
	s.mu.Lock()
	s.readers[r] = struct{}{}
	s.mu.Unlock()
	r.detach = func() {
		s.mu.Lock()
		delete(s.readers, r)
		s.mu.Unlock()
	}
	if s.busReader != nil {
		s.bindReader(r)
	}
	return r
}

func (s *Signal) bindReader(r *Reader) {
	if r.backlogMode {
		r.bindBacklog(NewBacklog())
	} else {
		r.bind(NewReaderQueue(r.requestedCapacity))
	}
}

// addListener registers listener on this (input) signal.
func (s *Signal) addListener(listener Receiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[listener] = struct{}{}
}

// removeListener unregisters listener.
func (s *Signal) removeListener(listener Receiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, listener)
}

// addWriter requests a new writer with the given capacity, attached to
// this (output) signal. Bus binding, if already tensed, happens
// immediately.
func (s *Signal) addWriter(capacity int) *Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var w *Writer
	if s.busWriter != nil {
		w = NewWriter(s.busWriter, capacity)
	} else {
		w = NewWriter(nil, capacity)
	}
	s.writers[w] = struct{}{}
	return w
}

// maxReaderCapacity returns the max requested capacity across readers
// (min 1), used to size the bus-side reader on tense.
func (s *Signal) maxReaderCapacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 1
	for r := range s.readers {
		if r.requestedCapacity > max {
			max = r.requestedCapacity
		}
	}
	return max
}

func (s *Signal) maxWriterCapacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 1
	for w := range s.writers {
		if w.capacity > max {
			max = w.capacity
		}
	}
	return max
}

// tenseIn binds this input signal to bus, creating the bus reader, binding
// every already-requested Reader to a freshly sized queue, and starting
// the dedicated receive goroutine.
func (s *Signal) tenseIn(ctx context.Context, bus SimulationBus) error {
	s.mu.Lock()
	bound := s.busReader != nil
	s.mu.Unlock()
	if bound {
		// already bound: attachReader binds readers added since
		return nil
	}
	capacity := s.maxReaderCapacity()
	busReader, err := bus.CreateReader(ctx, s.name, capacity)
	if err != nil {
		return ferrors.Wrap(ferrors.DeviceIO, err, "binding input signal %q", s.name)
	}

	s.mu.Lock()
	s.busReader = busReader
	for r := range s.readers {
		s.bindReader(r)
	}
	s.stopRecv = make(chan struct{})
	s.doneRecv = make(chan struct{})
	stopCh, doneCh := s.stopRecv, s.doneRecv
	s.mu.Unlock()

	go s.recvLoop(busReader, stopCh, doneCh)
	return nil
}

// tenseOut binds this output signal to bus, creating the bus writer (and
// immediately writing the stream type) and binding every already-requested
// Writer.
func (s *Signal) tenseOut(ctx context.Context, bus SimulationBus) error {
	s.mu.Lock()
	bound := s.busWriter != nil
	s.mu.Unlock()
	if bound {
		// already bound: addWriter binds writers added since
		return nil
	}
	capacity := s.maxWriterCapacity()
	busWriter, err := bus.CreateWriter(ctx, s.name, capacity)
	if err != nil {
		return ferrors.Wrap(ferrors.DeviceIO, err, "binding output signal %q", s.name)
	}
	if err := busWriter.WriteStreamType(ctx, s.StreamType()); err != nil {
		return ferrors.Wrap(ferrors.DeviceIO, err, "publishing stream type for %q", s.name)
	}

	s.mu.Lock()
	s.busWriter = busWriter
	for w := range s.writers {
		w.bus = busWriter
	}
	s.mu.Unlock()
	return nil
}

// relax stops the receive loop (if any) and releases bus objects, leaving
// signal registrations (readers/writers/listeners) intact for cheap
// re-binding.
func (s *Signal) relax() {
	s.mu.Lock()
	stopCh, doneCh := s.stopRecv, s.doneRecv
	busReader, busWriter := s.busReader, s.busWriter
	s.busReader, s.busWriter = nil, nil
	s.stopRecv, s.doneRecv = nil, nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-doneCh
	}
	if busReader != nil {
		busReader.Release()
	}
	if busWriter != nil {
		busWriter.Release()
	}
}

// recvLoop is the dedicated receive goroutine for one input signal: it
// fans every item out to every reader's queue and every registered
// listener. Listener panics are recovered and logged — a listener
// throwing must not prevent delivery to the queue nor to other listeners.
func (s *Signal) recvLoop(busReader BusReader, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	items := busReader.Items()
	for {
		select {
		case <-stopCh:
			return
		case item, ok := <-items:
			if !ok {
				return
			}
			s.fanOut(item)
		}
	}
}

func (s *Signal) fanOut(item Item) {
	s.mu.Lock()
	readers := make([]*Reader, 0, len(s.readers))
	for r := range s.readers {
		readers = append(readers, r)
	}
	listeners := make([]Receiver, 0, len(s.listeners))
	for l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, r := range readers {
		if recv := r.receiver(); recv != nil {
			recv.Receive(item)
		}
	}
	for _, l := range listeners {
		s.deliverListener(l, item)
	}
}

func (s *Signal) deliverListener(l Receiver, item Item) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Err().Str("signal", s.name).Log("receive listener panicked, delivery to other listeners continues")
		}
	}()
	l.Receive(item)
}
