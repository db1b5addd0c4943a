package dataregistry

import (
	"context"
	"sync"

	"github.com/fep3/participant/ferrors"
	"github.com/fep3/participant/flog"
	"github.com/fep3/participant/streamtype"
)

// Registry is the data-registry for one participant: it owns named, typed
// Signals, and binds/unbinds them to a SimulationBus via Tense/Relax.
type Registry struct {
	mu      sync.Mutex
	signals map[string]*Signal
	bus     SimulationBus
	tensed  bool
	log     *flog.Logger
}

// NewRegistry constructs an empty Registry.
func NewRegistry(logger *flog.Logger) *Registry {
	return &Registry{
		signals: make(map[string]*Signal),
		log:     flog.Component(logger, "dataregistry"),
	}
}

func (r *Registry) getOrCreate(name string, st streamtype.StreamType, dir Direction) (*Signal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sig, ok := r.signals[name]; ok {
		if sig.direction != dir {
			return nil, ferrors.InvalidTypef("signal %q: already registered with the opposite direction", name)
		}
		if err := sig.reregister(st); err != nil {
			return nil, err
		}
		return sig, nil
	}
	sig := newSignal(name, st, dir, r.log)
	r.signals[name] = sig
	return sig, nil
}

// RegisterDataIn registers (or idempotently re-registers) an input signal
// and returns a Reader requesting the given queue capacity (0 = dynamic).
// A re-registration with a differing stream type fails with
// ferrors.InvalidType, leaving the existing signal untouched.
func (r *Registry) RegisterDataIn(ctx context.Context, name string, st streamtype.StreamType, capacity int) (*Reader, error) {
	sig, err := r.getOrCreate(name, st, DirectionIn)
	if err != nil {
		return nil, err
	}
	reader := sig.addReader(capacity)
	r.mu.Lock()
	tensed := r.tensed
	bus := r.bus
	r.mu.Unlock()
	if tensed {
		if err := sig.tenseIn(ctx, bus); err != nil {
			return nil, err
		}
	}
	return reader, nil
}

// RegisterDataOut registers (or idempotently re-registers) an output
// signal and returns a Writer requesting the given batch capacity (0 =
// transmit immediately).
func (r *Registry) RegisterDataOut(ctx context.Context, name string, st streamtype.StreamType, capacity int) (*Writer, error) {
	sig, err := r.getOrCreate(name, st, DirectionOut)
	if err != nil {
		return nil, err
	}
	writer := sig.addWriter(capacity)
	r.mu.Lock()
	tensed := r.tensed
	bus := r.bus
	r.mu.Unlock()
	if tensed {
		if err := sig.tenseOut(ctx, bus); err != nil {
			return nil, err
		}
	}
	return writer, nil
}

// UnregisterDataIn removes the input signal name entirely: it is relaxed
// from the bus (if tensed) and dropped from the registry, so a later
// registerDataIn with the same name starts fresh. ferrors.NotFound if no
// such input signal exists.
func (r *Registry) UnregisterDataIn(name string) error {
	return r.unregister(name, DirectionIn)
}

// UnregisterDataOut removes the output signal name entirely, mirroring
// UnregisterDataIn.
func (r *Registry) UnregisterDataOut(name string) error {
	return r.unregister(name, DirectionOut)
}

func (r *Registry) unregister(name string, dir Direction) error {
	r.mu.Lock()
	sig, ok := r.signals[name]
	if !ok || sig.direction != dir {
		r.mu.Unlock()
		return ferrors.NotFoundf("signal %q", name)
	}
	delete(r.signals, name)
	r.mu.Unlock()
	sig.relax()
	return nil
}

// RegisterDataReceiveListener attaches listener to the input signal name,
// creating the signal (with stream type st) if it does not yet exist.
func (r *Registry) RegisterDataReceiveListener(name string, st streamtype.StreamType, listener Receiver) error {
	sig, err := r.getOrCreate(name, st, DirectionIn)
	if err != nil {
		return err
	}
	sig.addListener(listener)
	return nil
}

// UnregisterDataReceiveListener detaches listener from the input signal
// name, if registered.
func (r *Registry) UnregisterDataReceiveListener(name string, listener Receiver) {
	r.mu.Lock()
	sig, ok := r.signals[name]
	r.mu.Unlock()
	if ok {
		sig.removeListener(listener)
	}
}

// GetReader looks up the signal name and returns a fresh Reader onto it.
func (r *Registry) GetReader(ctx context.Context, name string, capacity int) (*Reader, error) {
	r.mu.Lock()
	sig, ok := r.signals[name]
	tensed := r.tensed
	bus := r.bus
	r.mu.Unlock()
	if !ok || sig.direction != DirectionIn {
		return nil, ferrors.NotFoundf("input signal %q", name)
	}
	reader := sig.addReader(capacity)
	if tensed {
		if err := sig.tenseIn(ctx, bus); err != nil {
			return nil, err
		}
	}
	return reader, nil
}

// GetBacklogReader looks up the input signal name and returns a fresh
// backlog-mode Reader onto it (single-slot backlog variant:
// Read/ReadBefore rather than Pop).
func (r *Registry) GetBacklogReader(ctx context.Context, name string) (*Reader, error) {
	r.mu.Lock()
	sig, ok := r.signals[name]
	tensed := r.tensed
	bus := r.bus
	r.mu.Unlock()
	if !ok || sig.direction != DirectionIn {
		return nil, ferrors.NotFoundf("input signal %q", name)
	}
	reader := sig.addBacklogReader()
	if tensed {
		if err := sig.tenseIn(ctx, bus); err != nil {
			return nil, err
		}
	}
	return reader, nil
}

// GetWriter looks up the signal name and returns a fresh Writer onto it.
func (r *Registry) GetWriter(ctx context.Context, name string, capacity int) (*Writer, error) {
	r.mu.Lock()
	sig, ok := r.signals[name]
	tensed := r.tensed
	bus := r.bus
	r.mu.Unlock()
	if !ok || sig.direction != DirectionOut {
		return nil, ferrors.NotFoundf("output signal %q", name)
	}
	writer := sig.addWriter(capacity)
	if tensed {
		if err := sig.tenseOut(ctx, bus); err != nil {
			return nil, err
		}
	}
	return writer, nil
}

// Tense binds every registered signal to bus, starting one receive
// goroutine per input signal. Calling Tense while already tensed fails
// with ferrors.InvalidState.
func (r *Registry) Tense(ctx context.Context, bus SimulationBus) error {
	r.mu.Lock()
	if r.tensed {
		r.mu.Unlock()
		return ferrors.InvalidStatef("data registry: already tensed")
	}
	r.bus = bus
	r.tensed = true
	signals := make([]*Signal, 0, len(r.signals))
	for _, sig := range r.signals {
		signals = append(signals, sig)
	}
	r.mu.Unlock()

	for _, sig := range signals {
		var err error
		switch sig.direction {
		case DirectionIn:
			err = sig.tenseIn(ctx, bus)
		case DirectionOut:
			err = sig.tenseOut(ctx, bus)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Relax unbinds every signal from the bus, stopping all receive
// goroutines. Registrations themselves survive, ready for a subsequent
// Tense.
func (r *Registry) Relax() {
	r.mu.Lock()
	if !r.tensed {
		r.mu.Unlock()
		return
	}
	r.tensed = false
	r.bus = nil
	signals := make([]*Signal, 0, len(r.signals))
	for _, sig := range r.signals {
		signals = append(signals, sig)
	}
	r.mu.Unlock()

	for _, sig := range signals {
		sig.relax()
	}
}

// Names returns the names of every registered signal.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.signals))
	for name := range r.signals {
		names = append(names, name)
	}
	return names
}

// NamesByDirection returns the names of every registered signal with the
// given direction, backing the data_registry.getSignalInNames/
// getSignalOutNames RPC methods.
func (r *Registry) NamesByDirection(dir Direction) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.signals))
	for name, sig := range r.signals {
		if sig.direction == dir {
			names = append(names, name)
		}
	}
	return names
}

// StreamTypeOf returns the registered stream type of the named signal,
// backing the data_registry.getStreamType RPC method.
func (r *Registry) StreamTypeOf(name string) (streamtype.StreamType, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sig, ok := r.signals[name]
	if !ok {
		return streamtype.StreamType{}, false
	}
	return sig.StreamType(), true
}
