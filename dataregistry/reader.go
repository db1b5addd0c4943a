package dataregistry

import (
	"github.com/fep3/participant/fep3time"
	"github.com/fep3/participant/ferrors"
)

// Reader is the data-registry handle for one requested view onto an input
// signal. Before the registry's tense() binds the owning signal to the bus,
// GetFrontTime, Pop, Read and ReadBefore fail with ferrors.NotInitialised
// (or ferrors.InvalidState when called in the wrong mode), and Size and
// Capacity report 0.
//
// A Reader is either queue-mode (FIFO, Pop/GetFrontTime) or backlog-mode
// (newest-sample-plus-history, Read/ReadBefore) — the two are mutually
// exclusive, decided at construction.
type Reader struct {
	requestedCapacity int
	backlogMode       bool
	queue             *ReaderQueue // nil until bound, or if backlogMode
	backlog           *Backlog     // nil until bound, or unless backlogMode
	detach            func()
}

// NewReader constructs an unbound queue-mode Reader requesting the given
// queue capacity (0 = dynamic).
func NewReader(requestedCapacity int) *Reader {
	return &Reader{requestedCapacity: requestedCapacity}
}

// NewBacklogReader constructs an unbound backlog-mode Reader.
func NewBacklogReader() *Reader {
	return &Reader{backlogMode: true}
}

func (r *Reader) bind(queue *ReaderQueue) { r.queue = queue }
func (r *Reader) bindBacklog(b *Backlog)  { r.backlog = b }

// receiver returns the bound destination for fan-out delivery, or nil if
// unbound. The unbound case returns an untyped nil interface (never a nil
// pointer wrapped in the interface), so callers can compare the result
// against nil.
func (r *Reader) receiver() Receiver {
	if r.backlogMode {
		if r.backlog == nil {
			return nil
		}
		return r.backlog
	}
	if r.queue == nil {
		return nil
	}
	return r.queue
}

// Size returns the number of items currently queued, or 0 if unbound or
// backlog-mode.
func (r *Reader) Size() int {
	if r.queue == nil {
		return 0
	}
	return r.queue.Size()
}

// Capacity returns the reader's fixed capacity, or 0 if dynamic/unbound/
// backlog-mode.
func (r *Reader) Capacity() int {
	if r.queue == nil {
		return 0
	}
	return r.queue.Capacity()
}

// GetFrontTime returns the receive timestamp of the oldest queued item.
// Queue-mode only.
func (r *Reader) GetFrontTime() (fep3time.Timestamp, error) {
	if r.backlogMode {
		return 0, ferrors.InvalidStatef("reader: backlog mode has no front time")
	}
	if r.queue == nil {
		return 0, ferrors.NotInitialisedf("reader: not bound")
	}
	return r.queue.FrontTime()
}

// Pop removes and returns the oldest queued item. It is non-blocking:
// ferrors.NotInitialised if unbound, ferrors.Empty if the queue has no
// items. Queue-mode only.
func (r *Reader) Pop() (Item, error) {
	if r.backlogMode {
		return Item{}, ferrors.InvalidStatef("reader: pop is unavailable in backlog mode")
	}
	if r.queue == nil {
		return Item{}, ferrors.NotInitialisedf("reader: not bound")
	}
	return r.queue.Pop()
}

// Read returns the latest sample received. Backlog-mode only.
func (r *Reader) Read() (Item, error) {
	if !r.backlogMode {
		return Item{}, ferrors.InvalidStatef("reader: read is unavailable in queue mode")
	}
	if r.backlog == nil {
		return Item{}, ferrors.NotInitialisedf("reader: not bound")
	}
	return r.backlog.Read()
}

// ReadBefore walks backward from the newest sample and returns the first
// one at or before t. Backlog-mode only.
func (r *Reader) ReadBefore(t fep3time.Timestamp) (Item, error) {
	if !r.backlogMode {
		return Item{}, ferrors.InvalidStatef("reader: readBefore is unavailable in queue mode")
	}
	if r.backlog == nil {
		return Item{}, ferrors.NotInitialisedf("reader: not bound")
	}
	return r.backlog.ReadBefore(t)
}

// Release detaches this reader from its owning signal. A released reader's
// methods continue to report ferrors.NotInitialised/Empty rather than
// panicking, so a caller that holds onto a released reader past its
// signal's lifetime degrades gracefully instead of crashing.
func (r *Reader) Release() {
	if r.detach != nil {
		r.detach()
		r.detach = nil
	}
	r.queue = nil
	r.backlog = nil
}
