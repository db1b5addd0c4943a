package dataregistry

import (
	"sync"

	"github.com/fep3/participant/fep3time"
	"github.com/fep3/participant/ferrors"
	"github.com/fep3/participant/streamtype"
)

// ReaderQueue is a FIFO of received Items. A fixed-capacity queue drops the
// oldest item on overflow; a dynamic queue (capacity <= 0) never drops.
type ReaderQueue struct {
	mu       sync.Mutex
	capacity int // <= 0 means dynamic
	items    []Item
}

// NewReaderQueue constructs a ReaderQueue with the given fixed capacity, or
// a dynamic (unbounded) queue if capacity <= 0.
func NewReaderQueue(capacity int) *ReaderQueue {
	return &ReaderQueue{capacity: capacity}
}

// Receive implements Receiver: it appends item, dropping the oldest entry
// first if the queue is fixed-capacity and full.
func (q *ReaderQueue) Receive(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.items = q.items[1:]
	}
	q.items = append(q.items, item)
}

// Size returns the number of items currently queued.
func (q *ReaderQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the queue's fixed capacity, or 0 if dynamic.
func (q *ReaderQueue) Capacity() int {
	if q.capacity <= 0 {
		return 0
	}
	return q.capacity
}

// FrontTime returns the receive timestamp of the oldest queued item, or
// ferrors.Empty if the queue has no items.
func (q *ReaderQueue) FrontTime() (fep3time.Timestamp, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return 0, ferrors.Emptyf("reader queue: empty")
	}
	return q.items[0].ReceiveTime, nil
}

// Pop removes and returns the oldest queued item, or ferrors.Empty if the
// queue has no items. Pop is non-blocking.
func (q *ReaderQueue) Pop() (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, ferrors.Emptyf("reader queue: empty")
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, nil
}

// backlogHistoryLimit bounds how many past samples ReadBefore can walk back
// through: "single-slot" names the logical contract (only the newest
// sample is authoritative for Read), but ReadBefore's backward walk
// requires retaining a short trailing history rather than truly one slot.
const backlogHistoryLimit = 16

// Backlog is a reader variant retaining only the newest sample plus the
// newest stream type for Read, with a short bounded history for
// ReadBefore's backward walk.
type Backlog struct {
	mu         sync.Mutex
	newest     []Item // samples only, most-recent last, capped at backlogHistoryLimit
	streamType *streamtype.StreamType
}

// NewBacklog constructs an empty Backlog.
func NewBacklog() *Backlog {
	return &Backlog{}
}

// Receive implements Receiver: a stream-type item replaces the remembered
// stream type; a sample item becomes the newest retained sample, dropping
// the oldest retained sample once backlogHistoryLimit is exceeded.
func (b *Backlog) Receive(item Item) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch item.Kind {
	case ItemStreamType:
		st := item.StreamType
		b.streamType = &st
	case ItemSample:
		b.newest = append(b.newest, item)
		if len(b.newest) > backlogHistoryLimit {
			b.newest = b.newest[len(b.newest)-backlogHistoryLimit:]
		}
	}
}

// Read returns the latest sample, or ferrors.Empty if none has arrived.
func (b *Backlog) Read() (Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.newest) == 0 {
		return Item{}, ferrors.Emptyf("backlog: empty")
	}
	return b.newest[len(b.newest)-1], nil
}

// ReadBefore walks backward from the newest sample and returns the first
// one whose timestamp is <= t, or ferrors.Empty if none qualifies.
func (b *Backlog) ReadBefore(t fep3time.Timestamp) (Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.newest) - 1; i >= 0; i-- {
		if b.newest[i].Sample.Time <= t {
			return b.newest[i], nil
		}
	}
	return Item{}, ferrors.Emptyf("backlog: no sample at or before %s", t)
}

// StreamType returns the most recently received stream type, if any.
func (b *Backlog) StreamType() (streamtype.StreamType, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streamType == nil {
		return streamtype.StreamType{}, false
	}
	return *b.streamType, true
}
