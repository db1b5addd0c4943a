// Package sample implements the data plane's transport unit: a DataSample
// is a (timestamp, counter, byte buffer) triple, with the buffer backed by
// a RawMemory that may be fixed-capacity (refuses to grow, for a
// caller-owned fixed-size buffer) or dynamic (grows freely).
package sample

import (
	"github.com/fep3/participant/fep3time"
	"github.com/fep3/participant/ferrors"
)

// TimeSetByReceiver is the sentinel Timestamp meaning "use current
// simulation time on transmission" rather than a fixed send time.
const TimeSetByReceiver fep3time.Timestamp = -1

// RawMemory is a byte buffer that tracks capacity separately from size:
// capacity is the allocation, size is the bytes actually written, and a
// fixed-capacity RawMemory refuses to grow past its initial allocation
// (wrapping a caller-owned fixed-size buffer) while a dynamic RawMemory
// grows on demand.
type RawMemory struct {
	buf   []byte
	size  int
	fixed bool
}

// NewDynamicRawMemory returns a RawMemory with zero initial size that grows
// to fit whatever is written to it.
func NewDynamicRawMemory() *RawMemory {
	return &RawMemory{}
}

// NewFixedRawMemory returns a RawMemory with a capacity fixed at capacity
// bytes; Set and Resize beyond that capacity fail rather than reallocating.
func NewFixedRawMemory(capacity int) *RawMemory {
	return &RawMemory{buf: make([]byte, capacity), fixed: true}
}

// Capacity returns the current allocation size in bytes.
func (m *RawMemory) Capacity() int { return cap(m.buf) }

// Size returns the number of bytes currently written.
func (m *RawMemory) Size() int { return m.size }

// Data returns the written portion of the buffer. The returned slice aliases
// internal storage and must not be retained past the next Set/Resize call.
func (m *RawMemory) Data() []byte { return m.buf[:m.size] }

// Set copies data into the buffer, growing a dynamic RawMemory as needed.
// For a fixed-capacity RawMemory, it returns ferrors.InvalidArg if data does
// not fit within the existing allocation.
func (m *RawMemory) Set(data []byte) error {
	if m.fixed && len(data) > cap(m.buf) {
		return ferrors.InvalidArgf("raw memory: fixed capacity %d cannot hold %d bytes", cap(m.buf), len(data))
	}
	if len(data) > cap(m.buf) {
		m.buf = make([]byte, len(data))
	} else {
		m.buf = m.buf[:cap(m.buf)]
	}
	copy(m.buf, data)
	m.size = len(data)
	return nil
}

// Resize changes the reported size, growing the allocation for a dynamic
// RawMemory if needed. For a fixed-capacity RawMemory, it returns
// ferrors.InvalidArg if dataSize exceeds the existing allocation.
func (m *RawMemory) Resize(dataSize int) error {
	if m.fixed && dataSize > cap(m.buf) {
		return ferrors.InvalidArgf("raw memory: fixed capacity %d cannot resize to %d bytes", cap(m.buf), dataSize)
	}
	if dataSize > cap(m.buf) {
		grown := make([]byte, dataSize)
		copy(grown, m.buf)
		m.buf = grown
	} else {
		m.buf = m.buf[:cap(m.buf)]
	}
	m.size = dataSize
	return nil
}

// DataSample is the unit of transport over the data plane: a sender-assigned
// sequence Counter, a Time (possibly TimeSetByReceiver), and a byte buffer.
type DataSample struct {
	Time    fep3time.Timestamp
	Counter uint32
	Memory  *RawMemory
}

// NewDataSample constructs a DataSample over a dynamic RawMemory containing
// a copy of data, timestamped t.
func NewDataSample(t fep3time.Timestamp, counter uint32, data []byte) *DataSample {
	m := NewDynamicRawMemory()
	_ = m.Set(data) // dynamic memory, Set never fails
	return &DataSample{Time: t, Counter: counter, Memory: m}
}

// Bytes returns the sample's current payload.
func (s *DataSample) Bytes() []byte { return s.Memory.Data() }

// Clone returns a deep copy of s, safe to retain independently of the
// original. Nothing clones automatically: reader queues and backlogs store
// the sample they receive, not a copy.
func (s *DataSample) Clone() *DataSample {
	data := append([]byte(nil), s.Memory.Data()...)
	return NewDataSample(s.Time, s.Counter, data)
}
