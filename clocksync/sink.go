package clocksync

import (
	"sync"

	"github.com/fep3/participant/clock"
	"github.com/fep3/participant/fep3time"
)

// MasterSink adapts a Master to clock.EventSink, so the clock whose
// transitions the master should fan out to its registered slaves can drive
// it directly (for a continuous main clock, via clock.Service.StartMain) or
// via a scheduler's WithSyncSink hook (for a discrete main clock, alongside
// job firing). It reconstructs the old/new pair TimeUpdating and
// TimeUpdateEnd need from the preceding TimeUpdateBegin/TimeResetBegin,
// since clock.EventSink's own TimeUpdating/TimeUpdateEnd/TimeResetEnd
// signatures carry only the new timestamp.
type MasterSink struct {
	master *Master

	mu  sync.Mutex
	old fep3time.Timestamp
}

// NewMasterSink wraps master as a clock.EventSink.
func NewMasterSink(master *Master) *MasterSink { return &MasterSink{master: master} }

func (s *MasterSink) TimeUpdateBegin(old, new fep3time.Timestamp) {
	s.mu.Lock()
	s.old = old
	s.mu.Unlock()
	s.master.Dispatch(TimeUpdateBefore, new, old)
}

func (s *MasterSink) TimeUpdating(new fep3time.Timestamp) {
	s.mu.Lock()
	old := s.old
	s.mu.Unlock()
	s.master.Dispatch(TimeUpdating, new, old)
}

func (s *MasterSink) TimeUpdateEnd(new fep3time.Timestamp) {
	s.mu.Lock()
	old := s.old
	s.mu.Unlock()
	s.master.Dispatch(TimeUpdateAfter, new, old)
}

func (s *MasterSink) TimeResetBegin(old, new fep3time.Timestamp) {
	s.mu.Lock()
	s.old = old
	s.mu.Unlock()
}

func (s *MasterSink) TimeResetEnd(new fep3time.Timestamp) {
	s.mu.Lock()
	old := s.old
	s.mu.Unlock()
	s.master.Dispatch(TimeReset, new, old)
}

var _ clock.EventSink = (*MasterSink)(nil)
