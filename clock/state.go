package clock

import "sync/atomic"

// State is the lifecycle state of a single Clock.
type State uint32

const (
	// StateIdle is the initial state: the clock exists but has not been
	// started against an EventSink.
	StateIdle State = iota
	// StateRunning is entered on Start and left on Stop.
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	default:
		return "idle"
	}
}

// fastState is a lock-free idle/running switch, generalising the pattern in
// the upstream event loop's state machine (a padded atomic word with CAS
// transitions) down to the two states a Clock needs.
type fastState struct {
	v atomic.Uint32
}

func (s *fastState) load() State { return State(s.v.Load()) }

// tryStart transitions idle -> running, reporting whether it won the race.
func (s *fastState) tryStart() bool {
	return s.v.CompareAndSwap(uint32(StateIdle), uint32(StateRunning))
}

// tryStop transitions running -> idle, reporting whether it won the race.
func (s *fastState) tryStop() bool {
	return s.v.CompareAndSwap(uint32(StateRunning), uint32(StateIdle))
}
