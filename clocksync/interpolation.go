package clocksync

import (
	"time"

	"github.com/fep3/participant/fep3time"
)

// InterpolationTime extrapolates a currently-valid timestamp from a
// reference time set via SetTime, using Cristian's algorithm
// (https://en.wikipedia.org/wiki/Cristian%27s_algorithm).
// GetTime only interpolates forward once a time has been set; before that
// it returns the zero-state reference time. SetTime auto-detects a
// backwards jump in the raw master time and treats it as an implicit
// ResetTime.
type InterpolationTime struct {
	epoch time.Time // reference point for the monotonic "steady clock" reading

	lastInterpolatedTime fep3time.Timestamp
	offset               fep3time.Duration
	lastTimeSet          fep3time.Timestamp
	lastRawTime          fep3time.Timestamp
}

// NewInterpolationTime returns an InterpolationTime in its zero state: no
// reference time has been set, so GetTime returns 0 until SetTime or
// ResetTime is called.
func NewInterpolationTime() *InterpolationTime {
	return &InterpolationTime{epoch: time.Now()}
}

func (t *InterpolationTime) steadyNow() fep3time.Duration {
	return fep3time.FromDuration(time.Since(t.epoch))
}

// GetTime returns the currently valid extrapolated timestamp.
func (t *InterpolationTime) GetTime() fep3time.Timestamp {
	if t.lastTimeSet > 0 {
		interpolated := fep3time.Timestamp(t.steadyNow() - t.offset)
		if t.lastInterpolatedTime < interpolated {
			t.lastInterpolatedTime = interpolated
		}
		return t.lastInterpolatedTime
	}
	// not yet received a time
	return t.lastTimeSet
}

// SetTime sets a new reference time obtained from a request that took
// roundtripTime to complete. A raw time earlier than the last raw time
// observed is treated as an implicit reset.
func (t *InterpolationTime) SetTime(time_ fep3time.Timestamp, roundtripTime fep3time.Duration) {
	if time_ < t.lastRawTime {
		t.ResetTime(time_)
	}
	t.lastRawTime = time_

	t.lastTimeSet = time_.Add(roundtripTime / 2)
	t.offset = fep3time.Duration(t.steadyNow()) - fep3time.Duration(t.lastTimeSet)
}

// ResetTime sets a new reference time obtained without further delay,
// clearing any accumulated offset.
func (t *InterpolationTime) ResetTime(time_ fep3time.Timestamp) {
	t.lastRawTime = time_
	t.lastTimeSet = time_
	t.offset = fep3time.Duration(t.steadyNow()) - fep3time.Duration(time_)
	t.lastInterpolatedTime = time_
}
