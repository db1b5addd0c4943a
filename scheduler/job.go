// Package scheduler implements the Job Scheduler: named jobs driven from
// the active clock, in three phases per trigger (executeDataIn, execute,
// executeDataOut), plus a registry of pluggable Scheduler implementations
// selectable before tense().
package scheduler

import (
	"context"
	"math"

	"github.com/fep3/participant/fep3time"
)

// neverTrigger is the sentinel nextTrigger returns for a one-shot (Cycle
// <= 0) job once it has already fired, so continuous-clock job goroutines
// and discrete-clock due-checks both stop reconsidering it.
const neverTrigger = fep3time.Timestamp(math.MaxInt64)

// TimeViolationStrategy controls what happens when a job's Execute phase
// runs longer than its MaxRuntime. A trigger that fires late is not itself
// treated as a violation.
type TimeViolationStrategy int

const (
	// IgnoreRuntimeViolation takes no action.
	IgnoreRuntimeViolation TimeViolationStrategy = iota
	// WarnAboutRuntimeViolation logs a warning.
	WarnAboutRuntimeViolation
	// SkipOutputPublish suppresses executeDataOut for the violating
	// trigger.
	SkipOutputPublish
	// SetSTMToError transitions the participant to its error state via
	// the injected StateSetter.
	SetSTMToError
)

func (s TimeViolationStrategy) String() string {
	switch s {
	case WarnAboutRuntimeViolation:
		return "warn_about_runtime_violation"
	case SkipOutputPublish:
		return "skip_output_publish"
	case SetSTMToError:
		return "set_stm_to_error"
	default:
		return "ignore_runtime_violation"
	}
}

// StateSetter is the minimal participant lifecycle surface a job's
// SetSTMToError violation strategy needs (keeps the full lifecycle state
// machine out of scope for this package; a job only ever needs to report
// an error transition, never drive the state machine itself).
type StateSetter interface {
	SetErrorState(reason error)
}

// Job is a named, clock-driven unit of work: cycle/delay durations, an
// optional real-runtime budget, a violation strategy, and a purely
// informational dependency list (dependency ordering is never enforced by
// the default scheduler, only preserved as registration-order
// tie-breaking when triggers coincide).
type Job struct {
	Name              string
	Cycle             fep3time.Duration
	Delay             fep3time.Duration
	MaxRuntime        fep3time.Duration // 0 = unbounded
	ViolationStrategy TimeViolationStrategy
	DependsOn         []string
	ExecuteDataIn     func(ctx context.Context, t fep3time.Timestamp) error
	Execute           func(ctx context.Context, t fep3time.Timestamp) error
	ExecuteDataOut    func(ctx context.Context, t fep3time.Timestamp) error
}

// nextTrigger returns the smallest trigger time >= from the job's sequence
// d, d+c, d+2c, ... A zero or negative cycle is treated as a one-shot at
// Delay.
func (j *Job) nextTrigger(after fep3time.Timestamp) fep3time.Timestamp {
	if j.Cycle <= 0 {
		if after <= fep3time.Timestamp(j.Delay) {
			return fep3time.Timestamp(j.Delay)
		}
		return neverTrigger // already fired once; a one-shot never fires again
	}
	t := fep3time.Timestamp(j.Delay)
	if t >= after {
		return t
	}
	// advance by whole cycles to the first trigger >= after
	behind := t.Sub(after) * -1
	n := int64(behind) / int64(j.Cycle)
	t = t.Add(fep3time.Duration(n) * j.Cycle)
	if t < after {
		t = t.Add(j.Cycle)
	}
	return t
}

func (j *Job) runPhase(ctx context.Context, phase func(context.Context, fep3time.Timestamp) error, t fep3time.Timestamp) error {
	if phase == nil {
		return nil
	}
	return phase(ctx, t)
}
