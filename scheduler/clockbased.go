package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/fep3/participant/clock"
	"github.com/fep3/participant/fep3time"
	"github.com/fep3/participant/ferrors"
	"github.com/fep3/participant/flog"
)

// ClockBasedScheduler is the built-in scheduler: against a continuous
// clock it runs one goroutine per job, sleeping until each trigger;
// against a discrete clock it registers as the clock's EventSink and fires
// jobs synchronously from timeUpdating.
type ClockBasedScheduler struct {
	name string
	jobs *JobRegistry
	log  *flog.Logger
	errs StateSetter
	sync clock.EventSink

	mu       sync.Mutex
	c        clock.Clock
	snapshot []*Job
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewClockBasedScheduler constructs a ClockBasedScheduler named name,
// driving the jobs in reg.
func NewClockBasedScheduler(name string, reg *JobRegistry) *ClockBasedScheduler {
	return &ClockBasedScheduler{name: name, jobs: reg, log: flog.NewNop()}
}

// WithLogger sets the scheduler's logger, returning it for chaining.
func (s *ClockBasedScheduler) WithLogger(logger *flog.Logger) *ClockBasedScheduler {
	s.log = flog.Component(logger, "scheduler")
	return s
}

// WithStateSetter sets the StateSetter used by SetSTMToError violations.
func (s *ClockBasedScheduler) WithStateSetter(setter StateSetter) *ClockBasedScheduler {
	s.errs = setter
	return s
}

// WithSyncSink attaches sink to receive every clock transition this
// scheduler's discrete clock emits, alongside this scheduler's own job
// firing (a discrete main clock's transitions fan out to clock
// synchronization the same way they fan out to jobs). No effect on a
// continuous clock, which this scheduler never starts itself.
func (s *ClockBasedScheduler) WithSyncSink(sink clock.EventSink) *ClockBasedScheduler {
	s.sync = sink
	return s
}

// Name implements Scheduler.
func (s *ClockBasedScheduler) Name() string { return s.name }

// Initialize implements Scheduler: it captures c and the job list jobs as
// they stand at this moment, independent of any later JobRegistry
// mutation.
func (s *ClockBasedScheduler) Initialize(c clock.Clock, jobs []*Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ferrors.InvalidStatef("scheduler %q: cannot initialize while running", s.name)
	}
	s.c = c
	s.snapshot = append([]*Job(nil), jobs...)
	return nil
}

// Start implements Scheduler: for a continuous clock it spawns one
// goroutine per job; for a discrete clock it registers itself as the
// clock's EventSink.
func (s *ClockBasedScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ferrors.InvalidStatef("scheduler %q: already running", s.name)
	}
	if s.c == nil {
		s.mu.Unlock()
		return ferrors.InvalidStatef("scheduler %q: not initialized", s.name)
	}
	s.running = true
	s.stopCh = make(chan struct{})
	c := s.c
	jobs := s.snapshot
	if jobs == nil {
		jobs = s.jobs.Jobs()
	}
	s.mu.Unlock()

	switch c.Type() {
	case clock.Discrete:
		s.mu.Lock()
		sync := s.sync
		s.mu.Unlock()
		if err := c.Start(&discreteSink{scheduler: s, sync: sync, jobs: jobs, nextTrigger: make(map[string]fep3time.Timestamp, len(jobs))}); err != nil {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return err
		}
	default:
		for _, job := range jobs {
			job := job
			s.wg.Add(1)
			go s.runContinuousJob(ctx, job)
		}
	}
	return nil
}

// Stop implements Scheduler.
func (s *ClockBasedScheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ferrors.InvalidStatef("scheduler %q: not running", s.name)
	}
	s.running = false
	stopCh := s.stopCh
	c := s.c
	s.mu.Unlock()

	close(stopCh)
	s.wg.Wait()
	if c != nil && c.Type() == clock.Discrete {
		// Start started the discrete clock, whose steps fire the jobs; a
		// clock its owner already stopped reports InvalidState, ignored here.
		_ = c.Stop()
	}
	return nil
}

func (s *ClockBasedScheduler) runContinuousJob(ctx context.Context, job *Job) {
	defer s.wg.Done()
	s.mu.Lock()
	stopCh := s.stopCh
	c := s.c
	s.mu.Unlock()

	var next fep3time.Timestamp
	haveNext := false
	for {
		if !haveNext {
			next = job.nextTrigger(c.Now())
			haveNext = true
		}
		wait := next.Sub(c.Now()).AsDuration()
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		t := c.Now()
		s.fireJob(ctx, job, t)
		next = job.nextTrigger(t + 1)
	}
}

// fireJob runs the three execution phases in order, honouring the job's
// time-violation strategy around the optional runtime budget.
func (s *ClockBasedScheduler) fireJob(ctx context.Context, job *Job, t fep3time.Timestamp) {
	if err := job.runPhase(ctx, job.ExecuteDataIn, t); err != nil {
		s.log.Err().Str("job", job.Name).Str("error", err.Error()).Log("executeDataIn failed")
		return
	}

	start := time.Now()
	err := job.runPhase(ctx, job.Execute, t)
	elapsed := time.Since(start)
	if err != nil {
		s.log.Err().Str("job", job.Name).Str("error", err.Error()).Log("execute failed")
		return
	}

	violated := job.MaxRuntime > 0 && fep3time.FromDuration(elapsed) > job.MaxRuntime
	if violated {
		s.handleViolation(job, t)
		if job.ViolationStrategy == SkipOutputPublish {
			return
		}
	}

	if err := job.runPhase(ctx, job.ExecuteDataOut, t); err != nil {
		s.log.Err().Str("job", job.Name).Str("error", err.Error()).Log("executeDataOut failed")
	}
}

func (s *ClockBasedScheduler) handleViolation(job *Job, t fep3time.Timestamp) {
	switch job.ViolationStrategy {
	case WarnAboutRuntimeViolation:
		s.log.Warning().Str("job", job.Name).Str("time", t.String()).Log("job exceeded its runtime budget")
	case SetSTMToError:
		s.log.Err().Str("job", job.Name).Log("job exceeded its runtime budget, transitioning participant to error state")
		if s.errs != nil {
			s.errs.SetErrorState(ferrors.InvalidStatef("job %q exceeded its runtime budget", job.Name))
		}
	case SkipOutputPublish:
		s.log.Warning().Str("job", job.Name).Log("job exceeded its runtime budget, suppressing executeDataOut")
	}
}

// discreteSink drives jobs[] from a discrete clock's event-sink callbacks.
// Jobs whose next trigger is at or before the new time fire, in
// registration order, on every timeUpdating. Every callback also forwards
// to sync, if set, so clock synchronization sees the same transitions.
type discreteSink struct {
	scheduler   *ClockBasedScheduler
	sync        clock.EventSink
	jobs        []*Job
	nextTrigger map[string]fep3time.Timestamp
}

func (d *discreteSink) TimeUpdateBegin(old, new fep3time.Timestamp) {
	if d.sync != nil {
		d.sync.TimeUpdateBegin(old, new)
	}
}

func (d *discreteSink) TimeUpdating(t fep3time.Timestamp) {
	due := make([]*Job, 0, len(d.jobs))
	for _, job := range d.jobs {
		next, ok := d.nextTrigger[job.Name]
		if !ok {
			next = job.nextTrigger(fep3time.Zero)
			d.nextTrigger[job.Name] = next
		}
		if next <= t {
			due = append(due, job)
		}
	}
	// due is already in registration order, since d.jobs is iterated in
	// order and appended to in the same pass.
	for _, job := range due {
		d.scheduler.fireJob(context.Background(), job, t)
		d.nextTrigger[job.Name] = job.nextTrigger(t + 1)
	}
	if d.sync != nil {
		d.sync.TimeUpdating(t)
	}
}

func (d *discreteSink) TimeUpdateEnd(new fep3time.Timestamp) {
	if d.sync != nil {
		d.sync.TimeUpdateEnd(new)
	}
}

func (d *discreteSink) TimeResetBegin(old, new fep3time.Timestamp) {
	if d.sync != nil {
		d.sync.TimeResetBegin(old, new)
	}
}

func (d *discreteSink) TimeResetEnd(new fep3time.Timestamp) {
	if d.sync != nil {
		d.sync.TimeResetEnd(new)
	}
}
