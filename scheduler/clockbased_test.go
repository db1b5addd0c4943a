package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fep3/participant/clock"
	"github.com/fep3/participant/fep3time"
)

type recordingJob struct {
	mu    sync.Mutex
	order []string
	phase string
}

func (r *recordingJob) makeJob(name string, cycle, delay fep3time.Duration) *Job {
	record := func(phase string) func(context.Context, fep3time.Timestamp) error {
		return func(context.Context, fep3time.Timestamp) error {
			r.mu.Lock()
			r.order = append(r.order, name+":"+phase)
			r.mu.Unlock()
			return nil
		}
	}
	return &Job{
		Name:           name,
		Cycle:          cycle,
		Delay:          delay,
		ExecuteDataIn:  record("in"),
		Execute:        record("exec"),
		ExecuteDataOut: record("out"),
	}
}

func (r *recordingJob) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func TestClockBasedSchedulerDiscreteFiresInRegistrationOrder(t *testing.T) {
	rec := &recordingJob{}
	jobA := rec.makeJob("a", fep3time.Duration(0), fep3time.Duration(0))
	jobB := rec.makeJob("b", fep3time.Duration(0), fep3time.Duration(0))

	reg := NewJobRegistry()
	if err := reg.Register(jobA); err != nil {
		t.Fatalf("Register(a): %v", err)
	}
	if err := reg.Register(jobB); err != nil {
		t.Fatalf("Register(b): %v", err)
	}

	s := NewClockBasedScheduler(DefaultSchedulerName, reg)
	dc := clock.NewDiscreteClock("sim", fep3time.FromMillis(10), 1.0)
	if err := s.Initialize(dc, reg.Jobs()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	defer dc.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(rec.snapshot()) >= 6 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	got := rec.snapshot()
	want := []string{"a:in", "a:exec", "a:out", "b:in", "b:exec", "b:out"}
	if len(got) < len(want) {
		t.Fatalf("order = %v, want at least %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestClockBasedSchedulerContinuousFiresJob(t *testing.T) {
	rec := &recordingJob{}
	job := rec.makeJob("a", fep3time.FromMillis(5), fep3time.Duration(0))

	reg := NewJobRegistry()
	if err := reg.Register(job); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s := NewClockBasedScheduler(DefaultSchedulerName, reg)
	cc := clock.NewContinuousClock("sim")
	if err := cc.Start(clock.NopEventSink{}); err != nil {
		t.Fatalf("clock Start: %v", err)
	}
	defer cc.Stop()

	if err := s.Initialize(cc, reg.Jobs()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(rec.snapshot()) >= 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	got := rec.snapshot()
	if len(got) < 3 {
		t.Fatalf("job did not fire within deadline: %v", got)
	}
	if got[0] != "a:in" || got[1] != "a:exec" || got[2] != "a:out" {
		t.Fatalf("phase order = %v, want in/exec/out", got[:3])
	}
}

func TestJobRegistryDuplicateFails(t *testing.T) {
	reg := NewJobRegistry()
	job := &Job{Name: "a"}
	if err := reg.Register(job); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(job); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestSchedulerRegistryDefaultCannotBeUnregistered(t *testing.T) {
	r := NewSchedulerRegistry(NewJobRegistry())
	if err := r.Unregister(DefaultSchedulerName); err == nil {
		t.Fatalf("expected default scheduler to resist unregistration")
	}
}

func TestSchedulerRegistrySetActiveUnknownFails(t *testing.T) {
	r := NewSchedulerRegistry(NewJobRegistry())
	if err := r.SetActiveScheduler("nope"); err == nil {
		t.Fatalf("expected unknown scheduler activation to fail")
	}
}
