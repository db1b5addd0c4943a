package scheduler

import (
	"context"

	"github.com/fep3/participant/clock"
	"github.com/fep3/participant/ferrors"
)

// Scheduler drives a fixed job list from one clock. A participant selects
// exactly one active Scheduler before tense(); Initialize hands it the
// main clock and the current job list.
type Scheduler interface {
	Name() string
	// Initialize prepares the scheduler to run against c, given jobs. It
	// does not itself start the drive loop.
	Initialize(c clock.Clock, jobs []*Job) error
	// Start begins driving jobs; Stop halts it. Start on a running scheduler
	// and Stop on a stopped one fail with ferrors.InvalidState, matching
	// clock.Clock's own Start/Stop discipline.
	Start(ctx context.Context) error
	Stop() error
}

// JobRegistry holds the jobs a participant has registered, independent of
// which Scheduler later drives them.
type JobRegistry struct {
	jobs   []*Job
	byName map[string]*Job
}

// NewJobRegistry constructs an empty JobRegistry.
func NewJobRegistry() *JobRegistry {
	return &JobRegistry{byName: make(map[string]*Job)}
}

// Register adds job. ferrors.ResourceInUse if a job with that name already
// exists.
func (r *JobRegistry) Register(job *Job) error {
	if _, ok := r.byName[job.Name]; ok {
		return ferrors.ResourceInUsef("job %q already registered", job.Name)
	}
	r.byName[job.Name] = job
	r.jobs = append(r.jobs, job)
	return nil
}

// Unregister removes the job named name. ferrors.NotFound if absent.
func (r *JobRegistry) Unregister(name string) error {
	if _, ok := r.byName[name]; !ok {
		return ferrors.NotFoundf("job %q", name)
	}
	delete(r.byName, name)
	for i, j := range r.jobs {
		if j.Name == name {
			r.jobs = append(r.jobs[:i:i], r.jobs[i+1:]...)
			break
		}
	}
	return nil
}

// Jobs returns the registered jobs, in registration order.
func (r *JobRegistry) Jobs() []*Job {
	out := make([]*Job, len(r.jobs))
	copy(out, r.jobs)
	return out
}

// Get returns the job named name, if registered.
func (r *JobRegistry) Get(name string) (*Job, bool) {
	j, ok := r.byName[name]
	return j, ok
}
