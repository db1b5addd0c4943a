package scheduler

import (
	"sync"

	"github.com/fep3/participant/ferrors"
)

// DefaultSchedulerName is the name of the built-in clock_based_scheduler,
// which cannot be unregistered.
const DefaultSchedulerName = "clock_based_scheduler"

// SchedulerRegistry holds named Scheduler implementations, exactly one of
// which is active at a time.
type SchedulerRegistry struct {
	mu      sync.Mutex
	running bool
	byName  map[string]Scheduler
	active  string
}

// NewSchedulerRegistry constructs a SchedulerRegistry with the default
// clock-based scheduler already registered and active.
func NewSchedulerRegistry(jobs *JobRegistry) *SchedulerRegistry {
	r := &SchedulerRegistry{byName: make(map[string]Scheduler)}
	def := NewClockBasedScheduler(DefaultSchedulerName, jobs)
	r.byName[DefaultSchedulerName] = def
	r.active = DefaultSchedulerName
	return r
}

// Register adds s under its own Name(). ferrors.ResourceInUse on a
// duplicate name; ferrors.InvalidState if the registry is currently
// running (failure model).
func (r *SchedulerRegistry) Register(s Scheduler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ferrors.InvalidStatef("scheduler registry: cannot register while running")
	}
	if _, ok := r.byName[s.Name()]; ok {
		return ferrors.ResourceInUsef("scheduler %q already registered", s.Name())
	}
	r.byName[s.Name()] = s
	return nil
}

// Unregister removes the scheduler named name. The default scheduler
// cannot be unregistered. ferrors.NotFound if absent, ferrors.InvalidState
// if it is currently active.
func (r *SchedulerRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == DefaultSchedulerName {
		return ferrors.InvalidStatef("scheduler registry: %q cannot be unregistered", DefaultSchedulerName)
	}
	if _, ok := r.byName[name]; !ok {
		return ferrors.NotFoundf("scheduler %q", name)
	}
	if r.active == name {
		return ferrors.InvalidStatef("scheduler registry: %q is active", name)
	}
	delete(r.byName, name)
	return nil
}

// Names returns the names of every registered scheduler.
func (r *SchedulerRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

// ActiveName returns the name of the currently active scheduler.
func (r *SchedulerRegistry) ActiveName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Active returns the currently active Scheduler.
func (r *SchedulerRegistry) Active() (Scheduler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byName[r.active]
	if !ok {
		return nil, ferrors.NotFoundf("active scheduler %q", r.active)
	}
	return s, nil
}

// SetActiveScheduler selects name as active. Selection is only legal
// before tense(); this registry enforces that via SetRunning, called by
// the owning participant at tense()/relax() time.
func (r *SchedulerRegistry) SetActiveScheduler(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ferrors.InvalidStatef("scheduler registry: cannot change active scheduler while running")
	}
	if _, ok := r.byName[name]; !ok {
		return ferrors.NotFoundf("scheduler %q", name)
	}
	r.active = name
	return nil
}

// SetRunning records whether the registry's owning participant has
// tensed, gating registration/active-selection accordingly.
func (r *SchedulerRegistry) SetRunning(running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = running
}
