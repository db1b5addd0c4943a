package clock

import (
	"sync"
	"time"

	"github.com/fep3/participant/fep3time"
	"github.com/fep3/participant/ferrors"
	"github.com/fep3/participant/flog"
)

// Names of the clocks this package always registers into a new Service.
const (
	NameLocalSystemRealtime = "local_system_realtime"
	NameLocalSystemSimtime  = "local_system_simtime"
)

// serviceConfig holds configuration options for Service creation, following
// a functional-options pattern.
type serviceConfig struct {
	mainClock           string
	cycleTime           fep3time.Duration
	timeFactor          float64
	timeUpdateTimeoutMs int64
	logger              *flog.Logger
}

// Option configures a Service instance.
type Option interface {
	applyService(*serviceConfig) error
}

type optionFunc func(*serviceConfig) error

func (f optionFunc) applyService(c *serviceConfig) error { return f(c) }

// WithMainClock selects the initially-active clock by name. Defaults to
// NameLocalSystemRealtime.
func WithMainClock(name string) Option {
	return optionFunc(func(c *serviceConfig) error {
		c.mainClock = name
		return nil
	})
}

// WithCycleTime sets the discrete sim-time step length (min 1ms, default
// 100ms), per the clock service's cycle_time_ms configuration property.
func WithCycleTime(d fep3time.Duration) Option {
	return optionFunc(func(c *serviceConfig) error {
		c.cycleTime = d
		return nil
	})
}

// WithTimeFactor sets the discrete sim-time pacing (AFAP=0.0, min 0.1,
// default 1.0), per the clock service's time_factor configuration property.
func WithTimeFactor(f float64) Option {
	return optionFunc(func(c *serviceConfig) error {
		c.timeFactor = f
		return nil
	})
}

// WithTimeUpdateTimeout sets the per-slave RPC timeout used by clock
// synchronization (default 5000ms), per time_update_timeout_ms.
func WithTimeUpdateTimeout(ms int64) Option {
	return optionFunc(func(c *serviceConfig) error {
		c.timeUpdateTimeoutMs = ms
		return nil
	})
}

// WithLogger attaches a structured logger; defaults to flog.Default().
func WithLogger(l *flog.Logger) Option {
	return optionFunc(func(c *serviceConfig) error {
		c.logger = l
		return nil
	})
}

func resolveOptions(opts []Option) (*serviceConfig, error) {
	cfg := &serviceConfig{
		mainClock:           NameLocalSystemRealtime,
		cycleTime:           fep3time.FromMillis(100),
		timeFactor:          1.0,
		timeUpdateTimeoutMs: 5000,
	}
	for _, o := range opts {
		if o == nil {
			continue
		}
		if err := o.applyService(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.logger == nil {
		cfg.logger = flog.Default()
	}
	return cfg, nil
}

// Service owns a registry of named clocks, exactly one of which is the
// active main clock.
type Service struct {
	mu        sync.RWMutex
	clocks    map[string]Clock
	mainClock string
	log       *flog.Logger
	timeoutMs int64
}

// NewService constructs a Service pre-populated with local_system_realtime
// and local_system_simtime, with mainClock selected per options.
func NewService(opts ...Option) (*Service, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	s := &Service{
		clocks:    make(map[string]Clock),
		log:       flog.Component(cfg.logger, "clock"),
		timeoutMs: cfg.timeUpdateTimeoutMs,
	}
	s.clocks[NameLocalSystemRealtime] = NewContinuousClock(NameLocalSystemRealtime)
	s.clocks[NameLocalSystemSimtime] = NewDiscreteClock(NameLocalSystemSimtime, cfg.cycleTime, cfg.timeFactor)
	if err := s.SetMainClock(cfg.mainClock); err != nil {
		return nil, err
	}
	return s, nil
}

// TimeUpdateTimeout returns the configured per-slave RPC timeout for sync
// events, as a time.Duration.
func (s *Service) TimeUpdateTimeout() time.Duration {
	return fep3time.FromMillis(s.timeoutMs).AsDuration()
}

// Register adds clock to the registry. It fails with ferrors.ResourceInUse
// if a clock with the same name is already registered.
func (s *Service) Register(c Clock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.clocks[c.Name()]; exists {
		return ferrors.ResourceInUsef("clock %q already registered", c.Name())
	}
	s.clocks[c.Name()] = c
	s.log.Info().Str("clock", c.Name()).Str("type", c.Type().String()).Log("registered clock")
	return nil
}

// Unregister removes the named clock. It fails with ferrors.NotFound if no
// such clock exists, and ferrors.InvalidState if it is the main clock.
func (s *Service) Unregister(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.clocks[name]; !exists {
		return ferrors.NotFoundf("clock %q not registered", name)
	}
	if s.mainClock == name {
		return ferrors.InvalidStatef("clock %q: cannot unregister the main clock", name)
	}
	delete(s.clocks, name)
	return nil
}

// Names returns the names of every registered clock.
func (s *Service) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.clocks))
	for n := range s.clocks {
		names = append(names, n)
	}
	return names
}

// Get returns the named clock, or ferrors.NotFound.
func (s *Service) Get(name string) (Clock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clocks[name]
	if !ok {
		return nil, ferrors.NotFoundf("clock %q not registered", name)
	}
	return c, nil
}

// SetMainClock designates the named clock as the main clock, failing with
// ferrors.NotFound if it is not registered.
func (s *Service) SetMainClock(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clocks[name]; !ok {
		return ferrors.NotFoundf("clock %q not registered", name)
	}
	s.mainClock = name
	return nil
}

// MainClockName returns the name of the currently active main clock.
func (s *Service) MainClockName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mainClock
}

// Now returns the current time of the main clock.
func (s *Service) Now() fep3time.Timestamp {
	c, err := s.Get(s.MainClockName())
	if err != nil {
		return fep3time.Zero
	}
	return c.Now()
}

// NowOf returns the current time of the named clock.
func (s *Service) NowOf(name string) (fep3time.Timestamp, error) {
	c, err := s.Get(name)
	if err != nil {
		return 0, err
	}
	return c.Now(), nil
}

// TypeOf returns the Type of the named clock.
func (s *Service) TypeOf(name string) (Type, error) {
	c, err := s.Get(name)
	if err != nil {
		return 0, err
	}
	return c.Type(), nil
}

// MainType returns the Type of the current main clock.
func (s *Service) MainType() Type {
	c, err := s.Get(s.MainClockName())
	if err != nil {
		return Continuous
	}
	return c.Type()
}

// StartMain starts the main clock against sink.
func (s *Service) StartMain(sink EventSink) error {
	c, err := s.Get(s.MainClockName())
	if err != nil {
		return err
	}
	return c.Start(sink)
}

// StopMain stops the main clock.
func (s *Service) StopMain() error {
	c, err := s.Get(s.MainClockName())
	if err != nil {
		return err
	}
	return c.Stop()
}
