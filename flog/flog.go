// Package flog is the structured logging facade shared by every subsystem
// in this module. It wraps github.com/joeycumines/logiface with the
// zero-dependency github.com/joeycumines/stumpy backend; no other logiface
// backend is wired in (see Event).
//
// This follows the common pattern of a package-level pluggable logger
// (SetDefault) - except here the default writes JSON lines to stderr at
// informational level rather than discarding them, and the
// pluggable core is logiface itself, rather than a bespoke interface, so
// every subsystem gets structured fields, level filtering, and lazy
// evaluation for free.
package flog

import (
	"os"
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Event is the concrete logiface.Event implementation in use across this
// module. Swapping it for *izerolog.Event or *ilogrus.Event would require
// changing this one alias plus the backend wiring in New/SetDefault.
type Event = stumpy.Event

// Logger is the logger type every subsystem is constructed with.
type Logger = logiface.Logger[*Event]

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

func init() {
	defaultLogger = newStumpyLogger(logiface.LevelInformational, os.Stderr)
}

// SetDefault installs l as the logger returned by Default. Intended to be
// called once, early, by the embedding participant process; subsystems read
// Default() at construction time, not per call.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if l == nil {
		l = NewNop()
	}
	defaultLogger = l
}

// Default returns the process-wide default Logger.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// NewNop returns a Logger with logging fully disabled (LevelDisabled),
// suitable as the zero-configuration default for unit tests.
func NewNop() *Logger {
	return logiface.New[*Event](
		logiface.WithLevel[*Event](logiface.LevelDisabled),
	)
}

// New returns a Logger writing newline-delimited JSON to out at the given
// level, using the stumpy backend (no external sink dependency).
func New(level logiface.Level, out *os.File) *Logger {
	return newStumpyLogger(level, out)
}

func newStumpyLogger(level logiface.Level, out *os.File) *Logger {
	return logiface.New[*Event](
		stumpy.WithStumpy(stumpy.WithWriter(out)),
		logiface.WithLevel[*Event](level),
	)
}

// Component returns a child Logger with a "component" field pre-populated,
// the convention used by every constructor in this module
// (clock.NewService, scheduler.NewClockBasedScheduler, and so on).
func Component(l *Logger, name string) *Logger {
	if l == nil {
		l = NewNop()
	}
	return l.Clone().Str("component", name).Logger()
}
