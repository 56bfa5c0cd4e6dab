// Package selector adds the current foreground program to the tracked set.
package selector

import (
	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/internal/ledger"
	"github.com/tokikanri/tokikanri/pkg/probe"
)

type Status int

const (
	// StatusAdded means the foreground program is now tracked.
	StatusAdded Status = iota
	// StatusAlreadyTracked means the program was in the tracked set before.
	StatusAlreadyTracked
	// StatusMaxReached means the tracked set is at the configured ceiling.
	StatusMaxReached
	// StatusNoWindow means no window currently has focus.
	StatusNoWindow
	// StatusError means the foreground probe failed.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusAdded:
		return "added"
	case StatusAlreadyTracked:
		return "already tracked"
	case StatusMaxReached:
		return "max programs reached"
	case StatusNoWindow:
		return "no focused window"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Result describes the outcome of one capture attempt.
type Result struct {
	Status      Status
	Program     string
	DisplayName string
	Err         error
}

// Selector performs one-shot captures of the focused window's program.
type Selector struct {
	probe  probe.Prober
	ledger *ledger.Ledger
	cfg    *config.Store
}

func New(p probe.Prober, l *ledger.Ledger, cfg *config.Store) *Selector {
	return &Selector{probe: p, ledger: l, cfg: cfg}
}

// Capture reads the current foreground program and tries to add it to the
// tracked set, in one call. Suitable for single-threaded callers; when a
// control loop owns the ledger, probe off the loop and hand the outcome to
// Adopt there instead.
func (s *Selector) Capture() Result {
	return s.Adopt(s.Probe())
}

// Probe reads the current foreground program. It touches only the OS
// probe, so it is safe to call off the controlling goroutine.
func (s *Selector) Probe() (string, error) {
	return s.probe.ForegroundProcess()
}

// Adopt applies one capture outcome to the tracked set. Must run on the
// goroutine that owns the ledger. The ceiling check happens before the
// add; loading persisted data past the ceiling is reconciled elsewhere by
// raising the ceiling.
func (s *Selector) Adopt(program string, err error) Result {
	if err != nil {
		return Result{Status: StatusError, Err: err}
	}
	if program == "" {
		return Result{Status: StatusNoWindow}
	}

	display := ledger.FormatProgramName(program)
	if s.ledger.IsTracked(program) {
		return Result{Status: StatusAlreadyTracked, Program: program, DisplayName: display}
	}

	settings := s.cfg.Get()
	if s.ledger.Count() >= settings.MaxPrograms {
		return Result{Status: StatusMaxReached, Program: program, DisplayName: display}
	}

	s.ledger.Add(program)
	return Result{Status: StatusAdded, Program: program, DisplayName: display}
}
