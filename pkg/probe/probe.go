package probe

import "time"

// Point is a cursor position in root-window coordinates.
type Point struct {
	X int
	Y int
}

// Prober reports the OS-level signals the activity classifier consumes.
// The three calls are independently fallible: a failure in one must not
// imply anything about the others.
type Prober interface {
	// ForegroundProcess returns the executable name of the process owning
	// the focused window, or "" when no window has focus.
	ForegroundProcess() (string, error)

	// CursorPosition returns the current pointer position.
	CursorPosition() (Point, error)

	// IdleTime returns the time since the last keyboard/mouse input.
	IdleTime() (time.Duration, error)

	// IsAvailable checks if this prober can run on the current system.
	IsAvailable() bool

	// Close releases any connection held by the prober.
	Close() error
}
