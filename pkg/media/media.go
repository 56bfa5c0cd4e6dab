package media

import "context"

// Status is the playback state of the OS-level media session.
type Status string

const (
	StatusPlaying Status = "Playing"
	StatusPaused  Status = "Paused"
	StatusStopped Status = "Stopped"
	StatusUnknown Status = "Unknown"
)

// ParseStatus maps a raw player-reported status string onto the known set.
func ParseStatus(raw string) Status {
	switch raw {
	case "Playing":
		return StatusPlaying
	case "Paused":
		return StatusPaused
	case "Stopped":
		return StatusStopped
	default:
		return StatusUnknown
	}
}

// Info describes the active media session.
type Info struct {
	Title  string
	Artist string
	Status Status
}

// Prober queries the OS for the active media session. Current returns
// (nil, nil) when no media session exists; callers must honor ctx
// cancellation so a hung media API cannot stall the activity tick.
type Prober interface {
	Current(ctx context.Context) (*Info, error)
	Close() error
}
