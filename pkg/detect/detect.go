package detect

import (
	"fmt"
	"os"

	"github.com/tokikanri/tokikanri/pkg/probe"
	"github.com/tokikanri/tokikanri/pkg/probe/x11"
)

// NewProber returns an OS prober for the current session.
func NewProber() (probe.Prober, error) {
	switch DisplayServer() {
	case "x11":
		return x11.NewProber()
	case "wayland":
		// XWayland still exposes an X socket in most compositors.
		if os.Getenv("DISPLAY") != "" {
			return x11.NewProber()
		}
		return nil, fmt.Errorf("wayland session without XWayland is not supported")
	default:
		return nil, fmt.Errorf("no display server detected")
	}
}

// DisplayServer inspects session environment variables.
func DisplayServer() string {
	sessionType := os.Getenv("XDG_SESSION_TYPE")
	waylandDisplay := os.Getenv("WAYLAND_DISPLAY")
	x11Display := os.Getenv("DISPLAY")

	if sessionType == "wayland" || waylandDisplay != "" {
		return "wayland"
	}

	if sessionType == "x11" || x11Display != "" {
		return "x11"
	}

	return "unknown"
}
