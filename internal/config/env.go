package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv applies environment variable overrides to settings. Invalid
// values are ignored rather than failing startup.
func FromEnv(s *Settings) {
	if v := os.Getenv("TOKIKANRI_MAX_PROGRAMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.MaxPrograms = n
		}
	}

	if v := os.Getenv("TOKIKANRI_INACTIVITY_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.InactivityThreshold = n
		}
	}

	if v := os.Getenv("TOKIKANRI_SAVE_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.SaveInterval = n
		}
	}

	if v := os.Getenv("TOKIKANRI_MEDIA_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			s.MediaModeEnabled = b
		}
	}

	if v := os.Getenv("TOKIKANRI_MEDIA_PROGRAMS"); v != "" {
		var programs []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				programs = append(programs, p)
			}
		}
		if len(programs) > 0 {
			s.MediaPrograms = programs
		}
	}

	if v := os.Getenv("TOKIKANRI_REQUIRE_MEDIA_PLAYBACK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			s.RequireMediaPlayback = b
		}
	}

	if v := os.Getenv("TOKIKANRI_POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 100 {
			s.Tracker.PollIntervalMS = n
		}
	}

	if v := os.Getenv("TOKIKANRI_ACTIVITY_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 50 {
			s.Tracker.ActivityIntervalMS = n
		}
	}

	if v := os.Getenv("TOKIKANRI_DB_PATH"); v != "" {
		s.Database.Path = v
	}

	if v := os.Getenv("TOKIKANRI_PID_FILE"); v != "" {
		s.Daemon.PIDFile = v
	}

	if v := os.Getenv("TOKIKANRI_WEB_HOST"); v != "" {
		s.Web.Host = v
	}

	if v := os.Getenv("TOKIKANRI_WEB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 65535 {
			s.Web.Port = n
		}
	}
}
