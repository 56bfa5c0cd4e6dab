package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultConfigName = "tokikanri.toml"
	defaultConfigDir  = ".config/tokikanri"
)

// Settings holds all tunable application configuration. The zero value is
// not usable; start from Default.
type Settings struct {
	// MaxPrograms caps how many programs may be tracked. The ledger raises
	// it automatically when persisted or imported data already exceeds it.
	MaxPrograms int `toml:"max_programs"`

	// InactivityThreshold is the idle duration, in seconds, after which
	// keyboard/mouse input no longer counts as activity.
	InactivityThreshold int `toml:"inactivity_threshold"`

	// SaveInterval is the periodic ledger save cadence in seconds.
	SaveInterval int `toml:"save_interval"`

	// Media mode overrides activity classification for designated player
	// processes.
	MediaModeEnabled     bool     `toml:"media_mode_enabled"`
	MediaPrograms        []string `toml:"media_programs"`
	RequireMediaPlayback bool     `toml:"require_media_playback"`

	Tracker  TrackerSettings  `toml:"tracker"`
	Database DatabaseSettings `toml:"database"`
	Daemon   DaemonSettings   `toml:"daemon"`
	Web      WebSettings      `toml:"web"`
}

// TrackerSettings holds polling cadence configuration.
type TrackerSettings struct {
	// PollIntervalMS is how often the foreground window is checked and
	// time is accrued, in milliseconds.
	PollIntervalMS int `toml:"poll_interval_ms"`

	// ActivityIntervalMS is how often activity is classified, in
	// milliseconds. Kept shorter than the poll interval so media-stop is
	// detected with low latency.
	ActivityIntervalMS int `toml:"activity_interval_ms"`
}

// DatabaseSettings holds session-history storage configuration.
type DatabaseSettings struct {
	Path string `toml:"path"` // empty means the default under ~/.config/tokikanri
}

// DaemonSettings holds daemon process configuration.
type DaemonSettings struct {
	PIDFile string `toml:"pid_file"`
}

// WebSettings holds the status API server configuration.
type WebSettings struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Default returns Settings with sensible default values.
func Default() Settings {
	return Settings{
		MaxPrograms:         10,
		InactivityThreshold: 3,
		SaveInterval:        60,
		MediaModeEnabled:    false,
		MediaPrograms: []string{
			"vlc", "mpv", "spotify", "rhythmbox", "audacious", "celluloid", "totem",
		},
		RequireMediaPlayback: false,
		Tracker: TrackerSettings{
			PollIntervalMS:     1000,
			ActivityIntervalMS: 150,
		},
		Database: DatabaseSettings{
			Path: "",
		},
		Daemon: DaemonSettings{
			PIDFile: fmt.Sprintf("/tmp/tokikanri-%d.pid", os.Getuid()),
		},
		Web: WebSettings{
			Host: "localhost",
			Port: 10000 + os.Getuid(),
		},
	}
}

// PollInterval returns the accrual poll cadence.
func (s Settings) PollInterval() time.Duration {
	return time.Duration(s.Tracker.PollIntervalMS) * time.Millisecond
}

// ActivityInterval returns the activity classification cadence.
func (s Settings) ActivityInterval() time.Duration {
	return time.Duration(s.Tracker.ActivityIntervalMS) * time.Millisecond
}

// SavePeriod returns the periodic save cadence.
func (s Settings) SavePeriod() time.Duration {
	return time.Duration(s.SaveInterval) * time.Second
}

// InactivityLimit returns the idle threshold as a duration.
func (s Settings) InactivityLimit() time.Duration {
	return time.Duration(s.InactivityThreshold) * time.Second
}

// IsMediaProgram reports whether the given process identity is on the
// media allowlist.
func (s Settings) IsMediaProgram(program string) bool {
	for _, p := range s.MediaPrograms {
		if p == program {
			return true
		}
	}
	return false
}

// Validate checks if the settings are usable.
func (s Settings) Validate() error {
	if s.MaxPrograms < 1 {
		return fmt.Errorf("max_programs must be at least 1, got %d", s.MaxPrograms)
	}
	if s.InactivityThreshold < 1 {
		return fmt.Errorf("inactivity_threshold must be at least 1 second, got %d", s.InactivityThreshold)
	}
	if s.SaveInterval < 1 {
		return fmt.Errorf("save_interval must be at least 1 second, got %d", s.SaveInterval)
	}
	if s.Tracker.PollIntervalMS < 100 {
		return fmt.Errorf("tracker poll_interval_ms must be at least 100, got %d", s.Tracker.PollIntervalMS)
	}
	if s.Tracker.ActivityIntervalMS < 50 {
		return fmt.Errorf("tracker activity_interval_ms must be at least 50, got %d", s.Tracker.ActivityIntervalMS)
	}
	if s.Web.Port < 1 || s.Web.Port > 65535 {
		return fmt.Errorf("web port must be between 1 and 65535, got %d", s.Web.Port)
	}
	if s.Web.Host == "" {
		return fmt.Errorf("web host cannot be empty")
	}
	if s.Daemon.PIDFile == "" {
		return fmt.Errorf("PID file path cannot be empty")
	}
	return nil
}

// clone returns a deep copy so callers never share the allowlist slice.
func (s Settings) clone() Settings {
	out := s
	out.MediaPrograms = append([]string(nil), s.MediaPrograms...)
	return out
}

// Store is the explicitly constructed configuration object handed to the
// classifier, ledger and dispatcher. Reads are safe from any goroutine;
// writes happen on the controlling goroutine via Update.
type Store struct {
	mu       sync.RWMutex
	path     string
	settings Settings
}

// DefaultPath returns the standard config file location.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, defaultConfigDir, defaultConfigName), nil
}

// Load reads the config file at path, falling back to defaults when the
// file is absent or malformed. Environment variables override file values.
// A load never fails startup; the returned error only reports an unusable
// path.
func Load(path string) (*Store, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	st := &Store{path: path, settings: Default()}
	st.readFile()
	FromEnv(&st.settings)
	return st, nil
}

// readFile merges on-disk values onto the current settings.
func (st *Store) readFile() {
	data, err := os.ReadFile(st.path)
	if err != nil {
		return
	}
	settings := st.settings.clone()
	if err := toml.Unmarshal(data, &settings); err != nil {
		return
	}
	st.settings = settings
}

// Path returns the location of the backing file.
func (st *Store) Path() string {
	return st.path
}

// Get returns a copy of the current settings.
func (st *Store) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.settings.clone()
}

// Update applies mutate to the settings and persists the result. The
// mutation is discarded if it produces invalid settings.
func (st *Store) Update(mutate func(*Settings)) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	next := st.settings.clone()
	mutate(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	st.settings = next
	return st.save()
}

// RaiseMaxPrograms lifts the tracked-program ceiling to at least n. It
// never lowers the ceiling.
func (st *Store) RaiseMaxPrograms(n int) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if n <= st.settings.MaxPrograms {
		return nil
	}
	next := st.settings.clone()
	next.MaxPrograms = n
	st.settings = next
	return st.save()
}

// Reload re-reads the backing file, keeping current values for anything
// the file does not set.
func (st *Store) Reload() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.readFile()
	FromEnv(&st.settings)
}

// Save persists the current settings.
func (st *Store) Save() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.save()
}

// save writes atomically via a temp file so a failed write cannot corrupt
// the existing config.
func (st *Store) save() error {
	data, err := toml.Marshal(st.settings)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(st.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp := st.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, st.path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// Export writes the current settings to an external file.
func (st *Store) Export(path string) error {
	data, err := toml.Marshal(st.Get())
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to export config: %w", err)
	}
	return nil
}

// Import merges settings from an external file over the current values and
// persists the result. The current settings are kept untouched when the
// source is missing or malformed.
func (st *Store) Import(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config import: %w", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	next := st.settings.clone()
	if err := toml.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("imported config has unexpected format: %w", err)
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("imported config is invalid: %w", err)
	}
	st.settings = next
	return st.save()
}

// String returns a printable summary of the settings.
func (s Settings) String() string {
	return fmt.Sprintf(`Configuration:
  Max Programs: %d
  Inactivity Threshold: %ds
  Save Interval: %ds
  Media Mode: %v (require playback: %v, %d programs)
  Tracker:
    Poll Interval: %v
    Activity Interval: %v
  Database:
    Path: %s
  Daemon:
    PID File: %s
  Web:
    Host: %s
    Port: %d`,
		s.MaxPrograms,
		s.InactivityThreshold,
		s.SaveInterval,
		s.MediaModeEnabled,
		s.RequireMediaPlayback,
		len(s.MediaPrograms),
		s.PollInterval(),
		s.ActivityInterval(),
		s.Database.Path,
		s.Daemon.PIDFile,
		s.Web.Host,
		s.Web.Port,
	)
}
