package activity

import (
	"testing"
	"time"

	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/pkg/media"
	"github.com/tokikanri/tokikanri/pkg/probe"
)

type mockNotifier struct {
	notices []string
}

func (m *mockNotifier) Notify(summary, body string) {
	m.notices = append(m.notices, summary)
}

func baseSettings() config.Settings {
	s := config.Default()
	s.InactivityThreshold = 3
	s.MediaPrograms = []string{"mpv", "vlc"}
	return s
}

// inputSample builds a plain (non-media) sample.
func inputSample(process string, idle time.Duration, cursor probe.Point) Sample {
	return Sample{
		At:        time.Now(),
		Settings:  baseSettings(),
		Process:   process,
		Cursor:    cursor,
		CursorOK:  true,
		InputIdle: idle,
		InputOK:   true,
	}
}

func mediaSample(process string, outcome MediaOutcome, status media.Status) Sample {
	s := baseSettings()
	s.MediaModeEnabled = true
	s.RequireMediaPlayback = true

	sample := Sample{
		At:       time.Now(),
		Settings: s,
		Process:  process,
		Media:    MediaResult{Outcome: outcome},
	}
	if outcome == MediaAvailable {
		sample.Media.Info = &media.Info{Status: status}
	}
	return sample
}

func TestInputActivity(t *testing.T) {
	c := NewClassifier(nil)

	// First sample records the cursor without treating it as movement;
	// recent input keeps the verdict active.
	changed := c.Apply(inputSample("firefox", time.Second, probe.Point{X: 10, Y: 10}))
	if changed || !c.IsActive() {
		t.Fatalf("changed=%v active=%v after recent input, want false/true", changed, c.IsActive())
	}

	// Idle beyond threshold, cursor still: inactive.
	changed = c.Apply(inputSample("firefox", 10*time.Second, probe.Point{X: 10, Y: 10}))
	if !changed || c.IsActive() {
		t.Fatalf("changed=%v active=%v after idle, want true/false", changed, c.IsActive())
	}

	// Cursor moved: active again even though input idle is long.
	changed = c.Apply(inputSample("firefox", 10*time.Second, probe.Point{X: 11, Y: 10}))
	if !changed || !c.IsActive() {
		t.Fatalf("changed=%v active=%v after mouse move, want true/true", changed, c.IsActive())
	}
}

func TestChangeDetectionAcrossAlternatingSequence(t *testing.T) {
	c := NewClassifier(nil)

	idle := func() Sample { return inputSample("x", time.Minute, probe.Point{}) }
	busy := func() Sample { return inputSample("x", 0, probe.Point{}) }

	// Starts active. Expected verdicts per tick below; changed must be
	// true exactly when the verdict differs from the previous one.
	seq := []struct {
		sample     Sample
		wantActive bool
	}{
		{busy(), true},
		{idle(), false},
		{idle(), false},
		{busy(), true},
		{busy(), true},
		{idle(), false},
		{busy(), true},
	}

	prev := c.IsActive()
	for i, step := range seq {
		changed := c.Apply(step.sample)
		if c.IsActive() != step.wantActive {
			t.Fatalf("tick %d: active = %v, want %v", i, c.IsActive(), step.wantActive)
		}
		if changed != (step.wantActive != prev) {
			t.Fatalf("tick %d: changed = %v, want %v", i, changed, step.wantActive != prev)
		}
		prev = step.wantActive
	}
}

func TestProbeFailureIsConservative(t *testing.T) {
	c := NewClassifier(nil)

	// Neither cursor nor input available: no signal means inactive.
	sample := Sample{At: time.Now(), Settings: baseSettings(), Process: "firefox"}
	c.Apply(sample)
	if c.IsActive() {
		t.Error("active with no probe signal, want inactive")
	}
}

func TestMediaModeFastStop(t *testing.T) {
	c := NewClassifier(nil)

	c.Apply(mediaSample("mpv", MediaAvailable, media.StatusPlaying))
	if !c.IsActive() || !c.IsMediaPlaying() {
		t.Fatal("playing media program not classified active")
	}

	// Stop must flip the verdict on the same tick.
	changed := c.Apply(mediaSample("mpv", MediaAvailable, media.StatusStopped))
	if !changed || c.IsActive() {
		t.Fatalf("changed=%v active=%v after stop, want true/false", changed, c.IsActive())
	}
}

func TestMediaModeTimeoutMeansInactive(t *testing.T) {
	c := NewClassifier(nil)

	c.Apply(mediaSample("mpv", MediaAvailable, media.StatusPlaying))
	c.Apply(mediaSample("mpv", MediaTimedOut, ""))
	if c.IsActive() {
		t.Error("active after media timeout, want inactive (no grace period)")
	}
}

func TestMediaModeNoSessionMeansInactive(t *testing.T) {
	c := NewClassifier(nil)

	sample := mediaSample("mpv", MediaAvailable, "")
	sample.Media.Info = nil
	c.Apply(sample)
	if c.IsActive() {
		t.Error("active with no media session, want inactive")
	}
}

func TestMediaModeWithoutPlaybackRequirement(t *testing.T) {
	c := NewClassifier(nil)

	s := baseSettings()
	s.MediaModeEnabled = true
	s.RequireMediaPlayback = false

	// Idle input, no media query: foreground presence alone counts.
	sample := Sample{
		At:        time.Now(),
		Settings:  s,
		Process:   "vlc",
		InputIdle: time.Hour,
		InputOK:   true,
	}
	c.Apply(sample)
	if !c.IsActive() {
		t.Error("media program in foreground not active with require_media_playback=false")
	}
}

func TestNonMediaProgramIgnoresMediaMode(t *testing.T) {
	c := NewClassifier(nil)

	s := baseSettings()
	s.MediaModeEnabled = true
	s.RequireMediaPlayback = true

	sample := Sample{
		At:        time.Now(),
		Settings:  s,
		Process:   "firefox",
		InputIdle: time.Hour,
		InputOK:   true,
	}
	c.Apply(sample)
	if c.IsActive() {
		t.Error("non-media program classified via media branch")
	}
}

func TestHealthMachineTripsAfterThreeTimeouts(t *testing.T) {
	n := &mockNotifier{}
	c := NewClassifier(n)

	for i := 0; i < 2; i++ {
		c.Apply(mediaSample("mpv", MediaTimedOut, ""))
		if c.Health() == HealthUnresponsive {
			t.Fatalf("unresponsive after only %d timeouts", i+1)
		}
	}

	c.Apply(mediaSample("mpv", MediaTimedOut, ""))
	if c.Health() != HealthUnresponsive {
		t.Fatalf("Health = %v after 3 timeouts, want unresponsive", c.Health())
	}
	if len(n.notices) != 1 {
		t.Fatalf("got %d notifications, want 1", len(n.notices))
	}

	// Further timeouts inside the suppression window stay quiet.
	c.Apply(mediaSample("mpv", MediaTimedOut, ""))
	if len(n.notices) != 1 {
		t.Errorf("got %d notifications after 4th timeout, want still 1", len(n.notices))
	}
}

func TestHealthRecoveryNotifies(t *testing.T) {
	n := &mockNotifier{}
	c := NewClassifier(n)

	for i := 0; i < 3; i++ {
		c.Apply(mediaSample("mpv", MediaTimedOut, ""))
	}
	c.Apply(mediaSample("mpv", MediaAvailable, media.StatusPlaying))

	if c.Health() != HealthAvailable {
		t.Fatalf("Health = %v after success, want available", c.Health())
	}
	if len(n.notices) != 2 {
		t.Fatalf("got %d notifications, want 2 (degraded + recovered)", len(n.notices))
	}
}

func TestHealthUnavailableOnFailure(t *testing.T) {
	c := NewClassifier(nil)
	c.Apply(mediaSample("mpv", MediaFailed, ""))
	if c.Health() != HealthUnavailable {
		t.Fatalf("Health = %v after API failure, want unavailable", c.Health())
	}
}
