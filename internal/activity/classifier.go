package activity

import (
	"log"
	"time"

	"github.com/tokikanri/tokikanri/pkg/media"
	"github.com/tokikanri/tokikanri/pkg/probe"
)

// APIHealth tracks the observed health of the OS media API.
type APIHealth int

const (
	HealthUnknown APIHealth = iota
	HealthAvailable
	HealthUnresponsive
	HealthUnavailable
)

func (h APIHealth) String() string {
	switch h {
	case HealthAvailable:
		return "available"
	case HealthUnresponsive:
		return "unresponsive"
	case HealthUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Notifier surfaces user-visible alerts. Implementations must not block
// the caller for long; the tracker wires one that hands off to a worker.
type Notifier interface {
	Notify(summary, body string)
}

const (
	// consecutive timeouts before the media API is declared unresponsive
	unresponsiveAfter = 3
	// minimum gap between unresponsive notifications
	notifySuppression = 5 * time.Minute
)

// Classifier turns probe samples into a single "is the user active"
// verdict. All methods must be called from the controlling goroutine.
type Classifier struct {
	isActive bool

	lastCursor probe.Point
	haveCursor bool

	isMediaPlaying bool

	health              APIHealth
	consecutiveTimeouts int
	lastHealthNotify    time.Time

	notifier Notifier

	lastLoggedProcess string
}

// NewClassifier starts in the active state, matching a user who just
// launched the tracker.
func NewClassifier(notifier Notifier) *Classifier {
	return &Classifier{
		isActive: true,
		health:   HealthUnknown,
		notifier: notifier,
	}
}

// IsActive returns the current activity verdict.
func (c *Classifier) IsActive() bool {
	return c.isActive
}

// IsMediaPlaying returns the last known media playback verdict.
func (c *Classifier) IsMediaPlaying() bool {
	return c.isMediaPlaying
}

// Health returns the media API health state.
func (c *Classifier) Health() APIHealth {
	return c.health
}

// Apply folds one sample into the classifier state and reports whether
// the activity verdict changed. It never panics or propagates probe
// trouble: a degraded sample yields a conservative verdict.
func (c *Classifier) Apply(sample Sample) bool {
	mouseMoved := false
	if sample.CursorOK {
		mouseMoved = c.haveCursor && sample.Cursor != c.lastCursor
		c.lastCursor = sample.Cursor
		c.haveCursor = true
	}

	inputReceived := sample.InputOK && sample.InputIdle < sample.Settings.InactivityLimit()

	mediaApplies := sample.Settings.MediaModeEnabled &&
		sample.Process != "" &&
		sample.Settings.IsMediaProgram(sample.Process)

	wasActive := c.isActive
	switch {
	case mediaApplies && sample.Settings.RequireMediaPlayback:
		// No grace period: a missing or late answer counts as not
		// playing, so a stopped player transitions to inactive on the
		// same tick it is observed.
		playing := sample.Media.Outcome == MediaAvailable &&
			sample.Media.Info != nil &&
			sample.Media.Info.Status == media.StatusPlaying
		c.isMediaPlaying = playing
		c.isActive = playing
		c.applyMediaHealth(sample)
	case mediaApplies:
		// Presence in the foreground is enough when playback is not
		// required.
		c.isActive = true
	default:
		c.isActive = mouseMoved || inputReceived
	}

	changed := wasActive != c.isActive
	if changed {
		c.logTransition(sample)
	}
	return changed
}

func (c *Classifier) logTransition(sample Sample) {
	// One line per transition, but avoid flooding when the same program
	// flaps: only repeat the program name when it changes.
	if sample.Process != c.lastLoggedProcess {
		log.Printf("Activity changed: active=%v program=%s", c.isActive, sample.Process)
		c.lastLoggedProcess = sample.Process
		return
	}
	log.Printf("Activity changed: active=%v", c.isActive)
}

// applyMediaHealth advances the media API health state machine:
// Unknown -> Available -> Unresponsive -> Available on success, or
// Unavailable when the API is absent altogether.
func (c *Classifier) applyMediaHealth(sample Sample) {
	switch sample.Media.Outcome {
	case MediaAvailable:
		c.consecutiveTimeouts = 0
		if c.health == HealthUnresponsive {
			log.Println("Media API recovered")
			c.notify("Media tracking restored", "The system media API is responding again.")
		}
		c.health = HealthAvailable

	case MediaTimedOut:
		c.consecutiveTimeouts++
		if c.consecutiveTimeouts >= unresponsiveAfter && c.health != HealthUnresponsive {
			c.health = HealthUnresponsive
			log.Printf("Media API unresponsive after %d consecutive timeouts", c.consecutiveTimeouts)
			if time.Since(c.lastHealthNotify) >= notifySuppression {
				c.lastHealthNotify = time.Now()
				c.notify("Media tracking degraded",
					"The system media API is not responding; media programs are counted as inactive.")
			}
		}

	case MediaFailed:
		c.consecutiveTimeouts = 0
		if c.health != HealthUnavailable {
			c.health = HealthUnavailable
			log.Println("Media API unavailable")
		}
	}
}

func (c *Classifier) notify(summary, body string) {
	if c.notifier != nil {
		c.notifier.Notify(summary, body)
	}
}
