package activity

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/pkg/media"
	"github.com/tokikanri/tokikanri/pkg/probe"
)

// MediaOutcome tags the result of a media-session query so the classifier
// never has to guess whether "no info" meant no player, a timeout, or a
// broken API.
type MediaOutcome int

const (
	// MediaNotRequested means this sample did not need a media query.
	MediaNotRequested MediaOutcome = iota
	// MediaAvailable means the query answered; Info may still be nil when
	// no media session exists.
	MediaAvailable
	// MediaTimedOut means the query exceeded its deadline.
	MediaTimedOut
	// MediaFailed means the media API itself was unreachable.
	MediaFailed
)

// MediaResult carries the tagged media query outcome.
type MediaResult struct {
	Outcome MediaOutcome
	Info    *media.Info
}

// Sample is one immutable snapshot of every input the classifier needs.
// Samples are produced on a worker goroutine and applied on the
// controlling goroutine; they carry the settings they were taken under so
// the two sides never disagree mid-tick.
type Sample struct {
	At       time.Time
	Settings config.Settings

	Process string

	Cursor   probe.Point
	CursorOK bool

	InputIdle time.Duration
	InputOK   bool

	Media MediaResult
}

// Sampler gathers classifier inputs from the OS and media probes. Each
// probe call is independently fault-isolated: one failing never stops the
// others from being read. Run Sample from a single worker at a time.
type Sampler struct {
	os    probe.Prober
	media media.Prober
	cfg   *config.Store

	mediaTimeout time.Duration

	// first-failure logging state; repeats are suppressed until the
	// probe recovers
	cursorFailed bool
	inputFailed  bool
	windowFailed bool
}

// NewSampler wires the sampler to its probes and configuration.
func NewSampler(osProbe probe.Prober, mediaProbe media.Prober, cfg *config.Store) *Sampler {
	return &Sampler{
		os:           osProbe,
		media:        mediaProbe,
		cfg:          cfg,
		mediaTimeout: 1500 * time.Millisecond,
	}
}

// Sample reads all probe inputs. It never returns an error: probe
// failures degrade to conservative defaults (no identity, no movement, no
// input) and are logged once per failure streak.
func (s *Sampler) Sample(ctx context.Context) Sample {
	settings := s.cfg.Get()
	sample := Sample{At: time.Now(), Settings: settings}

	process, err := s.os.ForegroundProcess()
	if err != nil {
		if !s.windowFailed {
			log.Printf("Could not get foreground process: %v", err)
			s.windowFailed = true
		}
	} else {
		s.windowFailed = false
		sample.Process = process
	}

	cursor, err := s.os.CursorPosition()
	if err != nil {
		if !s.cursorFailed {
			log.Printf("Could not get cursor position: %v", err)
			s.cursorFailed = true
		}
	} else {
		s.cursorFailed = false
		sample.Cursor = cursor
		sample.CursorOK = true
	}

	idle, err := s.os.IdleTime()
	if err != nil {
		if !s.inputFailed {
			log.Printf("Could not get input idle time: %v", err)
			s.inputFailed = true
		}
	} else {
		s.inputFailed = false
		sample.InputIdle = idle
		sample.InputOK = true
	}

	// The media session is queried only when the verdict depends on it:
	// media mode on, playback required, and a listed player in front.
	if settings.MediaModeEnabled && settings.RequireMediaPlayback &&
		sample.Process != "" && settings.IsMediaProgram(sample.Process) {
		sample.Media = s.queryMedia(ctx)
	}

	return sample
}

// queryMedia runs the media probe under its own deadline so a hung OS
// media API cannot stall the activity tick. Cancel fires on every exit
// path, actively cancelling any in-flight bus call.
func (s *Sampler) queryMedia(ctx context.Context) MediaResult {
	queryCtx, cancel := context.WithTimeout(ctx, s.mediaTimeout)
	defer cancel()

	info, err := s.media.Current(queryCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(queryCtx.Err(), context.DeadlineExceeded) {
			return MediaResult{Outcome: MediaTimedOut}
		}
		return MediaResult{Outcome: MediaFailed}
	}
	return MediaResult{Outcome: MediaAvailable, Info: info}
}
