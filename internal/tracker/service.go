// Package tracker runs the control loop that owns all mutable tracking
// state. Probes execute on dispatcher workers; their results are applied
// here, in the drain cycle, so the ledger and classifier are only ever
// touched from this loop's goroutine.
package tracker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tokikanri/tokikanri/internal/activity"
	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/internal/database"
	"github.com/tokikanri/tokikanri/internal/dispatch"
	"github.com/tokikanri/tokikanri/internal/ledger"
	"github.com/tokikanri/tokikanri/internal/models"
	"github.com/tokikanri/tokikanri/internal/selector"
	"github.com/tokikanri/tokikanri/pkg/probe"
)

// Snapshot is an immutable view of tracking state, published after every
// drain cycle. Readers on other goroutines (web handlers) get the whole
// value and never touch live state.
type Snapshot struct {
	Tracking        string             `json:"tracking"`
	TrackingDisplay string             `json:"tracking_display,omitempty"`
	Active          bool               `json:"active"`
	MediaPlaying    bool               `json:"media_playing"`
	MediaAPIHealth  string             `json:"media_api_health"`
	Times           map[string]float64 `json:"times"`
	Names           map[string]string  `json:"names"`
	TotalSeconds    float64            `json:"total_seconds"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

type Service struct {
	cfg        *config.Store
	ledger     *ledger.Ledger
	sampler    *activity.Sampler
	classifier *activity.Classifier
	dispatcher *dispatch.Dispatcher
	osProbe    probe.Prober
	repo       *database.Repository // nil disables the history archive

	commands chan func()
	snapshot atomic.Value

	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	// at most one of each probe kind in flight
	activityInFlight bool
	windowInFlight   bool
}

func NewService(cfg *config.Store, l *ledger.Ledger, sampler *activity.Sampler, classifier *activity.Classifier, osProbe probe.Prober, repo *database.Repository) *Service {
	s := &Service{
		cfg:        cfg,
		ledger:     l,
		sampler:    sampler,
		classifier: classifier,
		dispatcher: dispatch.New(2, 32),
		osProbe:    osProbe,
		repo:       repo,
		commands:   make(chan func(), 16),
		stopChan:   make(chan struct{}),
	}
	s.snapshot.Store(Snapshot{UpdatedAt: time.Now()})
	return s
}

func (s *Service) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("tracker is already running")
	}

	settings := s.cfg.Get()
	log.Printf("Starting tracker (poll %v, activity %v, save every %v)",
		settings.PollInterval(), settings.ActivityInterval(), settings.SavePeriod())

	activityTicker := time.NewTicker(settings.ActivityInterval())
	windowTicker := time.NewTicker(settings.PollInterval())
	saveTicker := time.NewTicker(settings.SavePeriod())
	defer activityTicker.Stop()
	defer windowTicker.Stop()
	defer saveTicker.Stop()

	s.publish()

	for {
		select {
		case <-ctx.Done():
			log.Println("Tracker stopped by context")
			s.shutdown()
			return ctx.Err()

		case <-s.stopChan:
			log.Println("Tracker stopped")
			s.shutdown()
			return nil

		case fn := <-s.commands:
			fn()
			s.publish()

		case <-activityTicker.C:
			s.submitActivityCheck()
			s.drain()

		case <-windowTicker.C:
			s.submitWindowCheck()
			s.drain()

		case <-saveTicker.C:
			s.save()
		}
	}
}

// Stop signals the control loop to exit. Safe to call from any goroutine,
// any number of times.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// Do enqueues a mutation to run on the control loop, giving up when the
// queue stays full past timeout so a wedged loop cannot hang the caller.
// Web handlers and any other goroutine must route every ledger or config
// write through here.
func (s *Service) Do(fn func(), timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.commands <- fn:
		return nil
	case <-timer.C:
		return fmt.Errorf("tracker command queue is full")
	}
}

// Snapshot returns the most recently published state view.
func (s *Service) Snapshot() Snapshot {
	return s.snapshot.Load().(Snapshot)
}

// drain applies completed probe results on the control goroutine, then
// publishes a fresh snapshot if anything was applied.
func (s *Service) drain() {
	if s.dispatcher.Drain() > 0 {
		s.publish()
	}
}

func (s *Service) submitActivityCheck() {
	if s.activityInFlight {
		return
	}
	s.activityInFlight = true

	err := s.dispatcher.Submit(func(ctx context.Context) (interface{}, error) {
		return s.sampler.Sample(ctx), nil
	}, func(v interface{}) {
		s.activityInFlight = false
		s.applySample(v.(activity.Sample))
	}, func(err error) {
		s.activityInFlight = false
		s.storeError(err)
	})
	if err != nil {
		s.activityInFlight = false
	}
}

func (s *Service) applySample(sample activity.Sample) {
	changed := s.classifier.Apply(sample)
	if !changed {
		return
	}

	active := s.classifier.IsActive()
	s.ledger.HandleActivityChange(active)
	if !active {
		// Going inactive closes the session; persist the flushed time
		// right away rather than waiting for the save ticker.
		s.save()
	}
}

func (s *Service) submitWindowCheck() {
	if s.windowInFlight {
		return
	}
	s.windowInFlight = true

	err := s.dispatcher.Submit(func(ctx context.Context) (interface{}, error) {
		return s.osProbe.ForegroundProcess()
	}, func(v interface{}) {
		s.windowInFlight = false
		program := v.(string)
		if !s.ledger.IsTracked(program) {
			program = ""
		}
		s.ledger.UpdateTracking(program, s.classifier.IsActive())
	}, func(err error) {
		s.windowInFlight = false
		// No foreground information; accrual pauses until the probe
		// recovers.
		s.ledger.UpdateTracking("", s.classifier.IsActive())
		s.storeError(err)
	})
	if err != nil {
		s.windowInFlight = false
	}
}

// save persists the ledger from the control goroutine. The write is small
// and atomic; a failure is logged and in-memory state stays authoritative.
func (s *Service) save() {
	if err := s.ledger.Save(); err != nil {
		s.storeError(err)
	}
}

func (s *Service) publish() {
	times := s.ledger.CurrentTimes()
	names := make(map[string]string, len(times))
	var total float64
	for program := range times {
		names[program] = s.ledger.DisplayName(program)
		total += times[program]
	}

	tracking := s.ledger.CurrentlyTracking()
	snap := Snapshot{
		Tracking:       tracking,
		Active:         s.classifier.IsActive(),
		MediaPlaying:   s.classifier.IsMediaPlaying(),
		MediaAPIHealth: s.classifier.Health().String(),
		Times:          times,
		Names:          names,
		TotalSeconds:   total,
		UpdatedAt:      time.Now(),
	}
	if tracking != "" {
		snap.TrackingDisplay = s.ledger.DisplayName(tracking)
	}
	s.snapshot.Store(snap)
}

type capturedWindow struct {
	program string
	err     error
}

// CaptureForeground probes the focused window on a dispatcher worker and
// applies the add on the control loop during the next drain, so a slow
// probe never stalls a tick and the ledger is only touched by the loop.
func (s *Service) CaptureForeground(sel *selector.Selector, timeout time.Duration) (selector.Result, error) {
	resCh := make(chan selector.Result, 1)
	err := s.dispatcher.Submit(func(ctx context.Context) (interface{}, error) {
		program, probeErr := sel.Probe()
		return capturedWindow{program: program, err: probeErr}, nil
	}, func(v interface{}) {
		w := v.(capturedWindow)
		resCh <- sel.Adopt(w.program, w.err)
	}, func(err error) {
		resCh <- selector.Result{Status: selector.StatusError, Err: err}
	})
	if err != nil {
		return selector.Result{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-resCh:
		return res, nil
	case <-timer.C:
		return selector.Result{}, fmt.Errorf("window capture did not complete in time")
	}
}

// ArchiveSession records a closed accrual session in the history database.
// Wired as the ledger's session sink; runs on the control goroutine, so the
// insert itself is pushed to a worker.
func (s *Service) ArchiveSession(sc ledger.SessionClose) {
	if s.repo == nil {
		return
	}
	record := &models.SessionRecord{
		Program:   sc.Program,
		StartedAt: sc.StartedAt,
		EndedAt:   sc.EndedAt,
		Seconds:   sc.Seconds,
	}
	err := s.dispatcher.Submit(func(ctx context.Context) (interface{}, error) {
		return nil, s.repo.Create(record)
	}, nil, func(err error) {
		log.Printf("Failed to archive session for %s: %v", sc.Program, err)
	})
	if err != nil {
		log.Printf("Could not enqueue session archive: %v", err)
	}
}

func (s *Service) storeError(err error) {
	log.Printf("Tracker error: %v", err)
	if s.repo == nil {
		return
	}
	msg := err.Error()
	submitErr := s.dispatcher.Submit(func(ctx context.Context) (interface{}, error) {
		return nil, s.repo.LogError(msg)
	}, nil, func(dbErr error) {
		log.Printf("Failed to store error in database: %v (original error: %v)", dbErr, err)
	})
	if submitErr != nil {
		log.Printf("Could not enqueue error log: %v", submitErr)
	}
}

// shutdown flushes the open session, persists, and stops the workers.
func (s *Service) shutdown() {
	s.running.Store(false)

	s.dispatcher.Drain()
	s.ledger.UpdateTracking("", false)
	s.save()

	if err := s.dispatcher.Shutdown(2 * time.Second); err != nil {
		log.Printf("Dispatcher shutdown: %v", err)
	}
}
