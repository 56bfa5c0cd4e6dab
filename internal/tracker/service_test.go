package tracker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tokikanri/tokikanri/internal/activity"
	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/internal/ledger"
	"github.com/tokikanri/tokikanri/internal/selector"
	"github.com/tokikanri/tokikanri/pkg/media"
	"github.com/tokikanri/tokikanri/pkg/probe"
)

type fakeProber struct {
	mu      sync.Mutex
	process string
	idle    time.Duration
	cursor  probe.Point
}

func (f *fakeProber) ForegroundProcess() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.process, nil
}

func (f *fakeProber) CursorPosition() (probe.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor, nil
}

func (f *fakeProber) IdleTime() (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.idle, nil
}

func (f *fakeProber) IsAvailable() bool { return true }
func (f *fakeProber) Close() error      { return nil }

func (f *fakeProber) set(process string, idle time.Duration) {
	f.mu.Lock()
	f.process = process
	f.idle = idle
	f.mu.Unlock()
}

type fakeMedia struct{}

func (fakeMedia) Current(ctx context.Context) (*media.Info, error) { return nil, nil }
func (fakeMedia) Close() error                                     { return nil }

func newTestService(t *testing.T, p *fakeProber) (*Service, *ledger.Ledger, *config.Store) {
	t.Helper()
	dir := t.TempDir()

	cfg, err := config.Load(filepath.Join(dir, "tokikanri.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Update(func(s *config.Settings) {
		s.Tracker.PollIntervalMS = 100
		s.Tracker.ActivityIntervalMS = 50
	}); err != nil {
		t.Fatal(err)
	}

	l := ledger.New(filepath.Join(dir, "data.json"), ledger.WithCeiling(cfg))
	sampler := activity.NewSampler(p, fakeMedia{}, cfg)
	classifier := activity.NewClassifier(nil)

	return NewService(cfg, l, sampler, classifier, p, nil), l, cfg
}

func runService(t *testing.T, s *Service) func() {
	t.Helper()
	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()
	return func() {
		s.Stop()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("service did not stop")
		}
	}
}

func TestServiceAccruesTimeForTrackedProgram(t *testing.T) {
	p := &fakeProber{process: "firefox"}
	s, l, _ := newTestService(t, p)
	l.Add("firefox")

	stop := runService(t, s)
	time.Sleep(600 * time.Millisecond)
	stop()

	times := l.CurrentTimes()
	if times["firefox"] <= 0 {
		t.Errorf("firefox accrued %v seconds, want > 0", times["firefox"])
	}
}

func TestServiceIgnoresUntrackedProgram(t *testing.T) {
	p := &fakeProber{process: "untracked"}
	s, l, _ := newTestService(t, p)
	l.Add("firefox")

	stop := runService(t, s)
	time.Sleep(400 * time.Millisecond)
	stop()

	times := l.CurrentTimes()
	if times["untracked"] != 0 {
		t.Errorf("untracked program accrued %v seconds", times["untracked"])
	}
	if times["firefox"] != 0 {
		t.Errorf("unfocused program accrued %v seconds", times["firefox"])
	}
}

func TestServicePublishesSnapshot(t *testing.T) {
	p := &fakeProber{process: "firefox"}
	s, l, _ := newTestService(t, p)
	l.Add("firefox")

	stop := runService(t, s)
	defer stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := s.Snapshot()
		if snap.Tracking == "firefox" {
			if !snap.Active {
				t.Error("snapshot reports inactive while user input is fresh")
			}
			if snap.Names["firefox"] != "Firefox" {
				t.Errorf("snapshot name = %q, want Firefox", snap.Names["firefox"])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot never showed tracking, got %+v", snap)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServiceDoRunsOnControlLoop(t *testing.T) {
	p := &fakeProber{process: "firefox"}
	s, l, _ := newTestService(t, p)

	stop := runService(t, s)
	defer stop()

	done := make(chan struct{})
	if err := s.Do(func() {
		l.Add("mpv")
		close(done)
	}, time.Second); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("command never ran")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := s.Snapshot().Times["mpv"]; ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("snapshot not refreshed after command")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServiceStopsAccrualWhenIdle(t *testing.T) {
	p := &fakeProber{process: "firefox"}
	s, l, _ := newTestService(t, p)
	l.Add("firefox")

	stop := runService(t, s)
	time.Sleep(300 * time.Millisecond)

	// Past the inactivity threshold with a stationary cursor.
	p.set("firefox", time.Minute)
	time.Sleep(300 * time.Millisecond)
	frozen := s.Snapshot().Times["firefox"]

	time.Sleep(300 * time.Millisecond)
	stop()

	final := l.CurrentTimes()["firefox"]
	if final-frozen > 0.25 {
		t.Errorf("accrued %.2fs while idle", final-frozen)
	}
}

func TestIsRunningDuringLifecycle(t *testing.T) {
	p := &fakeProber{process: "firefox"}
	s, _, _ := newTestService(t, p)

	// Hammer IsRunning from another goroutine across start and stop; the
	// race detector flags any unsynchronized access to the flag.
	stopPolling := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stopPolling:
				return
			default:
				s.IsRunning()
			}
		}
	}()

	stop := runService(t, s)
	time.Sleep(150 * time.Millisecond)
	if !s.IsRunning() {
		t.Error("IsRunning() = false while the loop is live")
	}
	stop()
	close(stopPolling)
	wg.Wait()

	if s.IsRunning() {
		t.Error("IsRunning() = true after shutdown")
	}

	// A second Stop after shutdown must be a no-op, not a panic.
	s.Stop()
}

func TestDoRejectsWhenQueueFull(t *testing.T) {
	p := &fakeProber{}
	s, _, _ := newTestService(t, p)

	// The loop is not running, so nothing drains the queue.
	for i := 0; i < cap(s.commands); i++ {
		if err := s.Do(func() {}, 10*time.Millisecond); err != nil {
			t.Fatalf("command %d rejected before the queue filled: %v", i, err)
		}
	}
	if err := s.Do(func() {}, 20*time.Millisecond); err == nil {
		t.Error("Do succeeded on a full queue with no loop draining it")
	}
}

func TestCaptureForegroundAddsProgram(t *testing.T) {
	p := &fakeProber{process: "mpv"}
	s, l, cfg := newTestService(t, p)
	sel := selector.New(p, l, cfg)

	stop := runService(t, s)
	defer stop()

	res, err := s.CaptureForeground(sel, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != selector.StatusAdded {
		t.Fatalf("status = %v, want %v", res.Status, selector.StatusAdded)
	}
	if res.Program != "mpv" {
		t.Errorf("program = %q, want mpv", res.Program)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := s.Snapshot().Times["mpv"]; ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("snapshot never showed the added program")
		}
		time.Sleep(10 * time.Millisecond)
	}

	res, err = s.CaptureForeground(sel, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != selector.StatusAlreadyTracked {
		t.Errorf("second capture status = %v, want %v", res.Status, selector.StatusAlreadyTracked)
	}
}
