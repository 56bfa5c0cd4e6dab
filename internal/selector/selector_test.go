package selector

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/internal/ledger"
	"github.com/tokikanri/tokikanri/pkg/probe"
)

type mockProber struct {
	process string
	err     error
}

func (m *mockProber) ForegroundProcess() (string, error)   { return m.process, m.err }
func (m *mockProber) CursorPosition() (probe.Point, error) { return probe.Point{}, nil }
func (m *mockProber) IdleTime() (time.Duration, error)     { return 0, nil }
func (m *mockProber) IsAvailable() bool                    { return true }
func (m *mockProber) Close() error                         { return nil }

func newSelector(t *testing.T, p probe.Prober) (*Selector, *ledger.Ledger) {
	t.Helper()
	dir := t.TempDir()
	st, err := config.Load(filepath.Join(dir, "tokikanri.toml"))
	if err != nil {
		t.Fatal(err)
	}
	l := ledger.New(filepath.Join(dir, "data.json"))
	return New(p, l, st), l
}

func TestCaptureAdds(t *testing.T) {
	s, l := newSelector(t, &mockProber{process: "firefox"})

	res := s.Capture()
	if res.Status != StatusAdded {
		t.Fatalf("Status = %v, want StatusAdded", res.Status)
	}
	if res.Program != "firefox" || res.DisplayName != "Firefox" {
		t.Errorf("Result = %+v, want firefox/Firefox", res)
	}
	if !l.IsTracked("firefox") {
		t.Error("program was not added to the tracked set")
	}
}

func TestCaptureAlreadyTracked(t *testing.T) {
	s, l := newSelector(t, &mockProber{process: "firefox"})
	l.Add("firefox")

	res := s.Capture()
	if res.Status != StatusAlreadyTracked {
		t.Fatalf("Status = %v, want StatusAlreadyTracked", res.Status)
	}
	if l.Count() != 1 {
		t.Errorf("Count = %d, want 1", l.Count())
	}
}

func TestCaptureMaxReached(t *testing.T) {
	s, l := newSelector(t, &mockProber{process: "newprog"})
	for i := 0; i < 10; i++ {
		l.Add(fmt.Sprintf("prog%d", i))
	}

	res := s.Capture()
	if res.Status != StatusMaxReached {
		t.Fatalf("Status = %v, want StatusMaxReached", res.Status)
	}
	if l.IsTracked("newprog") {
		t.Error("program added past the ceiling")
	}
}

func TestCaptureNoWindow(t *testing.T) {
	s, _ := newSelector(t, &mockProber{process: ""})

	res := s.Capture()
	if res.Status != StatusNoWindow {
		t.Fatalf("Status = %v, want StatusNoWindow", res.Status)
	}
}

func TestCaptureProbeError(t *testing.T) {
	s, _ := newSelector(t, &mockProber{err: fmt.Errorf("connection lost")})

	res := s.Capture()
	if res.Status != StatusError {
		t.Fatalf("Status = %v, want StatusError", res.Status)
	}
	if res.Err == nil {
		t.Error("Err not populated")
	}
}
