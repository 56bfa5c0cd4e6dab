package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tokikanri/tokikanri/internal/activity"
	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/internal/ledger"
	"github.com/tokikanri/tokikanri/internal/selector"
	"github.com/tokikanri/tokikanri/internal/tracker"
	"github.com/tokikanri/tokikanri/pkg/media"
	"github.com/tokikanri/tokikanri/pkg/probe"
)

type fakeProber struct {
	process string
}

func (f *fakeProber) ForegroundProcess() (string, error)   { return f.process, nil }
func (f *fakeProber) CursorPosition() (probe.Point, error) { return probe.Point{}, nil }
func (f *fakeProber) IdleTime() (time.Duration, error)     { return 0, nil }
func (f *fakeProber) IsAvailable() bool                    { return true }
func (f *fakeProber) Close() error                         { return nil }

type fakeMedia struct{}

func (fakeMedia) Current(ctx context.Context) (*media.Info, error) { return nil, nil }
func (fakeMedia) Close() error                                     { return nil }

func newTestHandler(t *testing.T, process string) (*Handler, func()) {
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

	p := &fakeProber{process: process}
	l := ledger.New(filepath.Join(dir, "data.json"), ledger.WithCeiling(cfg))
	sampler := activity.NewSampler(p, fakeMedia{}, cfg)
	classifier := activity.NewClassifier(nil)
	svc := tracker.NewService(cfg, l, sampler, classifier, p, nil)
	sel := selector.New(p, l, cfg)

	done := make(chan struct{})
	go func() {
		svc.Start(context.Background())
		close(done)
	}()

	h := NewHandler(cfg, svc, l, sel, nil)
	return h, func() {
		svc.Stop()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("service did not stop")
		}
	}
}

func TestStatusEndpoint(t *testing.T) {
	h, stop := newTestHandler(t, "firefox")
	defer stop()

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	h.handleStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["running"] != true {
		t.Errorf("running = %v, want true", body["running"])
	}
	if _, ok := body["max_programs"]; !ok {
		t.Error("response missing max_programs")
	}
}

func TestStatusRejectsPost(t *testing.T) {
	h, stop := newTestHandler(t, "firefox")
	defer stop()

	req := httptest.NewRequest(http.MethodPost, "/api/status", nil)
	rec := httptest.NewRecorder()
	h.handleStatus(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestTrackEndpointAdds(t *testing.T) {
	h, stop := newTestHandler(t, "firefox")
	defer stop()

	req := httptest.NewRequest(http.MethodPost, "/api/track", nil)
	rec := httptest.NewRecorder()
	h.handleTrack(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "added" || body["program"] != "firefox" {
		t.Errorf("unexpected response %v", body)
	}

	// Second capture of the same window reports the duplicate.
	rec = httptest.NewRecorder()
	h.handleTrack(rec, httptest.NewRequest(http.MethodPost, "/api/track", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "already tracked" {
		t.Errorf("second capture status = %v", body["status"])
	}
}

func TestTrackEndpointNoWindow(t *testing.T) {
	h, stop := newTestHandler(t, "")
	defer stop()

	rec := httptest.NewRecorder()
	h.handleTrack(rec, httptest.NewRequest(http.MethodPost, "/api/track", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTimesEndpointAfterTrack(t *testing.T) {
	h, stop := newTestHandler(t, "firefox")
	defer stop()

	rec := httptest.NewRecorder()
	h.handleTrack(rec, httptest.NewRequest(http.MethodPost, "/api/track", nil))

	// The snapshot refreshes on the next drain cycle.
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec = httptest.NewRecorder()
		h.handleTimes(rec, httptest.NewRequest(http.MethodGet, "/api/times", nil))

		var body struct {
			Programs []struct {
				Program     string `json:"program"`
				DisplayName string `json:"display_name"`
			} `json:"programs"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if len(body.Programs) == 1 && body.Programs[0].Program == "firefox" {
			if body.Programs[0].DisplayName != "Firefox" {
				t.Errorf("display name = %q, want Firefox", body.Programs[0].DisplayName)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("times endpoint never showed the tracked program: %s", rec.Body.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNameEndpoint(t *testing.T) {
	h, stop := newTestHandler(t, "firefox")
	defer stop()

	rec := httptest.NewRecorder()
	h.handleTrack(rec, httptest.NewRequest(http.MethodPost, "/api/track", nil))

	body := strings.NewReader(`{"program":"firefox","name":"Browser"}`)
	rec = httptest.NewRecorder()
	h.handleName(rec, httptest.NewRequest(http.MethodPost, "/api/programs/name", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body = strings.NewReader(`{"program":"ghost","name":"x"}`)
	rec = httptest.NewRecorder()
	h.handleName(rec, httptest.NewRequest(http.MethodPost, "/api/programs/name", body))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status for untracked = %d, want 404", rec.Code)
	}
}

func TestReportEndpointWithoutHistory(t *testing.T) {
	h, stop := newTestHandler(t, "firefox")
	defer stop()

	rec := httptest.NewRecorder()
	h.handleReport(rec, httptest.NewRequest(http.MethodGet, "/api/report", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
