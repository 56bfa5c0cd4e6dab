package web

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/internal/ledger"
	"github.com/tokikanri/tokikanri/internal/reporter"
	"github.com/tokikanri/tokikanri/internal/selector"
	"github.com/tokikanri/tokikanri/internal/tracker"
	"github.com/tokikanri/tokikanri/pkg/timefmt"
)

const commandTimeout = 2 * time.Second

// Handler serves the HTTP API. Reads come from the tracker's published
// snapshot; every mutation is enqueued onto the tracker's control loop so
// ledger state is only ever touched there.
type Handler struct {
	config   *config.Store
	service  *tracker.Service
	ledger   *ledger.Ledger
	selector *selector.Selector
	reporter *reporter.Reporter // nil when the history database is disabled
}

func NewHandler(cfg *config.Store, svc *tracker.Service, l *ledger.Ledger, sel *selector.Selector, rep *reporter.Reporter) *Handler {
	return &Handler{
		config:   cfg,
		service:  svc,
		ledger:   l,
		selector: sel,
		reporter: rep,
	}
}

func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/times", h.handleTimes)
	mux.HandleFunc("/api/report", h.handleReport)

	mux.HandleFunc("/api/track", h.handleTrack)
	mux.HandleFunc("/api/programs/reset", h.handleReset)
	mux.HandleFunc("/api/programs/remove", h.handleRemove)
	mux.HandleFunc("/api/programs/name", h.handleName)

	mux.HandleFunc("/health", h.handleHealth)
}

// run executes fn on the tracker's control loop and waits for it. Both the
// enqueue and the wait are bounded so a wedged control loop, even one with
// a full command queue, cannot hang the HTTP worker forever.
func (h *Handler) run(fn func()) error {
	done := make(chan struct{})
	err := h.service.Do(func() {
		fn()
		close(done)
	}, commandTimeout)
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-time.After(commandTimeout):
		return fmt.Errorf("tracker did not apply the command in time")
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := h.service.Snapshot()
	settings := h.config.Get()

	status := map[string]interface{}{
		"running":          h.service.IsRunning(),
		"tracking":         snap.Tracking,
		"tracking_display": snap.TrackingDisplay,
		"active":           snap.Active,
		"media_playing":    snap.MediaPlaying,
		"media_api_health": snap.MediaAPIHealth,
		"total_seconds":    snap.TotalSeconds,
		"total_display":    timefmt.Clock(snap.TotalSeconds),
		"program_count":    len(snap.Times),
		"max_programs":     settings.MaxPrograms,
		"media_mode":       settings.MediaModeEnabled,
		"updated_at":       snap.UpdatedAt,
	}

	respondJSON(w, status)
}

func (h *Handler) handleTimes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := h.service.Snapshot()

	type programTime struct {
		Program     string  `json:"program"`
		DisplayName string  `json:"display_name"`
		Seconds     float64 `json:"seconds"`
		Display     string  `json:"display"`
		Tracking    bool    `json:"tracking"`
	}

	programs := make([]programTime, 0, len(snap.Times))
	for program, seconds := range snap.Times {
		programs = append(programs, programTime{
			Program:     program,
			DisplayName: snap.Names[program],
			Seconds:     seconds,
			Display:     timefmt.Clock(seconds),
			Tracking:    program == snap.Tracking,
		})
	}

	respondJSON(w, map[string]interface{}{
		"programs":      programs,
		"total_seconds": snap.TotalSeconds,
		"total_display": timefmt.Clock(snap.TotalSeconds),
		"updated_at":    snap.UpdatedAt,
	})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.reporter == nil {
		http.Error(w, "Session history is disabled", http.StatusServiceUnavailable)
		return
	}

	periodType := r.URL.Query().Get("period")
	if periodType == "" {
		periodType = "day"
	}

	report, err := h.reporter.GenerateReport(periodType)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to generate report: %v", err), http.StatusInternalServerError)
		return
	}

	respondJSON(w, report)
}

// handleTrack captures the currently focused program and adds it to the
// tracked set.
func (h *Handler) handleTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	res, err := h.service.CaptureForeground(h.selector, commandTimeout)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	code := http.StatusOK
	switch res.Status {
	case selector.StatusError:
		code = http.StatusInternalServerError
	case selector.StatusMaxReached:
		code = http.StatusConflict
	case selector.StatusNoWindow:
		code = http.StatusNotFound
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	resp := map[string]interface{}{
		"status":       res.Status.String(),
		"program":      res.Program,
		"display_name": res.DisplayName,
	}
	if res.Err != nil {
		resp["error"] = res.Err.Error()
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	program := r.URL.Query().Get("program")
	err := h.run(func() {
		if program == "" {
			h.ledger.ResetAll()
		} else {
			h.ledger.ResetProgram(program)
		}
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	respondJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	program := r.URL.Query().Get("program")
	err := h.run(func() {
		if program == "" {
			h.ledger.RemoveAll()
		} else {
			h.ledger.RemoveProgram(program)
		}
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	respondJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) handleName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Program string `json:"program"`
		Name    string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Program == "" {
		http.Error(w, "Missing program", http.StatusBadRequest)
		return
	}

	var ok bool
	err := h.run(func() {
		ok = h.ledger.SetDisplayName(req.Program, req.Name)
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.Error(w, "Program is not tracked", http.StatusNotFound)
		return
	}

	respondJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
