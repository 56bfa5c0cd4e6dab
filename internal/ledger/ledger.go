package ledger

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"
)

const (
	defaultDataName = "tracker_data.json"
	defaultDataDir  = ".config/tokikanri"
)

// Ceiling is the piece of configuration the ledger self-heals: the
// tracked-program limit is raised, never lowered, when loaded or imported
// data already exceeds it. Satisfied by *config.Store.
type Ceiling interface {
	RaiseMaxPrograms(n int) error
}

// SessionClose describes one closed accrual session, emitted for the
// session-history archive.
type SessionClose struct {
	Program   string
	StartedAt time.Time
	EndedAt   time.Time
	Seconds   float64
}

// Ledger owns the durable mapping of tracked program to accumulated active
// seconds. All mutating methods must be called from the controlling
// goroutine; the dispatcher's drain cycle enforces that discipline, so the
// ledger itself carries no locks.
type Ledger struct {
	path     string
	programs map[string]float64
	names    map[string]string

	tracking     string
	sessionStart time.Time

	// open-session bookkeeping for the history archive
	sessionOpenedAt time.Time
	sessionAccrued  float64

	ceiling         Ceiling
	onSessionClosed func(SessionClose)
	now             func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithCeiling wires the max-programs self-heal target.
func WithCeiling(c Ceiling) Option {
	return func(l *Ledger) { l.ceiling = c }
}

// WithSessionSink registers a callback invoked (on the controlling
// goroutine) each time an accrual session closes with nonzero time.
func WithSessionSink(fn func(SessionClose)) Option {
	return func(l *Ledger) { l.onSessionClosed = fn }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// DefaultDataPath returns the standard ledger file location, creating the
// parent directory if needed.
func DefaultDataPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}
	dir := filepath.Join(homeDir, defaultDataDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create data directory")
	}
	return filepath.Join(dir, defaultDataName), nil
}

// New creates a ledger backed by the file at path and loads any persisted
// data. A missing file yields an empty ledger; a corrupt file is logged
// and likewise yields an empty ledger, never a startup failure.
func New(path string, opts ...Option) *Ledger {
	l := &Ledger{
		path:     path,
		programs: make(map[string]float64),
		names:    make(map[string]string),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.Load(); err != nil {
		log.Printf("Could not load ledger data: %v (starting empty)", err)
	}
	l.healCeiling(len(l.programs))

	return l
}

// healCeiling raises the configured max-programs limit to cover count.
func (l *Ledger) healCeiling(count int) {
	if l.ceiling == nil || count == 0 {
		return
	}
	if err := l.ceiling.RaiseMaxPrograms(count); err != nil {
		log.Printf("Could not raise max-programs ceiling to %d: %v", count, err)
	}
}

// UpdateTracking attributes elapsed time to program. An empty program
// means no tracked program has focus.
//
// Switching programs flushes the in-flight delta of the previous program
// before the switch; a new session opens only while isActive. On an
// unchanged program with an open session, the delta is folded in and the
// session clock restarts, bounding data loss on abnormal termination to
// one tick interval.
func (l *Ledger) UpdateTracking(program string, isActive bool) {
	now := l.now()

	if program != l.tracking {
		l.closeSession(now)
		l.tracking = program
		if program != "" && isActive {
			l.openSession(now)
		}
		return
	}

	if program == "" {
		return
	}

	if !l.sessionStart.IsZero() && isActive {
		l.accrue(now)
		l.sessionStart = now
		return
	}

	// Session resumes when activity returns on the same program.
	if l.sessionStart.IsZero() && isActive {
		l.openSession(now)
	}
}

// HandleActivityChange closes the open session immediately when the user
// goes inactive and reopens it when activity resumes. Closing immediately
// (rather than riding out short blips) is the defensive policy: it can
// only under-count, never over-count.
func (l *Ledger) HandleActivityChange(isActive bool) {
	now := l.now()
	if !isActive {
		l.closeSession(now)
		return
	}
	if l.tracking != "" && l.sessionStart.IsZero() {
		l.openSession(now)
	}
}

func (l *Ledger) openSession(now time.Time) {
	l.sessionStart = now
	l.sessionOpenedAt = now
	l.sessionAccrued = 0
}

// accrue folds the in-flight delta into the accumulated total without
// touching the session clock.
func (l *Ledger) accrue(now time.Time) {
	if l.tracking == "" || l.sessionStart.IsZero() {
		return
	}
	elapsed := now.Sub(l.sessionStart).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	l.programs[l.tracking] += elapsed
	l.sessionAccrued += elapsed
}

// closeSession flushes any in-flight delta and clears the session.
func (l *Ledger) closeSession(now time.Time) {
	if l.tracking != "" && !l.sessionStart.IsZero() {
		l.accrue(now)
		if l.onSessionClosed != nil && l.sessionAccrued > 0 {
			l.onSessionClosed(SessionClose{
				Program:   l.tracking,
				StartedAt: l.sessionOpenedAt,
				EndedAt:   now,
				Seconds:   l.sessionAccrued,
			})
		}
	}
	l.sessionStart = time.Time{}
	l.sessionOpenedAt = time.Time{}
	l.sessionAccrued = 0
}

// CurrentTimes returns accumulated seconds per program with the in-flight
// delta for the currently tracked program folded in on the fly. It never
// mutates stored state and is safe to call at display-refresh frequency
// from the controlling goroutine.
func (l *Ledger) CurrentTimes() map[string]float64 {
	out := make(map[string]float64, len(l.programs))
	for program, seconds := range l.programs {
		out[program] = seconds
	}

	if l.tracking != "" && !l.sessionStart.IsZero() {
		elapsed := l.now().Sub(l.sessionStart).Seconds()
		if elapsed > 0 {
			out[l.tracking] += elapsed
		}
	}
	return out
}

// TotalTime returns the sum of all current times.
func (l *Ledger) TotalTime() float64 {
	var total float64
	for _, seconds := range l.CurrentTimes() {
		total += seconds
	}
	return total
}

// CurrentlyTracking returns the tracked program currently holding focus,
// or "" when none does.
func (l *Ledger) CurrentlyTracking() string {
	return l.tracking
}

// SessionOpen reports whether time is being accrued right now.
func (l *Ledger) SessionOpen() bool {
	return !l.sessionStart.IsZero()
}

// IsTracked reports whether program is in the ledger.
func (l *Ledger) IsTracked(program string) bool {
	_, ok := l.programs[program]
	return ok
}

// Count returns the number of tracked programs.
func (l *Ledger) Count() int {
	return len(l.programs)
}

// Add seeds a new program at zero seconds and persists immediately, like
// the other explicit user actions. Adding an already tracked program is a
// no-op.
func (l *Ledger) Add(program string) {
	if _, ok := l.programs[program]; ok {
		return
	}
	l.programs[program] = 0
	l.saveNow()
	log.Printf("Now tracking %s", program)
}

// ResetProgram zeroes the accumulated total for program. When the program
// is currently tracked the session clock restarts so accrual continues
// from zero; tracking itself is not stopped.
func (l *Ledger) ResetProgram(program string) {
	if _, ok := l.programs[program]; !ok {
		return
	}
	l.programs[program] = 0
	if l.tracking == program && !l.sessionStart.IsZero() {
		l.openSession(l.now())
	}
	l.saveNow()
	log.Printf("Timer reset for %s", program)
}

// ResetAll zeroes every accumulated total.
func (l *Ledger) ResetAll() {
	for program := range l.programs {
		l.programs[program] = 0
	}
	if l.tracking != "" && !l.sessionStart.IsZero() {
		l.openSession(l.now())
	}
	l.saveNow()
	log.Println("All timers reset")
}

// RemoveProgram deletes program and its display name. If it was being
// tracked the open session is discarded.
func (l *Ledger) RemoveProgram(program string) {
	if _, ok := l.programs[program]; !ok {
		return
	}
	if l.tracking == program {
		l.tracking = ""
		l.sessionStart = time.Time{}
		l.sessionOpenedAt = time.Time{}
		l.sessionAccrued = 0
	}
	delete(l.programs, program)
	delete(l.names, program)
	l.saveNow()
	log.Printf("Stopped tracking %s", program)
}

// RemoveAll deletes every tracked program.
func (l *Ledger) RemoveAll() {
	l.programs = make(map[string]float64)
	l.names = make(map[string]string)
	l.tracking = ""
	l.sessionStart = time.Time{}
	l.sessionOpenedAt = time.Time{}
	l.sessionAccrued = 0
	l.saveNow()
	log.Println("Removed all tracked programs")
}

// SetDisplayName stores a user override for program's display name. An
// empty or whitespace-only name removes the override. Returns false when
// program is not tracked.
func (l *Ledger) SetDisplayName(program, name string) bool {
	if _, ok := l.programs[program]; !ok {
		return false
	}
	name = strings.TrimSpace(name)
	if name == "" {
		delete(l.names, program)
	} else {
		l.names[program] = name
	}
	l.saveNow()
	return true
}

// DisplayName returns the display name for program: the user override if
// set, otherwise a default formatting of the process name.
func (l *Ledger) DisplayName(program string) string {
	if name, ok := l.names[program]; ok {
		return name
	}
	return FormatProgramName(program)
}

// FormatProgramName derives a presentable name from a process identity.
func FormatProgramName(program string) string {
	lower := strings.ToLower(program)
	switch lower {
	case "explorer.exe", "explorer":
		return "Windows File Explorer"
	case "clipstudiopaint.exe":
		return "Clip Studio Paint"
	case "code.exe", "code":
		return "VS Code"
	}

	name := program
	if strings.HasSuffix(lower, ".exe") {
		name = program[:len(program)-4]
	}
	if name == "" {
		return name
	}

	runes := []rune(name)
	if unicode.IsLower(runes[0]) {
		runes[0] = unicode.ToUpper(runes[0])
	}
	return string(runes)
}

// saveNow persists immediately after an explicit user action. A failed
// save is logged; in-memory state stays authoritative.
func (l *Ledger) saveNow() {
	if err := l.Save(); err != nil {
		log.Printf("Error saving ledger data: %v", err)
	}
}
