package x11

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/screensaver"
	"github.com/jezek/xgb/xproto"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/tokikanri/tokikanri/pkg/probe"
)

// Prober implements probe.Prober against an X11 display.
type Prober struct {
	conn  *xgb.Conn
	root  xproto.Window
	atoms map[string]xproto.Atom

	screensaverOK bool
}

// NewProber connects to the X server and interns the atoms used for
// focused-window lookup.
func NewProber() (*Prober, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	root := setup.DefaultScreen(conn).Root

	p := &Prober{
		conn:  conn,
		root:  root,
		atoms: make(map[string]xproto.Atom),
	}

	atomNames := []string{
		"_NET_ACTIVE_WINDOW",
		"_NET_WM_PID",
		"WM_CLASS",
	}

	for _, name := range atomNames {
		reply, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to intern atom %s: %w", name, err)
		}
		p.atoms[name] = reply.Atom
	}

	// MIT-SCREEN-SAVER provides the idle counter. Missing extension is
	// tolerated: IdleTime reports an error per call instead.
	if err := screensaver.Init(conn); err == nil {
		p.screensaverOK = true
	}

	return p, nil
}

// IsAvailable reports whether the X connection is still usable.
func (p *Prober) IsAvailable() bool {
	return p.conn != nil
}

// ForegroundProcess resolves the focused window to an executable name.
// Returns "" without error when no window currently has focus.
func (p *Prober) ForegroundProcess() (string, error) {
	window := p.activeWindow()
	if window == 0 {
		return "", nil
	}

	if pid := p.windowPID(window); pid != 0 {
		proc, err := process.NewProcess(int32(pid))
		if err == nil {
			if name, err := proc.Name(); err == nil && name != "" {
				return name, nil
			}
		}
	}

	// PID lookup fails for sandboxed (Flatpak) windows; fall back to the
	// WM_CLASS instance name.
	if instance := p.windowClass(window); instance != "" {
		return instance, nil
	}

	return "", fmt.Errorf("could not identify process for window 0x%x", window)
}

// CursorPosition returns the pointer position in root coordinates.
func (p *Prober) CursorPosition() (probe.Point, error) {
	reply, err := xproto.QueryPointer(p.conn, p.root).Reply()
	if err != nil {
		return probe.Point{}, fmt.Errorf("failed to query pointer: %w", err)
	}
	return probe.Point{X: int(reply.RootX), Y: int(reply.RootY)}, nil
}

// IdleTime returns the time since the last user input.
func (p *Prober) IdleTime() (time.Duration, error) {
	if !p.screensaverOK {
		return 0, fmt.Errorf("MIT-SCREEN-SAVER extension unavailable")
	}

	reply, err := screensaver.QueryInfo(p.conn, xproto.Drawable(p.root)).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to query idle time: %w", err)
	}
	return time.Duration(reply.MsSinceUserInput) * time.Millisecond, nil
}

// Close shuts down the X connection.
func (p *Prober) Close() error {
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	return nil
}

func (p *Prober) getProperty(window xproto.Window, atom xproto.Atom, atomType xproto.Atom, length uint32) ([]byte, error) {
	reply, err := xproto.GetProperty(p.conn, false, window, atom, atomType, 0, length).Reply()
	if err != nil {
		return nil, err
	}
	return reply.Value, nil
}

func (p *Prober) activeWindow() xproto.Window {
	data, err := p.getProperty(p.root, p.atoms["_NET_ACTIVE_WINDOW"], xproto.AtomWindow, 1)
	if err == nil && len(data) >= 4 {
		if w := xproto.Window(binary.LittleEndian.Uint32(data)); w != 0 {
			return w
		}
	}

	// Some window managers do not maintain _NET_ACTIVE_WINDOW; fall back
	// to the input focus and walk up to its top-level parent.
	reply, err := xproto.GetInputFocus(p.conn).Reply()
	if err != nil || reply.Focus == 0 || reply.Focus == p.root {
		return 0
	}
	return p.topLevelParent(reply.Focus)
}

func (p *Prober) topLevelParent(window xproto.Window) xproto.Window {
	for {
		reply, err := xproto.QueryTree(p.conn, window).Reply()
		if err != nil || reply.Parent == p.root || reply.Parent == 0 {
			return window
		}
		window = reply.Parent
	}
}

func (p *Prober) windowPID(window xproto.Window) uint32 {
	data, err := p.getProperty(window, p.atoms["_NET_WM_PID"], xproto.AtomCardinal, 1)
	if err != nil || len(data) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(data)
}

func (p *Prober) windowClass(window xproto.Window) string {
	data, err := p.getProperty(window, p.atoms["WM_CLASS"], xproto.AtomString, 256)
	if err != nil || len(data) == 0 {
		return ""
	}

	parts := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	if len(parts) >= 1 {
		return parts[0]
	}
	return ""
}
