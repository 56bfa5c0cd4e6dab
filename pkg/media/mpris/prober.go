package mpris

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/tokikanri/tokikanri/pkg/media"
)

const (
	busPrefix   = "org.mpris.MediaPlayer2."
	objectPath  = "/org/mpris/MediaPlayer2"
	playerIface = "org.mpris.MediaPlayer2.Player"
	propsGet    = "org.freedesktop.DBus.Properties.Get"
)

// Prober reads the active media session from MPRIS2 players on the session
// bus. Safe for use from a single worker goroutine at a time.
type Prober struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

func NewProber() *Prober {
	return &Prober{}
}

// Current returns the most relevant media session, preferring a playing
// player over paused or stopped ones. Returns (nil, nil) when no MPRIS
// player is on the bus.
func (p *Prober) Current(ctx context.Context) (*media.Info, error) {
	conn, err := p.connect()
	if err != nil {
		return nil, err
	}

	names, err := p.listPlayers(ctx, conn)
	if err != nil {
		// A failed bus call usually means the connection died; drop it so
		// the next check reconnects.
		p.drop(conn)
		return nil, err
	}

	if len(names) == 0 {
		return nil, nil
	}

	var best *media.Info
	for _, name := range names {
		info, err := p.playerInfo(ctx, conn, name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if info.Status == media.StatusPlaying {
			return info, nil
		}
		if best == nil {
			best = info
		}
	}

	return best, nil
}

// Close releases the bus connection.
func (p *Prober) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}

func (p *Prober) connect() (*dbus.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return p.conn, nil
	}
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	p.conn = conn
	return conn, nil
}

func (p *Prober) drop(conn *dbus.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == conn {
		p.conn.Close()
		p.conn = nil
	}
}

func (p *Prober) listPlayers(ctx context.Context, conn *dbus.Conn) ([]string, error) {
	var names []string
	err := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).Store(&names)
	if err != nil {
		return nil, fmt.Errorf("failed to list bus names: %w", err)
	}

	var players []string
	for _, name := range names {
		if strings.HasPrefix(name, busPrefix) {
			players = append(players, name)
		}
	}
	return players, nil
}

func (p *Prober) playerInfo(ctx context.Context, conn *dbus.Conn, name string) (*media.Info, error) {
	obj := conn.Object(name, objectPath)

	var statusVariant dbus.Variant
	err := obj.CallWithContext(ctx, propsGet, 0, playerIface, "PlaybackStatus").Store(&statusVariant)
	if err != nil {
		return nil, fmt.Errorf("failed to get PlaybackStatus from %s: %w", name, err)
	}

	raw, _ := statusVariant.Value().(string)
	info := &media.Info{Status: media.ParseStatus(raw)}

	// Metadata is best-effort: a player with no track loaded still has a
	// meaningful playback status.
	var metaVariant dbus.Variant
	if err := obj.CallWithContext(ctx, propsGet, 0, playerIface, "Metadata").Store(&metaVariant); err == nil {
		if meta, ok := metaVariant.Value().(map[string]dbus.Variant); ok {
			info.Title, info.Artist = extractTrack(meta)
		}
	}

	return info, nil
}

func extractTrack(meta map[string]dbus.Variant) (title, artist string) {
	if v, ok := meta["xesam:title"]; ok {
		title, _ = v.Value().(string)
	}
	if v, ok := meta["xesam:artist"]; ok {
		switch artists := v.Value().(type) {
		case []string:
			if len(artists) > 0 {
				artist = artists[0]
			}
		case string:
			artist = artists
		}
	}
	return title, artist
}
