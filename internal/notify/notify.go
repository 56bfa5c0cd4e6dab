// Package notify delivers desktop notifications over the session bus.
package notify

import (
	"log"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// Notifier sends a user-visible notification. Implementations must be safe
// to call from the goroutine that owns tracking state and must never block
// for long.
type Notifier interface {
	Notify(summary, body string)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(string, string) {}

const (
	appName       = "tokikanri"
	notifIcon     = "dialog-information"
	expireTimeout = int32(10000)
)

// Desktop sends notifications through org.freedesktop.Notifications on the
// user's session bus. The connection is established lazily and dropped on
// error so a restarted notification daemon is picked up on the next call.
type Desktop struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

func NewDesktop() *Desktop {
	return &Desktop{}
}

func (d *Desktop) Notify(summary, body string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		conn, err := dbus.ConnectSessionBus()
		if err != nil {
			log.Printf("notify: session bus unavailable: %v", err)
			return
		}
		d.conn = conn
	}

	obj := d.conn.Object("org.freedesktop.Notifications", "/org/freedesktop/Notifications")
	call := obj.Call("org.freedesktop.Notifications.Notify", 0,
		appName,
		uint32(0),
		notifIcon,
		summary,
		body,
		[]string{},
		map[string]dbus.Variant{
			"urgency": dbus.MakeVariant(byte(1)),
		},
		expireTimeout,
	)
	if call.Err != nil {
		log.Printf("notify: failed to send notification: %v", call.Err)
		d.conn.Close()
		d.conn = nil
	}
}

func (d *Desktop) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

// Throttle wraps a Notifier and drops notifications that repeat the same
// summary within the window. Different summaries pass through unaffected.
type Throttle struct {
	inner  Notifier
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewThrottle(inner Notifier, window time.Duration) *Throttle {
	return &Throttle{
		inner:    inner,
		window:   window,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

func (t *Throttle) Notify(summary, body string) {
	t.mu.Lock()
	now := t.now()
	if last, ok := t.lastSent[summary]; ok && now.Sub(last) < t.window {
		t.mu.Unlock()
		return
	}
	t.lastSent[summary] = now
	t.mu.Unlock()

	t.inner.Notify(summary, body)
}
