package detect

import "testing"

func TestDisplayServer(t *testing.T) {
	tests := []struct {
		name           string
		sessionType    string
		waylandDisplay string
		x11Display     string
		want           string
	}{
		{"explicit wayland", "wayland", "", "", "wayland"},
		{"wayland display set", "", "wayland-0", "", "wayland"},
		{"explicit x11", "x11", "", "", "x11"},
		{"x11 display set", "", "", ":0", "x11"},
		{"wayland wins over x11", "wayland", "wayland-0", ":0", "wayland"},
		{"nothing set", "", "", "", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("XDG_SESSION_TYPE", tt.sessionType)
			t.Setenv("WAYLAND_DISPLAY", tt.waylandDisplay)
			t.Setenv("DISPLAY", tt.x11Display)

			if got := DisplayServer(); got != tt.want {
				t.Errorf("DisplayServer() = %q, want %q", got, tt.want)
			}
		})
	}
}
