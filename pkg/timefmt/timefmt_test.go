package timefmt

import "testing"

func TestClock(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00"},
		{59, "00:59"},
		{61.9, "01:01"},
		{600, "10:00"},
		{3599, "59:59"},
		{3600, "01:00:00"},
		{3725, "01:02:05"},
		{86400, "24:00:00"},
		{-5, "00:00"},
	}

	for _, tt := range tests {
		if got := Clock(tt.seconds); got != tt.want {
			t.Errorf("Clock(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestRoundedUnit(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{0, "0s"},
		{45, "45s"},
		{60, "1m"},
		{150, "2m"},
		{3600, "60m"},
		{3601, "1h"},
		{7300, "2h"},
		{-90, "1m"},
	}

	for _, tt := range tests {
		if got := RoundedUnit(tt.seconds); got != tt.want {
			t.Errorf("RoundedUnit(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}
