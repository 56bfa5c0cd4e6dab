package timefmt

import "fmt"

// Clock formats a number of seconds as HH:MM:SS, or MM:SS when under an hour.
func Clock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}

	total := int64(seconds)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60

	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%02d:%02d", minutes, secs)
}

// RoundedUnit formats seconds as a single rounded unit ("45s", "12m", "3h").
func RoundedUnit(seconds int64) string {
	if seconds < 0 {
		seconds = -seconds
	}
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	if seconds > 3600 {
		return fmt.Sprintf("%dh", seconds/3600)
	}
	return fmt.Sprintf("%dm", seconds/60)
}
