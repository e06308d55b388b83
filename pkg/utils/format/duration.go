// Package format renders values for terminal output.
package format

import "fmt"

// Duration converts seconds to "M:SS" or "H:MM:SS". Negative input renders
// as "0:00".
func Duration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
