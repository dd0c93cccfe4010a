package transport

import (
	"fmt"
	"math"
)

// dbfs formats a full-scale-relative RMS level in decibels.
func dbfs(rms float64) string {
	if rms <= 0 {
		return "-inf dBFS"
	}
	return fmt.Sprintf("%.1f dBFS", 20*math.Log10(rms))
}
