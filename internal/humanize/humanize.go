// Package humanize formats byte counts for the status/backup CLI output:
// M/G/T units, 2-decimal precision, trailing zeros trimmed.
package humanize

import (
	"fmt"

	gohumanize "github.com/dustin/go-humanize"
)

// Byte-count unit thresholds.
const (
	MB = 1024 * 1024
	GB = 1024 * MB
	TB = 1024 * GB
)

// Bytes formats n using the largest unit (M/G/T) it fully clears, rounded
// to 2 decimal places with trailing zeros trimmed. Values under 1 MiB print
// as a bare byte count.
func Bytes(n int64) string {
	switch {
	case n >= TB:
		return gohumanize.Ftoa(round2(float64(n)/TB)) + "T"
	case n >= GB:
		return gohumanize.Ftoa(round2(float64(n)/GB)) + "G"
	case n >= MB:
		return gohumanize.Ftoa(round2(float64(n)/MB)) + "M"
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
