package utils

import (
	"time"

	"github.com/dustin/go-humanize"
)

// GiB formats a volume size given in GiB as a human readable byte count.
func GiB(size int64) string {
	return humanize.IBytes(uint64(size) << 30)
}

// Elapsed rounds a duration to whole seconds for log output.
func Elapsed(d time.Duration) string {
	return d.Round(time.Second).String()
}
