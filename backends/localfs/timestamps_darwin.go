//go:build darwin

package localfs

import (
	"syscall"
	"time"
)

// accessTime reads the last access time from syscall.Stat_t on Darwin (macOS)
func accessTime(stat *syscall.Stat_t) time.Time {
	return time.Unix(stat.Atimespec.Sec, stat.Atimespec.Nsec)
}
