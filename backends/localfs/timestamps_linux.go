//go:build linux

package localfs

import (
	"syscall"
	"time"
)

// accessTime reads the last access time from syscall.Stat_t on Linux
func accessTime(stat *syscall.Stat_t) time.Time {
	return time.Unix(stat.Atim.Sec, stat.Atim.Nsec)
}
