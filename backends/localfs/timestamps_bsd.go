//go:build freebsd || netbsd

package localfs

import (
	"syscall"
	"time"
)

// accessTime reads the last access time from syscall.Stat_t on FreeBSD/NetBSD
func accessTime(stat *syscall.Stat_t) time.Time {
	return time.Unix(int64(stat.Atimespec.Sec), int64(stat.Atimespec.Nsec))
}
