//go:build linux || darwin || freebsd || netbsd || openbsd

package localfs

import (
	"fmt"
	"os"
	"strconv"
	"syscall"
)

// fileAttributes extracts permission bits, ownership and access time from syscall.Stat_t
func fileAttributes(info os.FileInfo) attributes {
	attrs := defaultAttributes(info)

	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		attrs.permission = fmt.Sprintf("0%o", stat.Mode&07777)
		attrs.owner = lookupUser(strconv.FormatUint(uint64(stat.Uid), 10))
		attrs.group = lookupGroup(strconv.FormatUint(uint64(stat.Gid), 10))
		attrs.atime = accessTime(stat)
	}
	return attrs
}
