//go:build windows

package localfs

import (
	"os"
	"syscall"
	"time"
)

// fileAttributes reports the Windows last-access time; ownership and
// permission bits have no Unix equivalent there, so defaults are used.
func fileAttributes(info os.FileInfo) attributes {
	attrs := defaultAttributes(info)
	if data, ok := info.Sys().(*syscall.Win32FileAttributeData); ok {
		attrs.atime = time.Unix(0, data.LastAccessTime.Nanoseconds())
	}
	return attrs
}
