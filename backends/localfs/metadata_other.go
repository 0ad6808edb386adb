//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !windows

package localfs

import "os"

func fileAttributes(info os.FileInfo) attributes {
	return defaultAttributes(info)
}
