//go:build unix

package collector

import (
	"os"
	"syscall"
)

// fileID returns the inode behind info, or 0 when it is not available.
func fileID(info os.FileInfo) int64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return int64(st.Ino)
	}
	return 0
}
