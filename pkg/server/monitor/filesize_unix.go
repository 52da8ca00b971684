//go:build !windows

package monitor

import (
	"io/fs"
	"syscall"
)

// diskUsage returns the bytes allocated to a file, which is smaller than
// its logical size for sparse files such as badger value logs.
func diskUsage(_ string, info fs.FileInfo) int64 {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return stat.Blocks * 512
	}
	return info.Size()
}
