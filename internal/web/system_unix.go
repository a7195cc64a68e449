//go:build linux || darwin

package web

import (
	"golang.org/x/sys/unix"
)

func snapshotDisk(path string) *DiskSnapshot {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return &DiskSnapshot{Path: path, LastError: err.Error()}
	}

	bsize := uint64(st.Bsize)
	return &DiskSnapshot{
		Path:       path,
		TotalBytes: uint64(st.Blocks) * bsize,
		FreeBytes:  uint64(st.Bfree) * bsize,
		AvailBytes: uint64(st.Bavail) * bsize,
	}
}
