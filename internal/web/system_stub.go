//go:build !linux && !darwin

package web

func snapshotDisk(path string) *DiskSnapshot {
	return nil
}
