// Package lock guards a store file against a second server process.
package lock

import (
	"errors"
	"os"
)

// ErrLocked is returned when another process already holds the lock.
var ErrLocked = errors.New("lock is held by another process")

// Lock is an exclusive advisory lock backed by an open file. The file must
// stay open for as long as the lock is held.
type Lock struct {
	f *os.File
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	if l == nil || l.f == nil {
		return ""
	}
	return l.f.Name()
}
