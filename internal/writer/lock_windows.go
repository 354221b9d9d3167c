//go:build windows

package writer

import (
	"os"

	"golang.org/x/sys/windows"
)

// lockFile takes an exclusive lock over the whole file.
func lockFile(file *os.File) error {
	ol := new(windows.Overlapped)
	return windows.LockFileEx(windows.Handle(file.Fd()), windows.LOCKFILE_EXCLUSIVE_LOCK, 0, ^uint32(0), ^uint32(0), ol)
}

func unlockFile(file *os.File) error {
	ol := new(windows.Overlapped)
	return windows.UnlockFileEx(windows.Handle(file.Fd()), 0, ^uint32(0), ^uint32(0), ol)
}
