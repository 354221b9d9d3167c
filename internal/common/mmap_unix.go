//go:build unix

package common

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MmapFile maps the whole file read-only. An empty file yields an empty,
// unmapped slice.
func MmapFile(f *os.File) ([]byte, error) {
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := stat.Size()
	if size == 0 {
		return []byte{}, nil
	}
	if int64(int(size)) != size {
		return nil, fmt.Errorf("file too large to map: %d bytes", size)
	}

	return unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
}

// MunmapFile unmaps data previously returned by MmapFile.
func MunmapFile(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Munmap(data)
}
