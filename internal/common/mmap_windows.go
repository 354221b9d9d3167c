//go:build windows

package common

import (
	"io"
	"os"
)

// MmapFile falls back to reading the whole file on Windows.
func MmapFile(f *os.File) ([]byte, error) {
	return io.ReadAll(f)
}

// MunmapFile is a no-op for heap-backed data.
func MunmapFile(data []byte) error {
	return nil
}
