// Package common holds the building blocks shared by the lookup engine and
// its surfaces: a count-bounded LRU and dataset file loading.
package common

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how a dataset file is encoded on disk.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionLZ4
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

// CompressionFor infers the encoding from the file extension.
func CompressionFor(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".lz4":
		return CompressionLZ4
	case ".zst", ".zstd":
		return CompressionZstd
	default:
		return CompressionNone
	}
}

// NewDecoder wraps r so that reads yield decompressed dataset text.
func NewDecoder(r io.Reader, c Compression) (io.ReadCloser, error) {
	switch c {
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to init zstd decoder: %w", err)
		}
		return dec.IOReadCloser(), nil
	default:
		return io.NopCloser(r), nil
	}
}

// NewEncoder wraps w so that writes are compressed. Close flushes the frame
// but does not close w.
func NewEncoder(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionLZ4:
		lw := lz4.NewWriter(w)
		if err := lw.Apply(lz4.BlockSizeOption(lz4.Block64Kb)); err != nil {
			return nil, fmt.Errorf("failed to configure lz4 writer: %w", err)
		}
		return lw, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, fmt.Errorf("failed to init zstd encoder: %w", err)
		}
		return enc, nil
	default:
		return nopWriteCloser{w}, nil
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// LoadOptions controls how a dataset file is materialized.
type LoadOptions struct {
	// Copy reads the file into heap memory instead of mapping it. Use it when
	// the file may be rewritten in place while the snapshot is alive.
	Copy bool
}

// Dataset is an in-memory snapshot of one dataset file.
type Dataset struct {
	Path        string
	Data        []byte
	Compression Compression
	LoadedAt    time.Time
	mapped      bool
}

// LoadDataset materializes the dataset at path. Plain files are memory
// mapped unless opts.Copy is set; compressed files are always decoded into
// memory.
func LoadDataset(path string, opts LoadOptions) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer func() { _ = f.Close() }()

	ds := &Dataset{
		Path:        path,
		Compression: CompressionFor(path),
		LoadedAt:    time.Now(),
	}

	switch {
	case ds.Compression != CompressionNone:
		dec, err := NewDecoder(f, ds.Compression)
		if err != nil {
			return nil, err
		}
		defer func() { _ = dec.Close() }()
		if ds.Data, err = io.ReadAll(dec); err != nil {
			return nil, fmt.Errorf("failed to decode %s dataset: %w", ds.Compression, err)
		}
	case opts.Copy:
		if ds.Data, err = io.ReadAll(f); err != nil {
			return nil, fmt.Errorf("failed to read dataset: %w", err)
		}
	default:
		if ds.Data, err = MmapFile(f); err != nil {
			return nil, fmt.Errorf("failed to mmap dataset: %w", err)
		}
		ds.mapped = true
	}

	return ds, nil
}

// Close releases the snapshot. The Data slice must not be used afterwards.
func (d *Dataset) Close() error {
	if d == nil || d.Data == nil {
		return nil
	}
	data := d.Data
	d.Data = nil
	if d.mapped {
		d.mapped = false
		return MunmapFile(data)
	}
	return nil
}

// Size returns the snapshot length in bytes.
func (d *Dataset) Size() int {
	return len(d.Data)
}

// CountRows returns the number of data rows after the header. Blank and
// whitespace-only lines are skipped, as the lookup scan skips them.
func (d *Dataset) CountRows() int {
	nl := bytes.IndexByte(d.Data, '\n')
	if nl < 0 {
		return 0
	}
	count := 0
	rest := d.Data[nl+1:]
	for len(rest) > 0 {
		line := rest
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line, rest = rest[:i], rest[i+1:]
		} else {
			rest = nil
		}
		if len(bytes.TrimSpace(line)) > 0 {
			count++
		}
	}
	return count
}
