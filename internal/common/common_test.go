package common

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

const sampleCSV = "a,b,value\n1,2,300\n\n4,5,600\n"

func writeEncoded(t *testing.T, path string, data []byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc, err := NewEncoder(f, CompressionFor(path))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := enc.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestCompressionFor(t *testing.T) {
	tests := []struct {
		path string
		want Compression
	}{
		{"data.csv", CompressionNone},
		{"data.dat", CompressionNone},
		{"data.csv.lz4", CompressionLZ4},
		{"DATA.LZ4", CompressionLZ4},
		{"data.csv.zst", CompressionZstd},
		{"data.zstd", CompressionZstd},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := CompressionFor(tt.path); got != tt.want {
				t.Errorf("CompressionFor(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestLoadDataset(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		file string
		opts LoadOptions
	}{
		{"mmap", "plain.csv", LoadOptions{}},
		{"copy", "copy.csv", LoadOptions{Copy: true}},
		{"lz4", "packed.csv.lz4", LoadOptions{}},
		{"zstd", "packed.csv.zst", LoadOptions{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			writeEncoded(t, path, []byte(sampleCSV))

			ds, err := LoadDataset(path, tt.opts)
			if err != nil {
				t.Fatalf("LoadDataset() error = %v", err)
			}
			defer func() { _ = ds.Close() }()

			if !bytes.Equal(ds.Data, []byte(sampleCSV)) {
				t.Errorf("Data = %q, want %q", ds.Data, sampleCSV)
			}
			if ds.Compression != CompressionFor(path) {
				t.Errorf("Compression = %v", ds.Compression)
			}
			if got := ds.CountRows(); got != 2 {
				t.Errorf("CountRows() = %d, want 2", got)
			}
		})
	}
}

func TestLoadDatasetEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}

	ds, err := LoadDataset(path, LoadOptions{})
	if err != nil {
		t.Fatalf("LoadDataset() error = %v", err)
	}
	if ds.Size() != 0 || ds.CountRows() != 0 {
		t.Errorf("empty dataset: size=%d rows=%d", ds.Size(), ds.CountRows())
	}
	if err := ds.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestLoadDatasetMissing(t *testing.T) {
	if _, err := LoadDataset(filepath.Join(t.TempDir(), "nope.csv"), LoadOptions{}); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDatasetCloseTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0644); err != nil {
		t.Fatal(err)
	}
	ds, err := LoadDataset(path, LoadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := ds.Close(); err != nil {
		t.Fatal(err)
	}
	if err := ds.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestCountRows(t *testing.T) {
	tests := []struct {
		name string
		data string
		want int
	}{
		{"no trailing newline", "h\nr1\nr2", 2},
		{"header only", "h\n", 0},
		{"header without newline", "h", 0},
		{"blank lines skipped", "h\n\nr1\n  \n\r\nr2\n\n", 2},
		{"crlf", "h\r\nr1\r\nr2\r\n", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := &Dataset{Data: []byte(tt.data)}
			if got := ds.CountRows(); got != tt.want {
				t.Errorf("CountRows() = %d, want %d", got, tt.want)
			}
		})
	}
}
