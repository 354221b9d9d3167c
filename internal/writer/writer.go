// Package writer produces delimited datasets the lookup engine can scan:
// plain appends under an exclusive file lock, or streamed creation with
// optional lz4/zstd compression.
package writer

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/csvquery/matchcache/internal/common"
)

// WriterConfig holds configuration for the writer
type WriterConfig struct {
	CsvPath   string
	Separator string
}

// CsvWriter writes rows to a dataset file.
type CsvWriter struct {
	config WriterConfig
	sep    byte
}

// NewCsvWriter creates a new writer instance
func NewCsvWriter(config WriterConfig) *CsvWriter {
	if config.Separator == "" {
		config.Separator = ","
	}
	return &CsvWriter{config: config, sep: config.Separator[0]}
}

// Write appends rows to the dataset.
// A new or empty file gets headers as its first line. An existing file must
// already carry exactly these headers when headers is non-empty.
// Compressed datasets cannot be appended to.
func (w *CsvWriter) Write(headers []string, rows [][]string) error {
	if c := common.CompressionFor(w.config.CsvPath); c != common.CompressionNone {
		return fmt.Errorf("cannot append to %s dataset %s", c, w.config.CsvPath)
	}
	if err := w.checkRows(headers, rows); err != nil {
		return err
	}

	dir := filepath.Dir(w.config.CsvPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(w.config.CsvPath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if err := lockFile(file); err != nil {
		return fmt.Errorf("failed to lock file: %w", err)
	}
	defer unlockFile(file)

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(file)
	if stat.Size() == 0 {
		if len(headers) == 0 {
			return errors.New("cannot create new file without headers")
		}
		w.writeLine(bw, headers)
	} else {
		if len(headers) > 0 {
			existing, err := w.readHeader(file)
			if err != nil {
				return err
			}
			if !slices.Equal(existing, headers) {
				return fmt.Errorf("header mismatch. File: %v, New: %v", existing, headers)
			}
		}
		// Rows always start on a fresh line.
		last := make([]byte, 1)
		if _, err := file.ReadAt(last, stat.Size()-1); err != nil {
			return fmt.Errorf("failed to read file tail: %w", err)
		}
		if last[0] != '\n' {
			bw.WriteByte('\n')
		}
	}

	for _, row := range rows {
		w.writeLine(bw, row)
	}
	return bw.Flush()
}

// Stream creates (or truncates) the dataset and writes headers followed by
// every row produced by next until it reports false. The output is
// compressed when the path ends in .lz4, .zst or .zstd. It returns the
// number of rows written.
func (w *CsvWriter) Stream(headers []string, next func() ([]string, bool)) (int, error) {
	if len(headers) == 0 {
		return 0, errors.New("cannot create new file without headers")
	}
	if err := w.checkRows(headers, nil); err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(w.config.CsvPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.Create(w.config.CsvPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := lockFile(file); err != nil {
		return 0, fmt.Errorf("failed to lock file: %w", err)
	}
	defer unlockFile(file)

	enc, err := common.NewEncoder(file, common.CompressionFor(w.config.CsvPath))
	if err != nil {
		return 0, err
	}
	bw := bufio.NewWriterSize(enc, 1<<20)

	w.writeLine(bw, headers)
	n := 0
	for {
		row, ok := next()
		if !ok {
			break
		}
		if err := w.checkRow(row); err != nil {
			enc.Close()
			return n, fmt.Errorf("row %d: %w", n, err)
		}
		w.writeLine(bw, row)
		n++
	}

	if err := bw.Flush(); err != nil {
		enc.Close()
		return n, err
	}
	if err := enc.Close(); err != nil {
		return n, err
	}
	return n, file.Sync()
}

func (w *CsvWriter) writeLine(bw *bufio.Writer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			bw.WriteByte(w.sep)
		}
		bw.WriteString(f)
	}
	bw.WriteByte('\n')
}

// readHeader returns the trimmed names on the file's first line.
func (w *CsvWriter) readHeader(r io.ReaderAt) ([]string, error) {
	br := bufio.NewReader(io.NewSectionReader(r, 0, 1<<62))
	line, err := br.ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read existing headers: %w", err)
	}
	line = bytes.TrimPrefix(line, []byte("\xEF\xBB\xBF"))
	line = bytes.TrimRight(line, "\r\n")

	parts := strings.Split(string(line), string(w.sep))
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, nil
}

// Rows are written verbatim, with no quoting, so a field must not contain
// the separator or a line break.
func (w *CsvWriter) checkRow(fields []string) error {
	for _, f := range fields {
		if strings.IndexByte(f, w.sep) >= 0 || strings.ContainsAny(f, "\r\n") {
			return fmt.Errorf("field %q contains the separator or a line break", f)
		}
	}
	return nil
}

func (w *CsvWriter) checkRows(headers []string, rows [][]string) error {
	if err := w.checkRow(headers); err != nil {
		return fmt.Errorf("header: %w", err)
	}
	for i, row := range rows {
		if err := w.checkRow(row); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return nil
}
