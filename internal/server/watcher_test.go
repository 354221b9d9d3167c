package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/csvquery/matchcache/internal/query"
	"github.com/csvquery/matchcache/internal/writer"
)

func TestWatcherSignalsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.csv")
	writeCSV(t, path, testCSV)

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// Changes to other files in the directory are ignored.
	writeCSV(t, filepath.Join(dir, "other.csv"), "x")
	select {
	case <-w.Events():
		t.Fatal("unexpected event for unrelated file")
	case <-time.After(3 * watchDebounce):
	}

	writeCSV(t, path, "a,b,value\n1,2,9\n")
	select {
	case <-w.Events():
	case <-time.After(5 * time.Second):
		t.Fatal("no event after write")
	}
}

func TestWatcherStopClosesEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	writeCSV(t, path, testCSV)
	w, err := NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()

	select {
	case _, ok := <-w.Events():
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events channel not closed")
	}
}

func TestStoreWatchReloads(t *testing.T) {
	s := newTestStore(t, testCSV)
	stop := make(chan struct{})
	defer close(stop)
	if err := s.Watch(stop); err != nil {
		t.Fatal(err)
	}

	tmp := s.Path() + ".tmp"
	writeCSV(t, tmp, "a,b,value\n1,2,42\n")
	if err := os.Rename(tmp, s.Path()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := s.Lookup(query.Query{"a": 1, "b": 2}); got == "42" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("store did not reload after rename")
}

func TestStoreWatchReloadsAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	writeCSV(t, path, longCSV(40))
	s, err := OpenStore(path, query.EngineConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	q := query.Query{"a": 9, "b": 9}
	if got, _ := s.Lookup(q); got != query.NotFound {
		t.Fatalf("Lookup = %q, want %s", got, query.NotFound)
	}

	stop := make(chan struct{})
	defer close(stop)
	if err := s.Watch(stop); err != nil {
		t.Fatal(err)
	}

	w := writer.NewCsvWriter(writer.WriterConfig{CsvPath: path})
	if err := w.Write(nil, [][]string{{"9", "9", "42"}}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := s.Lookup(q); got == "42" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("store kept the cached miss after an appended row")
}
