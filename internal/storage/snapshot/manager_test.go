package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yndnr/leapcache-go/internal/storage/skiplist"
)

func newTestManager(t *testing.T, interval time.Duration) (*Manager, *skiplist.SkipList, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dumpFile")
	index := skiplist.New(skiplist.DefaultMaxLevel)
	m, err := NewManager(Config{Path: path, Interval: interval}, index)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, index, path
}

func TestSaveAndLoad(t *testing.T) {
	m, index, path := newTestManager(t, 0)

	_ = index.Insert(1, []byte("one"))
	_ = index.Insert(42, []byte("hello"))

	if err := m.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "1:one;\n42:hello;\n" {
		t.Fatalf("snapshot = %q", data)
	}

	index.Clear()
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if index.Len() != 2 {
		t.Fatalf("Len after load = %d, want 2", index.Len())
	}
	v, ok := index.Get(42)
	if !ok || string(v) != "hello" {
		t.Fatalf("Get(42) = %q, %v", v, ok)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	m, _, _ := newTestManager(t, 0)
	if err := m.Load(); err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
}

func TestSaveReplacesAtomically(t *testing.T) {
	m, index, path := newTestManager(t, 0)

	_ = index.Insert(1, []byte("a"))
	if err := m.Save(); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	_ = index.Insert(2, []byte("b"))
	if err := m.Save(); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "1:a;\n2:b;\n" {
		t.Fatalf("snapshot = %q", data)
	}

	// No temp files may linger next to the snapshot.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("leftover files: %v", names)
	}
}

func TestPeriodicSave(t *testing.T) {
	m, index, path := newTestManager(t, 20*time.Millisecond)
	defer m.Stop()

	_ = index.Insert(9, []byte("x"))
	m.Start(nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(path); err == nil && string(data) == "9:x;\n" {
			if m.LastSave().IsZero() {
				t.Fatalf("LastSave not recorded")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("periodic task never saved")
}

func TestPeriodicSaveThroughSubmit(t *testing.T) {
	m, index, path := newTestManager(t, 20*time.Millisecond)
	defer m.Stop()

	_ = index.Insert(3, []byte("y"))

	jobs := make(chan func(), 16)
	m.Start(func(job func()) { jobs <- job })

	select {
	case job := <-jobs:
		job()
	case <-time.After(2 * time.Second):
		t.Fatalf("no job submitted")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "3:y;\n" {
		t.Fatalf("snapshot = %q", data)
	}
}
