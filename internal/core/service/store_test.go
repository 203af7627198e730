package service

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/yndnr/leapcache-go/internal/core/domain"
	"github.com/yndnr/leapcache-go/internal/storage/aof"
	"github.com/yndnr/leapcache-go/internal/storage/skiplist"
	"github.com/yndnr/leapcache-go/internal/storage/snapshot"
)

func newTestStore(t *testing.T, withAOF bool) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	index := skiplist.New(skiplist.DefaultMaxLevel)

	snapMgr, err := snapshot.NewManager(snapshot.Config{
		Path: filepath.Join(dir, "dumpFile"),
	}, index)
	if err != nil {
		t.Fatalf("snapshot.NewManager: %v", err)
	}

	var aofLog *aof.Log
	aofPath := filepath.Join(dir, "appendonly.aof")
	if withAOF {
		aofLog, err = aof.Open(aof.Config{Path: aofPath, Policy: aof.FsyncAlways})
		if err != nil {
			t.Fatalf("aof.Open: %v", err)
		}
		t.Cleanup(func() { aofLog.Close() })
	}

	return NewStore(index, aofLog, snapMgr, slog.Default()), aofPath
}

func TestSetGetDelete(t *testing.T) {
	s, _ := newTestStore(t, false)

	if err := s.Set(42, []byte("hello"), ModeClient); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok := s.Get(42)
	if !ok || string(v) != "hello" {
		t.Fatalf("Get = %q, %v", v, ok)
	}
	if !s.Exists(42) {
		t.Fatalf("Exists(42) = false")
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}

	if !s.Delete(42, ModeClient) {
		t.Fatalf("Delete(42) = false, want true")
	}
	if s.Delete(42, ModeClient) {
		t.Fatalf("Delete(42) again = true, want false")
	}
}

func TestSetDuplicateKeepsFirstValue(t *testing.T) {
	s, _ := newTestStore(t, false)

	if err := s.Set(1, []byte("v1"), ModeClient); err != nil {
		t.Fatalf("first Set: %v", err)
	}
	err := s.Set(1, []byte("v2"), ModeClient)
	if !domain.IsDomainError(err, domain.ErrKeyExists.Code) {
		t.Fatalf("second Set err = %v", err)
	}
	v, _ := s.Get(1)
	if string(v) != "v1" {
		t.Fatalf("value = %q, want v1", v)
	}
}

func TestMutationsReachAOF(t *testing.T) {
	s, aofPath := newTestStore(t, true)

	_ = s.Set(1, []byte("a"), ModeClient)
	s.Delete(1, ModeClient)
	s.Delete(99, ModeClient) // absent key still logs, per the wire contract
	s.Flush(ModeClient)

	data, err := os.ReadFile(aofPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "SET 1 a\nDEL 1\nDEL 99\nFLUSH\n"
	if string(data) != want {
		t.Fatalf("aof = %q, want %q", data, want)
	}
}

func TestRejectedSetDoesNotReachAOF(t *testing.T) {
	s, aofPath := newTestStore(t, true)

	_ = s.Set(1, []byte("a"), ModeClient)
	_ = s.Set(1, []byte("b"), ModeClient) // refused, must not log

	data, err := os.ReadFile(aofPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "SET 1 a\n" {
		t.Fatalf("aof = %q, want only the accepted SET", data)
	}
}

func TestReplayModeSuppressesAOF(t *testing.T) {
	s, aofPath := newTestStore(t, true)

	_ = s.Set(1, []byte("a"), ModeReplay)
	s.Flush(ModeReplay)

	data, err := os.ReadFile(aofPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("aof = %q, want empty under ModeReplay", data)
	}
}

func TestKeysGlob(t *testing.T) {
	s, _ := newTestStore(t, false)
	for _, k := range []int64{1, 2, 10, 12, 25} {
		_ = s.Set(k, []byte("v"), ModeReplay)
	}

	all := s.Keys("*")
	if len(all) != 5 {
		t.Fatalf("Keys(*) = %v", all)
	}
	// Ascending numeric order.
	for i := 1; i < len(all); i++ {
		if all[i] <= all[i-1] {
			t.Fatalf("Keys not ascending: %v", all)
		}
	}

	ones := s.Keys("1*")
	if len(ones) != 3 || ones[0] != 1 || ones[1] != 10 || ones[2] != 12 {
		t.Fatalf("Keys(1*) = %v", ones)
	}
	if got := s.Keys("25"); len(got) != 1 || got[0] != 25 {
		t.Fatalf("Keys(25) = %v", got)
	}
	if got := s.Keys("*2"); len(got) != 2 {
		t.Fatalf("Keys(*2) = %v", got)
	}
}

func TestSaveAndLoadSnapshot(t *testing.T) {
	s, _ := newTestStore(t, false)

	_ = s.Set(7, []byte("z"), ModeClient)
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.Flush(ModeClient)
	if err := s.LoadSnapshot(); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if !s.Exists(7) {
		t.Fatalf("key 7 missing after snapshot load")
	}
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern, s string
		want       bool
	}{
		{"*", "anything", true},
		{"", "", true},
		{"", "x", false},
		{"42", "42", true},
		{"42", "43", false},
		{"4*", "42", true},
		{"4*", "24", false},
		{"*2", "42", true},
		{"*2", "24", false},
		{"1*3", "123", true},
		{"1*3", "13", true},
		{"1*3", "124", false},
		{"*2*", "123", true},
		{"*9*", "123", false},
	}
	for _, tt := range tests {
		if got := matchGlob(tt.pattern, tt.s); got != tt.want {
			t.Fatalf("matchGlob(%q, %q) = %v, want %v", tt.pattern, tt.s, got, tt.want)
		}
	}
}

func TestStatsCounters(t *testing.T) {
	st := NewStats()

	st.IncrCommand("SET")
	st.IncrCommand("SET")
	st.IncrCommand("GET")
	st.ConnOpened()
	st.ConnOpened()
	st.ConnClosed()

	if st.TotalCommands() != 3 {
		t.Fatalf("TotalCommands = %d, want 3", st.TotalCommands())
	}
	if st.CurrentConnections() != 1 {
		t.Fatalf("CurrentConnections = %d, want 1", st.CurrentConnections())
	}
	if st.TotalConnections() != 2 {
		t.Fatalf("TotalConnections = %d, want 2", st.TotalConnections())
	}
	per := st.PerCommand()
	if per["SET"] != 2 || per["GET"] != 1 {
		t.Fatalf("PerCommand = %v", per)
	}
	if st.Uptime() < 0 {
		t.Fatalf("Uptime negative")
	}
}
