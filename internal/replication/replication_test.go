package replication

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/leapcache-go/internal/core/domain"
)

// applyRecorder collects applied commands in order.
type applyRecorder struct {
	mu       sync.Mutex
	commands []string
}

func (a *applyRecorder) apply(command string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commands = append(a.commands, command)
	return nil
}

func (a *applyRecorder) snapshot() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.commands))
	copy(out, a.commands)
	return out
}

func startTestPrimary(t *testing.T, pingInterval time.Duration) *Primary {
	t.Helper()
	p := NewPrimary(Config{
		Addr:           "127.0.0.1:0",
		PingInterval:   pingInterval,
		BacklogSize:    100,
		ConnectTimeout: 2 * time.Second,
	}, slog.Default())
	if err := p.Start(); err != nil {
		t.Fatalf("primary Start: %v", err)
	}
	t.Cleanup(p.Stop)
	return p
}

func startTestFollower(t *testing.T, masterAddr string, rec *applyRecorder) *Follower {
	t.Helper()
	f := NewFollower(Config{
		MasterAddr:     masterAddr,
		PingInterval:   100 * time.Millisecond,
		ConnectTimeout: 2 * time.Second,
		ReconnectDelay: 50 * time.Millisecond,
	}, rec.apply, slog.Default())
	if err := f.Start(); err != nil {
		t.Fatalf("follower Start: %v", err)
	}
	t.Cleanup(f.Stop)
	return f
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, desc string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestPrimaryOffsetMonotonic(t *testing.T) {
	p := startTestPrimary(t, time.Second)

	for i := uint64(1); i <= 5; i++ {
		if off := p.Propagate("FLUSH"); off != i {
			t.Fatalf("Propagate #%d returned offset %d", i, off)
		}
	}
	if p.Offset() != 5 {
		t.Fatalf("Offset = %d, want 5", p.Offset())
	}
}

func TestTwoFollowersReceiveMutationsInOrder(t *testing.T) {
	p := startTestPrimary(t, time.Second)

	rec1 := &applyRecorder{}
	rec2 := &applyRecorder{}
	f1 := startTestFollower(t, p.Addr(), rec1)
	f2 := startTestFollower(t, p.Addr(), rec2)

	waitFor(t, 3*time.Second, func() bool {
		return f1.State() == domain.LinkOnline && f2.State() == domain.LinkOnline
	}, "both followers online")

	p.Propagate("SET 1 x")
	p.Propagate("SET 2 y")
	p.Propagate("DEL 1")

	waitFor(t, 3*time.Second, func() bool {
		return f1.Offset() == 3 && f2.Offset() == 3
	}, "followers to reach offset 3")

	want := []string{"SET 1 x", "SET 2 y", "DEL 1"}
	for i, rec := range []*applyRecorder{rec1, rec2} {
		got := rec.snapshot()
		if len(got) != len(want) {
			t.Fatalf("follower %d applied %q, want %q", i+1, got, want)
		}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("follower %d applied %q, want %q", i+1, got, want)
			}
		}
	}

	// The primary sees both acks reach its own offset.
	waitFor(t, 3*time.Second, func() bool {
		for _, fd := range p.Followers() {
			if fd.AckedOffset != 3 {
				return false
			}
		}
		return len(p.Followers()) == 2
	}, "acked offsets to reach 3")
}

func TestLateFollowerCatchesUpFromBacklog(t *testing.T) {
	p := startTestPrimary(t, time.Second)

	p.Propagate("SET 1 x")
	p.Propagate("SET 2 y")
	p.Propagate("DEL 1")

	rec := &applyRecorder{}
	f := startTestFollower(t, p.Addr(), rec)

	waitFor(t, 3*time.Second, func() bool { return f.Offset() == 3 }, "catch-up to offset 3")

	got := rec.snapshot()
	want := []string{"SET 1 x", "SET 2 y", "DEL 1"}
	if len(got) != 3 {
		t.Fatalf("applied %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("applied %q, want %q", got, want)
		}
	}
}

func TestSilentFollowerGoesOfflineThenIsRemoved(t *testing.T) {
	p := startTestPrimary(t, 60*time.Millisecond)

	// A hand-rolled follower that registers then goes silent.
	conn, err := net.Dial("tcp", p.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := fmt.Fprintf(conn, "%s\n", FormatSlaveConnect(0)); err != nil {
		t.Fatalf("handshake write: %v", err)
	}
	br := bufio.NewReader(conn)
	reply, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("handshake read: %v", err)
	}
	if !strings.HasPrefix(reply, "MASTER:OK:") {
		t.Fatalf("handshake reply = %q", reply)
	}

	waitFor(t, time.Second, func() bool { return len(p.Followers()) == 1 }, "registration")

	// Silent past 2x the interval: flagged offline but still listed.
	waitFor(t, 2*time.Second, func() bool {
		fds := p.Followers()
		return len(fds) == 1 && !fds[0].Online
	}, "offline flag")

	// Silent past 3x: removed entirely.
	waitFor(t, 2*time.Second, func() bool { return len(p.Followers()) == 0 }, "removal")
}

func TestFollowerDetectsPrimaryStop(t *testing.T) {
	p := startTestPrimary(t, 100*time.Millisecond)
	addr := p.Addr()

	rec := &applyRecorder{}
	f := NewFollower(Config{
		MasterAddr:     addr,
		PingInterval:   50 * time.Millisecond,
		ConnectTimeout: time.Second,
		ReconnectDelay: 50 * time.Millisecond,
	}, rec.apply, slog.Default())
	if err := f.Start(); err != nil {
		t.Fatalf("follower Start: %v", err)
	}
	defer f.Stop()

	waitFor(t, 3*time.Second, func() bool { return f.State() == domain.LinkOnline }, "initial link")

	p.Stop()

	waitFor(t, 3*time.Second, func() bool {
		s := f.State()
		return s == domain.LinkDisconnected || s == domain.LinkError || s == domain.LinkConnecting
	}, "link drop after primary stop")
}

func TestManagerRoles(t *testing.T) {
	m := NewManager(Config{Addr: "127.0.0.1:0"}, nil, slog.Default())
	if m.Role() != domain.RoleMaster {
		t.Fatalf("Role = %q, want master", m.Role())
	}

	m2 := NewManager(Config{MasterAddr: "127.0.0.1:16379"}, func(string) error { return nil }, slog.Default())
	if m2.Role() != domain.RoleSlave {
		t.Fatalf("Role = %q, want slave", m2.Role())
	}

	var nilMgr *Manager
	if nilMgr.Role() != domain.RoleUnknown {
		t.Fatalf("nil manager Role = %q, want unknown", nilMgr.Role())
	}
	nilMgr.Propagate("SET 1 x") // must not panic
	if nilMgr.Offset() != 0 {
		t.Fatalf("nil manager Offset = %d", nilMgr.Offset())
	}
}

func TestPrimaryStatsLag(t *testing.T) {
	p := startTestPrimary(t, time.Second)

	rec := &applyRecorder{}
	f := startTestFollower(t, p.Addr(), rec)

	waitFor(t, 3*time.Second, func() bool { return f.State() == domain.LinkOnline }, "follower online")

	p.Propagate("SET 1 a")
	p.Propagate("SET 2 b")

	waitFor(t, 3*time.Second, func() bool {
		s := p.Stats()
		return s.Offset == 2 && s.ConnectedFollowers == 1 && s.AverageLag == 0
	}, "stats to settle")

	s := p.Stats()
	if s.Role != domain.RoleMaster {
		t.Fatalf("Stats.Role = %q", s.Role)
	}
	if s.CommandsReplicated == 0 || s.BytesReplicated == 0 {
		t.Fatalf("replication counters not advancing: %+v", s)
	}
}
