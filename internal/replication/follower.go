package replication

import (
	"bufio"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/leapcache-go/internal/core/domain"
)

// ApplyFunc applies one replicated command on the follower. The
// implementation must suppress re-replication.
type ApplyFunc func(command string) error

// Follower maintains the link to the primary: handshake, catch-up
// sync, command application with acknowledgment, heartbeats, and
// reconnection with a fixed backoff.
type Follower struct {
	cfg    Config
	apply  ApplyFunc
	logger *slog.Logger

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	offset atomic.Uint64

	mu       sync.Mutex
	state    domain.LinkState
	conn     net.Conn
	lastPong time.Time

	cmdsApplied   atomic.Uint64
	bytesReceived atomic.Uint64
}

// NewFollower creates a follower for the primary at cfg.MasterAddr.
func NewFollower(cfg Config, apply ApplyFunc, logger *slog.Logger) *Follower {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	return &Follower{
		cfg:    cfg,
		apply:  apply,
		logger: logger.With("component", "replication.follower", "master", cfg.MasterAddr),
		stopCh: make(chan struct{}),
		state:  domain.LinkDisconnected,
	}
}

// Start launches the connect/sync/apply loop.
func (f *Follower) Start() error {
	f.running.Store(true)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.run()
	}()
	return nil
}

func (f *Follower) run() {
	for f.running.Load() {
		if err := f.connectAndServe(); err != nil && f.running.Load() {
			f.setState(domain.LinkError)
			f.logger.Warn("replication link failed", "error", err)
		}
		if !f.running.Load() {
			return
		}
		f.setState(domain.LinkDisconnected)
		select {
		case <-time.After(f.cfg.ReconnectDelay):
		case <-f.stopCh:
			return
		}
	}
}

// connectAndServe performs one full link lifetime: dial, handshake,
// sync request, then the apply loop until the connection drops.
func (f *Follower) connectAndServe() error {
	f.setState(domain.LinkConnecting)

	conn, err := net.DialTimeout("tcp", f.cfg.MasterAddr, f.cfg.ConnectTimeout)
	if err != nil {
		return domain.ErrReplicationLink.WithDetails("dial "+f.cfg.MasterAddr).WithCause(err)
	}
	f.mu.Lock()
	f.conn = conn
	f.lastPong = time.Now()
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
		conn.Close()
	}()

	br := bufio.NewReader(conn)

	// Handshake: SLAVE_CONNECT:<offset> -> MASTER:OK:<primary_offset>.
	if err := f.writeLine(conn, FormatSlaveConnect(f.offset.Load())); err != nil {
		return err
	}
	_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ConnectTimeout))
	reply, err := readTrimmedLine(br)
	if err != nil {
		return domain.ErrReplicationHandshake.WithCause(err)
	}
	masterOffset, err := ParseMasterOK(reply)
	if err != nil {
		return err
	}
	f.setState(domain.LinkConnected)
	f.logger.Info("connected to primary", "primary_offset", masterOffset, "local_offset", f.offset.Load())

	// Catch up when behind.
	if f.offset.Load() < masterOffset {
		f.setState(domain.LinkSyncing)
	}
	if err := f.writeLine(conn, FormatSyncRequest(f.offset.Load())); err != nil {
		return err
	}

	f.setState(domain.LinkOnline)

	// Heartbeat sender.
	hbStop := make(chan struct{})
	defer close(hbStop)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.heartbeatLoop(conn, hbStop)
	}()

	// Apply loop. Commands arrive as plain lines; control replies are
	// filtered by prefix.
	for {
		_ = conn.SetReadDeadline(time.Now().Add(3 * f.cfg.PingInterval))
		line, err := readTrimmedLine(br)
		if err != nil {
			return domain.ErrReplicationLink.WithDetails("read stream").WithCause(err)
		}
		if line == "" {
			continue
		}
		f.bytesReceived.Add(uint64(len(line) + 1))

		switch {
		case line == msgPong:
			f.mu.Lock()
			f.lastPong = time.Now()
			f.mu.Unlock()

		case line == msgPing:
			if err := f.writeLine(conn, msgPong); err != nil {
				return err
			}

		case line == msgOK:
			// Ack confirmation; nothing to do.

		case strings.HasPrefix(line, msgSyncOK+":"), strings.HasPrefix(line, msgSyncStart+":"):
			if n, err := ParseSyncReply(line); err == nil && n > 0 {
				f.setState(domain.LinkSyncing)
			} else {
				f.setState(domain.LinkOnline)
			}

		default:
			if err := f.applyCommand(conn, line); err != nil {
				f.logger.Warn("failed to apply replicated command", "command", line, "error", err)
			}
		}
	}
}

// applyCommand applies one streamed command, advances the local offset
// by exactly one, and acknowledges it. A command the local dispatcher
// refuses still takes its stream position; its error is returned after
// the acknowledgment is written.
func (f *Follower) applyCommand(conn net.Conn, command string) error {
	applyErr := f.apply(command)
	off := f.offset.Add(1)
	if applyErr == nil {
		f.cmdsApplied.Add(1)
	}
	f.setState(domain.LinkOnline)
	if err := f.writeLine(conn, FormatCommandAck(off)); err != nil {
		return err
	}
	return applyErr
}

// heartbeatLoop sends PING at the configured interval and drops the
// link when no PONG has been seen for twice the interval.
func (f *Follower) heartbeatLoop(conn net.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.mu.Lock()
			silent := time.Since(f.lastPong)
			f.mu.Unlock()
			if silent > 2*f.cfg.PingInterval {
				f.logger.Warn("primary heartbeat missed, dropping link", "silent", silent)
				f.setState(domain.LinkDisconnected)
				_ = conn.Close()
				return
			}
			if err := f.writeLine(conn, msgPing); err != nil {
				return
			}
		case <-stop:
			return
		case <-f.stopCh:
			return
		}
	}
}

func (f *Follower) writeLine(conn net.Conn, line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(f.cfg.ConnectTimeout))
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return domain.ErrReplicationLink.WithDetails("write " + line).WithCause(err)
	}
	return nil
}

func (f *Follower) setState(s domain.LinkState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// State returns the current link state.
func (f *Follower) State() domain.LinkState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Offset returns the follower's applied offset.
func (f *Follower) Offset() uint64 {
	return f.offset.Load()
}

// SetOffset seeds the applied offset, used when recovering state.
func (f *Follower) SetOffset(off uint64) {
	f.offset.Store(off)
}

// Stats summarizes replication progress from the follower's side.
func (f *Follower) Stats() Stats {
	return Stats{
		Role:               domain.RoleSlave,
		Offset:             f.offset.Load(),
		CommandsReplicated: f.cmdsApplied.Load(),
		BytesReplicated:    f.bytesReceived.Load(),
	}
}

// Stop terminates the link and the reconnect loop.
func (f *Follower) Stop() {
	if !f.running.CompareAndSwap(true, false) {
		return
	}
	close(f.stopCh)
	f.mu.Lock()
	if f.conn != nil {
		_ = f.conn.Close()
	}
	f.mu.Unlock()
	f.wg.Wait()
}

func readTrimmedLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
