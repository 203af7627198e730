package replication

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/leapcache-go/internal/core/domain"
)

// Default timings and bounds.
const (
	DefaultListenAddr     = ":16379"
	DefaultPingInterval   = 10 * time.Second
	DefaultConnectTimeout = 5 * time.Second
	DefaultReconnectDelay = 5 * time.Second

	// outboundQueueLen bounds the per-follower send queue. A follower
	// that cannot drain it is dropped to offline rather than letting
	// the primary block.
	outboundQueueLen = 1024
)

// followerLink is the primary's live view of one registered follower.
type followerLink struct {
	addr     string
	conn     net.Conn
	out      chan string
	done     chan struct{}
	doneOnce sync.Once

	mu            sync.Mutex
	state         domain.LinkState
	ackedOffset   uint64
	lastHeartbeat time.Time
	online        bool

	// lastSent is the highest offset enqueued to this link, live or by
	// catch-up stream. Guarded by the primary's syncMu so live fan-out
	// stays contiguous with sync streaming.
	lastSent uint64
}

func (fl *followerLink) touch() {
	fl.mu.Lock()
	fl.lastHeartbeat = time.Now()
	fl.mu.Unlock()
}

func (fl *followerLink) setState(s domain.LinkState, online bool) {
	fl.mu.Lock()
	fl.state = s
	fl.online = online
	fl.mu.Unlock()
}

func (fl *followerLink) snapshot() domain.Follower {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return domain.Follower{
		Addr:          fl.addr,
		State:         fl.state,
		AckedOffset:   fl.ackedOffset,
		LastHeartbeat: fl.lastHeartbeat,
		Online:        fl.online,
	}
}

// send enqueues one line for the link's writer. It reports false when
// the queue is full or the link is closed.
func (fl *followerLink) send(line string) bool {
	select {
	case <-fl.done:
		return false
	default:
	}
	select {
	case fl.out <- line:
		return true
	default:
		return false
	}
}

func (fl *followerLink) close() {
	fl.doneOnce.Do(func() { close(fl.done) })
	_ = fl.conn.Close()
}

// Primary runs the replication listener and fans accepted mutations
// out to registered followers.
type Primary struct {
	cfg    Config
	logger *slog.Logger

	ln      net.Listener
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	offset  atomic.Uint64
	backlog *Backlog

	// syncMu serializes live fan-out against catch-up streaming so a
	// follower sees every offset exactly once, in order.
	syncMu sync.Mutex

	mu        sync.Mutex
	followers map[string]*followerLink

	cmdsReplicated  atomic.Uint64
	bytesReplicated atomic.Uint64
}

// NewPrimary creates a primary replication endpoint.
func NewPrimary(cfg Config, logger *slog.Logger) *Primary {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	return &Primary{
		cfg:       cfg,
		logger:    logger.With("component", "replication.primary"),
		stopCh:    make(chan struct{}),
		backlog:   NewBacklog(cfg.BacklogSize),
		followers: make(map[string]*followerLink),
	}
}

// Start binds the replication listener and launches the accept and
// heartbeat loops.
func (p *Primary) Start() error {
	ln, err := net.Listen("tcp", p.cfg.Addr)
	if err != nil {
		return domain.ErrReplicationLink.WithDetails("bind "+p.cfg.Addr).WithCause(err)
	}
	p.ln = ln
	p.running.Store(true)
	p.logger.Info("replication listener started", "addr", p.cfg.Addr)

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.acceptLoop()
	}()
	go func() {
		defer p.wg.Done()
		p.heartbeatLoop()
	}()
	return nil
}

func (p *Primary) acceptLoop() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			if !p.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			p.logger.Warn("replication accept failed", "error", err)
			continue
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.serveFollower(conn)
		}()
	}
}

// serveFollower reads control messages from one follower connection.
// All writes to the connection go through the link's writer goroutine
// so streamed commands and control replies never interleave.
func (p *Primary) serveFollower(conn net.Conn) {
	addr := conn.RemoteAddr().String()
	link := p.register(addr, conn)
	defer p.disconnect(link)

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		link.touch()

		switch {
		case strings.HasPrefix(line, msgSlaveConnect+":"):
			off, err := parseSuffixOffset(line)
			if err != nil {
				p.logger.Warn("corrupt handshake", "addr", addr, "line", line)
				return
			}
			p.handleHandshake(link, off)

		case line == msgPing:
			link.send(msgPong)

		case line == msgPong:
			// Heartbeat reply; lastHeartbeat already refreshed.

		case strings.HasPrefix(line, msgSyncRequest+":"):
			off, err := parseSuffixOffset(line)
			if err != nil {
				p.logger.Warn("corrupt sync request", "addr", addr, "line", line)
				return
			}
			p.handleSyncRequest(link, off)

		case strings.HasPrefix(line, msgCommandAck+":"):
			off, err := parseSuffixOffset(line)
			if err != nil {
				p.logger.Warn("corrupt ack", "addr", addr, "line", line)
				return
			}
			link.mu.Lock()
			if off > link.ackedOffset {
				link.ackedOffset = off
			}
			link.mu.Unlock()
			link.send(msgOK)

		default:
			p.logger.Debug("ignoring unknown control message", "addr", addr, "line", line)
		}
	}
}

// handleHandshake registers the follower and reports the primary
// offset. Catch-up streaming happens on the follower's SYNC_REQUEST
// that follows, so the backlog is never streamed twice.
func (p *Primary) handleHandshake(link *followerLink, followerOffset uint64) {
	p.syncMu.Lock()
	cur := p.offset.Load()
	link.lastSent = followerOffset
	link.mu.Lock()
	if followerOffset > link.ackedOffset {
		link.ackedOffset = followerOffset
	}
	link.mu.Unlock()
	link.send(FormatMasterOK(cur))

	if followerOffset < cur {
		link.setState(domain.LinkSyncing, false)
	} else {
		link.setState(domain.LinkOnline, true)
	}
	p.syncMu.Unlock()
	p.logger.Info("follower registered", "addr", link.addr, "offset", followerOffset, "primary_offset", cur)
}

// handleSyncRequest streams the retained entries past the follower's
// offset and flips it online. Holding syncMu here and in Propagate
// guarantees the stream and subsequent live fan-out interleave in
// offset order with no gap and no duplicate.
func (p *Primary) handleSyncRequest(link *followerLink, followerOffset uint64) {
	p.syncMu.Lock()
	defer p.syncMu.Unlock()

	// Entries already enqueued live must not be streamed twice.
	from := followerOffset
	if link.lastSent > from {
		from = link.lastSent
	}

	if from >= p.offset.Load() {
		link.send(msgSyncOK + ":0")
		link.setState(domain.LinkOnline, true)
		return
	}
	if oldest := p.backlog.OldestOffset(); oldest > from+1 {
		// The follower is older than the retained log; filling the gap
		// needs a snapshot bootstrap, which this protocol does not
		// carry. Stream what is retained and warn.
		p.logger.Warn("follower behind backlog, partial sync only",
			"addr", link.addr, "follower_offset", from, "oldest_retained", oldest)
	}
	entries := p.backlog.Since(from)
	link.setState(domain.LinkSyncing, false)
	link.send(FormatSyncStart(len(entries)))
	for _, e := range entries {
		if !link.send(e.Command) {
			p.logger.Warn("follower send queue full during sync, dropping offline", "addr", link.addr)
			link.setState(domain.LinkDisconnected, false)
			return
		}
		link.lastSent = e.Offset
	}
	link.setState(domain.LinkOnline, true)
}

// register adds or refreshes the follower descriptor for addr and
// starts its writer goroutine.
func (p *Primary) register(addr string, conn net.Conn) *followerLink {
	link := &followerLink{
		addr:          addr,
		conn:          conn,
		out:           make(chan string, outboundQueueLen),
		done:          make(chan struct{}),
		state:         domain.LinkConnected,
		lastHeartbeat: time.Now(),
	}

	p.mu.Lock()
	p.followers[addr] = link
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.writeLoop(link)
	}()
	return link
}

func (p *Primary) writeLoop(link *followerLink) {
	for {
		select {
		case line := <-link.out:
			_ = link.conn.SetWriteDeadline(time.Now().Add(p.cfg.ConnectTimeout))
			if _, err := link.conn.Write([]byte(line + "\n")); err != nil {
				link.setState(domain.LinkError, false)
				link.close()
				return
			}
			p.bytesReplicated.Add(uint64(len(line) + 1))
		case <-link.done:
			return
		}
	}
}

func (p *Primary) disconnect(link *followerLink) {
	link.setState(domain.LinkDisconnected, false)
	link.close()
}

// remove drops the descriptor for addr entirely.
func (p *Primary) remove(addr string) {
	p.mu.Lock()
	link, ok := p.followers[addr]
	if ok {
		delete(p.followers, addr)
	}
	p.mu.Unlock()
	if ok {
		link.close()
	}
}

// heartbeatLoop pings followers and reaps silent ones: older than
// twice the ping interval goes offline, older than three times is
// removed.
func (p *Primary) heartbeatLoop() {
	interval := p.cfg.PingInterval
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-p.stopCh:
			return
		}
		now := time.Now()
		for _, link := range p.links() {
			link.mu.Lock()
			silent := now.Sub(link.lastHeartbeat)
			link.mu.Unlock()

			switch {
			case silent > 3*interval:
				p.logger.Info("removing silent follower", "addr", link.addr, "silent", silent)
				p.remove(link.addr)
			case silent > 2*interval:
				link.setState(domain.LinkDisconnected, false)
			default:
				link.send(msgPing)
			}
		}
	}
}

func (p *Primary) links() []*followerLink {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*followerLink, 0, len(p.followers))
	for _, l := range p.followers {
		out = append(out, l)
	}
	return out
}

// Propagate assigns the next offset to command, appends it to the
// backlog, and enqueues it for every online follower. It never blocks
// on follower I/O. The returned offset identifies the mutation in the
// stream.
func (p *Primary) Propagate(command string) uint64 {
	p.syncMu.Lock()
	defer p.syncMu.Unlock()

	off := p.offset.Add(1)
	p.backlog.Append(off, command)

	for _, link := range p.links() {
		link.mu.Lock()
		online := link.online
		link.mu.Unlock()
		// Only contiguous streams stay live; a link with a gap waits
		// for its catch-up sync instead.
		if !online || link.lastSent != off-1 {
			continue
		}
		if link.send(command) {
			link.lastSent = off
			p.cmdsReplicated.Add(1)
		} else {
			p.logger.Warn("follower send queue full, dropping offline", "addr", link.addr)
			link.setState(domain.LinkDisconnected, false)
		}
	}
	return off
}

// Addr returns the bound listener address; empty before Start.
func (p *Primary) Addr() string {
	if p.ln == nil {
		return ""
	}
	return p.ln.Addr().String()
}

// Offset returns the primary's current replication offset.
func (p *Primary) Offset() uint64 {
	return p.offset.Load()
}

// SetOffset seeds the offset counter, used when recovering state.
func (p *Primary) SetOffset(off uint64) {
	p.offset.Store(off)
}

// Followers returns a snapshot of all registered descriptors.
func (p *Primary) Followers() []domain.Follower {
	links := p.links()
	out := make([]domain.Follower, 0, len(links))
	for _, l := range links {
		out = append(out, l.snapshot())
	}
	return out
}

// Stats summarizes replication progress.
func (p *Primary) Stats() Stats {
	followers := p.Followers()
	cur := p.offset.Load()

	var online int
	var lagSum uint64
	for _, f := range followers {
		if f.Online {
			online++
		}
		if cur > f.AckedOffset {
			lagSum += cur - f.AckedOffset
		}
	}
	var avgLag float64
	if len(followers) > 0 {
		avgLag = float64(lagSum) / float64(len(followers))
	}
	return Stats{
		Role:               domain.RoleMaster,
		Offset:             cur,
		ConnectedFollowers: online,
		CommandsReplicated: p.cmdsReplicated.Load(),
		BytesReplicated:    p.bytesReplicated.Load(),
		AverageLag:         avgLag,
	}
}

// Stop closes the listener and all follower connections.
func (p *Primary) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	if p.ln != nil {
		_ = p.ln.Close()
	}
	for _, link := range p.links() {
		p.remove(link.addr)
	}
	p.wg.Wait()
	p.logger.Info("replication listener stopped")
}
