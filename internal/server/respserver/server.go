package respserver

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/leapcache-go/internal/telemetry/metric"
	"github.com/yndnr/leapcache-go/pkg/workqueue"
)

// Config holds the RESP server configuration.
type Config struct {
	// Addr is the listen address, e.g. "0.0.0.0:6379".
	Addr string
	// MaxConnections caps concurrent clients; 0 means unlimited.
	MaxConnections int
	// ReadTimeout is the timeout for reading a command (default 30s).
	ReadTimeout time.Duration
	// WriteTimeout is the timeout for writing a response (default 30s).
	WriteTimeout time.Duration
	// IdleTimeout is the timeout for idle connections (default 5m).
	IdleTimeout time.Duration
	// Workers sizes the offload pool.
	Workers int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:           "0.0.0.0:6379",
		MaxConnections: 1000,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    5 * time.Minute,
		Workers:        workqueue.DefaultWorkers,
	}
}

// Conn represents a single client connection.
type Conn struct {
	netConn net.Conn
	cr      *CommandReader
	bw      *bufio.Writer

	stateMu       sync.Mutex
	authenticated bool
	database      int
	closeAfter    bool

	closed atomic.Bool
}

func newConn(c net.Conn) *Conn {
	return &Conn{
		netConn: c,
		cr:      NewCommandReader(c),
		bw:      bufio.NewWriter(c),
	}
}

func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.netConn.Close()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.netConn.RemoteAddr()
}

// RemoteIP returns the peer address without the port.
func (c *Conn) RemoteIP() string {
	addr := c.netConn.RemoteAddr().String()
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

func (c *Conn) Authenticated() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.authenticated
}

func (c *Conn) SetAuthenticated(v bool) {
	c.stateMu.Lock()
	c.authenticated = v
	c.stateMu.Unlock()
}

// Database returns the recorded SELECT index.
func (c *Conn) Database() int {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.database
}

func (c *Conn) SetDatabase(db int) {
	c.stateMu.Lock()
	c.database = db
	c.stateMu.Unlock()
}

// CloseAfterReply marks the connection for closure once the pending
// reply has been flushed (QUIT).
func (c *Conn) CloseAfterReply() {
	c.stateMu.Lock()
	c.closeAfter = true
	c.stateMu.Unlock()
}

func (c *Conn) shouldClose() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.closeAfter
}

// Server is the RESP protocol server.
type Server struct {
	cfg     *Config
	handler *CommandHandler
	logger  *slog.Logger
	metrics *metric.Registry
	pool    *workqueue.Pool

	ln      net.Listener
	running atomic.Bool
	wg      sync.WaitGroup

	connMu sync.Mutex
	conns  map[*Conn]struct{}
}

// New creates a RESP server around handler.
func New(cfg *Config, handler *CommandHandler, metrics *metric.Registry, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		metrics: metrics,
		pool:    workqueue.New(cfg.Workers),
		conns:   make(map[*Conn]struct{}),
	}
}

// Pool returns the server's offload worker pool.
func (s *Server) Pool() *workqueue.Pool {
	return s.pool
}

// Addr returns the bound listen address; empty before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Start binds the listener and launches the accept loop.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.running.Store(true)
	s.pool.Start()
	s.logger.Info("resp server listening", "addr", s.cfg.Addr)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx, ln)
	}()
	return nil
}

// Shutdown closes the listener, all tracked connections, and the
// worker pool, then waits for handlers to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)

	var firstErr error
	if s.ln != nil {
		if err := s.ln.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.connMu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.connMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		s.pool.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return firstErr
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		if s.cfg.MaxConnections > 0 && s.connCount() >= s.cfg.MaxConnections {
			s.logger.Warn("connection limit reached, rejecting", "remote", c.RemoteAddr())
			bw := bufio.NewWriter(c)
			_ = WriteValue(bw, ErrorString("ERR max number of clients reached"))
			_ = bw.Flush()
			_ = c.Close()
			continue
		}

		conn := newConn(c)
		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

func (s *Server) track(c *Conn) {
	s.connMu.Lock()
	s.conns[c] = struct{}{}
	s.connMu.Unlock()
	s.handler.store.Stats().ConnOpened()
	if s.metrics != nil {
		s.metrics.ConnectedClients.Inc()
	}
}

func (s *Server) untrack(c *Conn) {
	s.connMu.Lock()
	delete(s.conns, c)
	s.connMu.Unlock()
	s.handler.store.Stats().ConnClosed()
	if s.metrics != nil {
		s.metrics.ConnectedClients.Dec()
	}
}

func (s *Server) connCount() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return len(s.conns)
}

// serveConn runs one connection's request pipeline: read a frame,
// dispatch, flush the reply, repeat in arrival order.
func (s *Server) serveConn(c *Conn) {
	defer s.untrack(c)
	defer c.Close()

	readTimeout := s.cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := s.cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 30 * time.Second
	}
	idleTimeout := s.cfg.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 5 * time.Minute
	}

	for {
		// While nothing is buffered, wait for the first byte under the
		// idle deadline so connections may sit quiet between commands.
		if !c.cr.Buffered() {
			if err := c.netConn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
				return
			}
			if err := c.cr.WaitData(); err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					s.logger.Debug("connection timed out", "remote", c.RemoteAddr())
					return
				}
				s.logger.Debug("connection read error", "remote", c.RemoteAddr(), "error", err)
				return
			}
		}

		// Once a frame has started, tighten to the per-command read
		// timeout so a stalled frame cannot hold the connection.
		if err := c.netConn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return
		}

		args, err := c.cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.logger.Debug("connection timed out", "remote", c.RemoteAddr())
				return
			}
			if errors.Is(err, ErrLimitExceeded) {
				s.logger.Warn("protocol limit exceeded", "remote", c.RemoteAddr(), "error", err)
				_ = c.netConn.SetWriteDeadline(time.Now().Add(writeTimeout))
				_ = WriteValue(c.bw, ErrorString("ERR protocol limit exceeded"))
				_ = c.bw.Flush()
				return
			}
			_ = c.netConn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = WriteValue(c.bw, ErrorString("ERR protocol error: "+err.Error()))
			_ = c.bw.Flush()
			return
		}

		if len(args) == 0 {
			// Blank inline line; nothing to dispatch.
			continue
		}

		s.handler.Handle(c, args)

		if err := c.netConn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return
		}
		if err := c.bw.Flush(); err != nil {
			return
		}
		if c.shouldClose() {
			return
		}
	}
}
