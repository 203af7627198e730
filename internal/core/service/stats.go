package service

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats collects the server's monotonic counters.
type Stats struct {
	startTime time.Time

	mu         sync.Mutex
	perCommand map[string]uint64

	totalCommands    atomic.Uint64
	totalConnections atomic.Uint64
	connections      atomic.Int64
}

// NewStats creates a collector with the start time set to now.
func NewStats() *Stats {
	return &Stats{
		startTime:  time.Now(),
		perCommand: make(map[string]uint64),
	}
}

// IncrCommand counts one dispatched command for verb.
func (s *Stats) IncrCommand(verb string) {
	s.totalCommands.Add(1)
	s.mu.Lock()
	s.perCommand[verb]++
	s.mu.Unlock()
}

// ConnOpened counts a new client connection.
func (s *Stats) ConnOpened() {
	s.totalConnections.Add(1)
	s.connections.Add(1)
}

// ConnClosed counts a closed client connection.
func (s *Stats) ConnClosed() {
	s.connections.Add(-1)
}

// TotalCommands returns the total dispatched command count.
func (s *Stats) TotalCommands() uint64 {
	return s.totalCommands.Load()
}

// TotalConnections returns the number of connections ever accepted.
func (s *Stats) TotalConnections() uint64 {
	return s.totalConnections.Load()
}

// CurrentConnections returns the number of open connections.
func (s *Stats) CurrentConnections() int64 {
	return s.connections.Load()
}

// Uptime returns the elapsed time since the collector was created.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// PerCommand returns a copy of the per-verb counters.
func (s *Stats) PerCommand() map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uint64, len(s.perCommand))
	for k, v := range s.perCommand {
		out[k] = v
	}
	return out
}
