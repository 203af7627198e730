package aof

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yndnr/leapcache-go/internal/core/domain"
)

// FsyncPolicy selects when appended records reach stable storage.
type FsyncPolicy string

const (
	// FsyncAlways syncs after every append.
	FsyncAlways FsyncPolicy = "always"
	// FsyncEverySec syncs when the configured interval has elapsed
	// since the last sync.
	FsyncEverySec FsyncPolicy = "everysec"
	// FsyncNo never syncs explicitly; OS buffering decides.
	FsyncNo FsyncPolicy = "no"
)

// Default configuration values.
const (
	DefaultFsyncInterval = time.Second
	DefaultFilePerm      = 0600
	DefaultDirPerm       = 0750
)

// Config configures the append-only log.
type Config struct {
	Path          string
	Policy        FsyncPolicy
	FsyncInterval time.Duration
}

func applyDefaults(cfg *Config) {
	if cfg.Policy == "" {
		cfg.Policy = FsyncEverySec
	}
	if cfg.FsyncInterval == 0 {
		cfg.FsyncInterval = DefaultFsyncInterval
	}
}

// ValidPolicy reports whether s names a known fsync policy.
func ValidPolicy(s string) bool {
	switch FsyncPolicy(s) {
	case FsyncAlways, FsyncEverySec, FsyncNo:
		return true
	}
	return false
}

// Log is an open append-only command log.
type Log struct {
	cfg Config

	mu       sync.Mutex
	file     *os.File
	lastSync time.Time
	closed   bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Open opens (creating if needed) the log at cfg.Path in append mode.
func Open(cfg Config) (*Log, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("aof: path is required")
	}
	applyDefaults(&cfg)

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, DefaultDirPerm); err != nil {
			return nil, domain.ErrStorage.WithDetails("create aof dir").WithCause(err)
		}
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, DefaultFilePerm)
	if err != nil {
		return nil, domain.ErrStorage.WithDetails("open aof").WithCause(err)
	}

	l := &Log{
		cfg:      cfg,
		file:     f,
		lastSync: time.Now(),
		stopCh:   make(chan struct{}),
	}

	if cfg.Policy == FsyncEverySec {
		l.startSyncLoop()
	}
	return l, nil
}

// Append writes one record for verb and args and applies the fsync
// policy. The record is on stable storage before Append returns only
// under FsyncAlways.
func (l *Log) Append(verb string, args [][]byte) error {
	return l.AppendLine(FormatRecord(verb, args))
}

// AppendLine writes one pre-formatted record line (no trailing newline).
func (l *Log) AppendLine(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("aof: log is closed")
	}
	if _, err := l.file.WriteString(line + "\n"); err != nil {
		return domain.ErrStorage.WithDetails("append").WithCause(err)
	}
	if l.cfg.Policy == FsyncAlways {
		if err := l.file.Sync(); err != nil {
			return domain.ErrStorage.WithDetails("fsync").WithCause(err)
		}
		l.lastSync = time.Now()
	}
	return nil
}

// Sync forces buffered records to stable storage.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.syncLocked()
}

func (l *Log) syncLocked() error {
	if l.closed || l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return domain.ErrStorage.WithDetails("fsync").WithCause(err)
	}
	l.lastSync = time.Now()
	return nil
}

func (l *Log) startSyncLoop() {
	ticker := time.NewTicker(l.cfg.FsyncInterval)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.mu.Lock()
				if time.Since(l.lastSync) >= l.cfg.FsyncInterval {
					_ = l.syncLocked()
				}
				l.mu.Unlock()
			case <-l.stopCh:
				return
			}
		}
	}()
}

// Reopen closes and re-opens the underlying file. Used after
// out-of-band rotation.
func (l *Log) Reopen() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("aof: log is closed")
	}
	if err := l.file.Close(); err != nil {
		return domain.ErrStorage.WithDetails("close for reopen").WithCause(err)
	}
	f, err := os.OpenFile(l.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, DefaultFilePerm)
	if err != nil {
		return domain.ErrStorage.WithDetails("reopen").WithCause(err)
	}
	l.file = f
	return nil
}

// Path returns the log's file path.
func (l *Log) Path() string {
	return l.cfg.Path
}

// Close syncs pending records and closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.stopCh)
	file := l.file
	l.file = nil
	l.mu.Unlock()

	l.wg.Wait()

	if err := file.Sync(); err != nil {
		file.Close()
		return domain.ErrStorage.WithDetails("final fsync").WithCause(err)
	}
	return file.Close()
}

// FormatRecord renders the canonical text form "VERB ARG1 ARG2 ...".
func FormatRecord(verb string, args [][]byte) string {
	if len(args) == 0 {
		return verb
	}
	var b strings.Builder
	b.WriteString(verb)
	for _, a := range args {
		b.WriteByte(' ')
		b.Write(a)
	}
	return b.String()
}

// ParseRecord splits a record line back into verb and arguments.
// Returns ok=false for blank lines.
func ParseRecord(line string) (verb string, args [][]byte, ok bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, false
	}
	verb = strings.ToUpper(fields[0])
	for _, f := range fields[1:] {
		args = append(args, []byte(f))
	}
	return verb, args, true
}
