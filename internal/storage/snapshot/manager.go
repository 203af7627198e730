package snapshot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yndnr/leapcache-go/internal/core/domain"
	"github.com/yndnr/leapcache-go/internal/storage/skiplist"
)

// Default configuration values.
const (
	DefaultInterval = 60 * time.Second
	DefaultFilePerm = 0600
	DefaultDirPerm  = 0750
)

// Config configures the snapshot manager.
type Config struct {
	// Path is the snapshot file location.
	Path string
	// Interval is the period between automatic dumps; <= 0 disables
	// the periodic task.
	Interval time.Duration
	// Logger receives dump/load outcomes.
	Logger *slog.Logger
}

// Manager dumps and loads keyspace snapshots and optionally runs the
// periodic dump task.
type Manager struct {
	cfg   Config
	index *skiplist.SkipList

	mu       sync.Mutex
	lastSave time.Time

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewManager creates a snapshot manager for index.
func NewManager(cfg Config, index *skiplist.SkipList) (*Manager, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("snapshot: path is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, DefaultDirPerm); err != nil {
			return nil, domain.ErrStorage.WithDetails("create snapshot dir").WithCause(err)
		}
	}
	return &Manager{
		cfg:    cfg,
		index:  index,
		stopCh: make(chan struct{}),
	}, nil
}

// Save dumps the current keyspace. The dump goes to a temp file in the
// same directory and replaces the previous snapshot atomically.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := filepath.Dir(m.cfg.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(m.cfg.Path)+".tmp-*")
	if err != nil {
		return domain.ErrStorage.WithDetails("create temp snapshot").WithCause(err)
	}
	tmpPath := tmp.Name()

	if err := m.index.Dump(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return domain.ErrStorage.WithDetails("sync snapshot").WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return domain.ErrStorage.WithDetails("close snapshot").WithCause(err)
	}
	if err := os.Chmod(tmpPath, DefaultFilePerm); err != nil {
		os.Remove(tmpPath)
		return domain.ErrStorage.WithDetails("chmod snapshot").WithCause(err)
	}
	if err := os.Rename(tmpPath, m.cfg.Path); err != nil {
		os.Remove(tmpPath)
		return domain.ErrStorage.WithDetails("rename snapshot").WithCause(err)
	}

	m.lastSave = time.Now()
	m.cfg.Logger.Info("snapshot saved", "path", m.cfg.Path, "keys", m.index.Len())
	return nil
}

// Load reads the snapshot file into the keyspace. Entries already
// present are left untouched. A missing file is not an error.
func (m *Manager) Load() error {
	f, err := os.Open(m.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			m.cfg.Logger.Debug("no snapshot to load", "path", m.cfg.Path)
			return nil
		}
		return domain.ErrStorage.WithDetails("open snapshot").WithCause(err)
	}
	defer f.Close()

	loaded, skipped, err := m.index.Load(f)
	if err != nil {
		return err
	}
	if skipped > 0 {
		m.cfg.Logger.Warn("snapshot load skipped malformed or already-present entries",
			"path", m.cfg.Path, "skipped", skipped)
	}
	m.cfg.Logger.Info("snapshot loaded", "path", m.cfg.Path, "keys", loaded)
	return nil
}

// LastSave returns the completion time of the most recent Save.
func (m *Manager) LastSave() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSave
}

// Start launches the periodic dump task. submit runs each dump; pass
// nil to run dumps inline on the ticker goroutine.
func (m *Manager) Start(submit func(func())) {
	if m.cfg.Interval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				job := func() {
					if err := m.Save(); err != nil {
						m.cfg.Logger.Error("periodic snapshot failed", "error", err)
					}
				}
				if submit != nil {
					submit(job)
				} else {
					job()
				}
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the periodic task and waits for it to exit.
func (m *Manager) Stop() {
	m.stopped.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}
