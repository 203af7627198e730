package confloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yndnr/leapcache-go/internal/server/config"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leapcache.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg := config.Default()
	loader := NewLoader()
	if err := loader.Load(cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != config.DefaultPort {
		t.Fatalf("Port = %d, want default %d", cfg.Server.Port, config.DefaultPort)
	}
	if cfg.Storage.MaxLevel != config.DefaultMaxLevel {
		t.Fatalf("MaxLevel = %d, want default %d", cfg.Storage.MaxLevel, config.DefaultMaxLevel)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 7000
  max_connections: 50
storage:
  enable_aof: true
  aof_fsync: always
  persistence_interval: 30s
log:
  level: debug
`)

	cfg := config.Default()
	loader := NewLoader(WithConfigFile(path))
	if err := loader.Load(cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 7000 {
		t.Fatalf("Port = %d, want 7000", cfg.Server.Port)
	}
	if cfg.Server.MaxConnections != 50 {
		t.Fatalf("MaxConnections = %d, want 50", cfg.Server.MaxConnections)
	}
	if !cfg.Storage.EnableAOF || cfg.Storage.AOFFsync != "always" {
		t.Fatalf("AOF settings = %+v", cfg.Storage)
	}
	if cfg.Storage.PersistenceInterval != 30*time.Second {
		t.Fatalf("PersistenceInterval = %v, want 30s", cfg.Storage.PersistenceInterval)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("Level = %q, want debug", cfg.Log.Level)
	}
	// Untouched keys keep their defaults.
	if cfg.Replication.Port != config.DefaultReplicationPort {
		t.Fatalf("Replication.Port = %d, want default", cfg.Replication.Port)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 7000\n")
	t.Setenv("LEAPCACHE_SERVER_PORT", "8000")
	t.Setenv("LEAPCACHE_LOG_LEVEL", "warn")

	cfg := config.Default()
	loader := NewLoader(WithConfigFile(path))
	if err := loader.Load(cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Fatalf("Port = %d, want env override 8000", cfg.Server.Port)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("Level = %q, want warn", cfg.Log.Level)
	}
}

func TestMapOverridesEverything(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 7000\n")
	t.Setenv("LEAPCACHE_SERVER_PORT", "8000")

	cfg := config.Default()
	loader := NewLoader(WithConfigFile(path))
	if err := loader.Load(cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := loader.LoadMap(map[string]any{"server.port": 9000}); err != nil {
		t.Fatalf("LoadMap: %v", err)
	}
	if err := loader.Unmarshal(cfg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Fatalf("Port = %d, want flag override 9000", cfg.Server.Port)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	cfg := config.Default()
	loader := NewLoader(WithConfigFile(filepath.Join(t.TempDir(), "nope.yaml")))
	if err := loader.Load(cfg); err == nil {
		t.Fatalf("Load succeeded for a missing file")
	}
}
