package config

import (
	"errors"
	"fmt"
)

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Server.MaxConnections < 0 {
		return errors.New("server.max_connections must not be negative")
	}
	if cfg.Server.ThreadPoolSize <= 0 {
		return errors.New("server.thread_pool_size must be positive")
	}
	if cfg.Server.Databases <= 0 {
		return errors.New("server.databases must be positive")
	}

	if cfg.Storage.MaxLevel <= 0 {
		return errors.New("storage.max_level must be positive")
	}
	if cfg.Storage.DataFile == "" {
		return errors.New("storage.data_file is required")
	}
	switch cfg.Storage.AOFFsync {
	case "always", "everysec", "no":
	default:
		return fmt.Errorf("storage.aof_fsync %q must be always, everysec, or no", cfg.Storage.AOFFsync)
	}
	if cfg.Storage.EnableAOF && cfg.Storage.AOFFile == "" {
		return errors.New("storage.aof_file is required when AOF is enabled")
	}

	if cfg.Replication.Port <= 0 || cfg.Replication.Port > 65535 {
		return fmt.Errorf("replication.port %d out of range", cfg.Replication.Port)
	}
	if cfg.Replication.PingInterval <= 0 {
		return errors.New("replication.ping_interval must be positive")
	}
	if cfg.Replication.BacklogSize <= 0 {
		return errors.New("replication.backlog_size must be positive")
	}

	return nil
}
