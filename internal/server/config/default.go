package config

import "time"

// Default configuration values.
const (
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 6379
	DefaultMaxConnections = 1000
	DefaultThreadPool     = 4
	DefaultDatabases      = 16

	DefaultMaxLevel            = 18
	DefaultDataFile            = "store/dumpFile"
	DefaultPersistenceInterval = 60 * time.Second
	DefaultAOFFile             = "store/appendonly.aof"
	DefaultAOFFsync            = "everysec"
	DefaultAOFFsyncInterval    = time.Second

	DefaultReplicationPort = 16379
	DefaultPingInterval    = 10 * time.Second
	DefaultBacklogSize     = 10000
	DefaultConnectTimeout  = 5 * time.Second
	DefaultReconnectDelay  = 5 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			Host:           DefaultHost,
			Port:           DefaultPort,
			MaxConnections: DefaultMaxConnections,
			ThreadPoolSize: DefaultThreadPool,
			Databases:      DefaultDatabases,
		},
		Storage: StorageSection{
			MaxLevel:            DefaultMaxLevel,
			DataFile:            DefaultDataFile,
			EnablePersistence:   true,
			PersistenceInterval: DefaultPersistenceInterval,
			EnableAOF:           false,
			AOFFile:             DefaultAOFFile,
			AOFFsync:            DefaultAOFFsync,
			AOFFsyncInterval:    DefaultAOFFsyncInterval,
		},
		Replication: ReplicationSection{
			Port:           DefaultReplicationPort,
			PingInterval:   DefaultPingInterval,
			BacklogSize:    DefaultBacklogSize,
			ConnectTimeout: DefaultConnectTimeout,
			ReconnectDelay: DefaultReconnectDelay,
		},
		Log: LogSection{
			Level:   DefaultLogLevel,
			Format:  DefaultLogFormat,
			Console: true,
		},
	}
}
