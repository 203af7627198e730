package config

import "time"

// ServerConfig is the root configuration for leapcache-server.
type ServerConfig struct {
	Server      ServerSection      `koanf:"server"`
	Storage     StorageSection     `koanf:"storage"`
	Replication ReplicationSection `koanf:"replication"`
	Log         LogSection         `koanf:"log"`
}

// ServerSection configures the client-facing endpoint.
type ServerSection struct {
	// Host is the bind address.
	Host string `koanf:"host"`
	// Port is the RESP listening port.
	Port int `koanf:"port"`
	// MaxConnections caps concurrent clients.
	MaxConnections int `koanf:"max_connections"`
	// ThreadPoolSize is the offload worker count.
	ThreadPoolSize int `koanf:"thread_pool_size"`
	// RequirePass gates commands behind AUTH when non-empty. A bcrypt
	// hash is accepted in place of a plaintext secret.
	RequirePass string `koanf:"requirepass"`
	// Databases bounds the SELECT index (exclusive).
	Databases int `koanf:"databases"`
	// RateLimit caps commands per second per client IP; 0 disables.
	RateLimit int `koanf:"rate_limit"`
	// EnableCluster is reserved; unused.
	EnableCluster bool `koanf:"enable_cluster"`
}

// StorageSection configures the index and its durability.
type StorageSection struct {
	// MaxLevel caps skiplist node levels.
	MaxLevel int `koanf:"max_level"`
	// DataFile is the snapshot path.
	DataFile string `koanf:"data_file"`
	// EnablePersistence runs the periodic snapshot task.
	EnablePersistence bool `koanf:"enable_persistence"`
	// PersistenceInterval is the period between snapshots.
	PersistenceInterval time.Duration `koanf:"persistence_interval"`
	// EnableAOF turns on the append-only command log.
	EnableAOF bool `koanf:"enable_aof"`
	// AOFFile is the AOF path.
	AOFFile string `koanf:"aof_file"`
	// AOFFsync is the fsync policy: always | everysec | no.
	AOFFsync string `koanf:"aof_fsync"`
	// AOFFsyncInterval is the everysec flush period.
	AOFFsyncInterval time.Duration `koanf:"aof_fsync_interval"`
}

// ReplicationSection configures the primary→follower stream.
type ReplicationSection struct {
	// Port is the replication control port.
	Port int `koanf:"port"`
	// MasterAddr, when non-empty, runs this node as a follower of the
	// primary at host:port.
	MasterAddr string `koanf:"master_addr"`
	// PingInterval is the heartbeat period.
	PingInterval time.Duration `koanf:"ping_interval"`
	// BacklogSize bounds the primary's replication log.
	BacklogSize int `koanf:"backlog_size"`
	// ConnectTimeout bounds dials and handshakes.
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	// ReconnectDelay is the follower's backoff between attempts.
	ReconnectDelay time.Duration `koanf:"reconnect_delay"`
}

// LogSection configures logging.
type LogSection struct {
	Level   string `koanf:"level"`
	Format  string `koanf:"format"`
	File    string `koanf:"file"`
	Console bool   `koanf:"console"`
}
