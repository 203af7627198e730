package replication

import (
	"log/slog"
	"time"

	"github.com/yndnr/leapcache-go/internal/core/domain"
)

// Config configures the replication subsystem.
type Config struct {
	// Addr is the primary's replication listen address.
	Addr string
	// MasterAddr, when non-empty, makes this node a follower of the
	// primary at that address.
	MasterAddr string
	// PingInterval is the heartbeat period on both sides.
	PingInterval time.Duration
	// BacklogSize bounds the primary's replication log.
	BacklogSize int
	// ConnectTimeout bounds dials, handshakes, and single writes.
	ConnectTimeout time.Duration
	// ReconnectDelay is the follower's backoff between attempts.
	ReconnectDelay time.Duration
}

// Stats summarizes replication progress for INFO and metrics.
type Stats struct {
	Role               domain.Role
	Offset             uint64
	ConnectedFollowers int
	CommandsReplicated uint64
	BytesReplicated    uint64
	AverageLag         float64
}

// Manager owns the node's replication role: a Primary when no master
// address is configured, a Follower otherwise.
type Manager struct {
	role     domain.Role
	primary  *Primary
	follower *Follower
}

// NewManager builds the role-appropriate replication endpoint. apply
// is only used in the follower role.
func NewManager(cfg Config, apply ApplyFunc, logger *slog.Logger) *Manager {
	if cfg.MasterAddr != "" {
		return &Manager{
			role:     domain.RoleSlave,
			follower: NewFollower(cfg, apply, logger),
		}
	}
	return &Manager{
		role:    domain.RoleMaster,
		primary: NewPrimary(cfg, logger),
	}
}

// Role returns the node's replication role.
func (m *Manager) Role() domain.Role {
	if m == nil {
		return domain.RoleUnknown
	}
	return m.role
}

// Start launches the role's loops.
func (m *Manager) Start() error {
	if m.primary != nil {
		return m.primary.Start()
	}
	return m.follower.Start()
}

// Stop terminates the role's loops.
func (m *Manager) Stop() {
	if m.primary != nil {
		m.primary.Stop()
	}
	if m.follower != nil {
		m.follower.Stop()
	}
}

// Propagate forwards an accepted mutation to followers. It is a no-op
// on a follower node (a follower never re-replicates).
func (m *Manager) Propagate(command string) {
	if m != nil && m.primary != nil {
		m.primary.Propagate(command)
	}
}

// Offset returns the node's replication offset.
func (m *Manager) Offset() uint64 {
	if m == nil {
		return 0
	}
	if m.primary != nil {
		return m.primary.Offset()
	}
	return m.follower.Offset()
}

// Followers returns the primary's registered descriptors; nil on a
// follower node.
func (m *Manager) Followers() []domain.Follower {
	if m == nil || m.primary == nil {
		return nil
	}
	return m.primary.Followers()
}

// Stats summarizes the node's replication state.
func (m *Manager) Stats() Stats {
	if m == nil {
		return Stats{Role: domain.RoleUnknown}
	}
	if m.primary != nil {
		return m.primary.Stats()
	}
	return m.follower.Stats()
}
