package snapshot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/swarm/registry"
	"github.com/BaSui01/agentswarm/swarm/stigmergy"
	"github.com/BaSui01/agentswarm/swarm/trust"
	"github.com/BaSui01/agentswarm/types"
)

// Version is the current snapshot format version.
const Version = 1

// Snapshot is a point-in-time copy of the state needed to recover a swarm
// after a crash. Consensus proposals and market listings are not captured:
// they carry deadlines and are re-proposed or re-listed by their owners.
type Snapshot struct {
	Version int              `json:"version"`
	TakenAt time.Time        `json:"taken_at"`
	Agents  []registry.Agent `json:"agents"`
	Retired []string         `json:"retired,omitempty"`
	Trust   []trust.Entry    `json:"trust"`
	Cells   []stigmergy.Cell `json:"cells"`
}

// Validate checks the snapshot can be restored.
func (s Snapshot) Validate() error {
	if s.Version != Version {
		return types.Validationf("unsupported snapshot version %d", s.Version)
	}
	if s.TakenAt.IsZero() {
		return types.Validationf("snapshot has no timestamp")
	}
	return nil
}

// Store persists snapshots. Load returns the most recent one, or a
// NOT_FOUND error when nothing was saved yet.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
	Close() error
}

// Backend names a Store implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
	BackendSQL    Backend = "sql"
)

// Config selects and configures the snapshot store.
type Config struct {
	// Enabled turns periodic snapshots on.
	Enabled bool `yaml:"enabled" env:"ENABLED" json:"enabled"`

	Backend Backend `yaml:"backend" env:"BACKEND" json:"backend"`

	// Interval between periodic snapshots.
	Interval time.Duration `yaml:"interval" env:"INTERVAL" json:"interval"`

	// Retain is how many snapshots a store keeps; older ones are dropped.
	Retain int `yaml:"retain" env:"RETAIN" json:"retain"`

	Redis    RedisConfig    `yaml:"redis" env:"REDIS" json:"redis"`
	Database DatabaseConfig `yaml:"database" env:"DATABASE" json:"database"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:  false,
		Backend:  BackendMemory,
		Interval: time.Minute,
		Retain:   5,
		Redis:    DefaultRedisConfig(),
		Database: DefaultDatabaseConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return types.Validationf("snapshot interval must be positive")
	}
	if c.Retain < 1 {
		return types.Validationf("snapshot retain must be at least 1")
	}
	switch c.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return types.Validationf("redis snapshot store requires an address")
		}
	case BackendSQL:
		if c.Database.DSN() == "" {
			return types.Validationf("sql snapshot store: unsupported driver %q", c.Database.Driver)
		}
	default:
		return types.Validationf("unknown snapshot backend %q", c.Backend)
	}
	return nil
}

// NewStore builds the Store selected by config.Backend.
func NewStore(ctx context.Context, config Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Backend {
	case BackendRedis:
		return NewRedisStore(ctx, config.Redis, config.Retain, logger)
	case BackendSQL:
		return NewSQLStore(config.Database, config.Retain, logger)
	default:
		return NewMemoryStore(config.Retain), nil
	}
}

func errNoSnapshot(backend Backend) error {
	return types.NotFoundf("no snapshot in %s store", backend)
}

func wrapStoreErr(op string, backend Backend, err error) error {
	return types.NewError(types.ErrExecution, fmt.Sprintf("snapshot %s (%s)", op, backend)).
		WithCause(err).
		WithRetryable(true).
		WithComponent("snapshot")
}
