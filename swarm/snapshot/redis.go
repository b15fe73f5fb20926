package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures the redis snapshot store.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR" json:"addr"`
	Password string `yaml:"password" env:"PASSWORD" json:"password"`
	DB       int    `yaml:"db" env:"DB" json:"db"`

	// Key is the list holding encoded snapshots, newest first.
	Key string `yaml:"key" env:"KEY" json:"key"`

	MaxRetries   int `yaml:"max_retries" env:"MAX_RETRIES" json:"max_retries"`
	PoolSize     int `yaml:"pool_size" env:"POOL_SIZE" json:"pool_size"`
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS" json:"min_idle_conns"`

	// DialTimeout bounds the initial ping.
	DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT" json:"dial_timeout"`
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Key:          "agentswarm:snapshots",
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
	}
}

// RedisStore keeps snapshots in a redis list, newest at the head.
type RedisStore struct {
	client *redis.Client
	config RedisConfig
	retain int
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewRedisStore connects to redis and verifies the connection with a ping.
func NewRedisStore(ctx context.Context, config RedisConfig, retain int, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Key == "" {
		config.Key = DefaultRedisConfig().Key
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}
	if retain < 1 {
		retain = 1
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := &RedisStore{
		client: client,
		config: config,
		retain: retain,
		logger: logger.With(zap.String("component", "snapshot_redis")),
	}
	s.logger.Info("redis snapshot store initialized",
		zap.String("addr", config.Addr),
		zap.String("key", config.Key),
		zap.Int("retain", retain),
	)
	return s, nil
}

// Save pushes the snapshot and trims the list to the retention size in one
// transaction.
func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("redis snapshot store is closed")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return wrapStoreErr("encode", BackendRedis, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.config.Key, data)
		pipe.LTrim(ctx, s.config.Key, 0, int64(s.retain-1))
		return nil
	})
	if err != nil {
		s.logger.Error("snapshot save failed", zap.Error(err))
		return wrapStoreErr("save", BackendRedis, err)
	}

	s.logger.Debug("snapshot saved",
		zap.Int("agents", len(snap.Agents)),
		zap.Int("trust", len(snap.Trust)),
		zap.Int("cells", len(snap.Cells)),
	)
	return nil
}

// Load returns the newest snapshot.
func (s *RedisStore) Load(ctx context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Snapshot{}, fmt.Errorf("redis snapshot store is closed")
	}

	data, err := s.client.LIndex(ctx, s.config.Key, 0).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, errNoSnapshot(BackendRedis)
	}
	if err != nil {
		s.logger.Error("snapshot load failed", zap.Error(err))
		return Snapshot{}, wrapStoreErr("load", BackendRedis, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, wrapStoreErr("decode", BackendRedis, err)
	}
	return snap, nil
}

// Len returns the number of retained snapshots.
func (s *RedisStore) Len(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.config.Key).Result()
}

// Close closes the redis client. It is safe to call more than once.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("closing redis snapshot store")
	return s.client.Close()
}
