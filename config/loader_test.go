// 配置加载器测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentswarm/swarm/broker"
	"github.com/BaSui01/agentswarm/swarm/consensus"
	"github.com/BaSui01/agentswarm/swarm/snapshot"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 9091, cfg.Server.HTTPPort)
	assert.Equal(t, broker.BestFit, cfg.Broker.DefaultStrategy)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s

log:
  level: "debug"
  format: "console"

broker:
  default_strategy: least_loaded
  min_trust: 0.2
  weights:
    health: 0.1
    latency: 0.2
    reliability: 0.3
    load: 0.1
    trust: 0.3

consensus:
  default_window: 10s
  default_strategy: unanimous

stigmergy:
  decay_rate: 0.25
  bounds:
    min_x: -5
    min_y: -5
    max_x: 5
    max_y: 5

snapshot:
  enabled: true
  backend: redis
  interval: 30s
  redis:
    addr: "redis.example.com:6379"
    password: "secret"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	assert.Equal(t, broker.LeastLoaded, cfg.Broker.DefaultStrategy)
	assert.Equal(t, 0.2, cfg.Broker.MinTrust)
	assert.Equal(t, 0.3, cfg.Broker.Weights.Trust)

	assert.Equal(t, 10*time.Second, cfg.Consensus.DefaultWindow)
	assert.Equal(t, consensus.Unanimous, cfg.Consensus.DefaultStrategy)

	assert.Equal(t, 0.25, cfg.Stigmergy.DecayRate)
	require.NotNil(t, cfg.Stigmergy.Bounds)
	assert.Equal(t, 5, cfg.Stigmergy.Bounds.MaxX)

	assert.True(t, cfg.Snapshot.Enabled)
	assert.Equal(t, snapshot.BackendRedis, cfg.Snapshot.Backend)
	assert.Equal(t, "redis.example.com:6379", cfg.Snapshot.Redis.Addr)
	assert.Equal(t, "secret", cfg.Snapshot.Redis.Password)
	// 未出现在 YAML 中的字段保留默认值
	assert.Equal(t, snapshot.DefaultRedisConfig().Key, cfg.Snapshot.Redis.Key)
	assert.Equal(t, 0.1, cfg.Stigmergy.DiffusionRate)

	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	envVars := map[string]string{
		"AGENTSWARM_SERVER_HTTP_PORT":             "7777",
		"AGENTSWARM_LOG_LEVEL":                    "warn",
		"AGENTSWARM_LOG_OUTPUT_PATHS":             "stdout, /var/log/swarm.log",
		"AGENTSWARM_BROKER_DEFAULT_STRATEGY":      "max_reliability",
		"AGENTSWARM_BROKER_WEIGHTS_TRUST":         "0.4",
		"AGENTSWARM_BROKER_ATTEMPT_TIMEOUT":       "2s",
		"AGENTSWARM_RETRY_MAX_RETRIES":            "5",
		"AGENTSWARM_RETRY_JITTER":                 "false",
		"AGENTSWARM_TRUST_DECAY_MAX_AGE":          "12h",
		"AGENTSWARM_SNAPSHOT_DATABASE_DRIVER":     "postgres",
		"AGENTSWARM_SNAPSHOT_DATABASE_PORT":       "5433",
		"AGENTSWARM_MARKET_LOAD_PENALTY":          "0.5",
		"AGENTSWARM_CONSENSUS_DEFAULT_STRATEGY":   "simple_majority",
		"AGENTSWARM_STIGMERGY_PRUNE_THRESHOLD":    "0.01",
		"AGENTSWARM_REGISTRY_DEFAULT_RELIABILITY": "0.8",
	}
	for k, v := range envVars {
		t.Setenv(k, v)
	}

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{"stdout", "/var/log/swarm.log"}, cfg.Log.OutputPaths)
	assert.Equal(t, broker.MaxReliability, cfg.Broker.DefaultStrategy)
	assert.Equal(t, 0.4, cfg.Broker.Weights.Trust)
	assert.Equal(t, 2*time.Second, cfg.Broker.AttemptTimeout)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.False(t, cfg.Retry.Jitter)
	assert.Equal(t, 12*time.Hour, cfg.Trust.DecayMaxAge)
	assert.Equal(t, "postgres", cfg.Snapshot.Database.Driver)
	assert.Equal(t, 5433, cfg.Snapshot.Database.Port)
	assert.Equal(t, 0.5, cfg.Market.LoadPenalty)
	assert.Equal(t, consensus.SimpleMajority, cfg.Consensus.DefaultStrategy)
	assert.Equal(t, 0.01, cfg.Stigmergy.PruneThreshold)
	assert.Equal(t, 0.8, cfg.Registry.DefaultReliability)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
server:
  http_port: 8888
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	t.Setenv("AGENTSWARM_SERVER_HTTP_PORT", "9999")
	t.Setenv("AGENTSWARM_LOG_LEVEL", "error")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "error", cfg.Log.Level)
	// 未被环境变量覆盖的 YAML 值保留
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYSWARM_SERVER_HTTP_PORT", "6666")
	t.Setenv("MYSWARM_BROKER_OBSERVER_ID", "gateway")

	cfg, err := NewLoader().WithEnvPrefix("MYSWARM").Load()
	require.NoError(t, err)

	assert.Equal(t, 6666, cfg.Server.HTTPPort)
	assert.Equal(t, "gateway", cfg.Broker.ObserverID)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("AGENTSWARM_TRUST_DECAY_INTERVAL", "soon")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGENTSWARM_TRUST_DECAY_INTERVAL")
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("AGENTSWARM_SERVER_HTTP_PORT", "80")

	_, err := NewLoader().
		WithValidator(func(cfg *Config) error {
			if cfg.Server.HTTPPort < 1024 {
				return assert.AnError
			}
			return nil
		}).
		Load()
	assert.ErrorIs(t, err, assert.AnError)
}

func TestLoader_ValidateAsValidator(t *testing.T) {
	t.Setenv("AGENTSWARM_TRUST_INITIAL_SCORE", "1.5")

	_, err := NewLoader().WithValidator((*Config).Validate).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial_score")
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/non/existent/path/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 9091, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	invalidYAML := `
server:
  http_port: [invalid
  this is not valid yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid default config", func(c *Config) {}, false},
		{"invalid HTTP port (negative)", func(c *Config) { c.Server.HTTPPort = -1 }, true},
		{"invalid HTTP port (too large)", func(c *Config) { c.Server.HTTPPort = 70000 }, true},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }, true},
		{"sample rate above one", func(c *Config) { c.Telemetry.SampleRate = 1.5 }, true},
		{"unknown broker strategy", func(c *Config) { c.Broker.DefaultStrategy = "random" }, true},
		{"min trust above one", func(c *Config) { c.Broker.MinTrust = 2 }, true},
		{"negative rate limit", func(c *Config) { c.Broker.RateLimit = -1 }, true},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }, true},
		{"zero consensus window", func(c *Config) { c.Consensus.DefaultWindow = 0 }, true},
		{"unknown consensus strategy", func(c *Config) { c.Consensus.DefaultStrategy = "plurality" }, true},
		{"initial trust out of range", func(c *Config) { c.Trust.InitialScore = -0.1 }, true},
		{"decay rate out of range", func(c *Config) { c.Stigmergy.DecayRate = 1.5 }, true},
		{"negative load penalty", func(c *Config) { c.Market.LoadPenalty = -1 }, true},
		{"zero time scale", func(c *Config) { c.Market.TimeScale = 0 }, true},
		{"snapshot disabled ignores backend", func(c *Config) { c.Snapshot.Backend = "etcd" }, false},
		{"snapshot enabled unknown backend", func(c *Config) {
			c.Snapshot.Enabled = true
			c.Snapshot.Backend = "etcd"
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMustLoad_Success(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: 8080\n"), 0644))

	assert.NotPanics(t, func() {
		cfg := MustLoad(configPath)
		assert.Equal(t, 8080, cfg.Server.HTTPPort)
	})
}

func TestMustLoad_Panic(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [broken"), 0644))

	assert.Panics(t, func() { MustLoad(configPath) })
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("AGENTSWARM_SERVER_HTTP_PORT", "5555")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 5555, cfg.Server.HTTPPort)
}
