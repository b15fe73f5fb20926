package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentswarm/config"
	"github.com/BaSui01/agentswarm/swarm/registry"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.LogConfig
		level zapcore.Level
	}{
		{"debug json", config.LogConfig{Level: "debug", Format: "json"}, zapcore.DebugLevel},
		{"warn console", config.LogConfig{Level: "warn", Format: "console"}, zapcore.WarnLevel},
		{"unknown falls back to info", config.LogConfig{Level: "loud"}, zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, level := initLogger(tt.cfg)
			require.NotNil(t, logger)
			assert.Equal(t, tt.level, level.Level())
		})
	}
}

func TestInitLogger_LevelIsAdjustable(t *testing.T) {
	logger, level := initLogger(config.LogConfig{Level: "info", Format: "json", OutputPaths: []string{"stderr"}})
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	level.SetLevel(zapcore.DebugLevel)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func writeAgentsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestSeedAgents(t *testing.T) {
	path := writeAgentsFile(t, `
agents:
  - id: parser-1
    address: 10.0.0.5:7000
    capabilities: [parse]
    max_concurrency: 4
  - id: summarizer-1
    address: 10.0.0.6:7000
    capabilities: [summarize, parse]
`)
	reg := registry.New(registry.DefaultConfig(), zap.NewNop())
	ctx := context.Background()

	n, err := seedAgents(ctx, reg, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	a, err := reg.Get("parser-1")
	require.NoError(t, err)
	assert.Equal(t, 4, a.MaxConcurrency)
	assert.Len(t, reg.FindByCapability("parse"), 2)

	// Agents already present, e.g. restored from a snapshot, are skipped.
	n, err = seedAgents(ctx, reg, path)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSeedAgents_Errors(t *testing.T) {
	reg := registry.New(registry.DefaultConfig(), nil)

	_, err := seedAgents(context.Background(), reg, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = seedAgents(context.Background(), reg, writeAgentsFile(t, "agents: [oops"))
	assert.Error(t, err)

	_, err = seedAgents(context.Background(), reg, writeAgentsFile(t, "agents:\n  - id: empty\n"))
	assert.Error(t, err, "an agent without capabilities is rejected")
}

func TestProbe(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	assert.NoError(t, probe(healthy.Client(), healthy.URL+"/health"))
	assert.Error(t, probe(unhealthy.Client(), unhealthy.URL+"/ready"))
}

func TestRunHealthCheck_BadFlag(t *testing.T) {
	assert.Error(t, runHealthCheck([]string{"--nope"}))
}
