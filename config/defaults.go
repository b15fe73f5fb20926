// =============================================================================
// 📦 AgentSwarm 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/agentswarm/swarm"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	sw := swarm.DefaultConfig()
	return &Config{
		Server:        DefaultServerConfig(),
		Log:           DefaultLogConfig(),
		Telemetry:     DefaultTelemetryConfig(),
		Registry:      sw.Registry,
		Broker:        sw.Broker,
		Retry:         sw.Retry,
		Consensus:     sw.Consensus,
		Trust:         sw.Trust,
		Stigmergy:     sw.Stigmergy,
		Market:        sw.Market,
		Snapshot:      sw.Snapshot,
		GaugeInterval: sw.GaugeInterval,
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentswarm",
		SampleRate:   0.1,
	}
}
