// Package config 提供 AgentSwarm 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（前缀 AGENTSWARM）的顺序加载，
// 覆盖 HTTP 服务、日志、遥测以及每个 swarm 组件的参数。
// Reloader 轮询配置文件，在内容变化时重新加载并通知回调；
// 只有日志级别可以在运行时生效，其余变更会被标记为需要重启。
package config
