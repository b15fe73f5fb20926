// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 AgentSwarm 守护进程提供 TracerProvider 和 MeterProvider。
// Broker 通过 Providers.TracerProvider 为每次路由创建 span；
// 遥测禁用时返回 noop 实现，不连接任何外部服务。
package telemetry
