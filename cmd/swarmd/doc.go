// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
swarmd 是 AgentSwarm 协调核心的守护进程。

serve 子命令加载配置（YAML + AGENTSWARM_ 环境变量），初始化日志、
OpenTelemetry 与 Prometheus 指标，从快照恢复状态，可选地注册
--agents 文件中的静态 agent，然后运行 swarm 后台循环和 HTTP 服务
（/health、/ready、/metrics），直到收到 SIGINT 或 SIGTERM。

Broker 通过 HTTPBackend 把命令 POST 到 agent 地址的 /invoke 路径。
指定 --config 时，配置文件会被轮询，日志级别的变更立即生效。
*/
package main
