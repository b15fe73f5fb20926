// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的蜂群协调指标采集能力，覆盖
HTTP、Registry、Broker、Consensus、Trust、Stigmergy 与 Market 七个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离。
swarm/audit 包中的 MetricsSink 把审计事件翻译为这里的记录方法。

# 主要能力

  - HTTP 指标：请求总数、请求耗时，状态码归类为 2xx/3xx/4xx/5xx。
  - Registry 指标：当前 Agent 数量、生命周期转换计数。
  - Broker 指标：路由决策、执行回执（按 reason 分组）与执行耗时。
  - Consensus 指标：有效投票数、提案终态计数。
  - Trust 指标：按 outcome 分组的观测计数。
  - Stigmergy 指标：每种信号的存活单元数量。
  - Market 指标：竞价与分配事件计数。
*/
package metrics
