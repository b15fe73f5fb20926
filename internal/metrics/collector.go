// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Registry 指标
	agentsRegistered      prometheus.Gauge
	agentStateTransitions *prometheus.CounterVec

	// Broker 指标
	routesTotal       *prometheus.CounterVec
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec

	// Consensus 指标
	votesTotal           prometheus.Counter
	consensusResolutions *prometheus.CounterVec

	// Trust 指标
	trustObservations *prometheus.CounterVec

	// Stigmergy 指标
	pheromoneCells *prometheus.GaugeVec

	// Market 指标
	auctionsTotal    *prometheus.CounterVec
	assignmentsTotal *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Registry 指标
	c.agentsRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_registered",
			Help:      "Number of agents currently held by the registry",
		},
	)

	c.agentStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_state_transitions_total",
			Help:      "Total number of agent lifecycle transitions",
		},
		[]string{"from_state", "to_state"},
	)

	// Broker 指标
	c.routesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_total",
			Help:      "Total number of routing decisions",
		},
		[]string{"strategy", "result"}, // result: selected, no_candidate
	)

	c.executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of distributed executions by receipt outcome",
		},
		[]string{"capability", "reason"},
	)

	c.executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Distributed execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"capability"},
	)

	// Consensus 指标
	c.votesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consensus_votes_total",
			Help:      "Total number of distinct votes counted",
		},
	)

	c.consensusResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consensus_resolutions_total",
			Help:      "Total number of proposals reaching a terminal status",
		},
		[]string{"status"},
	)

	// Trust 指标
	c.trustObservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trust_observations_total",
			Help:      "Total number of trust observations by outcome",
		},
		[]string{"outcome"},
	)

	// Stigmergy 指标
	c.pheromoneCells = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pheromone_cells",
			Help:      "Number of live pheromone cells per signal type",
		},
		[]string{"signal"},
	)

	// Market 指标
	c.auctionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auctions_total",
			Help:      "Total number of bids and auction resolutions",
		},
		[]string{"event"}, // event: bid, resolved
	)

	c.assignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_assignments_total",
			Help:      "Total number of task assignment changes",
		},
		[]string{"action"}, // action: assigned, unassigned
	)

	c.errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors raised by swarm components",
		},
		[]string{"component"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🐝 Swarm 指标记录
// =============================================================================

// RecordAgentRegistered 记录 Agent 注册
func (c *Collector) RecordAgentRegistered() {
	c.agentsRegistered.Inc()
}

// RecordAgentDeregistered 记录 Agent 注销
func (c *Collector) RecordAgentDeregistered() {
	c.agentsRegistered.Dec()
}

// SetAgentsRegistered 设置当前 Agent 数量（快照恢复后使用）
func (c *Collector) SetAgentsRegistered(n int) {
	c.agentsRegistered.Set(float64(n))
}

// RecordAgentStateTransition 记录 Agent 状态转换
func (c *Collector) RecordAgentStateTransition(fromState, toState string) {
	c.agentStateTransitions.WithLabelValues(fromState, toState).Inc()
}

// RecordRoute 记录路由决策
func (c *Collector) RecordRoute(strategy string, selected bool) {
	result := "selected"
	if !selected {
		result = "no_candidate"
	}
	c.routesTotal.WithLabelValues(strategy, result).Inc()
}

// RecordExecution 记录分布式执行回执
func (c *Collector) RecordExecution(capability, reason string, duration time.Duration) {
	c.executionsTotal.WithLabelValues(capability, reason).Inc()
	c.executionDuration.WithLabelValues(capability).Observe(duration.Seconds())
}

// RecordVote 记录一次有效投票
func (c *Collector) RecordVote() {
	c.votesTotal.Inc()
}

// RecordConsensusResolution 记录提案终态
func (c *Collector) RecordConsensusResolution(status string) {
	c.consensusResolutions.WithLabelValues(status).Inc()
}

// RecordTrustObservation 记录信任观测
func (c *Collector) RecordTrustObservation(outcome string) {
	c.trustObservations.WithLabelValues(outcome).Inc()
}

// SetPheromoneCells 设置信息素单元数量
func (c *Collector) SetPheromoneCells(signal string, cells int) {
	c.pheromoneCells.WithLabelValues(signal).Set(float64(cells))
}

// RecordAuctionEvent 记录竞价事件
func (c *Collector) RecordAuctionEvent(event string) {
	c.auctionsTotal.WithLabelValues(event).Inc()
}

// RecordAssignment 记录任务分配变化
func (c *Collector) RecordAssignment(action string) {
	c.assignmentsTotal.WithLabelValues(action).Inc()
}

// RecordError 记录组件错误
func (c *Collector) RecordError(component string) {
	c.errorsTotal.WithLabelValues(component).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
