// =============================================================================
// 📦 测试数据工厂 - Agent 记录
// =============================================================================
package fixtures

import (
	"time"

	"github.com/BaSui01/agentswarm/swarm/registry"
)

// Agent 返回具有给定能力的健康 agent
func Agent(id string, capabilities ...string) registry.Agent {
	return registry.Agent{
		ID:           id,
		Address:      "10.0.0.1:7000",
		Capabilities: capabilities,
		Health:       1.0,
		Reliability:  0.9,
		Latency:      20 * time.Millisecond,
	}
}

// WithStats 设置路由相关的统计字段
func WithStats(a registry.Agent, latency time.Duration, reliability, health float64) registry.Agent {
	a.Latency = latency
	a.Reliability = reliability
	a.Health = health
	return a
}

// WithConcurrency 设置并发上限
func WithConcurrency(a registry.Agent, max int) registry.Agent {
	a.MaxConcurrency = max
	return a
}

// Fleet 返回 n 个具有相同能力的 agent，ID 为 prefix-00 .. prefix-(n-1)
func Fleet(prefix string, n int, capabilities ...string) []registry.Agent {
	out := make([]registry.Agent, n)
	for i := range out {
		out[i] = Agent(prefix+"-"+twoDigits(i), capabilities...)
	}
	return out
}

func twoDigits(i int) string {
	return string([]byte{byte('0' + i/10%10), byte('0' + i%10)})
}
