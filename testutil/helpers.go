// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数和断言
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	ids := testutil.MustRegister(t, reg, fixtures.Agent("a1", "summarize"))
//	testutil.AssertEventuallyTrue(t, func() bool { return condition }, 5*time.Second)
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentswarm/swarm/registry"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 🤖 注册表辅助
// =============================================================================

// MustRegister 注册所有 agent，失败时终止测试，返回分配的 ID
func MustRegister(t *testing.T, reg *registry.Registry, agents ...registry.Agent) []string {
	t.Helper()
	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		id, err := reg.Register(context.Background(), a)
		require.NoError(t, err, "register %s", a.ID)
		ids = append(ids, id)
	}
	return ids
}

// MustAdvance 沿生命周期表把 agent 推进到目标状态
func MustAdvance(t *testing.T, reg *registry.Registry, id string, target registry.LifecycleState) {
	t.Helper()
	path := []registry.LifecycleState{registry.StateVerified, registry.StateTrusted, registry.StateEscalated}
	for _, s := range path {
		a, err := reg.Get(id)
		require.NoError(t, err)
		if a.State == target {
			return
		}
		require.NoError(t, reg.Transition(context.Background(), id, s))
	}
	a, err := reg.Get(id)
	require.NoError(t, err)
	require.Equal(t, target, a.State)
}

// =============================================================================
// ⏳ 异步断言
// =============================================================================

// AssertEventuallyTrue 断言条件最终为 true
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	assert.Eventually(t, condition, timeout, 10*time.Millisecond)
}

// WaitFor 等待条件满足，超时返回 false
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return condition()
}

// =============================================================================
// 📦 数据工具
// =============================================================================

// MustJSON 序列化为 JSON，失败时 panic
func MustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
