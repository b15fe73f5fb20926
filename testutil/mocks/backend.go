// MockBackend 是执行后端的测试模拟实现。
//
// 支持按调用序号注入错误、模拟延迟，并记录每个 agent 的最大并发。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentswarm/swarm/broker"
)

// MockBackend 是 broker.Backend 的模拟实现
type MockBackend struct {
	mu sync.Mutex

	output  []byte
	delay   time.Duration
	failFor int // 前 failFor 次调用失败
	err     error
	hook    func(inv broker.Invocation)

	calls       []broker.Invocation
	inFlight    map[string]int
	maxInFlight map[string]int
}

// NewMockBackend 创建总是成功的模拟后端
func NewMockBackend() *MockBackend {
	return &MockBackend{
		output:      []byte("ok"),
		inFlight:    make(map[string]int),
		maxInFlight: make(map[string]int),
	}
}

// WithOutput 设置成功时的输出
func (m *MockBackend) WithOutput(out []byte) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.output = out
	return m
}

// WithDelay 设置每次调用的延迟，延迟期间响应 ctx 取消
func (m *MockBackend) WithDelay(d time.Duration) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// FailFirst 让前 n 次调用返回 err；n < 0 表示总是失败
func (m *MockBackend) FailFirst(n int, err error) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFor = n
	m.err = err
	return m
}

// OnInvoke 注册每次调用前执行的回调
func (m *MockBackend) OnInvoke(fn func(inv broker.Invocation)) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = fn
	return m
}

// Invoke 实现 broker.Backend
func (m *MockBackend) Invoke(ctx context.Context, inv broker.Invocation) (broker.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, inv)
	n := len(m.calls)
	id := inv.Agent.ID
	m.inFlight[id]++
	if m.inFlight[id] > m.maxInFlight[id] {
		m.maxInFlight[id] = m.inFlight[id]
	}
	delay, hook, output := m.delay, m.hook, m.output
	fail := m.failFor < 0 || n <= m.failFor
	err := m.err
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight[id]--
		m.mu.Unlock()
	}()

	if hook != nil {
		hook(inv)
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return broker.Result{}, ctx.Err()
		case <-timer.C:
		}
	}
	if fail {
		return broker.Result{}, err
	}
	return broker.Result{Output: output}, nil
}

// Calls 返回调用次数
func (m *MockBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Invocations 返回所有调用的副本
func (m *MockBackend) Invocations() []broker.Invocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]broker.Invocation(nil), m.calls...)
}

// MaxInFlight 返回 agent 观察到的最大并发调用数
func (m *MockBackend) MaxInFlight(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight[agentID]
}
