/*
Package testutil 提供 agentswarm 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext
  - 注册表辅助: MustRegister / MustAdvance
  - 异步断言: AssertEventuallyTrue / WaitFor

# 子包

  - testutil/fixtures: 预定义的 agent 记录
  - testutil/mocks: 可注入故障的执行后端 MockBackend
*/
package testutil
