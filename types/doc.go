// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 AgentSwarm 各组件共享的结构化错误体系。

# 错误码

  - VALIDATION          输入或配置不合法
  - INVALID_TRANSITION  非法的生命周期转换（按校验错误归类）
  - CONFLICT            重复注册、重复投票、重复运行等冲突
  - CONSENSUS           提案被拒绝或超时
  - EXECUTION           后端执行失败（默认可重试）
  - CANCELLED           上下文取消（按执行错误归类）
  - NOT_FOUND           agent、提案、任务或快照不存在

# 使用方式

	err := types.Validationf("agent %q has an empty capability set", id)
	if types.IsValidation(err) { ... }

	err = types.NewError(types.ErrExecution, "invoke failed").
		WithCause(cause).
		WithRetryable(false).
		WithComponent("broker")

分类函数（IsValidation、IsConflict 等）基于 errors.As，
因此经 fmt.Errorf("%w") 包装后仍可识别。
*/
package types
