// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package registry is the authoritative store of agent records and their
lifecycle state.

# Overview

Registry owns every Agent. Other swarm components (broker, trust network,
task market) read copies and change agent data only through Registry
methods: Register, Deregister, Transition, Heartbeat, UpdateHealth,
AcquireLoad, ReleaseLoad and RecordExecution.

Records and the capability inverted index are lock-striped by key hash, so
concurrent registrations from many goroutines neither contend on a global
lock nor lose updates.

# Lifecycle

Every agent carries a LifecycleState tag. The allowed transitions are:

	unregistered -> registered -> verified -> trusted -> escalated -> unregistered

Register places new agents directly in "registered". Any transition outside
the table fails with an INVALID_TRANSITION validation error and leaves the
state untouched.

# Usage

	reg := registry.New(registry.DefaultConfig(), logger)
	id, err := reg.Register(ctx, registry.Agent{
	    Address:      "10.0.0.7:7000",
	    Capabilities: []string{"summarize", "translate"},
	})
	agents := reg.FindByCapability("summarize")
*/
package registry
