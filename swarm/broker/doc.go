/*
Package broker routes commands to capable agents and executes them.

Route picks one routable agent for a capability using a Strategy:

  - MinLatency: lowest smoothed latency
  - MaxReliability: highest smoothed success ratio
  - LeastLoaded: fewest in-flight executions
  - BestFit: weighted composite of health, latency, reliability, load and,
    optionally, conservative trust

Ties always resolve to the lowest agent ID, so routing is reproducible for a
fixed registry state.

ExecuteDistributed routes with the default strategy, reserves a slot on the
agent, invokes the Backend with bounded exponential backoff and always
returns (and audits) a Receipt. The outcome is fed back into the registry's
latency and reliability estimates and, when a trust network is attached,
into the broker's trust score for the agent.
*/
package broker
