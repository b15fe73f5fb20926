/*
Package swarm wires the coordination core into one Swarm.

New builds the agent registry, trust network, stigmergic field, command
broker, consensus engine and task market from a single Config and connects
them: the broker routes over the registry and reports outcomes to the
trust network, the trust network and market resolve agents through the
registry, and every component emits into a shared audit sink (zap log,
optional prometheus metrics, caller-supplied sinks).

Run drives the background loops (field cycles, proposal sweeps, trust
decay, gauge refreshes and periodic snapshots) until its context is
cancelled. Recover restores the newest snapshot from the configured store.

	s, err := swarm.New(ctx, swarm.DefaultConfig(), backend, logger)
	if err != nil {
		return err
	}
	defer s.Close()
	go s.Run(ctx)

	receipt, err := s.Broker().ExecuteDistributed(ctx, session, "summarize", payload)
*/
package swarm
