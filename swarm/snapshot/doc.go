/*
Package snapshot persists crash-recovery snapshots of the swarm: the agent
registry, the trust network and the stigmergic field.

Three stores are provided. MemoryStore keeps snapshots in process,
RedisStore keeps them in a capped redis list, and SQLStore keeps them in
the swarm_snapshots table through gorm (sqlite, postgres or mysql). Every
store retains only the newest Retain snapshots; Load returns the newest.
*/
package snapshot
