/*
Package consensus implements quorum voting over proposals.

Each proposal moves from Pending to exactly one of Committed, Rejected or
TimedOut. Votes are idempotent per voter and serialized per proposal.
Thresholds over n voters:

  - SimpleMajority: votes > n/2
  - Byzantine: votes >= 2⌊(n-1)/3⌋+1, tolerating ⌊(n-1)/3⌋ faulty voters
  - Unanimous: votes == n

A proposal that outlives its voting window without committing times out and
counts as rejected.
*/
package consensus
