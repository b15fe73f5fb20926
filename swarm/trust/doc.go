/*
Package trust maintains per-pair trust scores between agents.

Each (observer, subject) pair starts at Config.InitialScore and moves on
every observed outcome: a success closes part of the gap to 1, a timeout
subtracts a fixed penalty, a partial failure subtracts in proportion to its
error rate and a complete failure resets the score to 0. Scores are always
clamped to [0,1].

ConservativeScore aggregates all observers into a lower confidence bound so
that thinly evidenced agents rank low. TransitiveTrust multiplies scores
along observer chains, and DecayOldScores pulls stale scores back toward
Neutral.
*/
package trust
