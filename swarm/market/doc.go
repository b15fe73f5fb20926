/*
Package market allocates tasks to agents through sealed-bid auctions.

Agents bid a price, an estimated completion time and a confidence. The
lowest score wins:

	price × (1 + LoadPenalty×load) × (1 + eta/TimeScale) / confidence

Assignment is a compare-and-set on the task: a task has at most one
assignee, and reassigning requires an explicit UnassignTask first.
*/
package market
