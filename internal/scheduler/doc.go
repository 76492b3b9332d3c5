// Package scheduler coordinates admission, queuing and execution of
// generative audio jobs on a single accelerator. It is structured into small
// files by concern:
//
//   - scheduler.go: core Scheduler type, facade operations (Submit, Cancel,
//     Skip, Status, QueueStats) and lifecycle (Start/Stop).
//   - config.go: Config and package defaults.
//   - job.go: the Job record and its snapshot projection.
//   - queue.go: the tier-weighted priority queue (container/heap).
//   - worker.go: the single-consumer loop and the bounded retry policy.
//   - residency.go: accelerator memory budgeting and LRU model eviction.
//   - pricing.go: the skip-to-front fee table.
//   - engine.go: the generation engine contract and error classification.
//   - collaborators.go: tier, quota, ledger and persistence contracts.
//   - errors.go: error types and Is* predicates for the HTTP layer.
//   - events.go: lifecycle event publishing.
//
// Exactly one job is processing at any instant; every queue or record
// mutation is a short critical section and no lock is held across an engine
// call. External packages should use the facade methods only; internal types
// are subject to change.
package scheduler
