// Package engine is the local durable execution substrate workflows are built on.
//
// A workflow binds to its persisted history through Engine.Run and performs all
// side effects through the returned Context:
//
//   - ExecuteActivity runs a function under a RetryPolicy and appends the
//     outcome (result or classified failure) to history. When the workflow is
//     re-executed after a crash, recorded outcomes are returned without calling
//     the function again.
//   - Now records a timestamp once per marker so replays observe the same time.
//   - StartTimer records a durable fire time; the wait survives restarts.
//   - RecordSignal and Signal persist and read external signals.
//
// Activities may be re-executed when a process dies between running the
// function and appending its outcome, so activity functions must be idempotent.
//
// # Time
//
// Durable time (markers and timers) comes from the configured Clock. Tests use
// ManualClock to move virtual time forward deterministically. Retry backoff
// waits use real time and are not recorded.
//
// # Concurrency
//
// A Context is safe for concurrent use, which lets fan-out stages run several
// activities of one workflow in parallel. Activity names must be unique within
// a workflow.
package engine
