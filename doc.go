// Package tideflow provides a portable, serverless-friendly durable workflow
// engine for Go.
//
// Tideflow is designed for backend services that need long-lived, crash-safe
// workflows without dedicated infrastructure. All coordination happens
// through a single versioned blob per workflow: any worker holding the blob
// may resume the computation, and compare-and-swap writes make concurrent
// attempts, duplicate deliveries, and process crashes safe.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Engine
//  2. Flow
//  3. Worker
//  4. BlobStore and WorkQueue backends
//
// # Engine
//
// The Engine advances one workflow atomically per tick: it fires due timers,
// invokes the workflow's decider to compute new commands, applies them, and
// persists the result under CAS. It also manages activity leases with
// fencing tokens, retry backoff, and signal delivery.
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Redis
//
// The engine is lock-free with optimistic concurrency: it has no background
// threads, and any number of processes may call into engines sharing the
// same store.
//
// # Flow
//
// The flow package turns plain Go workflow bodies into pure deciders via
// deterministic replay. A body calls effect methods (Exec, Sleep, Signal,
// All, Race, Set, Complete, Fail) on an IO value; each effect resolves from
// recorded history or suspends the body until a worker advances it.
//
// Example:
//
//	def := tideflow.NewFlow("greet", func(io *flow.IO) error {
//	    r, err := io.Exec("send-greeting", map[string]any{"to": "world"})
//	    if err != nil {
//	        return err
//	    }
//	    return io.Complete(r)
//	})
//
// # Worker
//
// A Worker reserves ready activities under fenced leases, executes the
// registered handlers, completes each task with its lease token, and ticks
// the engine so the decider reacts. Workers can also poll a work queue for
// nudge messages and can heartbeat long-running activities.
//
// # Summary
//
// Tideflow's goal is a workflow engine that feels like Go: easy to embed,
// easy to test, deterministic, and without operational overhead. Engines
// manage workflow state, flows describe business logic, and workers execute
// activities.
//
// For lower-level access, see pkg/api, pkg/flow and pkg/worker.
package tideflow
