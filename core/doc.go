// Package core provides the foundational domain types and interfaces used by
// the underwriter. It defines the core abstractions for:
//
//   - Requests (immutable loan applications accepted for evaluation)
//   - Data bundles (bank, documents and credit bureau data acquired per workflow)
//   - Assessment results (one structured verdict per evaluator kind)
//   - Decisions and the append-only audit record
//   - Workflow state and its monotonic phase machine
//   - The error taxonomy shared by stages, the engine and the HTTP surface
//
// The package intentionally keeps implementation concerns (persistence, the
// durable engine, concrete providers) out of scope, exposing small interfaces
// to enable custom backends.
package core
