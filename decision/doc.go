// Package decision combines evaluator verdicts and facts derived from the
// request into a single recommendation.
//
// Aggregate is a pure function: it reads no clock, no randomness and no
// shared state, so replaying a workflow always recomputes the same Decision.
// The thresholds it applies live in a Policy value that is loaded from
// configuration.
package decision
