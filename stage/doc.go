// Package stage implements the two I/O stages of an underwriting workflow on
// top of the durable engine: data acquisition with the credit-bureau fallback
// chain, and the concurrent assessment fan-out with degraded substitution.
//
// Each stage only talks to collaborators through engine activities, so a
// re-executed workflow replays recorded outcomes instead of calling
// providers again.
package stage
