// Package provider implements the external data provider clients used during
// data acquisition: the bank and document sources and the credit bureaus.
//
// Every failure is classified before it leaves the package:
//
//   - transport errors, timeouts, 5xx and 429 wrap core.ErrTransient
//   - 404 and other 4xx, undecodable bodies and out-of-range scores wrap core.ErrPermanent
//   - a body of {"available": false} wraps core.ErrProviderUnavailable
//
// Error messages carry the source name and status code, never response bodies.
package provider
