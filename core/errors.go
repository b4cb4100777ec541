package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransient marks I/O failures worth retrying (timeouts, 5xx, throttling).
	ErrTransient = errors.New("transient I/O error")

	// ErrPermanent marks failures that must not be retried (validation, not found).
	ErrPermanent = errors.New("permanent validation error")

	// ErrProviderUnavailable is an explicit "unavailable" answer from a provider.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrAllProvidersExhausted means every credit bureau failed.
	ErrAllProvidersExhausted = errors.New("all providers exhausted")

	// ErrAssessmentDegraded marks an evaluator replaced by a synthetic result.
	ErrAssessmentDegraded = errors.New("assessment degraded")

	// ErrSignalTimeout means the review gate closed without a human decision.
	ErrSignalTimeout = errors.New("signal timeout")

	// ErrSignalRejected is returned to callers signaling a closed gate.
	ErrSignalRejected = errors.New("signal rejected")

	// ErrNotFound is returned for unknown workflow ids.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRequest is returned for malformed caller input.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrCancelled marks a workflow withdrawn by the applicant.
	ErrCancelled = errors.New("cancelled")

	// ErrAlreadyExists is returned when a different request reuses a workflow id.
	ErrAlreadyExists = errors.New("already exists")
)

// Error kinds as persisted in workflow history and reported to callers.
const (
	KindTransientIO           = "TransientIOError"
	KindPermanentValidation   = "PermanentValidationError"
	KindProviderUnavailable   = "ProviderUnavailable"
	KindAllProvidersExhausted = "AllProvidersExhausted"
	KindAssessmentDegraded    = "AssessmentDegraded"
	KindSignalTimeout         = "SignalTimeout"
	KindSignalRejected        = "SignalRejected"
	KindNotFound              = "NotFound"
	KindInvalidRequest        = "InvalidRequest"
	KindCancelled             = "Cancelled"
	KindAlreadyExists         = "AlreadyExists"
	KindUnknown               = "Unknown"
)

var kinds = []struct {
	kind   string
	err    error
	reason string
}{
	// Order matters: the most specific classification wins.
	{KindCancelled, ErrCancelled, "cancelled by request"},
	{KindAllProvidersExhausted, ErrAllProvidersExhausted, "no credit bureau could supply a report"},
	{KindProviderUnavailable, ErrProviderUnavailable, "a data provider reported itself unavailable"},
	{KindAssessmentDegraded, ErrAssessmentDegraded, "an evaluator was unavailable"},
	{KindSignalTimeout, ErrSignalTimeout, "no reviewer decision before the review deadline"},
	{KindSignalRejected, ErrSignalRejected, "the review gate is closed"},
	{KindNotFound, ErrNotFound, "workflow not found"},
	{KindInvalidRequest, ErrInvalidRequest, "the request is invalid"},
	{KindAlreadyExists, ErrAlreadyExists, "a different request already uses this workflow id"},
	{KindPermanentValidation, ErrPermanent, "a dependency rejected the request"},
	{KindTransientIO, ErrTransient, "a dependency kept failing"},
}

// KindOf classifies err into one of the taxonomy kinds.
func KindOf(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}

	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}

	return KindUnknown
}

// Reason returns a human-readable failure reason drawn from the error kind. It
// never includes transport detail carried by err.
func Reason(err error) string {
	kind := KindOf(err)
	for _, k := range kinds {
		if k.kind == kind {
			return fmt.Sprintf("%s: %s", kind, k.reason)
		}
	}

	return KindUnknown + ": internal error"
}

// ErrorFromKind rebuilds a classified error from its persisted kind and
// message, so replayed history yields errors that still match errors.Is.
func ErrorFromKind(kind, msg string) error {
	for _, k := range kinds {
		if k.kind != kind {
			continue
		}

		if rest, ok := strings.CutPrefix(msg, k.err.Error()); ok {
			return fmt.Errorf("%w%s", k.err, rest)
		}

		return fmt.Errorf("%w: %s", k.err, msg)
	}

	return errors.New(msg)
}

// IsRetryable reports whether err may succeed when re-issued.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTransient) {
		return false
	}

	switch {
	case errors.Is(err, ErrPermanent),
		errors.Is(err, ErrProviderUnavailable),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrCancelled):
		return false
	default:
		return true
	}
}
