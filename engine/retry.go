package engine

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrRetriesExhausted is matched by errors.Is when an activity ran out of attempts.
var ErrRetriesExhausted = errors.New("retry budget exhausted")

// RetryPolicy bounds how often and how fast an activity is re-attempted.
type RetryPolicy struct {
	MaxAttempts        int           `yaml:"max_attempts" json:"max_attempts"`
	InitialInterval    time.Duration `yaml:"initial_interval" json:"initial_interval"`
	BackoffCoefficient float64       `yaml:"backoff_coefficient" json:"backoff_coefficient"`
	MaxInterval        time.Duration `yaml:"max_interval" json:"max_interval"`
}

// DefaultRetryPolicy allows three attempts with exponential backoff starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:        3,
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaxInterval:        30 * time.Second,
	}
}

// Validate reports whether the policy is usable.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", p.MaxAttempts)
	}

	if p.InitialInterval < 0 || p.MaxInterval < 0 {
		return errors.New("retry intervals must not be negative")
	}

	if p.BackoffCoefficient < 1 {
		return fmt.Errorf("backoff_coefficient must be >= 1, got %g", p.BackoffCoefficient)
	}

	return nil
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.InitialInterval <= 0 {
		return 0
	}

	coef := p.BackoffCoefficient
	if coef < 1 {
		coef = 1
	}

	d := time.Duration(float64(p.InitialInterval) * math.Pow(coef, float64(attempt-1)))
	if p.MaxInterval > 0 && (d > p.MaxInterval || d <= 0) {
		d = p.MaxInterval
	}

	return d
}

// ActivityError describes a failed activity. Exhausted is set when every
// attempt failed with a retryable error.
type ActivityError struct {
	Name      string
	Attempts  int
	Exhausted bool
	Cause     error
}

func (e *ActivityError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("activity %s: retry budget exhausted after %d attempts: %v", e.Name, e.Attempts, e.Cause)
	}

	return fmt.Sprintf("activity %s failed after %d attempt(s): %v", e.Name, e.Attempts, e.Cause)
}

// Unwrap exposes the cause and, when exhausted, ErrRetriesExhausted.
func (e *ActivityError) Unwrap() []error {
	if e.Exhausted {
		return []error{ErrRetriesExhausted, e.Cause}
	}

	return []error{e.Cause}
}
