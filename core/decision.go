package core

import (
	"fmt"
	"strings"
	"time"
)

// Recommendation is the aggregated outcome proposed to the human reviewer.
type Recommendation string

// Recommendations.
const (
	RecommendApprove Recommendation = "approve"
	RecommendReject  Recommendation = "reject"
	RecommendReview  Recommendation = "review"
)

// Confidence qualifies a Recommendation.
type Confidence string

// Confidence levels.
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Factor is one (evaluator, verdict) pair shown to reviewers.
type Factor struct {
	Name     Kind    `json:"name"`
	Verdict  Verdict `json:"verdict"`
	Degraded bool    `json:"degraded,omitempty"`
}

// Decision is computed exactly once per workflow and never mutated afterwards.
type Decision struct {
	Recommendation Recommendation `json:"recommendation"`
	Confidence     Confidence     `json:"confidence"`
	Factors        []Factor       `json:"factors"`
	Reasoning      string         `json:"reasoning"`
	// Rule is the 1-based index of the aggregation rule that matched.
	Rule int `json:"rule"`
}

// Clone returns a deep copy of the decision.
func (d Decision) Clone() Decision {
	f := make([]Factor, len(d.Factors))
	copy(f, d.Factors)
	d.Factors = f

	return d
}

// HumanVerdict is the authoritative verdict supplied by a reviewer.
type HumanVerdict string

// Human verdicts.
const (
	HumanApprove HumanVerdict = "approve"
	HumanReject  HumanVerdict = "reject"
)

// HumanDecision is the reviewer's signal payload.
type HumanDecision struct {
	Actor     string       `json:"actor"`
	Verdict   HumanVerdict `json:"verdict"`
	Note      string       `json:"note,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Validate checks the caller-supplied payload.
func (h HumanDecision) Validate() error {
	if strings.TrimSpace(h.Actor) == "" {
		return fmt.Errorf("%w: actor is required", ErrInvalidRequest)
	}

	switch h.Verdict {
	case HumanApprove, HumanReject:
		return nil
	default:
		return fmt.Errorf("%w: verdict must be approve or reject, got %q", ErrInvalidRequest, h.Verdict)
	}
}
