package decision

import (
	"fmt"
	"math"
)

// Policy holds the aggregation thresholds.
type Policy struct {
	// ReviewBandLow is the lowest income ratio that is not rejected outright.
	ReviewBandLow float64 `yaml:"review_band_low" json:"review_band_low"`
	// ApproveRatio is the lowest income ratio eligible for approval.
	ApproveRatio float64 `yaml:"approve_ratio" json:"approve_ratio"`
	// HighConfidenceRatio lifts an approval to high confidence.
	HighConfidenceRatio float64 `yaml:"high_confidence_ratio" json:"high_confidence_ratio"`
	// MaxLoanToIncome caps amount / annual income for approvals.
	MaxLoanToIncome float64 `yaml:"max_loan_to_income" json:"max_loan_to_income"`
	// StrongMargin is the relative distance past a threshold above which a
	// rejection is reported with high confidence.
	StrongMargin float64 `yaml:"strong_margin" json:"strong_margin"`
}

// DefaultPolicy returns the standard underwriting thresholds.
func DefaultPolicy() Policy {
	return Policy{
		ReviewBandLow:       2.3,
		ApproveRatio:        2.7,
		HighConfidenceRatio: 3.0,
		MaxLoanToIncome:     0.40,
		StrongMargin:        0.20,
	}
}

// Validate checks that the thresholds are ordered and finite.
func (p Policy) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"review_band_low", p.ReviewBandLow},
		{"approve_ratio", p.ApproveRatio},
		{"high_confidence_ratio", p.HighConfidenceRatio},
		{"max_loan_to_income", p.MaxLoanToIncome},
		{"strong_margin", p.StrongMargin},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			return fmt.Errorf("policy: %s must be a non-negative finite number", f.name)
		}
	}

	switch {
	case p.ReviewBandLow <= 0:
		return fmt.Errorf("policy: review_band_low must be positive")
	case p.ApproveRatio < p.ReviewBandLow:
		return fmt.Errorf("policy: approve_ratio (%.2f) must not be below review_band_low (%.2f)", p.ApproveRatio, p.ReviewBandLow)
	case p.HighConfidenceRatio < p.ApproveRatio:
		return fmt.Errorf("policy: high_confidence_ratio (%.2f) must not be below approve_ratio (%.2f)", p.HighConfidenceRatio, p.ApproveRatio)
	case p.MaxLoanToIncome <= 0:
		return fmt.Errorf("policy: max_loan_to_income must be positive")
	case p.StrongMargin >= 1:
		return fmt.Errorf("policy: strong_margin must be below 1")
	}

	return nil
}
