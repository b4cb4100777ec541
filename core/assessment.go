package core

import (
	"context"
	"fmt"
)

// Kind identifies an evaluator. Variants are data, not separate types.
type Kind string

// Evaluator kinds, in factor order.
const (
	KindCredit  Kind = "credit"
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

// Kinds lists every evaluator kind in the order factors are reported.
var Kinds = []Kind{KindCredit, KindIncome, KindExpense}

// ParseKind converts a string into a known Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}

	return "", fmt.Errorf("%w: unknown evaluator kind %q", ErrInvalidRequest, s)
}

// Verdict is a single evaluator's outcome.
type Verdict string

// Evaluator verdicts. VerdictUnknown is reserved for degraded results.
const (
	VerdictPass    Verdict = "pass"
	VerdictFail    Verdict = "fail"
	VerdictReview  Verdict = "review"
	VerdictUnknown Verdict = "unknown"
)

// Valid reports whether v may be produced by a real evaluator.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictPass, VerdictFail, VerdictReview:
		return true
	default:
		return false
	}
}

// AssessmentResult is one evaluator's verdict for one workflow. Degraded marks
// a synthetic result substituted after the evaluator exhausted its retries.
type AssessmentResult struct {
	Kind      Kind               `json:"kind"`
	Verdict   Verdict            `json:"verdict"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Rationale string             `json:"rationale"`
	Degraded  bool               `json:"degraded"`
}

// Clone returns a deep copy of the result.
func (r AssessmentResult) Clone() AssessmentResult {
	if r.Metrics != nil {
		m := make(map[string]float64, len(r.Metrics))
		for k, v := range r.Metrics {
			m[k] = v
		}
		r.Metrics = m
	}

	return r
}

// AssessmentProvider evaluates one aspect of a request. Implementations must be
// pure functions of their inputs and safe to re-issue.
type AssessmentProvider interface {
	Kind() Kind
	Assess(ctx context.Context, req Request, bundle DataBundle) (AssessmentResult, error)
}

// DataProvider is the acquisition-side collaborator: one method per data source.
type DataProvider interface {
	FetchBankAccount(ctx context.Context, applicantID string) (BankAccount, error)
	FetchDocuments(ctx context.Context, applicantID string) ([]Document, error)
}

// CreditBureau answers credit report requests for one named bureau.
type CreditBureau interface {
	Name() string
	FetchCreditReport(ctx context.Context, applicantID string) (CreditReport, error)
}
