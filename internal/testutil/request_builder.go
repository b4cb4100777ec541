package testutil

import (
	"github.com/hupe1980/underwriter/core"
)

// RequestBuilder provides a fluent helper for constructing loan requests.
// Example:
//
//	req := NewRequestBuilder("a1").Amount(30000).Income(8000).Expenses(3000).Build()
type RequestBuilder struct {
	req core.Request
}

// NewRequestBuilder creates a builder with a valid default request.
func NewRequestBuilder(applicantID string) *RequestBuilder {
	return &RequestBuilder{req: core.Request{
		ApplicantID:     applicantID,
		Name:            "Applicant " + applicantID,
		Amount:          30000,
		MonthlyIncome:   8000,
		MonthlyExpenses: 3000,
	}}
}

// Name sets the applicant name (chainable).
func (b *RequestBuilder) Name(n string) *RequestBuilder { b.req.Name = n; return b }

// Amount sets the requested amount (chainable).
func (b *RequestBuilder) Amount(v float64) *RequestBuilder { b.req.Amount = v; return b }

// Income sets the monthly income (chainable).
func (b *RequestBuilder) Income(v float64) *RequestBuilder { b.req.MonthlyIncome = v; return b }

// Expenses sets the monthly expenses (chainable).
func (b *RequestBuilder) Expenses(v float64) *RequestBuilder { b.req.MonthlyExpenses = v; return b }

// Build returns the request.
func (b *RequestBuilder) Build() core.Request { return b.req }

// Bundle returns a data bundle whose credit report carries score from provider.
func Bundle(provider string, score int) core.DataBundle {
	return core.DataBundle{
		Bank:      core.BankAccount{AccountID: "acc-1", Balance: 12000, AverageBalance: 9000},
		Documents: []core.Document{{ID: "doc-1", Type: "payslip", Verified: true}},
		Credit: core.CreditReport{
			Provider:  provider,
			Score:     score,
			RiskTier:  core.RiskTierForScore(score),
			Available: true,
		},
	}
}

// Result builds a non-degraded assessment result.
func Result(kind core.Kind, verdict core.Verdict) core.AssessmentResult {
	return core.AssessmentResult{Kind: kind, Verdict: verdict, Rationale: string(kind) + " " + string(verdict) + "."}
}

// Results builds passing results for every kind.
func Results() []core.AssessmentResult {
	out := make([]core.AssessmentResult, 0, len(core.Kinds))
	for _, k := range core.Kinds {
		out = append(out, Result(k, core.VerdictPass))
	}

	return out
}
