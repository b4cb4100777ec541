package decision

import (
	"math"

	"github.com/hupe1980/underwriter/core"
)

// Facts are the numbers derived from a request and its credit report.
type Facts struct {
	AnnualIncome     float64 `json:"annual_income"`
	IncomeRatio      float64 `json:"income_ratio"`
	DisposableIncome float64 `json:"disposable_income"`
	LoanToIncome     float64 `json:"loan_to_income_pct"`
	RiskTier         string  `json:"risk_tier"`
}

// NewFacts derives the facts. With no income the loan-to-income share is
// +Inf.
func NewFacts(req core.Request, bundle core.DataBundle) Facts {
	annual := req.MonthlyIncome * 12

	f := Facts{
		AnnualIncome:     annual,
		DisposableIncome: req.MonthlyIncome - req.MonthlyExpenses,
		RiskTier:         bundle.Credit.RiskTier,
		LoanToIncome:     math.Inf(1),
	}

	if req.Amount > 0 {
		f.IncomeRatio = annual / req.Amount
	}

	if annual > 0 {
		f.LoanToIncome = req.Amount / annual
	}

	if f.RiskTier == "" && core.ValidScore(bundle.Credit.Score) {
		f.RiskTier = core.RiskTierForScore(bundle.Credit.Score)
	}

	return f
}
