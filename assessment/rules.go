package assessment

import (
	"context"
	"fmt"

	"github.com/hupe1980/underwriter/core"
)

// Metric names reported by evaluators.
const (
	MetricCreditScore      = "credit_score"
	MetricAnnualIncome     = "annual_income"
	MetricIncomeRatio      = "income_ratio"
	MetricDisposableIncome = "disposable_income"
	MetricExpenseRatio     = "expense_ratio"
)

// Thresholds tune the rule evaluators' verdicts.
type Thresholds struct {
	ReviewBandLow   float64 // income ratio below which income fails
	ApproveRatio    float64 // income ratio from which income passes
	MaxExpenseRatio float64 // expenses/income above which expense needs review
}

// DefaultThresholds match the default decision policy.
func DefaultThresholds() Thresholds {
	return Thresholds{ReviewBandLow: 2.3, ApproveRatio: 2.7, MaxExpenseRatio: 0.6}
}

// RuleEvaluator is a deterministic evaluator for one kind.
type RuleEvaluator struct {
	kind       core.Kind
	thresholds Thresholds
}

// NewRuleEvaluator creates a rule evaluator.
func NewRuleEvaluator(kind core.Kind, optFns ...func(t *Thresholds)) *RuleEvaluator {
	t := DefaultThresholds()
	for _, fn := range optFns {
		fn(&t)
	}

	return &RuleEvaluator{kind: kind, thresholds: t}
}

// Kind returns the evaluated aspect.
func (e *RuleEvaluator) Kind() core.Kind { return e.kind }

// Assess computes metrics and a verdict from the request and bundle.
func (e *RuleEvaluator) Assess(ctx context.Context, req core.Request, bundle core.DataBundle) (core.AssessmentResult, error) {
	if err := ctx.Err(); err != nil {
		return core.AssessmentResult{}, err
	}

	switch e.kind {
	case core.KindCredit:
		return e.credit(bundle.Credit), nil
	case core.KindIncome:
		return e.income(req), nil
	case core.KindExpense:
		return e.expense(req), nil
	default:
		return core.AssessmentResult{}, fmt.Errorf("%w: unknown evaluator kind %q", core.ErrPermanent, e.kind)
	}
}

func (e *RuleEvaluator) credit(report core.CreditReport) core.AssessmentResult {
	verdict := core.VerdictPass

	switch report.RiskTier {
	case core.RiskHigh:
		verdict = core.VerdictFail
	case core.RiskMediumHigh:
		verdict = core.VerdictReview
	}

	return core.AssessmentResult{
		Kind:      core.KindCredit,
		Verdict:   verdict,
		Metrics:   map[string]float64{MetricCreditScore: float64(report.Score)},
		Rationale: fmt.Sprintf("Credit score %d from %s, risk tier %s.", report.Score, report.Provider, report.RiskTier),
	}
}

func (e *RuleEvaluator) income(req core.Request) core.AssessmentResult {
	annual := req.MonthlyIncome * 12
	ratio := annual / req.Amount

	verdict := core.VerdictPass

	switch {
	case ratio < e.thresholds.ReviewBandLow:
		verdict = core.VerdictFail
	case ratio < e.thresholds.ApproveRatio:
		verdict = core.VerdictReview
	}

	return core.AssessmentResult{
		Kind:    core.KindIncome,
		Verdict: verdict,
		Metrics: map[string]float64{
			MetricAnnualIncome: annual,
			MetricIncomeRatio:  ratio,
		},
		Rationale: fmt.Sprintf("Annual income %.2f covers the requested %.2f %.2fx.", annual, req.Amount, ratio),
	}
}

func (e *RuleEvaluator) expense(req core.Request) core.AssessmentResult {
	disposable := req.MonthlyIncome - req.MonthlyExpenses

	var expenseRatio float64
	if req.MonthlyIncome > 0 {
		expenseRatio = req.MonthlyExpenses / req.MonthlyIncome
	}

	verdict := core.VerdictPass

	switch {
	case disposable <= 0:
		verdict = core.VerdictFail
	case expenseRatio > e.thresholds.MaxExpenseRatio:
		verdict = core.VerdictReview
	}

	return core.AssessmentResult{
		Kind:    core.KindExpense,
		Verdict: verdict,
		Metrics: map[string]float64{
			MetricDisposableIncome: disposable,
			MetricExpenseRatio:     expenseRatio,
		},
		Rationale: fmt.Sprintf("Monthly disposable income %.2f, expenses take %.0f%% of income.", disposable, expenseRatio*100),
	}
}

// Degraded builds the synthetic result substituted for an evaluator that
// could not produce a real answer.
func Degraded(kind core.Kind, cause error) core.AssessmentResult {
	return core.AssessmentResult{
		Kind:      kind,
		Verdict:   core.VerdictUnknown,
		Rationale: fmt.Sprintf("%s evaluator unavailable (%s).", kind, core.Reason(cause)),
		Degraded:  true,
	}
}
