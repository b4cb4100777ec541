package decision

import (
	"fmt"
	"strings"

	"github.com/hupe1980/underwriter/core"
)

// Rule numbers reported in core.Decision.Rule.
const (
	RuleDegraded   = 1
	RuleReject     = 2
	RuleBorderline = 3
	RuleApprove    = 4
	RuleDefault    = 5
)

// Aggregate combines the evaluator results with facts derived from the
// request. Rules are tried in order and the first match wins:
//
//  1. a degraded evaluator forces review with low confidence
//  2. a failing income ratio, high credit risk or no disposable income rejects
//  3. an income ratio inside the borderline band forces review
//  4. a strong ratio with acceptable risk and affordability approves
//  5. anything else is sent to review with low confidence
//
// An approval additionally requires that no evaluator returned fail; a
// conflicting fail verdict falls through to rule 5.
func Aggregate(p Policy, req core.Request, bundle core.DataBundle, results []core.AssessmentResult) core.Decision {
	facts := NewFacts(req, bundle)
	ordered := orderResults(results)

	d := core.Decision{Factors: factors(ordered)}

	switch {
	case anyDegraded(ordered):
		d.Recommendation, d.Confidence, d.Rule = core.RecommendReview, core.ConfidenceLow, RuleDegraded
	case p.rejects(facts):
		d.Recommendation, d.Rule = core.RecommendReject, RuleReject
		d.Confidence = core.ConfidenceMedium

		if p.rejectMargin(facts) > p.StrongMargin {
			d.Confidence = core.ConfidenceHigh
		}
	case facts.IncomeRatio >= p.ReviewBandLow && facts.IncomeRatio < p.ApproveRatio:
		d.Recommendation, d.Confidence, d.Rule = core.RecommendReview, core.ConfidenceMedium, RuleBorderline
	case p.approves(facts) && !anyVerdict(ordered, core.VerdictFail):
		d.Recommendation, d.Rule = core.RecommendApprove, RuleApprove
		d.Confidence = core.ConfidenceMedium

		if facts.IncomeRatio >= p.HighConfidenceRatio {
			d.Confidence = core.ConfidenceHigh
		}
	default:
		d.Recommendation, d.Confidence, d.Rule = core.RecommendReview, core.ConfidenceLow, RuleDefault
	}

	d.Reasoning = reasoning(d, facts, ordered)

	return d
}

func (p Policy) rejects(f Facts) bool {
	return f.IncomeRatio < p.ReviewBandLow || f.RiskTier == core.RiskHigh || f.DisposableIncome <= 0
}

// rejectMargin is the largest relative distance by which a failing criterion
// misses its threshold. High credit risk always counts as strong.
func (p Policy) rejectMargin(f Facts) float64 {
	var margin float64

	if f.IncomeRatio < p.ReviewBandLow {
		margin = max(margin, (p.ReviewBandLow-f.IncomeRatio)/p.ReviewBandLow)
	}

	if f.RiskTier == core.RiskHigh {
		margin = max(margin, 1)
	}

	if f.DisposableIncome < 0 {
		monthly := f.AnnualIncome / 12
		if monthly > 0 {
			margin = max(margin, -f.DisposableIncome/monthly)
		} else {
			margin = max(margin, 1)
		}
	}

	return margin
}

func (p Policy) approves(f Facts) bool {
	return f.IncomeRatio >= p.ApproveRatio &&
		(f.RiskTier == core.RiskLow || f.RiskTier == core.RiskMedium) &&
		f.DisposableIncome > 0 &&
		f.LoanToIncome <= p.MaxLoanToIncome
}

// orderResults returns one result per kind in core.Kinds order. A missing kind
// is treated as degraded.
func orderResults(results []core.AssessmentResult) []core.AssessmentResult {
	byKind := make(map[core.Kind]core.AssessmentResult, len(results))
	for _, r := range results {
		if _, seen := byKind[r.Kind]; !seen {
			byKind[r.Kind] = r
		}
	}

	out := make([]core.AssessmentResult, 0, len(core.Kinds))

	for _, k := range core.Kinds {
		r, ok := byKind[k]
		if !ok {
			r = core.AssessmentResult{
				Kind:      k,
				Verdict:   core.VerdictUnknown,
				Rationale: fmt.Sprintf("%s evaluator produced no result.", k),
				Degraded:  true,
			}
		}

		out = append(out, r)
	}

	return out
}

func factors(results []core.AssessmentResult) []core.Factor {
	out := make([]core.Factor, 0, len(results))
	for _, r := range results {
		out = append(out, core.Factor{Name: r.Kind, Verdict: r.Verdict, Degraded: r.Degraded})
	}

	return out
}

func anyDegraded(results []core.AssessmentResult) bool {
	for _, r := range results {
		if r.Degraded {
			return true
		}
	}

	return false
}

func anyVerdict(results []core.AssessmentResult, v core.Verdict) bool {
	for _, r := range results {
		if r.Verdict == v {
			return true
		}
	}

	return false
}

func reasoning(d core.Decision, f Facts, results []core.AssessmentResult) string {
	var b strings.Builder

	for _, r := range results {
		text := strings.TrimSpace(r.Rationale)
		if text == "" {
			continue
		}

		b.WriteString(text)

		if !strings.HasSuffix(text, ".") {
			b.WriteString(".")
		}

		b.WriteString(" ")
	}

	fmt.Fprintf(&b, "Income ratio %.2fx, disposable income %.2f, loan-to-income %.1f%%, credit risk %s.",
		f.IncomeRatio, f.DisposableIncome, f.LoanToIncome*100, riskLabel(f.RiskTier))

	if d.Rule == RuleDegraded {
		var names []string

		for _, r := range results {
			if r.Degraded {
				names = append(names, string(r.Kind))
			}
		}

		fmt.Fprintf(&b, " Degraded evaluators: %s.", strings.Join(names, ", "))
	}

	fmt.Fprintf(&b, " Recommendation %s with %s confidence (rule %d).", d.Recommendation, d.Confidence, d.Rule)

	return b.String()
}

func riskLabel(tier string) string {
	if tier == "" {
		return "unknown"
	}

	return tier
}
