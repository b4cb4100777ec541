package assessment

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/underwriter/core"
	"github.com/hupe1980/underwriter/model"
)

var (
	_ core.AssessmentProvider = (*RuleEvaluator)(nil)
	_ core.AssessmentProvider = (*ModelEvaluator)(nil)
)

func request() core.Request {
	return core.Request{ApplicantID: "a1", Name: "Ada", Amount: 30000, MonthlyIncome: 8000, MonthlyExpenses: 3000}
}

func bundle(score int) core.DataBundle {
	return core.DataBundle{
		Bank:      core.BankAccount{AccountID: "acc-1", Balance: 5000},
		Documents: []core.Document{{ID: "d1", Type: "payslip", Verified: true}},
		Credit:    core.CreditReport{Provider: "primary", Score: score, RiskTier: core.RiskTierForScore(score), Available: true},
	}
}

func TestRuleEvaluator(t *testing.T) {
	ctx := context.Background()

	credit, err := NewRuleEvaluator(core.KindCredit).Assess(ctx, request(), bundle(780))
	require.NoError(t, err)
	assert.Equal(t, core.VerdictPass, credit.Verdict)
	assert.InDelta(t, 780, credit.Metrics[MetricCreditScore], 1e-9)

	credit, err = NewRuleEvaluator(core.KindCredit).Assess(ctx, request(), bundle(630))
	require.NoError(t, err)
	assert.Equal(t, core.VerdictReview, credit.Verdict)

	income, err := NewRuleEvaluator(core.KindIncome).Assess(ctx, request(), bundle(780))
	require.NoError(t, err)
	assert.Equal(t, core.VerdictPass, income.Verdict)
	assert.InDelta(t, 96000, income.Metrics[MetricAnnualIncome], 1e-9)
	assert.InDelta(t, 3.2, income.Metrics[MetricIncomeRatio], 1e-9)

	low := request()
	low.Amount = 80000
	low.MonthlyIncome = 6000
	income, err = NewRuleEvaluator(core.KindIncome).Assess(ctx, low, bundle(780))
	require.NoError(t, err)
	assert.Equal(t, core.VerdictFail, income.Verdict)

	broke := request()
	broke.MonthlyExpenses = 9000
	expense, err := NewRuleEvaluator(core.KindExpense).Assess(ctx, broke, bundle(780))
	require.NoError(t, err)
	assert.Equal(t, core.VerdictFail, expense.Verdict)
	assert.InDelta(t, -1000, expense.Metrics[MetricDisposableIncome], 1e-9)

	_, err = NewRuleEvaluator("other").Assess(ctx, request(), bundle(780))
	assert.ErrorIs(t, err, core.ErrPermanent)
}

func TestRuleEvaluator_IsDeterministic(t *testing.T) {
	e := NewRuleEvaluator(core.KindExpense)

	first, err := e.Assess(context.Background(), request(), bundle(700))
	require.NoError(t, err)

	second, err := e.Assess(context.Background(), request(), bundle(700))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func newModelEvaluator(t *testing.T, kind core.Kind, tmpl string) (*ModelEvaluator, *model.MockModel) {
	t.Helper()

	m := model.NewMockModel("mock-1", "mock")

	e, err := NewModelEvaluator(Config{Kind: kind, Provider: ProviderMock, Model: "mock-1", PromptTemplate: tmpl}, m)
	require.NoError(t, err)

	return e, m
}

func TestModelEvaluator_Assess(t *testing.T) {
	e, m := newModelEvaluator(t, core.KindIncome, "income-v1")
	m.Enqueue("```json\n{\"verdict\":\"pass\",\"metrics\":{\"income_ratio\":3.2},\"rationale\":\"Income comfortably covers the loan.\"}\n```", nil)

	res, err := e.Assess(context.Background(), request(), bundle(780))
	require.NoError(t, err)
	assert.Equal(t, core.KindIncome, res.Kind)
	assert.Equal(t, core.VerdictPass, res.Verdict)
	assert.InDelta(t, 3.2, res.Metrics["income_ratio"], 1e-9)
	assert.False(t, res.Degraded)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].JSON)
	assert.Contains(t, reqs[0].LastUserText(), "Income to loan ratio: 3.20")
	assert.Contains(t, reqs[0].LastUserText(), `"enum"`)
}

func TestModelEvaluator_PromptsRender(t *testing.T) {
	for _, tmpl := range PromptTemplates() {
		kind, err := core.ParseKind(tmpl[:len(tmpl)-3])
		require.NoError(t, err)

		e, m := newModelEvaluator(t, kind, tmpl)
		m.Enqueue(`{"verdict":"review","rationale":"ok"}`, nil)

		_, err = e.Assess(context.Background(), request(), bundle(700))
		require.NoError(t, err, tmpl)
		assert.Contains(t, m.Requests()[0].LastUserText(), "Ada")
	}
}

func TestModelEvaluator_MalformedOutputIsRetryable(t *testing.T) {
	tests := map[string]string{
		"prose":         "I think this applicant is fine.",
		"unknown field": `{"verdict":"pass","rationale":"ok","confidence":0.9}`,
		"bad verdict":   `{"verdict":"approve","rationale":"ok"}`,
		"unknown":       `{"verdict":"unknown","rationale":"ok"}`,
		"no rationale":  `{"verdict":"pass","rationale":"  "}`,
		"array":         `[{"verdict":"pass"}]`,
	}

	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			e, m := newModelEvaluator(t, core.KindCredit, "credit-v1")
			m.Enqueue(text, nil)

			_, err := e.Assess(context.Background(), request(), bundle(780))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedAssessment)
			assert.ErrorIs(t, err, core.ErrTransient)
			assert.True(t, core.IsRetryable(err))
		})
	}
}

func TestModelEvaluator_PropagatesModelErrors(t *testing.T) {
	e, m := newModelEvaluator(t, core.KindExpense, "expense-v1")
	m.Enqueue("", fmt.Errorf("%w: status 401", core.ErrPermanent))

	_, err := e.Assess(context.Background(), request(), bundle(780))
	assert.ErrorIs(t, err, core.ErrPermanent)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{Kind: core.KindCredit, Provider: ProviderRules}.Validate())
	assert.NoError(t, Config{Kind: core.KindCredit, Provider: ProviderAnthropic, PromptTemplate: "credit-v1"}.Validate())
	assert.Error(t, Config{Kind: core.KindCredit, Provider: ProviderAnthropic}.Validate())
	assert.Error(t, Config{Kind: core.KindCredit, Provider: ProviderOpenAI, PromptTemplate: "nope"}.Validate())
	assert.Error(t, Config{Kind: "other", Provider: ProviderRules}.Validate())
	assert.Error(t, Config{Kind: core.KindIncome, Provider: "llama"}.Validate())

	_, err := NewModelEvaluator(Config{Kind: core.KindCredit, Provider: ProviderMock}, model.NewMockModel("m", "mock"))
	assert.Error(t, err)

	assert.Len(t, DefaultConfigs(), 3)
}

func TestDegraded(t *testing.T) {
	res := Degraded(core.KindExpense, errors.Join(errors.New("x"), core.ErrPermanent))

	assert.True(t, res.Degraded)
	assert.Equal(t, core.VerdictUnknown, res.Verdict)
	assert.Equal(t, core.KindExpense, res.Kind)
	assert.Contains(t, res.Rationale, core.KindPermanentValidation)
}
