package assessment

type prompt struct {
	instructions string
	user         string
}

const outputContract = `Respond with a single JSON object and nothing else. It must match this JSON schema:
{{ json .schema }}`

var prompts = map[string]prompt{
	"credit-v1": {
		instructions: "You are a credit analyst at a retail lender. Judge the applicant's creditworthiness from the bureau report only.",
		user: `Applicant: {{ .request.Name }} ({{ .request.ApplicantID }})
Requested amount: {{ money .request.Amount }}

Credit report from {{ .bundle.Credit.Provider }}:
- score: {{ .bundle.Credit.Score }}
- risk tier: {{ .bundle.Credit.RiskTier }}

Use verdict "pass" for low or medium risk, "review" for medium-high risk and "fail" for high risk.
Report the score as metrics.credit_score.

` + outputContract,
	},
	"income-v1": {
		instructions: "You are an income analyst at a retail lender. Judge whether the applicant's income supports the requested loan.",
		user: `Applicant: {{ .request.Name }} ({{ .request.ApplicantID }})
Requested amount: {{ money .request.Amount }}
Stated monthly income: {{ money .request.MonthlyIncome }}
Annual income: {{ money .annual_income }}
Income to loan ratio: {{ ratio .income_ratio }}

Bank account average balance: {{ money .bundle.Bank.AverageBalance }}
Documents on file: {{ len .bundle.Documents }}

Report metrics.annual_income and metrics.income_ratio.

` + outputContract,
	},
	"expense-v1": {
		instructions: "You are an expense analyst at a retail lender. Judge whether the applicant can carry additional repayments.",
		user: `Applicant: {{ .request.Name }} ({{ .request.ApplicantID }})
Stated monthly income: {{ money .request.MonthlyIncome }}
Stated monthly expenses: {{ money .request.MonthlyExpenses }}
Monthly disposable income: {{ money .disposable_income }}

Bank account monthly debits: {{ money .bundle.Bank.MonthlyDebits }}

Use verdict "fail" when disposable income is zero or negative.
Report metrics.disposable_income.

` + outputContract,
	},
}

// PromptTemplates lists the known prompt template ids.
func PromptTemplates() []string {
	return []string{"credit-v1", "income-v1", "expense-v1"}
}
