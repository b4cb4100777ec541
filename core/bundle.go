package core

// Risk tiers derived from a bureau score.
const (
	RiskLow        = "low"
	RiskMedium     = "medium"
	RiskMediumHigh = "medium-high"
	RiskHigh       = "high"
)

// Valid bureau score range.
const (
	MinCreditScore = 300
	MaxCreditScore = 850
)

// BankAccount is the applicant's bank-account record as returned by the bank
// data provider.
type BankAccount struct {
	AccountID      string  `json:"account_id"`
	Balance        float64 `json:"balance"`
	AverageBalance float64 `json:"average_balance,omitempty"`
	MonthlyCredits float64 `json:"monthly_credits,omitempty"`
	MonthlyDebits  float64 `json:"monthly_debits,omitempty"`
}

// Document is a single supporting document reference.
type Document struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Verified bool   `json:"verified"`
}

// CreditReport is the answer of exactly one credit bureau. Provider records
// which bureau supplied it.
type CreditReport struct {
	Provider  string `json:"provider"`
	Score     int    `json:"score"`
	RiskTier  string `json:"risk_tier"`
	Available bool   `json:"available"`
}

// DataBundle holds everything acquired for one workflow. It is populated once.
type DataBundle struct {
	Bank      BankAccount  `json:"bank"`
	Documents []Document   `json:"documents"`
	Credit    CreditReport `json:"credit_report"`
}

// Clone returns a deep copy of the bundle.
func (b DataBundle) Clone() DataBundle {
	docs := make([]Document, len(b.Documents))
	copy(docs, b.Documents)
	b.Documents = docs

	return b
}

// RiskTierForScore maps a bureau score onto a risk tier.
func RiskTierForScore(score int) string {
	switch {
	case score >= 750:
		return RiskLow
	case score >= 650:
		return RiskMedium
	case score >= 620:
		return RiskMediumHigh
	default:
		return RiskHigh
	}
}

// ValidScore reports whether score lies in the bureau range.
func ValidScore(score int) bool {
	return score >= MinCreditScore && score <= MaxCreditScore
}
