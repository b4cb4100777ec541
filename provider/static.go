package provider

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/hupe1980/underwriter/core"
)

// Static serves fixed data for every applicant. It backs offline evaluation
// and the demo server when no provider API is configured.
type Static struct {
	Bank      core.BankAccount
	Documents []core.Document
}

// FetchBankAccount returns the fixed bank account.
func (s Static) FetchBankAccount(context.Context, string) (core.BankAccount, error) {
	return s.Bank, nil
}

// FetchDocuments returns a copy of the fixed documents.
func (s Static) FetchDocuments(context.Context, string) ([]core.Document, error) {
	return append([]core.Document{}, s.Documents...), nil
}

// StaticBureau reports a fixed score under the given name.
type StaticBureau struct {
	BureauName string
	Score      int
}

// Name returns the bureau name.
func (b StaticBureau) Name() string { return b.BureauName }

// FetchCreditReport validates the fixed score like a remote bureau would.
func (b StaticBureau) FetchCreditReport(context.Context, string) (core.CreditReport, error) {
	return reportFromScore(b.BureauName, json.Number(strconv.Itoa(b.Score)))
}
