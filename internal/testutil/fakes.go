package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/underwriter/core"
)

// script hands out scripted errors, one per call, then nil.
type script struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *script) next() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if len(s.errs) == 0 {
		return nil
	}

	err := s.errs[0]
	s.errs = s.errs[1:]

	return err
}

func (s *script) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

// DataProvider is a scripted core.DataProvider.
type DataProvider struct {
	Bank      core.BankAccount
	Documents []core.Document

	bank script
	docs script
}

// NewDataProvider returns a provider answering with the given bundle's data.
// bankErrs are returned by successive bank calls before succeeding.
func NewDataProvider(b core.DataBundle, bankErrs ...error) *DataProvider {
	return &DataProvider{Bank: b.Bank, Documents: b.Documents, bank: script{errs: bankErrs}}
}

// FetchBankAccount returns the next scripted error or the bank account.
func (p *DataProvider) FetchBankAccount(ctx context.Context, _ string) (core.BankAccount, error) {
	if err := ctx.Err(); err != nil {
		return core.BankAccount{}, err
	}

	if err := p.bank.next(); err != nil {
		return core.BankAccount{}, err
	}

	return p.Bank, nil
}

// FetchDocuments returns the documents.
func (p *DataProvider) FetchDocuments(ctx context.Context, _ string) ([]core.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := p.docs.next(); err != nil {
		return nil, err
	}

	return append([]core.Document{}, p.Documents...), nil
}

// BankCalls returns the number of bank calls.
func (p *DataProvider) BankCalls() int { return p.bank.count() }

// DocumentCalls returns the number of document calls.
func (p *DataProvider) DocumentCalls() int { return p.docs.count() }

// Bureau is a scripted core.CreditBureau.
type Bureau struct {
	name  string
	score int
	calls script
}

// NewBureau returns a bureau answering score after returning errs in order.
func NewBureau(name string, score int, errs ...error) *Bureau {
	return &Bureau{name: name, score: score, calls: script{errs: errs}}
}

// Name returns the bureau name.
func (b *Bureau) Name() string { return b.name }

// FetchCreditReport returns the next scripted error or the report.
func (b *Bureau) FetchCreditReport(ctx context.Context, _ string) (core.CreditReport, error) {
	if err := ctx.Err(); err != nil {
		return core.CreditReport{}, err
	}

	if err := b.calls.next(); err != nil {
		return core.CreditReport{}, err
	}

	return core.CreditReport{
		Provider:  b.name,
		Score:     b.score,
		RiskTier:  core.RiskTierForScore(b.score),
		Available: true,
	}, nil
}

// Calls returns the number of calls made.
func (b *Bureau) Calls() int { return b.calls.count() }

// Evaluator is a scripted core.AssessmentProvider. When Gate is set, Assess
// blocks until the gate is closed or the context ends.
type Evaluator struct {
	kind    core.Kind
	verdict core.Verdict
	calls   script

	Gate chan struct{}
}

// NewEvaluator returns an evaluator answering verdict after returning errs.
func NewEvaluator(kind core.Kind, verdict core.Verdict, errs ...error) *Evaluator {
	return &Evaluator{kind: kind, verdict: verdict, calls: script{errs: errs}}
}

// Kind returns the evaluated aspect.
func (e *Evaluator) Kind() core.Kind { return e.kind }

// Assess returns the next scripted error or the scripted verdict.
func (e *Evaluator) Assess(ctx context.Context, _ core.Request, _ core.DataBundle) (core.AssessmentResult, error) {
	if e.Gate != nil {
		select {
		case <-e.Gate:
		case <-ctx.Done():
			return core.AssessmentResult{}, ctx.Err()
		}
	}

	if err := ctx.Err(); err != nil {
		return core.AssessmentResult{}, err
	}

	if err := e.calls.next(); err != nil {
		return core.AssessmentResult{}, err
	}

	return Result(e.kind, e.verdict), nil
}

// Calls returns the number of calls made.
func (e *Evaluator) Calls() int { return e.calls.count() }

// Evaluators returns passing scripted evaluators for every kind.
func Evaluators() []*Evaluator {
	out := make([]*Evaluator, 0, len(core.Kinds))
	for _, k := range core.Kinds {
		out = append(out, NewEvaluator(k, core.VerdictPass))
	}

	return out
}
