package stage

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/underwriter/core"
	"github.com/hupe1980/underwriter/engine"
	"github.com/hupe1980/underwriter/logging"
)

// Activity names used by the acquisition stage.
const (
	ActivityBankAccount     = "fetch_bank_account"
	ActivityDocuments       = "fetch_documents"
	ActivityPrimaryBureau   = "credit.primary"
	ActivitySecondaryBureau = "credit.secondary"
)

// AcquisitionOptions configures an Acquisition stage.
type AcquisitionOptions struct {
	// RetryPolicy applies to every provider call.
	RetryPolicy engine.RetryPolicy

	Logger logging.Logger
}

// Acquisition gathers the data bundle for a request.
type Acquisition struct {
	data      core.DataProvider
	primary   core.CreditBureau
	secondary core.CreditBureau
	policy    engine.RetryPolicy
	logger    logging.Logger
}

// NewAcquisition creates the stage. secondary may be nil, in which case a
// failing primary bureau exhausts all providers.
func NewAcquisition(data core.DataProvider, primary, secondary core.CreditBureau, optFns ...func(o *AcquisitionOptions)) *Acquisition {
	opts := AcquisitionOptions{
		RetryPolicy: engine.DefaultRetryPolicy(),
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Acquisition{
		data:      data,
		primary:   primary,
		secondary: secondary,
		policy:    opts.RetryPolicy,
		logger:    opts.Logger,
	}
}

// Run fetches the bank account and documents concurrently, then the credit
// report. Permanent provider errors escalate unchanged.
func (a *Acquisition) Run(wctx *engine.Context, req core.Request) (core.DataBundle, error) {
	var bundle core.DataBundle

	g, gctx := errgroup.WithContext(wctx.Context())
	gw := wctx.WithContext(gctx)

	g.Go(func() error {
		acct, err := engine.ExecuteActivity(gw, ActivityBankAccount, a.policy, func(ctx context.Context) (core.BankAccount, error) {
			return a.data.FetchBankAccount(ctx, req.ApplicantID)
		})
		bundle.Bank = acct

		return err
	})

	g.Go(func() error {
		docs, err := engine.ExecuteActivity(gw, ActivityDocuments, a.policy, func(ctx context.Context) ([]core.Document, error) {
			return a.data.FetchDocuments(ctx, req.ApplicantID)
		})
		bundle.Documents = docs

		return err
	})

	if err := g.Wait(); err != nil {
		return core.DataBundle{}, err
	}

	report, err := a.fetchCreditReport(wctx, req.ApplicantID)
	if err != nil {
		return core.DataBundle{}, err
	}

	bundle.Credit = report

	return bundle, nil
}

func (a *Acquisition) fetchCreditReport(wctx *engine.Context, applicantID string) (core.CreditReport, error) {
	report, primaryErr := a.fetchFrom(wctx, ActivityPrimaryBureau, a.primary, applicantID)
	if primaryErr == nil {
		return report, nil
	}

	if !shouldFallback(primaryErr) {
		return core.CreditReport{}, primaryErr
	}

	if a.secondary == nil {
		return core.CreditReport{}, fmt.Errorf("%w: primary bureau %s failed and no fallback is configured",
			core.ErrAllProvidersExhausted, a.primary.Name())
	}

	a.logger.Warn("Primary credit bureau failed, falling back",
		"workflow_id", wctx.WorkflowID(), "primary", a.primary.Name(), "secondary", a.secondary.Name(),
		"kind", core.KindOf(primaryErr))

	report, secondaryErr := a.fetchFrom(wctx, ActivitySecondaryBureau, a.secondary, applicantID)
	if secondaryErr == nil {
		return report, nil
	}

	if errors.Is(secondaryErr, context.Canceled) {
		return core.CreditReport{}, secondaryErr
	}

	return core.CreditReport{}, fmt.Errorf("%w: %s: %s; %s: %s",
		core.ErrAllProvidersExhausted,
		a.primary.Name(), core.KindOf(primaryErr),
		a.secondary.Name(), core.KindOf(secondaryErr))
}

func (a *Acquisition) fetchFrom(wctx *engine.Context, activity string, bureau core.CreditBureau, applicantID string) (core.CreditReport, error) {
	return engine.ExecuteActivity(wctx, activity, a.policy, func(ctx context.Context) (core.CreditReport, error) {
		report, err := bureau.FetchCreditReport(ctx, applicantID)
		if err != nil {
			return core.CreditReport{}, err
		}

		if !core.ValidScore(report.Score) {
			return core.CreditReport{}, fmt.Errorf("%s: %w: invalid credit score %d", bureau.Name(), core.ErrPermanent, report.Score)
		}

		report.Provider = bureau.Name()
		report.RiskTier = core.RiskTierForScore(report.Score)
		report.Available = true

		return report, nil
	})
}

// shouldFallback reports whether the secondary bureau may be asked: only after
// an explicit unavailable answer or an exhausted retry budget.
func shouldFallback(err error) bool {
	return errors.Is(err, core.ErrProviderUnavailable) || errors.Is(err, engine.ErrRetriesExhausted)
}
