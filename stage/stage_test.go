package stage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/underwriter/core"
	"github.com/hupe1980/underwriter/engine"
	"github.com/hupe1980/underwriter/history"
	"github.com/hupe1980/underwriter/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var start = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func policy(attempts int) engine.RetryPolicy {
	return engine.RetryPolicy{MaxAttempts: attempts, InitialInterval: time.Millisecond, BackoffCoefficient: 2, MaxInterval: time.Millisecond}
}

func newRun(t *testing.T, store history.Store) (*engine.Engine, *engine.Context) {
	t.Helper()

	if _, err := store.Get("loan-a1"); err != nil {
		require.NoError(t, store.Create(history.WorkflowRecord{
			ID: "loan-a1", Request: []byte(`{}`), Status: history.StatusOpen, CreatedAt: start, UpdatedAt: start,
		}))
	}

	e := engine.New(func(o *engine.Options) {
		o.Store = store
		o.Clock = engine.NewManualClock(start)
		o.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	})

	wctx, err := e.Run(context.Background(), "loan-a1")
	require.NoError(t, err)
	t.Cleanup(wctx.Close)

	return e, wctx
}

func transient(msg string) error { return fmt.Errorf("%w: %s", core.ErrTransient, msg) }

func TestAcquisition_PrimarySucceeds(t *testing.T) {
	_, wctx := newRun(t, history.NewInMemoryStore())

	data := testutil.NewDataProvider(testutil.Bundle("", 0))
	primary := testutil.NewBureau("cibil", 780)
	secondary := testutil.NewBureau("experian", 700)

	acq := NewAcquisition(data, primary, secondary, func(o *AcquisitionOptions) { o.RetryPolicy = policy(3) })

	bundle, err := acq.Run(wctx, testutil.NewRequestBuilder("a1").Build())
	require.NoError(t, err)

	assert.Equal(t, "cibil", bundle.Credit.Provider)
	assert.Equal(t, 780, bundle.Credit.Score)
	assert.Equal(t, core.RiskLow, bundle.Credit.RiskTier)
	assert.Equal(t, "acc-1", bundle.Bank.AccountID)
	assert.Len(t, bundle.Documents, 1)
	assert.Equal(t, 0, secondary.Calls())
}

func TestAcquisition_SingleTransientFailureDoesNotFallBack(t *testing.T) {
	_, wctx := newRun(t, history.NewInMemoryStore())

	primary := testutil.NewBureau("cibil", 720, transient("timeout"))
	secondary := testutil.NewBureau("experian", 700)

	acq := NewAcquisition(testutil.NewDataProvider(testutil.Bundle("", 0)), primary, secondary,
		func(o *AcquisitionOptions) { o.RetryPolicy = policy(3) })

	bundle, err := acq.Run(wctx, testutil.NewRequestBuilder("a1").Build())
	require.NoError(t, err)

	assert.Equal(t, "cibil", bundle.Credit.Provider)
	assert.Equal(t, 2, primary.Calls())
	assert.Equal(t, 0, secondary.Calls())
}

func TestAcquisition_FallsBackAfterExhaustedPrimary(t *testing.T) {
	_, wctx := newRun(t, history.NewInMemoryStore())

	primary := testutil.NewBureau("cibil", 720, transient("503"), transient("503"), transient("503"))
	secondary := testutil.NewBureau("experian", 700)

	acq := NewAcquisition(testutil.NewDataProvider(testutil.Bundle("", 0)), primary, secondary,
		func(o *AcquisitionOptions) { o.RetryPolicy = policy(3) })

	bundle, err := acq.Run(wctx, testutil.NewRequestBuilder("a1").Build())
	require.NoError(t, err)

	assert.Equal(t, "experian", bundle.Credit.Provider)
	assert.Equal(t, 700, bundle.Credit.Score)
	assert.Equal(t, 3, primary.Calls())
	assert.Equal(t, 1, secondary.Calls())
}

func TestAcquisition_FallsBackOnUnavailable(t *testing.T) {
	_, wctx := newRun(t, history.NewInMemoryStore())

	primary := testutil.NewBureau("cibil", 720, fmt.Errorf("%w: cibil", core.ErrProviderUnavailable))
	secondary := testutil.NewBureau("experian", 640)

	acq := NewAcquisition(testutil.NewDataProvider(testutil.Bundle("", 0)), primary, secondary,
		func(o *AcquisitionOptions) { o.RetryPolicy = policy(3) })

	bundle, err := acq.Run(wctx, testutil.NewRequestBuilder("a1").Build())
	require.NoError(t, err)

	assert.Equal(t, "experian", bundle.Credit.Provider)
	assert.Equal(t, core.RiskMediumHigh, bundle.Credit.RiskTier)
	assert.Equal(t, 1, primary.Calls())
}

func TestAcquisition_PermanentPrimaryErrorEscalates(t *testing.T) {
	_, wctx := newRun(t, history.NewInMemoryStore())

	primary := testutil.NewBureau("cibil", 720, fmt.Errorf("%w: applicant not found", core.ErrPermanent))
	secondary := testutil.NewBureau("experian", 700)

	acq := NewAcquisition(testutil.NewDataProvider(testutil.Bundle("", 0)), primary, secondary,
		func(o *AcquisitionOptions) { o.RetryPolicy = policy(3) })

	_, err := acq.Run(wctx, testutil.NewRequestBuilder("a1").Build())
	require.Error(t, err)

	assert.ErrorIs(t, err, core.ErrPermanent)
	assert.NotErrorIs(t, err, core.ErrAllProvidersExhausted)
	assert.Equal(t, 0, secondary.Calls())
}

func TestAcquisition_BothBureausFail(t *testing.T) {
	_, wctx := newRun(t, history.NewInMemoryStore())

	primary := testutil.NewBureau("cibil", 720, transient("503"), transient("503"))
	secondary := testutil.NewBureau("experian", 700, fmt.Errorf("%w: experian", core.ErrProviderUnavailable))

	acq := NewAcquisition(testutil.NewDataProvider(testutil.Bundle("", 0)), primary, secondary,
		func(o *AcquisitionOptions) { o.RetryPolicy = policy(2) })

	_, err := acq.Run(wctx, testutil.NewRequestBuilder("a1").Build())
	require.Error(t, err)

	assert.ErrorIs(t, err, core.ErrAllProvidersExhausted)
	assert.Equal(t, core.KindAllProvidersExhausted, core.KindOf(err))
}

func TestAcquisition_NoSecondaryConfigured(t *testing.T) {
	_, wctx := newRun(t, history.NewInMemoryStore())

	primary := testutil.NewBureau("cibil", 720, fmt.Errorf("%w: cibil", core.ErrProviderUnavailable))

	acq := NewAcquisition(testutil.NewDataProvider(testutil.Bundle("", 0)), primary, nil)

	_, err := acq.Run(wctx, testutil.NewRequestBuilder("a1").Build())
	assert.ErrorIs(t, err, core.ErrAllProvidersExhausted)
}

func TestAcquisition_BankFailureFailsStage(t *testing.T) {
	_, wctx := newRun(t, history.NewInMemoryStore())

	data := testutil.NewDataProvider(testutil.Bundle("", 0), fmt.Errorf("%w: no such applicant", core.ErrPermanent))
	primary := testutil.NewBureau("cibil", 720)

	acq := NewAcquisition(data, primary, nil, func(o *AcquisitionOptions) { o.RetryPolicy = policy(3) })

	_, err := acq.Run(wctx, testutil.NewRequestBuilder("a1").Build())
	assert.ErrorIs(t, err, core.ErrPermanent)
	assert.Equal(t, 1, data.BankCalls())
	assert.Equal(t, 0, primary.Calls())
}

func TestAcquisition_ReplayDoesNotCallProviders(t *testing.T) {
	store := history.NewInMemoryStore()

	data := testutil.NewDataProvider(testutil.Bundle("", 0))
	primary := testutil.NewBureau("cibil", 720, transient("503"), transient("503"), transient("503"))
	secondary := testutil.NewBureau("experian", 700)

	acq := NewAcquisition(data, primary, secondary, func(o *AcquisitionOptions) { o.RetryPolicy = policy(3) })

	e, first := newRun(t, store)
	want, err := acq.Run(first, testutil.NewRequestBuilder("a1").Build())
	require.NoError(t, err)
	first.Close()

	second, err := e.Run(context.Background(), "loan-a1")
	require.NoError(t, err)
	defer second.Close()

	got, err := acq.Run(second, testutil.NewRequestBuilder("a1").Build())
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.Equal(t, 1, data.BankCalls())
	assert.Equal(t, 3, primary.Calls())
	assert.Equal(t, 1, secondary.Calls())
}

func providers(evs []*testutil.Evaluator) []core.AssessmentProvider {
	out := make([]core.AssessmentProvider, 0, len(evs))
	for _, e := range evs {
		out = append(out, e)
	}

	return out
}

func TestNewAssessment_RequiresOneEvaluatorPerKind(t *testing.T) {
	_, err := NewAssessment(providers(testutil.Evaluators()[:2]))
	assert.Error(t, err)

	evs := testutil.Evaluators()
	evs[2] = testutil.NewEvaluator(core.KindCredit, core.VerdictPass)
	_, err = NewAssessment(providers(evs))
	assert.Error(t, err)

	_, err = NewAssessment(providers(testutil.Evaluators()))
	assert.NoError(t, err)
}

func TestAssessment_AllSucceed(t *testing.T) {
	_, wctx := newRun(t, history.NewInMemoryStore())

	stage, err := NewAssessment(providers(testutil.Evaluators()), func(o *AssessmentOptions) { o.RetryPolicy = policy(3) })
	require.NoError(t, err)

	results, err := stage.Run(wctx, testutil.NewRequestBuilder("a1").Build(), testutil.Bundle("cibil", 780))
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, k := range core.Kinds {
		assert.Equal(t, k, results[i].Kind)
		assert.Equal(t, core.VerdictPass, results[i].Verdict)
		assert.False(t, results[i].Degraded)
	}
}

func TestAssessment_ExhaustedEvaluatorIsDegraded(t *testing.T) {
	_, wctx := newRun(t, history.NewInMemoryStore())

	credit := testutil.NewEvaluator(core.KindCredit, core.VerdictPass)
	income := testutil.NewEvaluator(core.KindIncome, core.VerdictReview)
	expense := testutil.NewEvaluator(core.KindExpense, core.VerdictPass,
		transient("throttled"), transient("throttled"), transient("throttled"))

	stage, err := NewAssessment([]core.AssessmentProvider{expense, income, credit},
		func(o *AssessmentOptions) { o.RetryPolicy = policy(3) })
	require.NoError(t, err)

	results, err := stage.Run(wctx, testutil.NewRequestBuilder("a1").Build(), testutil.Bundle("cibil", 780))
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, core.VerdictPass, results[0].Verdict)
	assert.Equal(t, core.VerdictReview, results[1].Verdict)

	assert.Equal(t, core.KindExpense, results[2].Kind)
	assert.True(t, results[2].Degraded)
	assert.Equal(t, core.VerdictUnknown, results[2].Verdict)
	assert.Contains(t, results[2].Rationale, core.KindTransientIO)

	assert.Equal(t, 3, expense.Calls())
	assert.Equal(t, 1, credit.Calls())
	assert.Equal(t, 1, income.Calls())
}

func TestAssessment_PermanentFailureDegradesWithoutRetry(t *testing.T) {
	_, wctx := newRun(t, history.NewInMemoryStore())

	evs := testutil.Evaluators()
	evs[0] = testutil.NewEvaluator(core.KindCredit, core.VerdictPass, fmt.Errorf("%w: bad input", core.ErrPermanent))

	stage, err := NewAssessment(providers(evs), func(o *AssessmentOptions) { o.RetryPolicy = policy(3) })
	require.NoError(t, err)

	results, err := stage.Run(wctx, testutil.NewRequestBuilder("a1").Build(), testutil.Bundle("cibil", 780))
	require.NoError(t, err)

	assert.True(t, results[0].Degraded)
	assert.Equal(t, 1, evs[0].Calls())
}

func TestAssessment_CancellationAbortsStage(t *testing.T) {
	_, wctx := newRun(t, history.NewInMemoryStore())

	evs := testutil.Evaluators()
	for _, e := range evs {
		e.Gate = make(chan struct{})
	}

	stage, err := NewAssessment(providers(evs))
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() {
		_, err := stage.Run(wctx, testutil.NewRequestBuilder("a1").Build(), testutil.Bundle("cibil", 780))
		done <- err
	}()

	wctx.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("stage did not stop after cancellation")
	}
}

func TestAssessment_ReplayReturnsRecordedResults(t *testing.T) {
	store := history.NewInMemoryStore()

	evs := testutil.Evaluators()
	evs[1] = testutil.NewEvaluator(core.KindIncome, core.VerdictPass, transient("x"), transient("x"))

	stage, err := NewAssessment(providers(evs), func(o *AssessmentOptions) { o.RetryPolicy = policy(2) })
	require.NoError(t, err)

	e, first := newRun(t, store)
	want, err := stage.Run(first, testutil.NewRequestBuilder("a1").Build(), testutil.Bundle("cibil", 780))
	require.NoError(t, err)
	first.Close()

	second, err := e.Run(context.Background(), "loan-a1")
	require.NoError(t, err)
	defer second.Close()

	got, err := stage.Run(second, testutil.NewRequestBuilder("a1").Build(), testutil.Bundle("cibil", 780))
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.True(t, got[1].Degraded)
	assert.Equal(t, 2, evs[1].Calls())
	assert.Equal(t, 1, evs[0].Calls())
}
