package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/underwriter/core"
	"github.com/hupe1980/underwriter/history"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var start = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestEngine(t *testing.T, store history.Store, clock Clock) *Engine {
	t.Helper()

	if _, err := store.Get("loan-a1"); errors.Is(err, core.ErrNotFound) {
		require.NoError(t, store.Create(history.WorkflowRecord{
			ID: "loan-a1", Request: []byte(`{}`), Status: history.StatusOpen, CreatedAt: start, UpdatedAt: start,
		}))
	}

	return New(func(o *Options) {
		o.Store = store
		o.Clock = clock
		o.Sleep = noSleep
	})
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialInterval: time.Millisecond, BackoffCoefficient: 2, MaxInterval: 10 * time.Millisecond}
}

func TestExecuteActivity_RetriesTransientThenSucceeds(t *testing.T) {
	e := newTestEngine(t, history.NewInMemoryStore(), NewManualClock(start))

	wctx, err := e.Run(context.Background(), "loan-a1")
	require.NoError(t, err)
	defer wctx.Close()

	var calls int
	v, err := ExecuteActivity(wctx, "fetch", fastPolicy(3), func(context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, fmt.Errorf("%w: timeout", core.ErrTransient)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 2, calls)
}

func TestExecuteActivity_ExhaustsRetryBudget(t *testing.T) {
	e := newTestEngine(t, history.NewInMemoryStore(), NewManualClock(start))

	wctx, err := e.Run(context.Background(), "loan-a1")
	require.NoError(t, err)
	defer wctx.Close()

	var calls int
	_, err = ExecuteActivity(wctx, "bureau", fastPolicy(3), func(context.Context) (string, error) {
		calls++
		return "", fmt.Errorf("%w: 503", core.ErrTransient)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, core.ErrTransient)

	var aerr *ActivityError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, 3, aerr.Attempts)
	assert.True(t, aerr.Exhausted)
}

func TestExecuteActivity_PermanentStopsImmediately(t *testing.T) {
	e := newTestEngine(t, history.NewInMemoryStore(), NewManualClock(start))

	wctx, err := e.Run(context.Background(), "loan-a1")
	require.NoError(t, err)
	defer wctx.Close()

	var calls int
	_, err = ExecuteActivity(wctx, "bank", fastPolicy(5), func(context.Context) (string, error) {
		calls++
		return "", fmt.Errorf("%w: applicant not found", core.ErrPermanent)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, core.ErrPermanent)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
}

func TestExecuteActivity_ReplaysRecordedOutcomes(t *testing.T) {
	store := history.NewInMemoryStore()
	e := newTestEngine(t, store, NewManualClock(start))

	first, err := e.Run(context.Background(), "loan-a1")
	require.NoError(t, err)

	_, err = ExecuteActivity(first, "ok", fastPolicy(1), func(context.Context) (map[string]int, error) {
		return map[string]int{"score": 780}, nil
	})
	require.NoError(t, err)

	_, err = ExecuteActivity(first, "bad", fastPolicy(1), func(context.Context) (int, error) {
		return 0, fmt.Errorf("%w: unavailable", core.ErrProviderUnavailable)
	})
	require.Error(t, err)
	first.Close()

	replayed := 0
	e.Callbacks().RegisterCallback(NewFunctionCallback(CallbackReplayed, func(context.Context, *CallbackContext) {
		replayed++
	}))

	second, err := e.Run(context.Background(), "loan-a1")
	require.NoError(t, err)
	defer second.Close()

	assert.True(t, second.Replaying("ok"))

	v, err := ExecuteActivity(second, "ok", fastPolicy(1), func(context.Context) (map[string]int, error) {
		t.Fatal("must not run during replay")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"score": 780}, v)

	_, err = ExecuteActivity(second, "bad", fastPolicy(1), func(context.Context) (int, error) {
		t.Fatal("must not run during replay")
		return 0, nil
	})
	assert.ErrorIs(t, err, core.ErrProviderUnavailable)
	assert.Equal(t, 2, replayed)
}

func TestExecuteActivity_CancellationIsNotRecorded(t *testing.T) {
	store := history.NewInMemoryStore()
	e := newTestEngine(t, store, NewManualClock(start))

	wctx, err := e.Run(context.Background(), "loan-a1")
	require.NoError(t, err)

	_, err = ExecuteActivity(wctx, "slow", fastPolicy(3), func(ctx context.Context) (int, error) {
		wctx.Close()
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)

	events, err := store.Events("loan-a1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestExecuteActivity_ConcurrentFanOut(t *testing.T) {
	e := newTestEngine(t, history.NewInMemoryStore(), NewManualClock(start))

	wctx, err := e.Run(context.Background(), "loan-a1")
	require.NoError(t, err)
	defer wctx.Close()

	var (
		wg    sync.WaitGroup
		calls atomic.Int32
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			_, err := ExecuteActivity(wctx, fmt.Sprintf("assess.%d", i), fastPolicy(1), func(context.Context) (int, error) {
				calls.Add(1)
				return i, nil
			})
			assert.NoError(t, err)
		}(i)
	}

	wg.Wait()

	events, err := e.Store().Events("loan-a1")
	require.NoError(t, err)
	assert.Len(t, events, 8)
	assert.EqualValues(t, 8, calls.Load())
}

func TestContext_NowAndTimerAreDurable(t *testing.T) {
	store := history.NewInMemoryStore()
	clock := NewManualClock(start)
	e := newTestEngine(t, store, clock)

	first, err := e.Run(context.Background(), "loan-a1")
	require.NoError(t, err)

	created, err := first.Now("created")
	require.NoError(t, err)

	_, ok, err := first.TimerFireAt("review")
	require.NoError(t, err)
	assert.False(t, ok)

	fireAt, err := first.StartTimer("review", 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, start.Add(7*24*time.Hour), fireAt)
	first.Close()

	clock.Advance(3 * 24 * time.Hour)

	second, err := e.Run(context.Background(), "loan-a1")
	require.NoError(t, err)
	defer second.Close()

	again, err := second.Now("created")
	require.NoError(t, err)
	assert.Equal(t, created, again)

	recorded, ok, err := second.TimerFireAt("review")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fireAt, recorded)

	refire, err := second.StartTimer("review", 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, fireAt, refire)
	assert.False(t, second.Elapsed(refire))

	ch := second.TimerC(refire)
	clock.BlockUntil(1)
	clock.Advance(4 * 24 * time.Hour)
	<-ch
	assert.True(t, second.Elapsed(refire))
}

func TestContext_SignalFirstWins(t *testing.T) {
	e := newTestEngine(t, history.NewInMemoryStore(), NewManualClock(start))

	wctx, err := e.Run(context.Background(), "loan-a1")
	require.NoError(t, err)
	defer wctx.Close()

	type payload struct{ Verdict string }

	var got payload
	ok, err := wctx.Signal("review", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	fresh, err := wctx.RecordSignal("review", payload{Verdict: "approve"})
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = wctx.RecordSignal("review", payload{Verdict: "reject"})
	require.NoError(t, err)
	assert.False(t, fresh)

	ok, err = wctx.Signal("review", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "approve", got.Verdict)
}

func TestContext_Cancel(t *testing.T) {
	e := newTestEngine(t, history.NewInMemoryStore(), NewManualClock(start))

	wctx, err := e.Run(context.Background(), "loan-a1")
	require.NoError(t, err)
	defer wctx.Close()

	_, ok := wctx.CancelRequested()
	assert.False(t, ok)

	require.NoError(t, wctx.RecordCancel("applicant withdrew"))

	reason, ok := wctx.CancelRequested()
	assert.True(t, ok)
	assert.Equal(t, "applicant withdrew", reason)
}

func TestEngine_SingleActiveExecution(t *testing.T) {
	e := newTestEngine(t, history.NewInMemoryStore(), SystemClock{})

	wctx, err := e.Run(context.Background(), "loan-a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"loan-a1"}, e.Active())

	_, err = e.Run(context.Background(), "loan-a1")
	assert.Error(t, err)

	require.NoError(t, e.Stop("loan-a1"))
	assert.ErrorIs(t, wctx.Context().Err(), context.Canceled)

	wctx.Close()
	assert.Empty(t, e.Active())
	assert.ErrorIs(t, e.Stop("loan-a1"), core.ErrNotFound)

	_, err = e.Run(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := DefaultRetryPolicy()
	require.NoError(t, p.Validate())

	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 30*time.Second, p.Backoff(10))

	assert.Error(t, RetryPolicy{MaxAttempts: 0, BackoffCoefficient: 2}.Validate())
	assert.Error(t, RetryPolicy{MaxAttempts: 1, BackoffCoefficient: 0.5}.Validate())
}

func TestManualClock_FiresInOrder(t *testing.T) {
	c := NewManualClock(start)

	late := c.After(2 * time.Hour)
	early := c.After(time.Hour)
	assert.Equal(t, 2, c.Waiters())

	c.Advance(time.Hour)
	assert.Equal(t, start.Add(time.Hour), <-early)
	assert.Equal(t, 1, c.Waiters())

	c.Set(start)
	assert.Equal(t, start.Add(time.Hour), c.Now())

	c.Advance(time.Hour)
	<-late
	assert.Zero(t, c.Waiters())
}
