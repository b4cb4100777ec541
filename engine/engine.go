package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/underwriter/core"
	"github.com/hupe1980/underwriter/history"
	"github.com/hupe1980/underwriter/logging"
)

// Options configures an Engine instance using the functional options pattern.
type Options struct {
	// Store persists workflow history. Defaults to an in-memory store.
	Store history.Store

	// Clock supplies durable time for markers and timers. Defaults to SystemClock.
	Clock Clock

	// Callbacks observe activity attempts, replays, timers and signals.
	Callbacks *CallbackManager

	// Sleep waits between retry attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Engine binds workflow executions to their persisted history and tracks the
// executions currently running in this process.
type Engine struct {
	store     history.Store
	clock     Clock
	callbacks *CallbackManager
	sleep     func(ctx context.Context, d time.Duration) error
	logger    logging.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New creates an Engine with in-memory defaults.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Store:     history.NewInMemoryStore(),
		Clock:     SystemClock{},
		Callbacks: NewCallbackManager(),
		Sleep:     sleepContext,
		Logger:    logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Engine{
		store:     opts.Store,
		clock:     opts.Clock,
		callbacks: opts.Callbacks,
		sleep:     opts.Sleep,
		logger:    opts.Logger,
		active:    make(map[string]context.CancelFunc),
	}
}

// Store returns the history store.
func (e *Engine) Store() history.Store { return e.store }

// Clock returns the durable clock.
func (e *Engine) Clock() Clock { return e.clock }

// Callbacks returns the callback manager.
func (e *Engine) Callbacks() *CallbackManager { return e.callbacks }

// Run loads the workflow's history and returns an execution Context bound to
// it. At most one execution per workflow may be active; Close releases it.
func (e *Engine) Run(ctx context.Context, workflowID string) (*Context, error) {
	events, err := e.store.Events(workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, running := e.active[workflowID]; running {
		return nil, fmt.Errorf("workflow %s is already running", workflowID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.active[workflowID] = cancel

	r := &run{
		engine:     e,
		workflowID: workflowID,
		cancel:     cancel,
		events:     make(map[string]history.Event, len(events)),
	}

	for _, ev := range events {
		r.events[ev.Key] = ev
	}

	return &Context{ctx: runCtx, run: r}, nil
}

// Stop cancels a running execution.
func (e *Engine) Stop(workflowID string) error {
	e.mu.Lock()
	cancel, exists := e.active[workflowID]
	e.mu.Unlock()

	if !exists {
		return fmt.Errorf("workflow %s: %w", workflowID, core.ErrNotFound)
	}

	cancel()

	return nil
}

// StopAll cancels every running execution.
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, cancel := range e.active {
		cancel()
	}
}

// Active returns the ids of running executions, sorted.
func (e *Engine) Active() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

func (e *Engine) release(workflowID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.active, workflowID)
}

type run struct {
	engine     *Engine
	workflowID string
	cancel     context.CancelFunc

	mu     sync.Mutex
	events map[string]history.Event
	closed bool
}

// Context is one execution of a workflow against its history.
type Context struct {
	ctx context.Context
	run *run
}

// Context returns the execution's context.Context.
func (c *Context) Context() context.Context { return c.ctx }

// WorkflowID returns the bound workflow id.
func (c *Context) WorkflowID() string { return c.run.workflowID }

// WithContext returns a Context sharing the same history but using ctx for
// cancellation. Fan-out stages use it with errgroup-derived contexts.
func (c *Context) WithContext(ctx context.Context) *Context {
	return &Context{ctx: ctx, run: c.run}
}

// Close cancels the execution and releases its slot in the engine.
func (c *Context) Close() {
	c.run.mu.Lock()
	closed := c.run.closed
	c.run.closed = true
	c.run.mu.Unlock()

	if closed {
		return
	}

	c.run.cancel()
	c.run.engine.release(c.run.workflowID)
}

// Replaying reports whether the history already holds an entry for the
// given activity name.
func (c *Context) Replaying(name string) bool {
	_, ok := c.lookup(activityKey(name))
	return ok
}

func (c *Context) lookup(key string) (history.Event, bool) {
	c.run.mu.Lock()
	defer c.run.mu.Unlock()

	ev, ok := c.run.events[key]

	return ev, ok
}

// record appends an event unless the key is already present and returns the
// event that history holds for the key.
func (c *Context) record(key string, typ history.EventType, payload json.RawMessage) (history.Event, bool, error) {
	c.run.mu.Lock()
	defer c.run.mu.Unlock()

	if ev, ok := c.run.events[key]; ok {
		return ev, false, nil
	}

	e := c.run.engine
	ev := history.NewEvent(c.run.workflowID, key, typ, payload, e.clock.Now())

	if err := e.store.Append(c.run.workflowID, ev); err != nil {
		return history.Event{}, false, fmt.Errorf("failed to append %s: %w", key, err)
	}

	c.run.events[key] = ev

	return ev, true, nil
}

func (c *Context) notify(cbCtx CallbackContext) {
	cbCtx.WorkflowID = c.run.workflowID
	c.run.engine.callbacks.ExecuteCallbacks(c.ctx, &cbCtx)
}

type activityOutcome struct {
	Result    json.RawMessage `json:"result,omitempty"`
	Attempts  int             `json:"attempts"`
	Kind      string          `json:"kind,omitempty"`
	Message   string          `json:"message,omitempty"`
	Exhausted bool            `json:"exhausted,omitempty"`
}

func activityKey(name string) string { return "activity:" + name }

// ExecuteActivity runs fn under policy and records its outcome. When history
// already holds an outcome for name, that outcome is returned and fn is not
// called. Non-retryable errors stop at once; retryable errors are retried
// until policy.MaxAttempts and then reported as an exhausted ActivityError.
// Cancellation of the execution context is returned unrecorded so a later
// execution can pick the activity up again.
func ExecuteActivity[T any](c *Context, name string, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	key := activityKey(name)

	if ev, ok := c.lookup(key); ok {
		c.notify(CallbackContext{Name: name, CallbackType: CallbackReplayed})
		return replayActivity[T](name, ev)
	}

	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	e := c.run.engine

	for attempt := 1; ; attempt++ {
		if err := c.ctx.Err(); err != nil {
			return zero, err
		}

		c.notify(CallbackContext{Name: name, Attempt: attempt, CallbackType: CallbackBeforeAttempt})

		start := time.Now()
		v, err := fn(c.ctx)
		dur := time.Since(start)

		c.notify(CallbackContext{Name: name, Attempt: attempt, Duration: dur, Err: err, CallbackType: CallbackAfterAttempt})

		if err == nil {
			result, mErr := json.Marshal(v)
			if mErr != nil {
				return zero, fmt.Errorf("failed to encode result of %s: %w", name, mErr)
			}

			payload, _ := json.Marshal(activityOutcome{Result: result, Attempts: attempt})

			ev, fresh, rErr := c.record(key, history.EventActivityCompleted, payload)
			if rErr != nil {
				return zero, rErr
			}

			if !fresh {
				return replayActivity[T](name, ev)
			}

			e.logger.Debug("Activity completed",
				"workflow_id", c.run.workflowID, "activity", name, "attempt", attempt, "duration_ms", dur.Milliseconds())

			return v, nil
		}

		if ctxErr := c.ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		retryable := core.IsRetryable(err)

		if !retryable || attempt >= policy.MaxAttempts {
			aerr := &ActivityError{Name: name, Attempts: attempt, Exhausted: retryable, Cause: err}

			payload, _ := json.Marshal(activityOutcome{
				Attempts:  attempt,
				Kind:      core.KindOf(err),
				Message:   err.Error(),
				Exhausted: retryable,
			})

			if _, _, rErr := c.record(key, history.EventActivityFailed, payload); rErr != nil {
				return zero, rErr
			}

			e.logger.Warn("Activity failed",
				"workflow_id", c.run.workflowID, "activity", name, "attempts", attempt,
				"exhausted", retryable, "kind", core.KindOf(err))

			return zero, aerr
		}

		backoff := policy.Backoff(attempt)

		e.logger.Warn("Activity attempt failed",
			"workflow_id", c.run.workflowID, "activity", name, "attempt", attempt,
			"kind", core.KindOf(err), "backoff_ms", backoff.Milliseconds())

		if err := e.sleep(c.ctx, backoff); err != nil {
			return zero, err
		}
	}
}

func replayActivity[T any](name string, ev history.Event) (T, error) {
	var (
		zero    T
		outcome activityOutcome
	)

	if err := json.Unmarshal(ev.Payload, &outcome); err != nil {
		return zero, fmt.Errorf("corrupt history for %s: %w", name, err)
	}

	if ev.Type == history.EventActivityFailed {
		return zero, &ActivityError{
			Name:      name,
			Attempts:  outcome.Attempts,
			Exhausted: outcome.Exhausted,
			Cause:     core.ErrorFromKind(outcome.Kind, outcome.Message),
		}
	}

	var v T
	if len(outcome.Result) > 0 {
		if err := json.Unmarshal(outcome.Result, &v); err != nil {
			return zero, fmt.Errorf("corrupt history for %s: %w", name, err)
		}
	}

	return v, nil
}

type timePayload struct {
	At time.Time `json:"at"`
}

// Now returns the time recorded for marker, recording the current clock time
// on first use.
func (c *Context) Now(marker string) (time.Time, error) {
	at := c.run.engine.clock.Now().UTC()
	payload, _ := json.Marshal(timePayload{At: at})

	ev, _, err := c.record("marker:"+marker, history.EventMarker, payload)
	if err != nil {
		return time.Time{}, err
	}

	return decodeTime(ev)
}

// StartTimer records a durable timer firing d after its first start and
// returns the fire time. Restarted executions get the original fire time.
func (c *Context) StartTimer(name string, d time.Duration) (time.Time, error) {
	fireAt := c.run.engine.clock.Now().Add(d).UTC()
	payload, _ := json.Marshal(timePayload{At: fireAt})

	ev, fresh, err := c.record("timer:"+name, history.EventTimerStarted, payload)
	if err != nil {
		return time.Time{}, err
	}

	if fresh {
		c.notify(CallbackContext{Name: name, Duration: d, CallbackType: CallbackTimerStarted})
	}

	return decodeTime(ev)
}

// TimerFireAt returns the fire time of a timer already held by history,
// without starting it.
func (c *Context) TimerFireAt(name string) (time.Time, bool, error) {
	ev, ok := c.lookup("timer:" + name)
	if !ok {
		return time.Time{}, false, nil
	}

	at, err := decodeTime(ev)
	if err != nil {
		return time.Time{}, false, err
	}

	return at, true, nil
}

// TimerC returns a channel that fires once the clock reaches fireAt.
func (c *Context) TimerC(fireAt time.Time) <-chan time.Time {
	clock := c.run.engine.clock
	return clock.After(fireAt.Sub(clock.Now()))
}

// Elapsed reports whether the clock has reached fireAt.
func (c *Context) Elapsed(fireAt time.Time) bool {
	return !c.run.engine.clock.Now().Before(fireAt)
}

func decodeTime(ev history.Event) (time.Time, error) {
	var p timePayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return time.Time{}, fmt.Errorf("corrupt history for %s: %w", ev.Key, err)
	}

	return p.At, nil
}

// RecordSignal persists a signal. It returns false when a signal with the same
// name was already recorded; the first recorded payload wins.
func (c *Context) RecordSignal(name string, payload any) (bool, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to encode signal %s: %w", name, err)
	}

	_, fresh, err := c.record("signal:"+name, history.EventSignalReceived, raw)
	if err != nil {
		return false, err
	}

	if fresh {
		c.notify(CallbackContext{Name: name, CallbackType: CallbackSignalRecorded})
	}

	return fresh, nil
}

// Signal decodes a recorded signal into out and reports whether one exists.
func (c *Context) Signal(name string, out any) (bool, error) {
	ev, ok := c.lookup("signal:" + name)
	if !ok {
		return false, nil
	}

	if err := json.Unmarshal(ev.Payload, out); err != nil {
		return false, fmt.Errorf("corrupt history for %s: %w", ev.Key, err)
	}

	return true, nil
}

type cancelPayload struct {
	Reason string `json:"reason"`
}

// RecordCancel persists a cancellation request.
func (c *Context) RecordCancel(reason string) error {
	payload, _ := json.Marshal(cancelPayload{Reason: reason})
	_, _, err := c.record("cancel", history.EventCancelRequested, payload)

	return err
}

// CancelRequested returns the recorded cancellation reason, if any.
func (c *Context) CancelRequested() (string, bool) {
	ev, ok := c.lookup("cancel")
	if !ok {
		return "", false
	}

	var p cancelPayload
	_ = json.Unmarshal(ev.Payload, &p)

	return p.Reason, true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
