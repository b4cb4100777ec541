package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/underwriter/core"
	"github.com/hupe1980/underwriter/decision"
	"github.com/hupe1980/underwriter/engine"
	"github.com/hupe1980/underwriter/history"
	"github.com/hupe1980/underwriter/logging"
	"github.com/hupe1980/underwriter/stage"
)

// Names of the durable signal and timer used by the review gate.
const (
	SignalHumanDecision = "human_decision"
	TimerReview         = "review"
)

// DefaultReviewTimeout is how long a decision waits for a reviewer.
const DefaultReviewTimeout = 7 * 24 * time.Hour

var (
	// ErrShutdown is returned by a Coordinator that has been shut down.
	ErrShutdown = errors.New("coordinator is shut down")

	// ErrNotRunning is returned when a workflow has no live execution in this
	// process, e.g. it is open in history but was never recovered.
	ErrNotRunning = errors.New("workflow is not running")

	// ErrPending is returned by Signal and Cancel when ctx ends after the
	// request was recorded but before the workflow applied it.
	ErrPending = errors.New("request recorded, not yet applied")
)

// Options configures a Coordinator using the functional options pattern.
type Options struct {
	// Engine executes activities against durable history. Defaults to an
	// engine over an in-memory store.
	Engine *engine.Engine

	// Policy holds the aggregation thresholds.
	Policy decision.Policy

	// ReviewTimeout bounds the human review gate.
	ReviewTimeout time.Duration

	Logger logging.Logger
}

// Coordinator owns every workflow instance started or recovered by this
// process. Public methods are safe for concurrent use.
type Coordinator struct {
	engine        *engine.Engine
	store         history.Store
	acquisition   *stage.Acquisition
	assessment    *stage.Assessment
	policy        decision.Policy
	reviewTimeout time.Duration
	logger        logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	instances map[string]*instance
	closed    bool
}

// New creates a Coordinator.
func New(acquisition *stage.Acquisition, assessment *stage.Assessment, optFns ...func(o *Options)) *Coordinator {
	opts := Options{
		Policy:        decision.DefaultPolicy(),
		ReviewTimeout: DefaultReviewTimeout,
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Engine == nil {
		opts.Engine = engine.New(func(o *engine.Options) { o.Logger = opts.Logger })
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		engine:        opts.Engine,
		store:         opts.Engine.Store(),
		acquisition:   acquisition,
		assessment:    assessment,
		policy:        opts.Policy,
		reviewTimeout: opts.ReviewTimeout,
		logger:        opts.Logger,
		ctx:           ctx,
		cancel:        cancel,
		instances:     make(map[string]*instance),
	}
}

// Start validates req and starts its workflow. Starting the same request
// again returns the existing id; a different request for the same applicant
// fails with core.ErrAlreadyExists. The workflow outlives ctx.
func (c *Coordinator) Start(ctx context.Context, req core.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := req.WorkflowID()

	raw, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrShutdown
	}

	if inst, ok := c.instances[id]; ok {
		return sameRequest(id, inst.snapshot().Request, req)
	}

	rec, err := c.store.Get(id)
	switch {
	case err == nil:
		var stored core.Request
		if err := json.Unmarshal(rec.Request, &stored); err != nil {
			return "", fmt.Errorf("corrupt request for %s: %w", id, err)
		}

		return sameRequest(id, stored, req)
	case !errors.Is(err, core.ErrNotFound):
		return "", err
	}

	now := c.engine.Clock().Now().UTC()
	state := core.NewWorkflowState(id, req, now)

	snapshot, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}

	if err := c.store.Create(history.WorkflowRecord{
		ID:        id,
		Request:   raw,
		Status:    history.StatusOpen,
		Snapshot:  snapshot,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return "", err
	}

	inst := newInstance(state)
	if err := c.launchLocked(inst); err != nil {
		return "", err
	}

	c.instances[id] = inst

	c.logger.Info("Workflow started", "workflow_id", id, "applicant_id", req.ApplicantID)

	return id, nil
}

func sameRequest(id string, existing, req core.Request) (string, error) {
	if existing == req {
		return id, nil
	}

	return "", fmt.Errorf("workflow %s: %w", id, core.ErrAlreadyExists)
}

// launchLocked binds inst to a new execution and runs it in the background.
// Callers hold c.mu.
func (c *Coordinator) launchLocked(inst *instance) error {
	wctx, err := c.engine.Run(c.ctx, inst.id)
	if err != nil {
		return err
	}

	fireAt, _, err := wctx.TimerFireAt(TimerReview)
	if err != nil {
		wctx.Close()
		return err
	}

	// A recorded cancellation is honoured on replay: recorded outcomes are
	// reused and anything not yet recorded fails fast.
	if _, ok := wctx.CancelRequested(); ok {
		_ = c.engine.Stop(inst.id)
	}

	inst.mu.Lock()
	inst.wctx = wctx
	inst.fireAt = fireAt
	inst.mu.Unlock()

	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		defer close(inst.done)
		defer wctx.Close()

		c.execute(wctx, inst)
	}()

	return nil
}

// execute drives one workflow from INIT to a terminal phase or until its
// execution context ends.
func (c *Coordinator) execute(wctx *engine.Context, inst *instance) {
	req := inst.snapshot().Request

	if err := c.advance(wctx, inst, core.PhaseAcquiring, nil); err != nil {
		c.abort(wctx, inst, err)
		return
	}

	bundle, err := c.acquisition.Run(wctx, req)
	if err != nil {
		c.abort(wctx, inst, err)
		return
	}

	if err := c.advance(wctx, inst, core.PhaseAssessing, func(s *core.WorkflowState) error {
		b := bundle.Clone()
		s.Bundle = &b

		return nil
	}); err != nil {
		c.abort(wctx, inst, err)
		return
	}

	results, err := c.assessment.Run(wctx, req, bundle)
	if err != nil {
		c.abort(wctx, inst, err)
		return
	}

	if err := c.advance(wctx, inst, core.PhaseAggregating, func(s *core.WorkflowState) error {
		s.Assessments = results
		return nil
	}); err != nil {
		c.abort(wctx, inst, err)
		return
	}

	d := decision.Aggregate(c.policy, req, bundle, results)

	if err := c.advance(wctx, inst, core.PhaseAwaitingReview, func(s *core.WorkflowState) error {
		cp := d.Clone()
		s.Decision = &cp

		return s.Audit.RecordDecision(d, bundle.Credit.Provider)
	}); err != nil {
		c.abort(wctx, inst, err)
		return
	}

	c.logger.Info("Decision computed",
		"workflow_id", inst.id, "recommendation", d.Recommendation, "confidence", d.Confidence, "rule", d.Rule)

	c.awaitReview(wctx, inst)
}

// awaitReview suspends until a reviewer signal, a cancellation or the review
// deadline closes the gate.
func (c *Coordinator) awaitReview(wctx *engine.Context, inst *instance) {
	fireAt, err := wctx.StartTimer(TimerReview, c.reviewTimeout)
	if err != nil {
		c.abort(wctx, inst, err)
		return
	}

	inst.mu.Lock()
	inst.fireAt = fireAt
	inst.mu.Unlock()

	for {
		closed, err := c.tryCloseGate(wctx, inst, fireAt)
		if err != nil {
			c.abort(wctx, inst, err)
			return
		}

		if closed {
			return
		}

		select {
		case <-inst.signalled:
		case <-wctx.TimerC(fireAt):
		case <-wctx.Context().Done():
			if _, ok := wctx.CancelRequested(); !ok {
				c.logger.Info("Workflow execution stopped", "workflow_id", inst.id, "phase", core.PhaseAwaitingReview)
				return
			}
		}
	}
}

// tryCloseGate applies the first recorded gate outcome. A recorded signal
// wins over a recorded cancellation, which wins over the deadline.
func (c *Coordinator) tryCloseGate(wctx *engine.Context, inst *instance, fireAt time.Time) (bool, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	var hd core.HumanDecision

	ok, err := wctx.Signal(SignalHumanDecision, &hd)
	if err != nil {
		return false, err
	}

	if ok {
		return true, c.transitionLocked(wctx, inst, core.PhaseDecided, func(s *core.WorkflowState) error {
			return s.Audit.RecordHumanDecision(hd)
		})
	}

	if reason, ok := wctx.CancelRequested(); ok {
		return true, c.failLocked(wctx, inst, cancelError(reason))
	}

	if wctx.Elapsed(fireAt) {
		return true, c.transitionLocked(wctx, inst, core.PhaseExpired, nil)
	}

	return false, nil
}

// advance applies a phase transition under the instance lock.
func (c *Coordinator) advance(wctx *engine.Context, inst *instance, next core.Phase, mutate func(s *core.WorkflowState) error) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	return c.transitionLocked(wctx, inst, next, mutate)
}

// transitionLocked mutates a copy of the state, moves it to next, persists the
// snapshot and only then publishes it. Transition times are durable markers so
// a replayed workflow reproduces them. Transitions a recovered workflow had
// already saved are replayed silently. Callers hold inst.mu.
func (c *Coordinator) transitionLocked(wctx *engine.Context, inst *instance, next core.Phase, mutate func(s *core.WorkflowState) error) error {
	at, err := wctx.Now("phase:" + string(next))
	if err != nil {
		return err
	}

	state := inst.baseLocked().Clone()

	if mutate != nil {
		if err := mutate(&state); err != nil {
			return err
		}
	}

	from := state.Phase

	if err := state.Transition(next, at); err != nil {
		return err
	}

	if inst.replay != nil && next.AtOrBefore(inst.resumeAt) {
		if next == inst.resumeAt {
			inst.state = state
			inst.replay, inst.resumeAt = nil, ""
		} else {
			inst.replay = &state
		}

		return nil
	}

	inst.replay, inst.resumeAt = nil, ""

	if err := c.persist(state); err != nil {
		return err
	}

	inst.state = state
	inst.notifyLocked()

	c.logPhase(inst.id, from, next)

	return nil
}

// abort ends an execution after err. Cancellation without a recorded cancel
// request is a shutdown and leaves the workflow open for recovery.
func (c *Coordinator) abort(wctx *engine.Context, inst *instance, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		reason, ok := wctx.CancelRequested()
		if !ok {
			c.logger.Info("Workflow execution stopped", "workflow_id", inst.id, "phase", inst.snapshot().Phase)
			return
		}

		err = cancelError(reason)
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	if fErr := c.failLocked(wctx, inst, err); fErr != nil {
		c.logger.Error("Failed to record workflow failure", "workflow_id", inst.id, "error", fErr)
	}
}

// failLocked moves the instance to FAILED. Callers hold inst.mu.
func (c *Coordinator) failLocked(wctx *engine.Context, inst *instance, cause error) error {
	if inst.state.Phase.IsTerminal() {
		return nil
	}

	reason := core.Reason(cause)

	var ce *cancelled
	if errors.As(cause, &ce) && ce.reason != "" {
		reason = fmt.Sprintf("%s (%s)", reason, ce.reason)
	}

	c.logger.Error("Workflow failed", "workflow_id", inst.id, "phase", inst.state.Phase, "kind", core.KindOf(cause))

	return c.transitionLocked(wctx, inst, core.PhaseFailed, func(s *core.WorkflowState) error {
		s.FailureReason = reason
		return nil
	})
}

func (c *Coordinator) persist(state core.WorkflowState) error {
	snapshot, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	status := history.StatusOpen
	if state.Phase.IsTerminal() {
		status = history.StatusClosed
	}

	return c.store.Save(history.WorkflowRecord{
		ID:        state.ID,
		Status:    status,
		Snapshot:  snapshot,
		UpdatedAt: state.UpdatedAt,
	})
}

func (c *Coordinator) logPhase(id string, from, to core.Phase) {
	if l, ok := c.logger.(*logging.UnderwriterLogger); ok {
		l.WithWorkflow(id).LogPhase(string(from), string(to))
		return
	}

	c.logger.Info("Phase transition", "workflow_id", id, "from", from, "to", to)
}

// cancelled carries the caller's cancellation reason next to core.ErrCancelled.
type cancelled struct {
	reason string
}

func (e *cancelled) Error() string {
	if e.reason == "" {
		return core.ErrCancelled.Error()
	}

	return core.ErrCancelled.Error() + ": " + e.reason
}

func (e *cancelled) Unwrap() error { return core.ErrCancelled }

func cancelError(reason string) error { return &cancelled{reason: reason} }

// Signal delivers a reviewer's decision. It fails with core.ErrSignalRejected
// unless the workflow is awaiting review and its gate is still open, and
// returns once the DECIDED transition has been applied. If ctx ends first the
// error wraps ErrPending and the decision is still applied.
func (c *Coordinator) Signal(ctx context.Context, id string, hd core.HumanDecision) error {
	if err := hd.Validate(); err != nil {
		return err
	}

	inst, err := c.lookup(id)
	if err != nil {
		return err
	}

	inst.mu.Lock()

	if err := c.gateOpenLocked(inst); err != nil {
		inst.mu.Unlock()
		return err
	}

	if hd.Timestamp.IsZero() {
		hd.Timestamp = c.engine.Clock().Now().UTC()
	}

	fresh, err := inst.wctx.RecordSignal(SignalHumanDecision, hd)
	if err != nil {
		inst.mu.Unlock()
		return err
	}

	if !fresh {
		inst.mu.Unlock()
		return fmt.Errorf("%w: workflow %s already has a reviewer decision", core.ErrSignalRejected, id)
	}

	inst.closing = true

	select {
	case inst.signalled <- struct{}{}:
	default:
	}

	inst.mu.Unlock()

	c.logger.Info("Reviewer decision recorded", "workflow_id", id, "actor", hd.Actor, "verdict", hd.Verdict)

	return awaitApplied(ctx, inst)
}

// gateOpenLocked reports why a signal cannot be accepted. Callers hold inst.mu.
func (c *Coordinator) gateOpenLocked(inst *instance) error {
	phase := inst.state.Phase

	switch {
	case phase != core.PhaseAwaitingReview:
		return fmt.Errorf("%w: workflow %s is %s", core.ErrSignalRejected, inst.id, phase)
	case inst.closing:
		return fmt.Errorf("%w: review gate of workflow %s is closing", core.ErrSignalRejected, inst.id)
	case !inst.fireAt.IsZero() && !c.engine.Clock().Now().Before(inst.fireAt):
		return fmt.Errorf("%w: review deadline of workflow %s has passed", core.ErrSignalRejected, inst.id)
	case inst.wctx == nil || !inst.running():
		return fmt.Errorf("workflow %s: %w", inst.id, ErrNotRunning)
	}

	return nil
}

// Cancel withdraws a workflow. In-flight calls are cancelled, results already
// recorded are kept and the workflow ends FAILED with a Cancelled reason.
// Terminal workflows and closed review gates reject the request with
// core.ErrSignalRejected.
func (c *Coordinator) Cancel(ctx context.Context, id, reason string) error {
	inst, err := c.lookup(id)
	if err != nil {
		return err
	}

	inst.mu.Lock()

	phase := inst.state.Phase

	switch {
	case phase.IsTerminal():
		inst.mu.Unlock()
		return fmt.Errorf("%w: workflow %s is already %s", core.ErrSignalRejected, id, phase)
	case phase == core.PhaseAwaitingReview:
		if err := c.gateOpenLocked(inst); err != nil {
			inst.mu.Unlock()
			return err
		}
	case inst.closing:
		inst.mu.Unlock()
		return fmt.Errorf("%w: workflow %s is already being cancelled", core.ErrSignalRejected, id)
	case inst.wctx == nil || !inst.running():
		inst.mu.Unlock()
		return fmt.Errorf("workflow %s: %w", id, ErrNotRunning)
	}

	if err := inst.wctx.RecordCancel(reason); err != nil {
		inst.mu.Unlock()
		return err
	}

	inst.closing = true
	inst.mu.Unlock()

	c.logger.Info("Workflow cancellation requested", "workflow_id", id, "phase", phase)

	// The execution may already have finished on its own.
	_ = c.engine.Stop(id)

	return awaitApplied(ctx, inst)
}

func awaitApplied(ctx context.Context, inst *instance) error {
	select {
	case <-inst.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workflow %s: %w: %w", inst.id, ErrPending, ctx.Err())
	}
}

func (c *Coordinator) lookup(id string) (*instance, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	inst, ok := c.instances[id]
	if ok {
		return inst, nil
	}

	if _, err := c.store.Get(id); err == nil {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotRunning)
	}

	return nil, fmt.Errorf("workflow %s: %w", id, core.ErrNotFound)
}

// Query returns a snapshot of the workflow's state. Workflows that are only
// known to the history store are answered from their persisted snapshot.
func (c *Coordinator) Query(id string) (core.WorkflowState, error) {
	c.mu.RLock()
	inst, ok := c.instances[id]
	c.mu.RUnlock()

	if ok {
		return inst.snapshot(), nil
	}

	rec, err := c.store.Get(id)
	if err != nil {
		return core.WorkflowState{}, err
	}

	return decodeSnapshot(rec)
}

func decodeSnapshot(rec history.WorkflowRecord) (core.WorkflowState, error) {
	var state core.WorkflowState
	if err := json.Unmarshal(rec.Snapshot, &state); err != nil {
		return core.WorkflowState{}, fmt.Errorf("corrupt snapshot for %s: %w", rec.ID, err)
	}

	return state, nil
}

// Wait blocks until the workflow's execution ends and returns its final
// state.
func (c *Coordinator) Wait(ctx context.Context, id string) (core.WorkflowState, error) {
	inst, err := c.lookup(id)
	if err != nil {
		return core.WorkflowState{}, err
	}

	select {
	case <-inst.done:
		return inst.snapshot(), nil
	case <-ctx.Done():
		return core.WorkflowState{}, ctx.Err()
	}
}

// WaitFor blocks until the workflow reaches one of phases or a terminal phase,
// or its execution ends.
func (c *Coordinator) WaitFor(ctx context.Context, id string, phases ...core.Phase) (core.WorkflowState, error) {
	inst, err := c.lookup(id)
	if err != nil {
		return core.WorkflowState{}, err
	}

	for {
		state, changed := inst.watch()

		if state.Phase.IsTerminal() || containsPhase(phases, state.Phase) {
			return state, nil
		}

		select {
		case <-changed:
		case <-inst.done:
			return inst.snapshot(), nil
		case <-ctx.Done():
			return core.WorkflowState{}, ctx.Err()
		}
	}
}

// Recover loads every workflow in the history store that this Coordinator
// does not know yet. Open workflows are resumed by replaying their history
// and keep reporting their saved phase until the replay catches up; closed
// ones are served from their snapshot. It returns the number of
// resumed executions.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	recs, err := c.store.List()
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrShutdown
	}

	resumed := 0

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return resumed, err
		}

		if _, ok := c.instances[rec.ID]; ok {
			continue
		}

		if rec.Status == history.StatusClosed {
			state, err := decodeSnapshot(rec)
			if err != nil {
				return resumed, err
			}

			inst := newInstance(state)
			close(inst.done)
			c.instances[rec.ID] = inst

			continue
		}

		var req core.Request
		if err := json.Unmarshal(rec.Request, &req); err != nil {
			return resumed, fmt.Errorf("corrupt request for %s: %w", rec.ID, err)
		}

		saved, err := decodeSnapshot(rec)
		if err != nil {
			return resumed, err
		}

		inst := newRecoveredInstance(saved, core.NewWorkflowState(rec.ID, req, rec.CreatedAt))
		if err := c.launchLocked(inst); err != nil {
			return resumed, err
		}

		c.instances[rec.ID] = inst
		resumed++

		c.logger.Info("Workflow resumed", "workflow_id", rec.ID)
	}

	return resumed, nil
}

// Shutdown stops every execution without applying terminal transitions, so a
// later Recover resumes them. It waits for executions to return or ctx to end.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()

	done := make(chan struct{})

	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func containsPhase(phases []core.Phase, p core.Phase) bool {
	for _, q := range phases {
		if q == p {
			return true
		}
	}

	return false
}
