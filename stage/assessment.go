package stage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/underwriter/assessment"
	"github.com/hupe1980/underwriter/core"
	"github.com/hupe1980/underwriter/engine"
	"github.com/hupe1980/underwriter/logging"
)

// AssessmentOptions configures an Assessment stage.
type AssessmentOptions struct {
	// RetryPolicy applies to every evaluator call.
	RetryPolicy engine.RetryPolicy

	Logger logging.Logger
}

// Assessment coordinates the concurrent execution of one evaluator per kind.
//
// Each evaluator runs as its own activity and receives its own copy of the
// data bundle. A failing evaluator never cancels its siblings: once its retry
// budget is spent it is replaced by a degraded result and the stage carries on.
type Assessment struct {
	evaluators map[core.Kind]core.AssessmentProvider
	policy     engine.RetryPolicy
	logger     logging.Logger
}

// NewAssessment creates the stage. Exactly one evaluator per core.Kinds entry
// is required.
func NewAssessment(evaluators []core.AssessmentProvider, optFns ...func(o *AssessmentOptions)) (*Assessment, error) {
	opts := AssessmentOptions{
		RetryPolicy: engine.DefaultRetryPolicy(),
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	byKind := make(map[core.Kind]core.AssessmentProvider, len(evaluators))

	for _, e := range evaluators {
		if e == nil {
			return nil, errors.New("evaluator must not be nil")
		}

		if _, dup := byKind[e.Kind()]; dup {
			return nil, fmt.Errorf("duplicate evaluator for kind %s", e.Kind())
		}

		byKind[e.Kind()] = e
	}

	for _, k := range core.Kinds {
		if _, ok := byKind[k]; !ok {
			return nil, fmt.Errorf("missing evaluator for kind %s", k)
		}
	}

	if len(byKind) != len(core.Kinds) {
		return nil, fmt.Errorf("expected %d evaluators, got %d", len(core.Kinds), len(byKind))
	}

	return &Assessment{
		evaluators: byKind,
		policy:     opts.RetryPolicy,
		logger:     opts.Logger,
	}, nil
}

// ActivityName returns the activity name used for an evaluator kind.
func ActivityName(kind core.Kind) string {
	return "assess." + string(kind)
}

// Run assesses the request with every evaluator concurrently and returns one
// result per kind, in core.Kinds order. Only cancellation of the workflow
// aborts the stage.
func (a *Assessment) Run(wctx *engine.Context, req core.Request, bundle core.DataBundle) ([]core.AssessmentResult, error) {
	var (
		g       errgroup.Group
		mu      sync.Mutex
		results = make(map[core.Kind]core.AssessmentResult, len(core.Kinds))
	)

	for _, kind := range core.Kinds {
		evaluator := a.evaluators[kind]

		g.Go(func() error {
			own := bundle.Clone()

			res, err := engine.ExecuteActivity(wctx, ActivityName(kind), a.policy, func(ctx context.Context) (core.AssessmentResult, error) {
				r, err := evaluator.Assess(ctx, req, own)
				if err != nil {
					return core.AssessmentResult{}, err
				}

				r.Kind = kind
				r.Degraded = false

				return r, nil
			})
			if err != nil {
				if ctxErr := wctx.Context().Err(); ctxErr != nil {
					return ctxErr
				}

				a.logger.Warn("Evaluator degraded",
					"workflow_id", wctx.WorkflowID(), "kind", kind, "error_kind", core.KindOf(err))

				res = assessment.Degraded(kind, err)
			}

			mu.Lock()
			results[kind] = res
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]core.AssessmentResult, 0, len(core.Kinds))
	for _, k := range core.Kinds {
		out = append(out, results[k])
	}

	return out, nil
}
