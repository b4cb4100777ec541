// Package workflow implements the Coordinator: the per-application state
// machine that drives acquisition, assessment, aggregation and the human
// review gate on top of the durable engine.
//
// Every workflow instance is owned by exactly one Coordinator. Its
// WorkflowState is mutated only under the instance lock and callers receive
// clones. Progress is persisted as engine history plus a state snapshot, so a
// new Coordinator over the same history store can Recover open workflows by
// replay without calling providers again.
//
// Basic usage:
//
//	c := workflow.New(acquisition, assessment, func(o *workflow.Options) {
//		o.Engine = engine.New(func(eo *engine.Options) { eo.Store = store })
//	})
//	id, err := c.Start(ctx, req)
//	...
//	err = c.Signal(ctx, id, core.HumanDecision{Actor: "jane", Verdict: core.HumanApprove})
package workflow
