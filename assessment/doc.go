// Package assessment provides the evaluators that judge one aspect of a loan
// request each: credit, income and expense.
//
// Evaluator variants are data. A Config names the kind, the backing provider
// and, for model-backed evaluators, the model and prompt template. Two
// implementations of core.AssessmentProvider exist:
//
//   - RuleEvaluator computes deterministic metrics and verdicts
//   - ModelEvaluator asks a language model and validates its answer against a
//     strict schema; a malformed answer is an evaluator failure, never a panic
//
// Degraded builds the synthetic result substituted for an evaluator that
// exhausted its retry budget.
package assessment
