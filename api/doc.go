// Package api exposes the underwriting workflows over HTTP using a chi router.
//
// Routes:
//
//	GET  /                      health and configured evaluator models
//	POST /submit                start a workflow for a loan request
//	GET  /status/{id}           workflow snapshot
//	GET  /workflow/{id}/summary decision, facts and assessments for review
//	GET  /workflow/{id}/final   outcome once the workflow is terminal
//	POST /workflow/{id}/review  deliver the human decision
//	POST /workflow/{id}/cancel  withdraw an application
//	GET  /workflows             list workflows, filtered by phase, applicant_id, recommendation
//	GET  /stats                 aggregate counters
//	POST /notify                log a simulated applicant notification
//
// Errors are returned as {"error":{"code":...,"message":...}} where code is
// one of NotFound, SignalRejected, InvalidRequest, Conflict, Unavailable or
// Internal.
package api
