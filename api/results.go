package api

import (
	"math"
	"net/http"
	"net/mail"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hupe1980/underwriter/core"
	"github.com/hupe1980/underwriter/decision"
)

// Result readiness reported by the summary and final routes.
const (
	StatusPending  = "pending"
	StatusNotReady = "not_ready"
	StatusReady    = "ready"
)

// ReviewSummary is what a reviewer needs to decide.
type ReviewSummary struct {
	Request        core.Request            `json:"request"`
	CreditProvider string                  `json:"credit_provider"`
	Credit         core.CreditReport       `json:"credit"`
	Facts          *decision.Facts         `json:"facts,omitempty"`
	Assessments    []core.AssessmentResult `json:"assessments"`
	Decision       core.Decision           `json:"decision"`
}

// SummaryResponse is returned by GET /workflow/{id}/summary. Summary is
// omitted while the decision is pending.
type SummaryResponse struct {
	WorkflowID string         `json:"workflow_id"`
	Phase      core.Phase     `json:"phase"`
	Status     string         `json:"status"`
	Summary    *ReviewSummary `json:"summary,omitempty"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	state, err := s.workflows.Query(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := SummaryResponse{WorkflowID: state.ID, Phase: state.Phase, Status: StatusPending}

	if state.Decision != nil && state.Bundle != nil {
		sum := &ReviewSummary{
			Request:        state.Request,
			CreditProvider: state.Audit.CreditProvider,
			Credit:         state.Bundle.Credit,
			Assessments:    state.Assessments,
			Decision:       *state.Decision,
		}

		if facts := decision.NewFacts(state.Request, *state.Bundle); !math.IsInf(facts.LoanToIncome, 0) {
			sum.Facts = &facts
		}

		resp.Status = StatusReady
		resp.Summary = sum
	}

	writeJSON(w, http.StatusOK, resp)
}

// FinalResult is the outcome of a closed workflow.
type FinalResult struct {
	Decision      *core.Decision      `json:"decision,omitempty"`
	HumanDecision *core.HumanDecision `json:"human_decision,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
}

// FinalResponse is returned by GET /workflow/{id}/final. FinalResult is
// omitted until the workflow is terminal.
type FinalResponse struct {
	WorkflowID  string       `json:"workflow_id"`
	Phase       core.Phase   `json:"phase"`
	Status      string       `json:"status"`
	FinalResult *FinalResult `json:"final_result,omitempty"`
}

func (s *Server) handleFinal(w http.ResponseWriter, r *http.Request) {
	state, err := s.workflows.Query(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := FinalResponse{WorkflowID: state.ID, Phase: state.Phase, Status: StatusNotReady}

	if state.Phase.IsTerminal() {
		resp.Status = StatusReady
		resp.FinalResult = &FinalResult{
			Decision:      state.Decision,
			HumanDecision: state.Audit.HumanDecision,
			FailureReason: state.FailureReason,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// NotifyRequest is the body of POST /notify.
type NotifyRequest struct {
	WorkflowID    string `json:"workflow_id"`
	Email         string `json:"email"`
	ApplicantName string `json:"applicant_name"`
}

// NotifyResponse acknowledges a notification. Delivery is simulated: the
// notification is only logged.
type NotifyResponse struct {
	Success    bool       `json:"success"`
	Message    string     `json:"message"`
	WorkflowID string     `json:"workflow_id"`
	Phase      core.Phase `json:"phase"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var body NotifyRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	addr, err := mail.ParseAddress(strings.TrimSpace(body.Email))
	if err != nil {
		s.writeError(w, r, invalid("invalid email address"))
		return
	}

	state, err := s.workflows.Query(strings.TrimSpace(body.WorkflowID))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	name := strings.TrimSpace(body.ApplicantName)
	if name == "" {
		name = state.Request.Name
	}

	s.logger.Info("Notification sent",
		"workflow_id", state.ID, "email", addr.Address, "applicant", name, "phase", state.Phase)

	writeJSON(w, http.StatusOK, NotifyResponse{
		Success:    true,
		Message:    "notification sent to " + addr.Address,
		WorkflowID: state.ID,
		Phase:      state.Phase,
	})
}
