package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hupe1980/underwriter"
	"github.com/hupe1980/underwriter/core"
	"github.com/hupe1980/underwriter/workflow"
)

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", core.ErrInvalidRequest, msg)
}

// HealthResponse is returned by GET /.
type HealthResponse struct {
	Service    string                      `json:"service"`
	Version    string                      `json:"version"`
	Status     string                      `json:"status"`
	Evaluators []underwriter.EvaluatorInfo `json:"evaluators"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Service:    s.opts.Service,
		Version:    s.opts.Version,
		Status:     "healthy",
		Evaluators: s.opts.Evaluators,
	})
}

// SubmitRequest is the body of POST /submit. Income and expenses are
// accepted under their short names as well.
type SubmitRequest struct {
	ApplicantID     string   `json:"applicant_id"`
	Name            string   `json:"name"`
	Amount          float64  `json:"amount"`
	MonthlyIncome   *float64 `json:"monthly_income,omitempty"`
	MonthlyExpenses *float64 `json:"monthly_expenses,omitempty"`
	Income          *float64 `json:"income,omitempty"`
	Expenses        *float64 `json:"expenses,omitempty"`
}

func (b SubmitRequest) request() core.Request {
	return core.Request{
		ApplicantID:     strings.TrimSpace(b.ApplicantID),
		Name:            strings.TrimSpace(b.Name),
		Amount:          b.Amount,
		MonthlyIncome:   first(b.MonthlyIncome, b.Income),
		MonthlyExpenses: first(b.MonthlyExpenses, b.Expenses),
	}
}

func first(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}

	return 0
}

// SubmitResponse is returned by POST /submit.
type SubmitResponse struct {
	WorkflowID  string     `json:"workflow_id"`
	ApplicantID string     `json:"applicant_id"`
	Phase       core.Phase `json:"phase"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body SubmitRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	req := body.request()

	id, err := s.workflows.Start(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := SubmitResponse{WorkflowID: id, ApplicantID: req.ApplicantID, Phase: core.PhaseInit}
	if state, err := s.workflows.Query(id); err == nil {
		resp.Phase = state.Phase
	}

	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.workflows.Query(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// ReviewRequest is the body of POST /workflow/{id}/review. Action is an
// alias of Verdict.
type ReviewRequest struct {
	Actor   string `json:"actor"`
	Verdict string `json:"verdict"`
	Action  string `json:"action"`
	Note    string `json:"note"`
}

func (b ReviewRequest) decision() core.HumanDecision {
	verdict := b.Verdict
	if verdict == "" {
		verdict = b.Action
	}

	verdict = strings.ToLower(strings.TrimSpace(verdict))

	switch verdict {
	case "approved":
		verdict = string(core.HumanApprove)
	case "rejected":
		verdict = string(core.HumanReject)
	}

	return core.HumanDecision{
		Actor:   strings.TrimSpace(b.Actor),
		Verdict: core.HumanVerdict(verdict),
		Note:    b.Note,
	}
}

// ReviewResponse acknowledges an applied human decision.
type ReviewResponse struct {
	WorkflowID string            `json:"workflow_id"`
	Signaled   bool              `json:"signaled"`
	Verdict    core.HumanVerdict `json:"verdict"`
	Phase      core.Phase        `json:"phase"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body ReviewRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	hd := body.decision()

	ctx, cancel := s.signalContext(r)
	defer cancel()

	resp := ReviewResponse{WorkflowID: id, Signaled: true, Verdict: hd.Verdict}

	if err := s.workflows.Signal(ctx, id, hd); err != nil {
		if !errors.Is(err, workflow.ErrPending) {
			s.writeError(w, r, err)
			return
		}

		// Recorded at the gate; the workflow applies it later.
		resp.Phase = core.PhaseAwaitingReview
		writeJSON(w, http.StatusAccepted, resp)

		return
	}

	resp.Phase = core.PhaseDecided
	if state, err := s.workflows.Query(id); err == nil {
		resp.Phase = state.Phase
	}

	writeJSON(w, http.StatusOK, resp)
}

// CancelRequest is the body of POST /workflow/{id}/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body CancelRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	ctx, cancel := s.signalContext(r)
	defer cancel()

	status := http.StatusOK

	if err := s.workflows.Cancel(ctx, id, strings.TrimSpace(body.Reason)); err != nil {
		if !errors.Is(err, workflow.ErrPending) {
			s.writeError(w, r, err)
			return
		}

		status = http.StatusAccepted
	}

	state, err := s.workflows.Query(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, status, state)
}

func (s *Server) signalContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.opts.SignalTimeout <= 0 {
		return context.WithCancel(r.Context())
	}

	return context.WithTimeout(r.Context(), s.opts.SignalTimeout)
}

// WorkflowSummary is one row of GET /workflows.
type WorkflowSummary struct {
	WorkflowID     string              `json:"workflow_id"`
	Phase          core.Phase          `json:"phase"`
	ApplicantID    string              `json:"applicant_id"`
	ApplicantName  string              `json:"applicant_name"`
	LoanAmount     float64             `json:"loan_amount"`
	Recommendation core.Recommendation `json:"recommendation,omitempty"`
	Confidence     core.Confidence     `json:"confidence,omitempty"`
	Reasoning      string              `json:"reasoning,omitempty"`
	HumanDecision  core.HumanVerdict   `json:"human_decision,omitempty"`
	FailureReason  string              `json:"failure_reason,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// ListResponse is returned by GET /workflows.
type ListResponse struct {
	Workflows []WorkflowSummary `json:"workflows"`
	Count     int               `json:"count"`
}

func summarize(st core.WorkflowState) WorkflowSummary {
	out := WorkflowSummary{
		WorkflowID:    st.ID,
		Phase:         st.Phase,
		ApplicantID:   st.Request.ApplicantID,
		ApplicantName: st.Request.Name,
		LoanAmount:    st.Request.Amount,
		FailureReason: st.FailureReason,
		CreatedAt:     st.CreatedAt,
		UpdatedAt:     st.UpdatedAt,
	}

	if st.Decision != nil {
		out.Recommendation = st.Decision.Recommendation
		out.Confidence = st.Decision.Confidence
		out.Reasoning = st.Decision.Reasoning
	}

	if st.Audit.HumanDecision != nil {
		out.HumanDecision = st.Audit.HumanDecision.Verdict
	}

	return out
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var f workflow.Filter

	for _, raw := range q["phase"] {
		for _, part := range strings.Split(raw, ",") {
			p, err := core.ParsePhase(strings.ToUpper(strings.TrimSpace(part)))
			if err != nil {
				s.writeError(w, r, err)
				return
			}

			f.Phases = append(f.Phases, p)
		}
	}

	f.ApplicantID = strings.TrimSpace(q.Get("applicant_id"))

	if rec := strings.TrimSpace(q.Get("recommendation")); rec != "" {
		switch core.Recommendation(rec) {
		case core.RecommendApprove, core.RecommendReject, core.RecommendReview:
			f.Recommendation = core.Recommendation(rec)
		default:
			s.writeError(w, r, invalid(fmt.Sprintf("unknown recommendation %q", rec)))
			return
		}
	}

	states := s.workflows.List(f)

	resp := ListResponse{Workflows: make([]WorkflowSummary, 0, len(states)), Count: len(states)}
	for _, st := range states {
		resp.Workflows = append(resp.Workflows, summarize(st))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.workflows.Stats())
}
