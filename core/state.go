package core

import (
	"fmt"
	"time"
)

// Phase is the coordinator's position in the workflow state machine.
type Phase string

// Phases in their monotonic order. FAILED is a side exit from any
// non-terminal phase.
const (
	PhaseInit           Phase = "INIT"
	PhaseAcquiring      Phase = "ACQUIRING"
	PhaseAssessing      Phase = "ASSESSING"
	PhaseAggregating    Phase = "AGGREGATING"
	PhaseAwaitingReview Phase = "AWAITING_REVIEW"
	PhaseDecided        Phase = "DECIDED"
	PhaseExpired        Phase = "EXPIRED"
	PhaseFailed         Phase = "FAILED"
)

// Phases lists every phase, in order.
var Phases = []Phase{
	PhaseInit, PhaseAcquiring, PhaseAssessing, PhaseAggregating,
	PhaseAwaitingReview, PhaseDecided, PhaseExpired, PhaseFailed,
}

var phaseRank = map[Phase]int{
	PhaseInit:           0,
	PhaseAcquiring:      1,
	PhaseAssessing:      2,
	PhaseAggregating:    3,
	PhaseAwaitingReview: 4,
	PhaseDecided:        5,
	PhaseExpired:        5,
	PhaseFailed:         6,
}

// ParsePhase converts a string into a known Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if _, ok := phaseRank[p]; !ok {
		return "", fmt.Errorf("%w: unknown phase %q", ErrInvalidRequest, s)
	}

	return p, nil
}

// IsTerminal reports whether no further mutation is allowed.
func (p Phase) IsTerminal() bool {
	return p == PhaseDecided || p == PhaseExpired || p == PhaseFailed
}

// AtOrBefore reports whether p does not come after q in the phase order.
func (p Phase) AtOrBefore(q Phase) bool {
	return phaseRank[p] <= phaseRank[q]
}

// CanTransitionTo reports whether next is a legal successor of p.
func (p Phase) CanTransitionTo(next Phase) bool {
	if p.IsTerminal() {
		return false
	}

	switch next {
	case PhaseFailed:
		return true
	case PhaseDecided, PhaseExpired:
		return p == PhaseAwaitingReview
	default:
		return phaseRank[next] == phaseRank[p]+1
	}
}

// WorkflowState is the coordinator-owned state of one workflow. Callers only
// ever see clones.
type WorkflowState struct {
	ID            string             `json:"workflow_id"`
	Phase         Phase              `json:"phase"`
	Request       Request            `json:"request"`
	Bundle        *DataBundle        `json:"data_bundle,omitempty"`
	Assessments   []AssessmentResult `json:"assessments,omitempty"`
	Decision      *Decision          `json:"decision,omitempty"`
	Audit         AuditRecord        `json:"audit"`
	FailureReason string             `json:"failure_reason,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// NewWorkflowState creates the INIT state for a request.
func NewWorkflowState(id string, req Request, at time.Time) WorkflowState {
	s := WorkflowState{
		ID:        id,
		Phase:     PhaseInit,
		Request:   req,
		CreatedAt: at,
		UpdatedAt: at,
	}
	s.Audit.Stamp(PhaseInit, at)

	return s
}

// Transition moves the state to next, enforcing monotonic phase order.
func (s *WorkflowState) Transition(next Phase, at time.Time) error {
	if !s.Phase.CanTransitionTo(next) {
		return fmt.Errorf("illegal phase transition %s -> %s", s.Phase, next)
	}

	s.Phase = next
	s.UpdatedAt = at
	s.Audit.Stamp(next, at)

	return nil
}

// Clone returns a deep copy safe for independent mutation.
func (s WorkflowState) Clone() WorkflowState {
	if s.Bundle != nil {
		b := s.Bundle.Clone()
		s.Bundle = &b
	}

	if s.Assessments != nil {
		res := make([]AssessmentResult, len(s.Assessments))
		for i, r := range s.Assessments {
			res[i] = r.Clone()
		}

		s.Assessments = res
	}

	if s.Decision != nil {
		d := s.Decision.Clone()
		s.Decision = &d
	}

	s.Audit = s.Audit.Clone()

	return s
}
