package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhase_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseInit, PhaseAcquiring, true},
		{PhaseAcquiring, PhaseAssessing, true},
		{PhaseAssessing, PhaseAggregating, true},
		{PhaseAggregating, PhaseAwaitingReview, true},
		{PhaseAwaitingReview, PhaseDecided, true},
		{PhaseAwaitingReview, PhaseExpired, true},
		{PhaseAcquiring, PhaseFailed, true},
		{PhaseAwaitingReview, PhaseFailed, true},

		{PhaseInit, PhaseAssessing, false},
		{PhaseAssessing, PhaseAcquiring, false},
		{PhaseAggregating, PhaseDecided, false},
		{PhaseDecided, PhaseFailed, false},
		{PhaseExpired, PhaseDecided, false},
		{PhaseFailed, PhaseInit, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestPhase_AtOrBefore(t *testing.T) {
	assert.True(t, PhaseAcquiring.AtOrBefore(PhaseAwaitingReview))
	assert.True(t, PhaseAwaitingReview.AtOrBefore(PhaseAwaitingReview))
	assert.False(t, PhaseDecided.AtOrBefore(PhaseAwaitingReview))
	assert.False(t, PhaseFailed.AtOrBefore(PhaseAggregating))
}

func TestWorkflowState_TransitionStampsAudit(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewWorkflowState("loan-a1", Request{ApplicantID: "a1"}, t0)

	require.NoError(t, s.Transition(PhaseAcquiring, t0.Add(time.Second)))
	assert.Equal(t, PhaseAcquiring, s.Phase)
	assert.Equal(t, t0.Add(time.Second), s.Audit.PhaseTimestamps[PhaseAcquiring])
	assert.Equal(t, t0, s.Audit.PhaseTimestamps[PhaseInit])

	err := s.Transition(PhaseInit, t0.Add(2*time.Second))
	require.Error(t, err)
	assert.Equal(t, PhaseAcquiring, s.Phase)
}

func TestWorkflowState_CloneIsDeep(t *testing.T) {
	s := NewWorkflowState("loan-a1", Request{ApplicantID: "a1"}, time.Now())
	s.Bundle = &DataBundle{Documents: []Document{{ID: "d1"}}}
	s.Assessments = []AssessmentResult{{Kind: KindCredit, Metrics: map[string]float64{"score": 700}}}
	d := Decision{Factors: []Factor{{Name: KindCredit, Verdict: VerdictPass}}}
	s.Decision = &d
	require.NoError(t, s.Audit.RecordDecision(d, "primary"))

	c := s.Clone()
	c.Bundle.Documents[0].ID = "changed"
	c.Assessments[0].Metrics["score"] = 1
	c.Decision.Factors[0].Verdict = VerdictFail
	c.Audit.PhaseTimestamps[PhaseFailed] = time.Now()

	assert.Equal(t, "d1", s.Bundle.Documents[0].ID)
	assert.Equal(t, 700.0, s.Assessments[0].Metrics["score"])
	assert.Equal(t, VerdictPass, s.Decision.Factors[0].Verdict)
	assert.NotContains(t, s.Audit.PhaseTimestamps, PhaseFailed)
}

func TestAuditRecord_WriteOnce(t *testing.T) {
	var a AuditRecord

	require.NoError(t, a.RecordDecision(Decision{Recommendation: RecommendApprove}, "primary"))
	assert.Error(t, a.RecordDecision(Decision{Recommendation: RecommendReject}, "secondary"))
	assert.Equal(t, RecommendApprove, a.Decision.Recommendation)
	assert.Equal(t, "primary", a.CreditProvider)

	require.NoError(t, a.RecordHumanDecision(HumanDecision{Actor: "u1", Verdict: HumanReject}))
	assert.Error(t, a.RecordHumanDecision(HumanDecision{Actor: "u2", Verdict: HumanApprove}))
	assert.Equal(t, "u1", a.HumanDecision.Actor)
	assert.Equal(t, RecommendApprove, a.Decision.Recommendation)
}

func TestRiskTierForScore(t *testing.T) {
	assert.Equal(t, RiskLow, RiskTierForScore(750))
	assert.Equal(t, RiskMedium, RiskTierForScore(749))
	assert.Equal(t, RiskMedium, RiskTierForScore(650))
	assert.Equal(t, RiskMediumHigh, RiskTierForScore(620))
	assert.Equal(t, RiskHigh, RiskTierForScore(619))
	assert.True(t, ValidScore(300))
	assert.True(t, ValidScore(850))
	assert.False(t, ValidScore(851))
}
