package core

import (
	"errors"
	"time"
)

var (
	errDecisionRecorded = errors.New("decision already recorded")
	errHumanRecorded    = errors.New("human decision already recorded")
)

// AuditRecord is the append-only trail of a workflow. Decision is write-once;
// HumanDecision is appended at most once and never overwrites Decision.
type AuditRecord struct {
	Decision        *Decision           `json:"decision,omitempty"`
	CreditProvider  string              `json:"credit_provider,omitempty"`
	HumanDecision   *HumanDecision      `json:"human_decision,omitempty"`
	PhaseTimestamps map[Phase]time.Time `json:"phase_timestamps"`
}

// RecordDecision stores the aggregated decision. A second call fails.
func (a *AuditRecord) RecordDecision(d Decision, creditProvider string) error {
	if a.Decision != nil {
		return errDecisionRecorded
	}

	cp := d.Clone()
	a.Decision = &cp
	a.CreditProvider = creditProvider

	return nil
}

// RecordHumanDecision appends the reviewer's decision. A second call fails.
func (a *AuditRecord) RecordHumanDecision(h HumanDecision) error {
	if a.HumanDecision != nil {
		return errHumanRecorded
	}

	a.HumanDecision = &h

	return nil
}

// Stamp records when a phase was entered.
func (a *AuditRecord) Stamp(p Phase, at time.Time) {
	if a.PhaseTimestamps == nil {
		a.PhaseTimestamps = make(map[Phase]time.Time)
	}

	a.PhaseTimestamps[p] = at
}

// Clone returns a deep copy of the record.
func (a AuditRecord) Clone() AuditRecord {
	if a.Decision != nil {
		d := a.Decision.Clone()
		a.Decision = &d
	}

	if a.HumanDecision != nil {
		h := *a.HumanDecision
		a.HumanDecision = &h
	}

	ts := make(map[Phase]time.Time, len(a.PhaseTimestamps))
	for k, v := range a.PhaseTimestamps {
		ts[k] = v
	}

	a.PhaseTimestamps = ts

	return a
}
