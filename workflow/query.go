package workflow

import (
	"math"
	"sort"

	"github.com/hupe1980/underwriter/core"
)

// Filter selects workflows in List. Zero fields match everything.
type Filter struct {
	Phases         []core.Phase
	ApplicantID    string
	Recommendation core.Recommendation
}

func (f Filter) match(s core.WorkflowState) bool {
	if len(f.Phases) > 0 && !containsPhase(f.Phases, s.Phase) {
		return false
	}

	if f.ApplicantID != "" && s.Request.ApplicantID != f.ApplicantID {
		return false
	}

	if f.Recommendation != "" && (s.Decision == nil || s.Decision.Recommendation != f.Recommendation) {
		return false
	}

	return true
}

// List returns snapshots of the matching workflows ordered by creation time,
// then id.
func (c *Coordinator) List(f Filter) []core.WorkflowState {
	c.mu.RLock()
	insts := make([]*instance, 0, len(c.instances))
	for _, inst := range c.instances {
		insts = append(insts, inst)
	}
	c.mu.RUnlock()

	out := make([]core.WorkflowState, 0, len(insts))

	for _, inst := range insts {
		if s := inst.snapshot(); f.match(s) {
			out = append(out, s)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}

		return out[i].ID < out[j].ID
	})

	return out
}

// Stats summarises every workflow known to the coordinator.
type Stats struct {
	Total         int                `json:"total_applications"`
	Running       int                `json:"running"`
	Completed     int                `json:"completed"`
	Approved      int                `json:"approved"`
	Rejected      int                `json:"rejected"`
	Review        int                `json:"review"`
	HumanApproved int                `json:"human_approved"`
	HumanRejected int                `json:"human_rejected"`
	ApprovalRate  float64            `json:"approval_rate"`
	ByPhase       map[core.Phase]int `json:"by_phase"`
}

// Stats counts workflows by phase and by recommendation. ApprovalRate is the
// share of approve recommendations in percent, rounded to one decimal.
func (c *Coordinator) Stats() Stats {
	s := Stats{ByPhase: make(map[core.Phase]int)}

	for _, w := range c.List(Filter{}) {
		s.Total++
		s.ByPhase[w.Phase]++

		if w.Phase.IsTerminal() {
			s.Completed++
		} else {
			s.Running++
		}

		if w.Decision != nil {
			switch w.Decision.Recommendation {
			case core.RecommendApprove:
				s.Approved++
			case core.RecommendReject:
				s.Rejected++
			case core.RecommendReview:
				s.Review++
			}
		}

		if h := w.Audit.HumanDecision; h != nil {
			switch h.Verdict {
			case core.HumanApprove:
				s.HumanApproved++
			case core.HumanReject:
				s.HumanRejected++
			}
		}
	}

	if s.Total > 0 {
		s.ApprovalRate = math.Round(float64(s.Approved)/float64(s.Total)*1000) / 10
	}

	return s
}
