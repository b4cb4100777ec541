package core

import (
	"fmt"
	"math"
	"strings"
)

// Request is a loan application accepted for evaluation. It is immutable once
// a workflow has been started for it.
type Request struct {
	ApplicantID     string  `json:"applicant_id"`
	Name            string  `json:"name"`
	Amount          float64 `json:"amount"`
	MonthlyIncome   float64 `json:"monthly_income"`
	MonthlyExpenses float64 `json:"monthly_expenses"`
}

// Validate reports malformed input as ErrInvalidRequest.
func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.ApplicantID) == "":
		return fmt.Errorf("%w: applicant_id is required", ErrInvalidRequest)
	case strings.TrimSpace(r.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidRequest)
	case !finite(r.Amount) || r.Amount <= 0:
		return fmt.Errorf("%w: amount must be a positive number", ErrInvalidRequest)
	case !finite(r.MonthlyIncome) || r.MonthlyIncome < 0:
		return fmt.Errorf("%w: monthly_income must be a non-negative number", ErrInvalidRequest)
	case !finite(r.MonthlyExpenses) || r.MonthlyExpenses < 0:
		return fmt.Errorf("%w: monthly_expenses must be a non-negative number", ErrInvalidRequest)
	}

	return nil
}

// WorkflowID returns the deterministic workflow identifier for the request.
func (r Request) WorkflowID() string {
	return "loan-" + strings.TrimSpace(r.ApplicantID)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
