package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/underwriter"
	"github.com/hupe1980/underwriter/core"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()

	return out.String(), err
}

func writeRequest(t *testing.T, req core.Request) string {
	t.Helper()

	raw, err := json.Marshal(req)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "request.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "underwriter "+underwriter.Version+"\n", out)
}

func TestEvaluate_JSON(t *testing.T) {
	path := writeRequest(t, core.Request{ApplicantID: "a1", Name: "Ada", Amount: 30000, MonthlyIncome: 8000, MonthlyExpenses: 3000})

	out, err := execute(t, "", "evaluate", "--request", path, "--score", "720")
	require.NoError(t, err)

	var report evaluation
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	assert.Equal(t, core.RecommendApprove, report.Decision.Recommendation)
	assert.Equal(t, core.ConfidenceHigh, report.Decision.Confidence)
	assert.Equal(t, core.RiskMedium, report.Credit.RiskTier)
	assert.Equal(t, "offline", report.Credit.Provider)
	require.Len(t, report.Assessments, 3)
	require.NotNil(t, report.Facts)
	assert.InDelta(t, 3.2, report.Facts.IncomeRatio, 1e-9)
}

func TestEvaluate_StdinYAML(t *testing.T) {
	in := `{"applicant_id":"a2","name":"Bob","amount":50000,"monthly_income":4000,"monthly_expenses":3000}`

	out, err := execute(t, in, "evaluate", "--request", "-", "--score", "580", "-o", "yaml")
	require.NoError(t, err)

	var report map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &report))

	dec, ok := report["decision"].(map[string]any)
	require.True(t, ok, out)
	assert.Equal(t, "reject", dec["recommendation"])
}

func TestEvaluate_ZeroIncomeOmitsFacts(t *testing.T) {
	path := writeRequest(t, core.Request{ApplicantID: "a3", Name: "Cy", Amount: 10000})

	out, err := execute(t, "", "evaluate", "--request", path, "--score", "800")
	require.NoError(t, err)

	var report evaluation
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Nil(t, report.Facts)
	assert.Equal(t, core.RecommendReject, report.Decision.Recommendation)
}

func TestEvaluate_Errors(t *testing.T) {
	path := writeRequest(t, core.Request{ApplicantID: "a1", Name: "Ada", Amount: 30000, MonthlyIncome: 8000})

	_, err := execute(t, "", "evaluate", "--request", path, "--score", "900")
	require.ErrorIs(t, err, core.ErrInvalidRequest)

	_, err = execute(t, "", "evaluate", "--request", path, "--score", "700", "-o", "xml")
	require.Error(t, err)

	_, err = execute(t, `{"applicant_id":""}`, "evaluate", "--request", "-", "--score", "700")
	require.ErrorIs(t, err, core.ErrInvalidRequest)

	_, err = execute(t, "", "evaluate", "--score", "700")
	require.Error(t, err)
}
