package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/underwriter/core"
	"github.com/hupe1980/underwriter/internal/util"
	"github.com/hupe1980/underwriter/logging"
	"github.com/hupe1980/underwriter/model"
)

// ErrMalformedAssessment marks model output that failed schema validation.
// It is transient: asking again may produce a valid answer.
var ErrMalformedAssessment = fmt.Errorf("%w: malformed assessment", core.ErrTransient)

// modelOutput is the only shape accepted from a model.
type modelOutput struct {
	Verdict   string             `json:"verdict" enum:"pass,fail,review" description:"overall judgement"`
	Metrics   map[string]float64 `json:"metrics,omitempty" description:"numeric facts supporting the verdict"`
	Rationale string             `json:"rationale" description:"one or two sentences explaining the verdict"`
}

var outputSchema = util.CreateSchema(modelOutput{})

// ModelEvaluator asks a language model for a verdict.
type ModelEvaluator struct {
	cfg    Config
	model  model.Model
	prompt prompt
	logger logging.Logger
}

// NewModelEvaluator creates a model-backed evaluator for cfg.
func NewModelEvaluator(cfg Config, m model.Model, optFns ...func(e *ModelEvaluator)) (*ModelEvaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p, ok := prompts[cfg.PromptTemplate]
	if !ok {
		return nil, fmt.Errorf("evaluator %s: unknown prompt template %q", cfg.Kind, cfg.PromptTemplate)
	}

	e := &ModelEvaluator{cfg: cfg, model: m, prompt: p, logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(e)
	}

	return e, nil
}

// WithLogger sets the evaluator's logger.
func WithLogger(l logging.Logger) func(e *ModelEvaluator) {
	return func(e *ModelEvaluator) { e.logger = l }
}

// Kind returns the evaluated aspect.
func (e *ModelEvaluator) Kind() core.Kind { return e.cfg.Kind }

// Info describes the backing model.
func (e *ModelEvaluator) Info() model.Info { return e.model.Info() }

// Assess renders the prompt, calls the model and validates its answer.
func (e *ModelEvaluator) Assess(ctx context.Context, req core.Request, bundle core.DataBundle) (core.AssessmentResult, error) {
	annual := req.MonthlyIncome * 12

	text, err := util.RenderTemplate(e.prompt.user, map[string]any{
		"request":           req,
		"bundle":            bundle,
		"annual_income":     annual,
		"income_ratio":      annual / req.Amount,
		"disposable_income": req.MonthlyIncome - req.MonthlyExpenses,
		"schema":            outputSchema,
	})
	if err != nil {
		return core.AssessmentResult{}, fmt.Errorf("%w: rendering prompt %s: %v", core.ErrPermanent, e.cfg.PromptTemplate, err)
	}

	resp, err := e.model.Generate(ctx, model.Request{
		Instructions: e.prompt.instructions,
		Messages:     []model.Message{{Role: model.RoleUser, Text: text}},
		JSON:         true,
	})
	if err != nil {
		return core.AssessmentResult{}, err
	}

	out, err := parseOutput(resp.Text)
	if err != nil {
		e.logger.Warn("Model returned malformed assessment",
			"kind", string(e.cfg.Kind), "model", e.model.Info().Name, "error", err)

		return core.AssessmentResult{}, err
	}

	return core.AssessmentResult{
		Kind:      e.cfg.Kind,
		Verdict:   core.Verdict(out.Verdict),
		Metrics:   out.Metrics,
		Rationale: out.Rationale,
	}, nil
}

// parseOutput validates raw model text against the output schema. Optional
// ```json fences are stripped. Every failure wraps ErrMalformedAssessment.
func parseOutput(raw string) (modelOutput, error) {
	body := stripFences(raw)

	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return modelOutput{}, fmt.Errorf("%w: not a JSON object", ErrMalformedAssessment)
	}

	if err := util.ValidateObject(obj, outputSchema); err != nil {
		var verr *util.ValidationError
		if errors.As(err, &verr) {
			return modelOutput{}, fmt.Errorf("%w: %s", ErrMalformedAssessment, verr.Error())
		}

		return modelOutput{}, fmt.Errorf("%w: %v", ErrMalformedAssessment, err)
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()

	var out modelOutput
	if err := dec.Decode(&out); err != nil {
		return modelOutput{}, fmt.Errorf("%w: %v", ErrMalformedAssessment, err)
	}

	if !core.Verdict(out.Verdict).Valid() {
		return modelOutput{}, fmt.Errorf("%w: invalid verdict %q", ErrMalformedAssessment, out.Verdict)
	}

	if strings.TrimSpace(out.Rationale) == "" {
		return modelOutput{}, fmt.Errorf("%w: empty rationale", ErrMalformedAssessment)
	}

	return out, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")

	return strings.TrimSpace(s)
}
