package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/underwriter/assessment"
	"github.com/hupe1980/underwriter/core"
	"github.com/hupe1980/underwriter/decision"
)

type evaluateOptions struct {
	requestPath string
	configPath  string
	score       int
	bureau      string
	output      string
}

// evaluation is the report printed by the evaluate command.
type evaluation struct {
	Request     core.Request            `json:"request" yaml:"request"`
	Credit      core.CreditReport       `json:"credit_report" yaml:"credit_report"`
	Facts       *decision.Facts         `json:"facts,omitempty" yaml:"facts,omitempty"`
	Assessments []core.AssessmentResult `json:"assessments" yaml:"assessments"`
	Decision    core.Decision           `json:"decision" yaml:"decision"`
}

func newEvaluateCmd() *cobra.Command {
	var opts evaluateOptions

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a request offline with the rule evaluators",
		Long: `Evaluate a loan request against the decision policy without providers,
models or durable history. The credit report is built from --score.`,
		Example: `  underwriter evaluate --request application.json --score 720
  cat application.json | underwriter evaluate --request - --score 610 -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEvaluate(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.requestPath, "request", "r", "", "path to the request JSON, - for stdin")
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "configuration whose policy is applied")
	cmd.Flags().IntVar(&opts.score, "score", 0, "credit bureau score (300-850)")
	cmd.Flags().StringVar(&opts.bureau, "bureau", "offline", "bureau name recorded in the report")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "json", "output format: json or yaml")

	_ = cmd.MarkFlagRequired("request")
	_ = cmd.MarkFlagRequired("score")

	return cmd
}

func readRequest(stdin io.Reader, path string) (core.Request, error) {
	var (
		raw []byte
		err error
	)

	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}

	if err != nil {
		return core.Request{}, err
	}

	var req core.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return core.Request{}, fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}

	return req, req.Validate()
}

func runEvaluate(ctx context.Context, stdin io.Reader, out io.Writer, opts evaluateOptions) error {
	if opts.output != "json" && opts.output != "yaml" {
		return fmt.Errorf("unknown output format %q", opts.output)
	}

	if !core.ValidScore(opts.score) {
		return fmt.Errorf("%w: score %d outside %d..%d", core.ErrInvalidRequest, opts.score, core.MinCreditScore, core.MaxCreditScore)
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	req, err := readRequest(stdin, opts.requestPath)
	if err != nil {
		return err
	}

	bundle := core.DataBundle{
		Credit: core.CreditReport{
			Provider:  opts.bureau,
			Score:     opts.score,
			RiskTier:  core.RiskTierForScore(opts.score),
			Available: true,
		},
	}

	results := make([]core.AssessmentResult, 0, len(core.Kinds))

	for _, k := range core.Kinds {
		ev := assessment.NewRuleEvaluator(k, func(t *assessment.Thresholds) {
			t.ReviewBandLow = cfg.Policy.ReviewBandLow
			t.ApproveRatio = cfg.Policy.ApproveRatio
		})

		r, err := ev.Assess(ctx, req, bundle)
		if err != nil {
			r = assessment.Degraded(k, err)
		}

		results = append(results, r)
	}

	report := evaluation{
		Request:     req,
		Credit:      bundle.Credit,
		Assessments: results,
		Decision:    decision.Aggregate(cfg.Policy, req, bundle, results),
	}

	// Facts are omitted when there is no income to relate the loan to.
	if facts := decision.NewFacts(req, bundle); !math.IsInf(facts.LoanToIncome, 0) {
		report.Facts = &facts
	}

	if opts.output == "yaml" {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)

		if err := enc.Encode(report); err != nil {
			return err
		}

		return enc.Close()
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	return enc.Encode(report)
}
