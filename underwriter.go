// Package underwriter provides a high-level façade that assembles a complete
// loan underwriting service from a config.Config. Most applications interact
// with this package by:
//  1. Loading a configuration with config.Load (or starting from config.Default)
//  2. Creating an Underwriter via New, optionally overriding collaborators
//  3. Calling Recover once, then driving workflows through Coordinator
//  4. Calling Close on shutdown
//
// The façade only wires components together. Orchestration lives in the
// workflow package and durable execution in the engine package.
package underwriter

import (
	"context"
	"errors"
	"fmt"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/underwriter/assessment"
	"github.com/hupe1980/underwriter/config"
	"github.com/hupe1980/underwriter/core"
	"github.com/hupe1980/underwriter/engine"
	"github.com/hupe1980/underwriter/history"
	"github.com/hupe1980/underwriter/history/sqlite"
	"github.com/hupe1980/underwriter/logging"
	"github.com/hupe1980/underwriter/model"
	"github.com/hupe1980/underwriter/model/anthropic"
	"github.com/hupe1980/underwriter/model/gemini"
	"github.com/hupe1980/underwriter/model/openai"
	"github.com/hupe1980/underwriter/provider"
	"github.com/hupe1980/underwriter/stage"
	"github.com/hupe1980/underwriter/workflow"
)

// Version is reported by the health endpoint and the CLI.
const Version = "0.1.0"

// Options overrides collaborators that New would otherwise build from the
// configuration. Unset fields are derived from the config.
type Options struct {
	// Store replaces the configured history store. The caller keeps
	// ownership and Close does not close it.
	Store history.Store

	// Clock defaults to engine.SystemClock.
	Clock engine.Clock

	// Sleep overrides the pause between retry attempts.
	Sleep func(ctx context.Context, d time.Duration) error

	// Logger replaces the configured logger.
	Logger logging.Logger

	// DataProvider, PrimaryBureau and SecondaryBureau replace the configured
	// provider clients. They must be set together.
	DataProvider    core.DataProvider
	PrimaryBureau   core.CreditBureau
	SecondaryBureau core.CreditBureau

	// Models replaces the model built for a model-backed evaluator kind.
	Models map[core.Kind]model.Model
}

// EvaluatorInfo describes a configured evaluator.
type EvaluatorInfo struct {
	Kind           core.Kind `json:"kind"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model,omitempty"`
	PromptTemplate string    `json:"prompt_template,omitempty"`
}

// Underwriter is the assembled service.
type Underwriter struct {
	cfg         *config.Config
	logger      logging.Logger
	engine      *engine.Engine
	coordinator *workflow.Coordinator
	evaluators  []EvaluatorInfo
	limiter     *model.Limiter
	closers     []func() error
}

// New builds an Underwriter from cfg. ctx bounds client construction only.
func New(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*Underwriter, error) {
	if cfg == nil {
		def := config.Default()
		cfg = &def
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	u := &Underwriter{cfg: cfg, limiter: model.NewLimiter(cfg.LLM.MaxConcurrentCalls)}

	if err := u.setupLogger(opts.Logger); err != nil {
		return nil, err
	}

	store, err := u.setupStore(opts.Store)
	if err != nil {
		return nil, err
	}

	u.engine = engine.New(func(o *engine.Options) {
		o.Store = store
		o.Logger = u.logger

		if opts.Clock != nil {
			o.Clock = opts.Clock
		}

		if opts.Sleep != nil {
			o.Sleep = opts.Sleep
		}

		o.Callbacks = u.activityCallbacks()
	})

	data, primary, secondary, err := u.buildProviders(opts)
	if err != nil {
		_ = u.closeAll()
		return nil, err
	}

	evaluators, err := u.buildEvaluators(ctx, opts.Models)
	if err != nil {
		_ = u.closeAll()
		return nil, err
	}

	acq := stage.NewAcquisition(data, primary, secondary, func(o *stage.AcquisitionOptions) {
		o.RetryPolicy = cfg.Retry.Provider
		o.Logger = u.logger
	})

	assess, err := stage.NewAssessment(evaluators, func(o *stage.AssessmentOptions) {
		o.RetryPolicy = cfg.Retry.Assessment
		o.Logger = u.logger
	})
	if err != nil {
		_ = u.closeAll()
		return nil, err
	}

	u.coordinator = workflow.New(acq, assess, func(o *workflow.Options) {
		o.Engine = u.engine
		o.Policy = cfg.Policy
		o.ReviewTimeout = cfg.Review.Timeout
		o.Logger = u.logger
	})

	u.logger.Info("Underwriter initialized",
		"store", cfg.Store.Driver,
		"providers", cfg.Providers.Mode,
		"review_timeout", cfg.Review.Timeout,
	)

	return u, nil
}

func (u *Underwriter) setupLogger(override logging.Logger) error {
	if override != nil {
		u.logger = override
		return nil
	}

	level, err := logging.ParseLevel(u.cfg.Log.Level)
	if err != nil {
		return err
	}

	if u.cfg.Log.Backend == config.BackendZap {
		z, err := logging.NewZapProductionLogger(level)
		if err != nil {
			return fmt.Errorf("failed to create zap logger: %w", err)
		}

		u.logger = z
		u.closers = append(u.closers, func() error {
			// Sync on stdout/stderr reports EINVAL on some platforms.
			_ = z.Sync()
			return nil
		})

		return nil
	}

	u.logger = logging.NewSlogLogger(level, u.cfg.Log.Format, u.cfg.Log.AddSource).WithComponent("underwriter")

	return nil
}

func (u *Underwriter) setupStore(override history.Store) (history.Store, error) {
	if override != nil {
		return override, nil
	}

	switch u.cfg.Store.Driver {
	case config.DriverSQLite:
		s, err := sqlite.Open(u.cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}

		u.closers = append(u.closers, s.Close)

		return s, nil
	default:
		return history.NewInMemoryStore(), nil
	}
}

// activityCallbacks logs every live activity attempt through the configured
// logger, tagged with its workflow when the logger supports it.
func (u *Underwriter) activityCallbacks() *engine.CallbackManager {
	cm := engine.NewCallbackManager()

	cm.RegisterCallback(engine.NewFunctionCallback(engine.CallbackAfterAttempt, func(_ context.Context, cc *engine.CallbackContext) {
		if ul, ok := u.logger.(*logging.UnderwriterLogger); ok {
			ul.WithWorkflow(cc.WorkflowID).LogActivity(cc.Name, cc.Attempt, cc.Duration, cc.Err)
			return
		}

		if cc.Err != nil {
			u.logger.Warn("Activity attempt failed", "workflow_id", cc.WorkflowID, "activity", cc.Name, "attempt", cc.Attempt, "error", cc.Err.Error())
			return
		}

		u.logger.Debug("Activity completed", "workflow_id", cc.WorkflowID, "activity", cc.Name, "attempt", cc.Attempt, "duration", cc.Duration)
	}))

	cm.RegisterCallback(engine.NewFunctionCallback(engine.CallbackReplayed, func(_ context.Context, cc *engine.CallbackContext) {
		u.logger.Debug("Activity replayed from history", "workflow_id", cc.WorkflowID, "activity", cc.Name)
	}))

	return cm
}

func (u *Underwriter) buildProviders(opts Options) (core.DataProvider, core.CreditBureau, core.CreditBureau, error) {
	if opts.DataProvider != nil || opts.PrimaryBureau != nil {
		if opts.DataProvider == nil || opts.PrimaryBureau == nil {
			return nil, nil, nil, errors.New("DataProvider and PrimaryBureau must be overridden together")
		}

		return opts.DataProvider, opts.PrimaryBureau, opts.SecondaryBureau, nil
	}

	pc := u.cfg.Providers

	if pc.Mode == config.ProvidersStatic {
		data := provider.Static{
			Bank: core.BankAccount{AccountID: "static", Balance: 12000, AverageBalance: 11000},
			Documents: []core.Document{
				{ID: "payslip", Type: "payslip", Verified: true},
				{ID: "id", Type: "identity", Verified: true},
			},
		}

		var secondary core.CreditBureau
		if pc.SecondaryBureau.Name != "" {
			secondary = provider.StaticBureau{BureauName: pc.SecondaryBureau.Name, Score: pc.StaticScore}
		}

		return data, provider.StaticBureau{BureauName: pc.PrimaryBureau.Name, Score: pc.StaticScore}, secondary, nil
	}

	client := provider.NewClient(func(o *provider.Options) {
		o.BaseURL = pc.BaseURL
		o.Timeout = pc.Timeout
		o.BankPath = pc.BankPath
		o.DocumentsPath = pc.DocumentsPath
		o.Logger = u.logger
	})

	var secondary core.CreditBureau
	if pc.SecondaryBureau.Name != "" {
		secondary = client.Bureau(pc.SecondaryBureau.Name, pc.SecondaryBureau.Path)
	}

	return client, client.Bureau(pc.PrimaryBureau.Name, pc.PrimaryBureau.Path), secondary, nil
}

func (u *Underwriter) buildEvaluators(ctx context.Context, models map[core.Kind]model.Model) ([]core.AssessmentProvider, error) {
	configs := u.cfg.Evaluators.List()
	out := make([]core.AssessmentProvider, 0, len(configs))
	u.evaluators = make([]EvaluatorInfo, 0, len(configs))

	for _, ec := range configs {
		if ec.Provider == assessment.ProviderRules {
			out = append(out, assessment.NewRuleEvaluator(ec.Kind, func(t *assessment.Thresholds) {
				t.ReviewBandLow = u.cfg.Policy.ReviewBandLow
				t.ApproveRatio = u.cfg.Policy.ApproveRatio
			}))
			u.evaluators = append(u.evaluators, EvaluatorInfo{Kind: ec.Kind, Provider: ec.Provider})

			continue
		}

		m, ok := models[ec.Kind]
		if !ok {
			var err error
			if m, err = u.newModel(ctx, ec); err != nil {
				return nil, fmt.Errorf("evaluator %s: %w", ec.Kind, err)
			}
		}

		ev, err := assessment.NewModelEvaluator(ec, u.limiter.Wrap(m), assessment.WithLogger(u.logger))
		if err != nil {
			return nil, err
		}

		out = append(out, ev)
		u.evaluators = append(u.evaluators, EvaluatorInfo{
			Kind:           ec.Kind,
			Provider:       m.Info().Provider,
			Model:          m.Info().Name,
			PromptTemplate: ec.PromptTemplate,
		})
	}

	return out, nil
}

func (u *Underwriter) newModel(ctx context.Context, ec assessment.Config) (model.Model, error) {
	llm := u.cfg.LLM

	switch ec.Provider {
	case assessment.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			if ec.Model != "" {
				o.Model = anthropicsdk.Model(ec.Model)
			}

			o.Temperature = llm.Temperature
			o.MaxTokens = int64(llm.MaxTokens)
			o.APIKey = llm.AnthropicAPIKey
		}), nil
	case assessment.ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			if ec.Model != "" {
				o.Model = ec.Model
			}

			o.Temperature = llm.Temperature
			o.MaxCompletionTokens = int64(llm.MaxTokens)
			o.APIKey = llm.OpenAIAPIKey
		}), nil
	case assessment.ProviderGemini:
		return gemini.NewModel(ctx, func(o *gemini.Options) {
			if ec.Model != "" {
				o.Model = ec.Model
			}

			o.Temperature = float32(llm.Temperature)
			o.MaxOutputTokens = int32(llm.MaxTokens)
			o.APIKey = llm.GeminiAPIKey
		})
	case assessment.ProviderMock:
		name := ec.Model
		if name == "" {
			name = "mock-" + string(ec.Kind)
		}

		return model.NewMockModel(name, assessment.ProviderMock), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", ec.Provider)
	}
}

// Config returns the configuration the Underwriter was built from.
func (u *Underwriter) Config() *config.Config { return u.cfg }

// Logger returns the configured logger.
func (u *Underwriter) Logger() logging.Logger { return u.logger }

// Coordinator returns the workflow coordinator.
func (u *Underwriter) Coordinator() *workflow.Coordinator { return u.coordinator }

// Evaluators describes the configured evaluators in kind order.
func (u *Underwriter) Evaluators() []EvaluatorInfo {
	return append([]EvaluatorInfo(nil), u.evaluators...)
}

// ModelCalls returns the number of model calls made by model-backed
// evaluators, replays excluded.
func (u *Underwriter) ModelCalls() int { return u.limiter.Count() }

// Recover resumes every workflow that is open in history.
func (u *Underwriter) Recover(ctx context.Context) (int, error) {
	n, err := u.coordinator.Recover(ctx)
	if err != nil {
		return n, err
	}

	u.logger.Info("Recovered workflows", "count", n)

	return n, nil
}

// Close stops every running workflow and releases the store. Workflows left
// open resume on the next Recover.
func (u *Underwriter) Close(ctx context.Context) error {
	err := u.coordinator.Shutdown(ctx)

	return errors.Join(err, u.closeAll())
}

func (u *Underwriter) closeAll() error {
	var errs []error

	for i := len(u.closers) - 1; i >= 0; i-- {
		if err := u.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}

	u.closers = nil

	return errors.Join(errs...)
}
