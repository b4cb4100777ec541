// Package config loads the underwriter's YAML configuration. A Config is
// built once at process start and passed by pointer to the components that
// need it; nothing mutates it afterwards.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/underwriter/assessment"
	"github.com/hupe1980/underwriter/core"
	"github.com/hupe1980/underwriter/decision"
	"github.com/hupe1980/underwriter/engine"
	"github.com/hupe1980/underwriter/logging"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Provider modes.
const (
	ProvidersHTTP   = "http"
	ProvidersStatic = "static"
)

// Logging backends.
const (
	BackendSlog = "slog"
	BackendZap  = "zap"
)

// Config is the complete process configuration.
type Config struct {
	ListenAddr string           `yaml:"listen_addr"`
	Log        LogConfig        `yaml:"log"`
	Store      StoreConfig      `yaml:"store"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Retry      RetryConfig      `yaml:"retry"`
	Review     ReviewConfig     `yaml:"review"`
	Policy     decision.Policy  `yaml:"policy"`
	Evaluators EvaluatorsConfig `yaml:"evaluators"`
	LLM        LLMConfig        `yaml:"llm"`
}

type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Backend   string `yaml:"backend"`
	AddSource bool   `yaml:"add_source"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type BureauConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

type ProvidersConfig struct {
	// Mode selects the HTTP provider API or built-in static answers.
	Mode            string        `yaml:"mode"`
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	BankPath        string        `yaml:"bank_path"`
	DocumentsPath   string        `yaml:"documents_path"`
	PrimaryBureau   BureauConfig  `yaml:"primary_bureau"`
	SecondaryBureau BureauConfig  `yaml:"secondary_bureau"`
	// StaticScore is the bureau score served in static mode.
	StaticScore int `yaml:"static_score"`
}

type RetryConfig struct {
	Provider   engine.RetryPolicy `yaml:"provider"`
	Assessment engine.RetryPolicy `yaml:"assessment"`
}

type ReviewConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type EvaluatorsConfig struct {
	Credit  assessment.Config `yaml:"credit"`
	Income  assessment.Config `yaml:"income"`
	Expense assessment.Config `yaml:"expense"`
}

// List returns the evaluator configurations in kind order with Kind set.
func (e EvaluatorsConfig) List() []assessment.Config {
	credit, income, expense := e.Credit, e.Income, e.Expense
	credit.Kind, income.Kind, expense.Kind = core.KindCredit, core.KindIncome, core.KindExpense

	return []assessment.Config{credit, income, expense}
}

type LLMConfig struct {
	AnthropicAPIKey string  `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string  `yaml:"openai_api_key"`
	GeminiAPIKey    string  `yaml:"gemini_api_key"`
	Temperature     float64 `yaml:"temperature"`
	MaxTokens       int     `yaml:"max_tokens"`

	// MaxConcurrentCalls caps in-flight model calls across all workflows.
	// Zero means unlimited.
	MaxConcurrentCalls int `yaml:"max_concurrent_calls"`
}

// Default returns a configuration that runs fully in memory against the
// local provider sandbox with rule-based evaluators.
func Default() Config {
	return Config{
		ListenAddr: ":8000",
		Log: LogConfig{
			Level:   "info",
			Format:  "json",
			Backend: BackendSlog,
		},
		Store: StoreConfig{Driver: DriverMemory},
		Providers: ProvidersConfig{
			Mode:            ProvidersHTTP,
			BaseURL:         "http://localhost:3233",
			Timeout:         10 * time.Second,
			BankPath:        "/bank",
			DocumentsPath:   "/documents",
			PrimaryBureau:   BureauConfig{Name: "cibil", Path: "/credit/cibil"},
			SecondaryBureau: BureauConfig{Name: "experian", Path: "/credit/experian"},
			StaticScore:     720,
		},
		Retry: RetryConfig{
			Provider:   engine.DefaultRetryPolicy(),
			Assessment: engine.DefaultRetryPolicy(),
		},
		Review: ReviewConfig{Timeout: 7 * 24 * time.Hour},
		Policy: decision.DefaultPolicy(),
		Evaluators: EvaluatorsConfig{
			Credit:  assessment.Config{Provider: assessment.ProviderRules},
			Income:  assessment.Config{Provider: assessment.ProviderRules},
			Expense: assessment.Config{Provider: assessment.ProviderRules},
		},
		LLM: LLMConfig{MaxTokens: 1024},
	}
}

// Load reads the YAML file at path, expands ${VAR} references from the
// environment, merges it over Default and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(raw)
}

// Parse is Load for an in-memory document.
func Parse(raw []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}

	switch c.Log.Backend {
	case BackendSlog, BackendZap:
	default:
		return fmt.Errorf("log.backend must be slog or zap, got %q", c.Log.Backend)
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required when store.driver=sqlite")
		}
	default:
		return fmt.Errorf("store.driver must be memory or sqlite, got %q", c.Store.Driver)
	}

	if err := c.Providers.validate(); err != nil {
		return err
	}

	if err := c.Retry.Provider.Validate(); err != nil {
		return fmt.Errorf("retry.provider: %w", err)
	}

	if err := c.Retry.Assessment.Validate(); err != nil {
		return fmt.Errorf("retry.assessment: %w", err)
	}

	if c.Review.Timeout <= 0 {
		return fmt.Errorf("review.timeout must be positive")
	}

	if err := c.Policy.Validate(); err != nil {
		return err
	}

	for _, e := range c.Evaluators.List() {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("evaluators.%s: %w", e.Kind, err)
		}

		if err := c.LLM.requireKey(e.Provider); err != nil {
			return fmt.Errorf("evaluators.%s: %w", e.Kind, err)
		}
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0, 2]")
	}

	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive")
	}

	if c.LLM.MaxConcurrentCalls < 0 {
		return fmt.Errorf("llm.max_concurrent_calls must not be negative")
	}

	return nil
}

func (p ProvidersConfig) validate() error {
	if p.PrimaryBureau.Name == "" {
		return fmt.Errorf("providers.primary_bureau.name is required")
	}

	if p.SecondaryBureau.Name != "" && p.SecondaryBureau.Name == p.PrimaryBureau.Name {
		return fmt.Errorf("providers.secondary_bureau must differ from the primary bureau")
	}

	switch p.Mode {
	case ProvidersStatic:
		if !core.ValidScore(p.StaticScore) {
			return fmt.Errorf("providers.static_score must be within %d..%d", core.MinCreditScore, core.MaxCreditScore)
		}

		return nil
	case ProvidersHTTP:
	default:
		return fmt.Errorf("providers.mode must be http or static, got %q", p.Mode)
	}

	u, err := url.Parse(p.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("providers.base_url must be an absolute URL, got %q", p.BaseURL)
	}

	if p.Timeout <= 0 {
		return fmt.Errorf("providers.timeout must be positive")
	}

	if p.PrimaryBureau.Path == "" {
		return fmt.Errorf("providers.primary_bureau.path is required")
	}

	if p.SecondaryBureau.Name != "" && p.SecondaryBureau.Path == "" {
		return fmt.Errorf("providers.secondary_bureau.path is required")
	}

	return nil
}

func (l LLMConfig) requireKey(provider string) error {
	var key string

	switch provider {
	case assessment.ProviderAnthropic:
		key = l.AnthropicAPIKey
	case assessment.ProviderOpenAI:
		key = l.OpenAIAPIKey
	case assessment.ProviderGemini:
		key = l.GeminiAPIKey
	default:
		return nil
	}

	if key == "" {
		return fmt.Errorf("llm api key for provider %s is required", provider)
	}

	return nil
}
