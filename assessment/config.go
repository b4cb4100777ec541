package assessment

import (
	"fmt"

	"github.com/hupe1980/underwriter/core"
)

// Evaluator providers.
const (
	ProviderRules     = "rules"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderMock      = "mock"
)

// Config describes one evaluator.
type Config struct {
	Kind           core.Kind `yaml:"-" json:"kind"`
	Provider       string    `yaml:"provider" json:"provider"`
	Model          string    `yaml:"model,omitempty" json:"model,omitempty"`
	PromptTemplate string    `yaml:"prompt_template,omitempty" json:"prompt_template,omitempty"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := core.ParseKind(string(c.Kind)); err != nil {
		return err
	}

	switch c.Provider {
	case ProviderRules:
		return nil
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini, ProviderMock:
		if c.PromptTemplate == "" {
			return fmt.Errorf("evaluator %s: prompt_template is required for provider %s", c.Kind, c.Provider)
		}

		if _, ok := prompts[c.PromptTemplate]; !ok {
			return fmt.Errorf("evaluator %s: unknown prompt template %q", c.Kind, c.PromptTemplate)
		}

		return nil
	default:
		return fmt.Errorf("evaluator %s: unknown provider %q", c.Kind, c.Provider)
	}
}

// DefaultConfigs returns rule-based configurations for every kind.
func DefaultConfigs() []Config {
	out := make([]Config, 0, len(core.Kinds))
	for _, k := range core.Kinds {
		out = append(out, Config{Kind: k, Provider: ProviderRules})
	}

	return out
}
