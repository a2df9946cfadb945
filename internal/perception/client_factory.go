package perception

import (
	"fmt"

	"sleuthnerd/internal/config"
)

// NewClient builds an LLM client for one engine role from the resolved
// configuration. Each role carries its own model profile so the judge can
// run a cheap fast model while the report writer gets a large one.
func NewClient(cfg *config.Config, role string) (LLMClient, error) {
	profile := cfg.GetRoleProfile(role)

	switch Provider(cfg.LLM.Provider) {
	case ProviderAnthropic:
		ac := DefaultAnthropicConfig(cfg.LLM.APIKey)
		ac.Model = profile.Model
		ac.MaxTokens = profile.MaxTokens
		ac.Temperature = profile.Temperature
		ac.Timeout = cfg.GetLLMTimeout()
		if cfg.LLM.BaseURL != "" {
			ac.BaseURL = cfg.LLM.BaseURL
		}
		if cfg.LLM.MaxRetries > 0 {
			ac.MaxRetries = cfg.LLM.MaxRetries
		}
		return NewAnthropicClientWithConfig(ac), nil

	case ProviderGemini:
		return NewGeminiClientWithConfig(GeminiConfig{
			APIKey:      cfg.LLM.APIKey,
			Model:       profile.Model,
			MaxTokens:   profile.MaxTokens,
			Temperature: profile.Temperature,
		})

	default:
		return nil, fmt.Errorf("unknown provider: %s (valid: %v)", cfg.LLM.Provider, config.ValidProviders)
	}
}
