// Package llm provides the Gemini-backed document understanding and
// comparison capability behind a provider-neutral interface.
package llm

// ModelTier represents the complexity level of a model.
type ModelTier string

const (
	// TierStandard is for document understanding: structured summarization.
	TierStandard ModelTier = "standard"
	// TierAdvanced is for the comparison step, which needs more reasoning.
	TierAdvanced ModelTier = "advanced"
)

// Provider represents an LLM provider.
type Provider string

// Provider constants define supported LLM providers.
const (
	// ProviderGemini is the Google Gemini provider
	ProviderGemini Provider = "gemini"
)

// Config holds the model configuration for the analysis engine.
type Config struct {
	Provider Provider
	Models   map[ModelTier]string
}

// DefaultConfig returns the default Gemini configuration.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierStandard: "gemini-1.5-flash",
			TierAdvanced: "gemini-1.5-pro",
		},
	}
}

// ConfigForModel returns a configuration that uses one model for every tier,
// matching deployments that pin a single model via configuration.
func ConfigForModel(model string) *Config {
	if model == "" {
		return DefaultConfig()
	}
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierStandard: model,
			TierAdvanced: model,
		},
	}
}

// GetModel returns the model name for a given tier, falling back to the
// standard tier when the requested one is not configured.
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	if model, ok := c.Models[TierStandard]; ok {
		return model
	}
	return ""
}
