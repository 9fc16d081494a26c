package config

import "github.com/quoracle/quoracle/pkg/models"

// ModelsConfig is the external, read-only model catalog and provider
// credential set (spec.md §4.1: "an external read-only model catalog").
// Catalog entries are mirrored verbatim into pkg/models.CatalogEntry;
// unlisted models fall back to models.DefaultContextWindow/
// DefaultOutputLimit rather than erroring.
type ModelsConfig struct {
	Catalog   []models.CatalogEntry `yaml:"catalog"`
	Providers ProvidersConfig       `yaml:"providers"`
}

// ProvidersConfig carries the credentials for the three concrete
// llmclient.Provider backends (SPEC_FULL §3 domain stack:
// anthropic-sdk-go, the OpenAI Chat Completions API, and the Gemini
// API), grounded on the teacher's LLMProviderConfig (api_key/base_url
// per provider) but narrowed to the fixed three-provider set this
// runtime ships adapters for instead of the teacher's open provider
// map + routing rules.
type ProvidersConfig struct {
	Anthropic ProviderCredentials `yaml:"anthropic"`
	OpenAI    ProviderCredentials `yaml:"openai"`
	Gemini    ProviderCredentials `yaml:"gemini"`
}

// ProviderCredentials holds the API key and optional base URL override
// for one provider backend.
type ProviderCredentials struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
}

func applyModelsDefaults(cfg *ModelsConfig) {
	// Unlisted models already default through
	// models.DefaultContextWindow/DefaultOutputLimit at lookup time
	// (spec.md §4.1); no catalog entries are required here.
}

// CatalogMap indexes Catalog by model_spec for tokens.NewCalculator.
func (c ModelsConfig) CatalogMap() map[models.ModelSpec]models.CatalogEntry {
	out := make(map[models.ModelSpec]models.CatalogEntry, len(c.Catalog))
	for _, entry := range c.Catalog {
		out[entry.ModelSpec] = entry
	}
	return out
}
