package models

// CatalogEntry describes one model's limits and pricing, as loaded from the
// external, read-only model catalog (spec.md §4.1).
type CatalogEntry struct {
	ModelSpec        ModelSpec `json:"model_spec" yaml:"model_spec"`
	ContextWindow    int       `json:"context_window" yaml:"context_window"`
	OutputLimit      int       `json:"output_limit" yaml:"output_limit"`
	InputPricePerM   float64   `json:"input_price_per_million" yaml:"input_price_per_million"`
	OutputPricePerM  float64   `json:"output_price_per_million" yaml:"output_price_per_million"`
	CachedPricePerM  float64   `json:"cached_price_per_million,omitempty" yaml:"cached_price_per_million,omitempty"`
	SupportsThinking bool      `json:"supports_thinking,omitempty" yaml:"supports_thinking,omitempty"`
}

// DefaultContextWindow and DefaultOutputLimit are applied for any model_spec
// absent from the catalog (spec.md §4.1: "Unknown models default to
// 128,000 for both limits — never panics").
const (
	DefaultContextWindow = 128000
	DefaultOutputLimit   = 128000
)

// Usage aggregates token and cost accounting across one or more LLM
// responses (spec.md §4.5 "aggregate usage/cost roll-up").
type Usage struct {
	InputTokens        int     `json:"input_tokens"`
	OutputTokens       int     `json:"output_tokens"`
	ReasoningTokens     int     `json:"reasoning_tokens,omitempty"`
	CachedTokens       int     `json:"cached_tokens,omitempty"`
	CacheCreationTokens int    `json:"cache_creation_tokens,omitempty"`
	InputCost          float64 `json:"input_cost"`
	OutputCost         float64 `json:"output_cost"`
}

// Add accumulates other into u in place.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.ReasoningTokens += other.ReasoningTokens
	u.CachedTokens += other.CachedTokens
	u.CacheCreationTokens += other.CacheCreationTokens
	u.InputCost += other.InputCost
	u.OutputCost += other.OutputCost
}

// Total returns the combined input+output cost.
func (u Usage) Total() float64 {
	return u.InputCost + u.OutputCost
}
