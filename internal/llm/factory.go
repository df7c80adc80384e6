// Package llm - Provider factory
package llm

import "fmt"

// NewProvider creates a provider instance from config.
// Dispatches to the appropriate constructor based on cfg.Type.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Type {
	case "anthropic":
		return NewAnthropicProvider(cfg)
	case "openai", "":
		return NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}
