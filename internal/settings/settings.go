// Package settings owns the singleton settings document and serializes all
// mutations to it through a single writer.
package settings

import (
	"github.com/roelfdiedericks/tabclaw/internal/types"
)

// StorageKey is the key-value store key holding the settings document.
const StorageKey = "settings"

// ProviderSettings configures the remote completion endpoint
type ProviderSettings struct {
	Type     string `json:"type"`     // "openai" or "anthropic"
	Endpoint string `json:"endpoint"` // Base URL; empty = provider default
	Model    string `json:"model"`
	APIKey   string `json:"apiKey,omitempty"`
}

// Settings is the single persisted document: provider configuration, the
// legacy single-thread history, and the per-tab conversation map.
type Settings struct {
	Provider ProviderSettings `json:"provider"`

	// ChatHistory is the legacy flat thread, used when a request carries
	// no tab identifier.
	ChatHistory []types.Turn `json:"chatHistory"`

	TabConversations map[string]*types.TabConversation `json:"tabConversations"`
}

// Defaults returns a settings document with sane provider defaults
func Defaults() *Settings {
	return &Settings{
		Provider: ProviderSettings{
			Type:  "openai",
			Model: "gpt-4o-mini",
		},
		TabConversations: make(map[string]*types.TabConversation),
	}
}

// normalize repairs nil maps after JSON decoding
func (s *Settings) normalize() {
	if s.TabConversations == nil {
		s.TabConversations = make(map[string]*types.TabConversation)
	}
}
