package domain

import "time"

// ProviderType identifies a provider wire-protocol family.
type ProviderType string

const (
	ProviderOpenAI     ProviderType = "openai"
	ProviderAnthropic  ProviderType = "anthropic"
	ProviderGemini     ProviderType = "gemini"
	ProviderOpenRouter ProviderType = "openrouter"
	ProviderCustom     ProviderType = "custom"
)

// SupportsTools reports whether the family's wire protocol models tool
// calling. Only the OpenAI-style adapters do; the Anthropic and Gemini
// adapters translate text-only exchanges.
func (t ProviderType) SupportsTools() bool {
	switch t {
	case ProviderOpenAI, ProviderOpenRouter, ProviderCustom:
		return true
	default:
		return false
	}
}

// Provider is a persisted upstream API endpoint configuration.
type Provider struct {
	ID        string       `json:"id"`
	Nickname  string       `json:"nickname"`
	Type      ProviderType `json:"type"`
	BaseURL   string       `json:"base_url"`
	APIKey    string       `json:"api_key"`
	IsActive  bool         `json:"is_active"`
	CreatedAt time.Time    `json:"created_at"`
}

// ChatModel is a persisted model entry belonging to a provider. Entries are
// either synced from the provider's models endpoint or added manually.
type ChatModel struct {
	ID              string    `json:"id"`
	ProviderID      string    `json:"provider_id"`
	ModelName       string    `json:"model_name"`
	DisplayName     string    `json:"display_name,omitempty"`
	IsEnabled       bool      `json:"is_enabled"`
	IsManuallyAdded bool      `json:"is_manually_added"`
	CreatedAt       time.Time `json:"created_at"`
}

// Name returns the display name, falling back to the wire model name.
func (m ChatModel) Name() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.ModelName
}
