package types

// ProviderOptions carries per-provider credentials and overrides, one
// shape shared by every LLM vendor.
type ProviderOptions struct {
	APIKey        string `json:"apiKey,omitempty"`
	BaseURL       string `json:"baseURL,omitempty"`
	EnterpriseURL string `json:"enterpriseUrl,omitempty"`
	Timeout       *int   `json:"timeout,omitempty"`
}

// ProviderConfig configures one named LLM provider entry.
type ProviderConfig struct {
	APIKey    string           `json:"apiKey,omitempty"`
	BaseURL   string           `json:"baseURL,omitempty"`
	Model     string           `json:"model,omitempty"`
	Npm       string           `json:"npm,omitempty"`
	Options   *ProviderOptions `json:"options,omitempty"`
	Whitelist []string         `json:"whitelist,omitempty"`
	Blacklist []string         `json:"blacklist,omitempty"`
	Disable   bool             `json:"disable,omitempty"`
}

// ModelOptions carries model-specific generation overrides and
// capability hints.
type ModelOptions struct {
	Temperature    *float64 `json:"temperature,omitempty"`
	TopP           *float64 `json:"topP,omitempty"`
	PromptCaching  bool     `json:"promptCaching,omitempty"`
	ExtendedOutput bool     `json:"extendedOutput,omitempty"`
}

// Model describes one selectable model advertised by a Provider.
type Model struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	ProviderID        string       `json:"providerID"`
	ContextLength     int          `json:"contextLength"`
	MaxOutputTokens   int          `json:"maxOutputTokens,omitempty"`
	SupportsTools     bool         `json:"supportsTools"`
	SupportsVision    bool         `json:"supportsVision"`
	SupportsReasoning bool         `json:"supportsReasoning,omitempty"`
	InputPrice        float64      `json:"inputPrice,omitempty"`
	OutputPrice       float64      `json:"outputPrice,omitempty"`
	Options           ModelOptions `json:"options,omitempty"`
}

// Config is the provider-selection surface: which LLM vendors are
// available and which model is selected by default. It is a narrower
// sibling of RuntimeConfig (internal/config), scoped to what
// internal/provider needs to construct Eino chat models.
type Config struct {
	Model    string                    `json:"model,omitempty"`
	Provider map[string]ProviderConfig `json:"provider,omitempty"`
}
