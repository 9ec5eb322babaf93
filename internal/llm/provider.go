// ABOUTME: Provider selection from config strings
// ABOUTME: Maps provider names to concrete chat clients

package llm

// Provider identifies a generative provider backend.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
)

// NewClient creates the provider client named by provider. An unrecognized
// provider falls back to Anthropic. baseURL is only consulted for the
// OpenAI-compatible backends.
func NewClient(provider Provider, apiKey, baseURL string) Client {
	switch provider {
	case ProviderOllama:
		return NewOllamaClient(baseURL)
	case ProviderOpenAI:
		if baseURL != "" {
			return NewOpenAICompatibleClient(baseURL, apiKey)
		}
		return NewOpenAIClient(apiKey)
	default:
		if apiKey != "" {
			return NewAnthropicClientWithKey(apiKey)
		}
		return NewAnthropicClient()
	}
}
