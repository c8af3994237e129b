package providers

import (
	"net/http"
	"os"
	"strings"

	"github.com/c360studio/docwriter/llm"
)

// OllamaProvider implements the OpenAI-compatible API served by Ollama,
// vLLM, and similar local inference servers. The wire format is shared
// with OpenAIProvider; only the default URL and auth differ.
type OllamaProvider struct {
	OpenAIProvider
}

func init() {
	llm.RegisterProvider(&OllamaProvider{})
}

// Name returns the provider identifier.
func (o *OllamaProvider) Name() string {
	return "ollama"
}

// BuildURL constructs the chat completions endpoint.
func (o *OllamaProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

// SetHeaders adds a bearer token when one is configured (OpenRouter,
// vLLM behind a gateway, etc.).
func (o *OllamaProvider) SetHeaders(req *http.Request) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}
