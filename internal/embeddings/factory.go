package embeddings

import (
	"fmt"
	"os"

	"github.com/docchat/docchat/internal/config"
)

// NewEmbedder creates the embedding backend selected by the configuration.
// Groq exposes no embeddings API, so it is rejected here rather than at
// first use.
func NewEmbedder(provider config.ProviderType, model string) (Embedder, error) {
	switch provider {
	case config.ProviderOpenAI:
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable is not set")
		}
		return NewOpenAIEmbedder(apiKey, model), nil

	case config.ProviderGemini:
		apiKey := os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY environment variable is not set")
		}
		return NewGeminiEmbedder(apiKey, model), nil

	case config.ProviderMistral:
		apiKey := os.Getenv("MISTRAL_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("MISTRAL_API_KEY environment variable is not set")
		}
		return NewMistralEmbedder(apiKey, model), nil

	case config.ProviderOllama:
		host := os.Getenv("OLLAMA_HOST")
		// nomic-embed-text dimensions unless told otherwise.
		return NewOllamaEmbedder(model, 768, host), nil

	case config.ProviderGroq:
		return nil, fmt.Errorf("provider groq does not offer an embeddings API")

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", provider)
	}
}
