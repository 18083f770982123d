package embeddings

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const maxBatchSize = 100

// knownDimensions maps the embedding models we bundle defaults for.
var knownDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"mistral-embed":          1024,
}

// OpenAIEmbedder generates embeddings through any OpenAI-compatible
// embeddings API. With a custom base URL it also serves Mistral.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	name       string
}

// NewOpenAIEmbedder creates an embedder against api.openai.com.
func NewOpenAIEmbedder(apiKey, model string) *OpenAIEmbedder {
	return newCompatEmbedder(apiKey, "", model, model)
}

// NewMistralEmbedder creates an embedder against the Mistral API, which
// speaks the OpenAI embeddings wire format.
func NewMistralEmbedder(apiKey, model string) *OpenAIEmbedder {
	return newCompatEmbedder(apiKey, "https://api.mistral.ai/v1", model, "mistral/"+model)
}

func newCompatEmbedder(apiKey, baseURL, model, name string) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	dims := knownDimensions[model]
	if dims == 0 {
		dims = 1536
	}
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		dimensions: dims,
		name:       name,
	}
}

func (e *OpenAIEmbedder) Name() string {
	return e.name
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	allEmbeddings := make([][]float32, 0, len(texts))

	// Batch up to maxBatchSize texts per API call.
	for i := 0; i < len(texts); i += maxBatchSize {
		end := i + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: batch,
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			return nil, classifyOpenAIError(err, "embedding request")
		}

		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("%w: provider returned %d embeddings, expected %d", ErrRejected, len(resp.Data), len(batch))
		}

		for _, emb := range resp.Data {
			allEmbeddings = append(allEmbeddings, emb.Embedding)
		}
	}

	return allEmbeddings, nil
}

// classifyOpenAIError folds a go-openai client error into the
// transient/permanent taxonomy.
func classifyOpenAIError(err error, op string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s: %v", classifyStatus(apiErr.HTTPStatusCode), op, err)
	}
	// Network-level failures are transient.
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
