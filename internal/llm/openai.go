package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// API endpoints for the OpenAI-compatible providers.
const (
	groqBaseURL    = "https://api.groq.com/openai/v1"
	mistralBaseURL = "https://api.mistral.ai/v1"
)

// OpenAIProvider implements Provider over any Chat Completions compatible
// API. Groq and Mistral both speak this wire format, so they share the
// adapter with a different base URL.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	name   string
}

// NewOpenAIProvider creates a provider against api.openai.com.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return newCompatProvider(apiKey, "", model, "openai")
}

// NewGroqProvider creates a provider against the Groq API.
func NewGroqProvider(apiKey, model string) *OpenAIProvider {
	return newCompatProvider(apiKey, groqBaseURL, model, "groq")
}

// NewMistralProvider creates a provider against the Mistral API.
func NewMistralProvider(apiKey, model string) *OpenAIProvider {
	return newCompatProvider(apiKey, mistralBaseURL, model, "mistral")
}

// NewCompatProvider creates a provider against any OpenAI-compatible
// endpoint, e.g. a locally hosted inference server.
func NewCompatProvider(apiKey, baseURL, model, name string) *OpenAIProvider {
	return newCompatProvider(apiKey, baseURL, model, name)
}

func newCompatProvider(apiKey, baseURL, model, name string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		name:   name,
	}
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) buildRequest(req CompletionRequest) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	var messages []openai.ChatCompletionMessage
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req))
	if err != nil {
		return nil, p.wrapError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: %s returned no choices", ErrInvalidResponse, p.name)
	}

	return &CompletionResponse{
		Content:      resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Model:        resp.Model,
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}

// CompleteStream streams the completion, forwarding each delta to fn and
// returning the assembled response.
func (p *OpenAIProvider) CompleteStream(ctx context.Context, req CompletionRequest, fn StreamFunc) (*CompletionResponse, error) {
	apiReq := p.buildRequest(req)
	apiReq.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, apiReq)
	if err != nil {
		return nil, p.wrapError(err)
	}
	defer stream.Close()

	var content string
	var finishReason string
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, p.wrapError(err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta != "" {
			content += delta
			if err := fn(delta); err != nil {
				return nil, fmt.Errorf("stream consumer: %w", err)
			}
		}
		if chunk.Choices[0].FinishReason != "" {
			finishReason = string(chunk.Choices[0].FinishReason)
		}
	}

	return &CompletionResponse{
		Content:      content,
		Model:        apiReq.Model,
		FinishReason: finishReason,
	}, nil
}

func (p *OpenAIProvider) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s: %v", classifyStatus(apiErr.HTTPStatusCode), p.name, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, p.name, err)
}
