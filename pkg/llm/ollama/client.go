// Package ollama implements llm.Provider against an Ollama server's
// OpenAI-compatible chat endpoint.
package ollama

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mnemo-labs/mnemo-go/pkg/llm"
)

// Client is an Ollama text-generation client.
//
// Ollama serves models locally; no API key is required for a default
// deployment.
type Client struct {
	client *openai.Client
	model  string
}

// Config is the configuration for the Ollama client.
type Config struct {
	// APIKey is optional; local deployments usually run without one.
	APIKey string

	// Model is the model name; defaults to "llama3.1".
	Model string

	// BaseURL is the Ollama service address; defaults to
	// "http://localhost:11434/v1".
	BaseURL string

	// HTTPClient overrides the HTTP client. Local models can be slow to
	// load, so the default timeout is generous (120s).
	HTTPClient *http.Client
}

// NewClient creates a new Ollama client.
func NewClient(cfg *Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}

	model := cfg.Model
	if model == "" {
		model = "llama3.1"
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "ollama" // The endpoint requires a non-empty bearer token.
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	} else {
		config.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Generate generates text from a single prompt.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	messages := []llm.Message{
		{Role: "user", Content: prompt},
	}
	return c.GenerateWithMessages(ctx, messages, opts...)
}

// GenerateWithMessages generates text from a conversation history.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	options := llm.ApplyGenerateOptions(opts)

	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    chatMessages,
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
		TopP:        float32(options.TopP),
		Stop:        options.Stop,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("llm generation failed: no choices returned")
	}

	return resp.Choices[0].Message.Content, nil
}

// Close closes the client.
func (c *Client) Close() error {
	return nil
}
