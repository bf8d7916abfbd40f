// Package genai provides the OpenAI-backed text generation used by the
// routing cascade's AI fallback.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const systemPrompt = "Eres un asistente de clasificación para una tienda de memorias USB. Sigue las instrucciones del mensaje al pie de la letra y responde únicamente en el formato pedido."

// Client wraps the OpenAI chat completion API.
type Client struct {
	client openai.Client
	model  openai.ChatModel
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// NewClient initializes a GenAI client. The API key comes from options,
// falling back to the OPENAI_API_KEY environment variable. Callers that can
// run without AI should treat an error here as "no collaborator available"
// rather than fatal.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	return &Client{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  openai.ChatModelGPT4oMini,
	}, nil
}

// IsAvailable reports whether the client can serve generation requests.
func (c *Client) IsAvailable() bool {
	return c != nil
}

// GenerateText sends the prompt and returns the raw model reply.
func (c *Client) GenerateText(prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(context.Background(), openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		slog.Error("chat completion failed", "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
