// Package chatapi is a minimal client for OpenAI-compatible chat completion
// endpoints. Without an API key it degrades to a deterministic canned reply
// so the interactive surface keeps working offline.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const offlineReply = "I'm running without a chat API key, so I can't answer that. " +
	"Video generation still works: try /video <prompt>."

// Message is one chat turn in the completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client calls a chat completion endpoint. Safe for concurrent use.
type Client struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(client *Client) {
		client.model = model
	}
}

// WithSampling sets temperature and the completion token cap.
func WithSampling(temperature float64, maxTokens int) Option {
	return func(client *Client) {
		client.temperature = temperature
		client.maxTokens = maxTokens
	}
}

// New creates a client. An empty apiKey puts the client in offline mode.
func New(endpoint, apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:    endpoint,
		apiKey:      apiKey,
		model:       "deepseek-chat",
		temperature: 0.7,
		maxTokens:   2000,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Offline reports whether the client answers with the canned reply.
func (c *Client) Offline() bool {
	return c.apiKey == ""
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete runs one chat completion round trip and returns the assistant
// reply text.
func (c *Client) Complete(ctx context.Context, msgs []Message) (string, error) {
	if c.Offline() {
		return offlineReply, nil
	}

	body, err := json.Marshal(completionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chatapi: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("chatapi: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chatapi: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("chatapi: read response: %w", err)
	}
	var parsed completionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("chatapi: decode (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("chatapi: %s", parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chatapi: status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chatapi: empty completion")
	}
	return parsed.Choices[0].Message.Content, nil
}
