// Package openai runs dialog turns against the OpenAI Responses API,
// keeping a short per-session history.
package openai

import (
	"errors"
	"net/http"
	"os"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultBaseURL      = "https://api.openai.com/v1"
	defaultModel        = "gpt-4.1-mini"
	defaultInstructions = "You are a friendly voice assistant for an online shop. " +
		"Answer in one or two short spoken sentences without markdown."
	defaultMaxHistory = 20
)

var ErrMissingAPIKey = errors.New("openai api key not found")

type Client struct {
	apiKey       string
	baseURL      string
	model        string
	instructions string
	maxHistory   int
	httpClient   *http.Client

	mu      sync.Mutex
	history map[string][]openAIMessage
}

type ClientOption func(*Client)

// WithAPIKey overrides the key read from OPENAI_API_KEY.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) { c.apiKey = apiKey }
}

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = baseURL }
}

func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

func WithInstructions(instructions string) ClientOption {
	return func(c *Client) {
		if instructions != "" {
			c.instructions = instructions
		}
	}
}

// WithMaxHistory bounds the number of remembered messages per session.
func WithMaxHistory(messages int) ClientOption {
	return func(c *Client) { c.maxHistory = messages }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func NewClient(opts ...ClientOption) (*Client, error) {
	client := &Client{
		baseURL:      defaultBaseURL,
		model:        defaultModel,
		instructions: defaultInstructions,
		maxHistory:   defaultMaxHistory,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "openai " + r.Method + " " + r.URL.Path
			}),
		)},
		history: map[string][]openAIMessage{},
	}
	for _, opt := range opts {
		opt(client)
	}

	if client.apiKey == "" {
		apiKey, ok := os.LookupEnv("OPENAI_API_KEY")
		if !ok || apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		client.apiKey = apiKey
	}

	return client, nil
}

// Forget drops the history kept for sessionID.
func (c *Client) Forget(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.history, sessionID)
}

func (c *Client) historyFor(sessionID string) []openAIMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]openAIMessage{}, c.history[sessionID]...)
}

func (c *Client) remember(sessionID string, messages ...openAIMessage) {
	if sessionID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	history := append(c.history[sessionID], messages...)
	if c.maxHistory > 0 && len(history) > c.maxHistory {
		history = history[len(history)-c.maxHistory:]
	}
	c.history[sessionID] = history
}
