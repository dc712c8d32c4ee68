// Package deepgram transcribes recorded utterances with the Deepgram live
// listen API.
package deepgram

import (
	"errors"
	"os"

	"github.com/gorilla/websocket"
)

const (
	defaultBaseURL = "wss://api.deepgram.com"
	defaultModel   = "nova-3"
)

var ErrMissingAPIKey = errors.New("deepgram api key not found")

type TranscriptionClient struct {
	apiKey  string
	baseURL string
	model   string
	dialer  *websocket.Dialer
}

type ClientOption func(*TranscriptionClient)

// WithAPIKey overrides the key read from DEEPGRAM_API_KEY.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *TranscriptionClient) { c.apiKey = apiKey }
}

func WithBaseURL(baseURL string) ClientOption {
	return func(c *TranscriptionClient) { c.baseURL = baseURL }
}

func WithModel(model string) ClientOption {
	return func(c *TranscriptionClient) { c.model = model }
}

func WithDialer(dialer *websocket.Dialer) ClientOption {
	return func(c *TranscriptionClient) { c.dialer = dialer }
}

func NewClient(opts ...ClientOption) (*TranscriptionClient, error) {
	client := &TranscriptionClient{
		baseURL: defaultBaseURL,
		model:   defaultModel,
		dialer:  websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(client)
	}

	if client.apiKey == "" {
		apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
		if !ok || apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		client.apiKey = apiKey
	}

	return client, nil
}
