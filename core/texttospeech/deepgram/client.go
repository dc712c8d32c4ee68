// Package deepgram synthesizes speech with the Deepgram streaming speak API.
package deepgram

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/gorilla/websocket"
)

const defaultBaseURL = "wss://api.deepgram.com"

var (
	ErrMissingAPIKey = errors.New("deepgram api key not found")
	ErrInvalidVoice  = errors.New("invalid voice")
)

type TextToSpeechClient struct {
	apiKey  string
	baseURL string
	voice   deepgramVoice
	dialer  *websocket.Dialer
}

type ClientOption func(*TextToSpeechClient)

// WithAPIKey overrides the key read from DEEPGRAM_API_KEY.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *TextToSpeechClient) { c.apiKey = apiKey }
}

func WithBaseURL(baseURL string) ClientOption {
	return func(c *TextToSpeechClient) { c.baseURL = baseURL }
}

func WithVoice(voice string) ClientOption {
	return func(c *TextToSpeechClient) {
		if voice != "" {
			c.voice = deepgramVoice(voice)
		}
	}
}

func WithDialer(dialer *websocket.Dialer) ClientOption {
	return func(c *TextToSpeechClient) { c.dialer = dialer }
}

func NewTextToSpeechClient(opts ...ClientOption) (*TextToSpeechClient, error) {
	client := &TextToSpeechClient{
		baseURL: defaultBaseURL,
		voice:   defaultVoice,
		dialer:  websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(client)
	}

	if !slices.Contains(GetAvailableVoices(), client.voice) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidVoice, client.voice)
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
