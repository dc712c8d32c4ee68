// Package mock provides a deterministic speech-to-text client for local
// runs and tests.
package mock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-gateway/core/audio"
	"github.com/koscakluka/ema-gateway/core/speechtotext"
)

const (
	DefaultTranscript = "I would like to place one last order"
	DefaultConfidence = 0.9
)

// Client returns a fixed transcript for any utterance louder than the
// silence threshold and an empty transcript otherwise.
type Client struct {
	transcript       string
	confidence       float64
	silenceThreshold float64
	delay            time.Duration

	calls atomic.Int32
}

type Option func(*Client)

func WithTranscript(transcript string) Option {
	return func(c *Client) { c.transcript = transcript }
}

func WithConfidence(confidence float64) Option {
	return func(c *Client) { c.confidence = confidence }
}

// WithSilenceThreshold sets the normalised RMS level below which audio is
// considered silent. Zero treats any audio as speech.
func WithSilenceThreshold(threshold float64) Option {
	return func(c *Client) { c.silenceThreshold = threshold }
}

func WithDelay(delay time.Duration) Option {
	return func(c *Client) { c.delay = delay }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		transcript: DefaultTranscript,
		confidence: DefaultConfidence,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Transcribe(ctx context.Context, utterance audio.Utterance, opts ...speechtotext.TranscriptionOption) (*speechtotext.Transcript, error) {
	c.calls.Add(1)
	options := speechtotext.NewTranscriptionOptions(opts...)

	pcm, _, err := audio.ReadWAVFile(utterance.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read utterance: %w", err)
	}

	if c.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.delay):
		}
	}

	if len(pcm) == 0 || audio.Linear16RMS(pcm) < c.silenceThreshold {
		return &speechtotext.Transcript{Language: options.Language}, nil
	}

	return &speechtotext.Transcript{
		Text:       c.transcript,
		Confidence: c.confidence,
		Language:   options.Language,
	}, nil
}

// Calls reports how many times Transcribe was invoked.
func (c *Client) Calls() int {
	return int(c.calls.Load())
}
