// Package mock synthesizes a plain tone instead of speech, paced like a
// streaming provider.
package mock

import (
	"context"
	"encoding/binary"
	"iter"
	"math"
	"strings"
	"time"

	"github.com/koscakluka/ema-gateway/core/texttospeech"
)

const (
	// ChunkSamples is the number of samples per emitted chunk.
	ChunkSamples = 1024

	defaultChunkDelay   = 5 * time.Millisecond
	defaultFrequency    = 440.0
	amplitude           = 0.2
	perCharacter        = 40 * time.Millisecond
	defaultMaxDuration  = 3 * time.Second
	minimumChunkSamples = ChunkSamples
)

type Client struct {
	chunkDelay  time.Duration
	maxDuration time.Duration
	frequency   float64
}

type Option func(*Client)

// WithChunkDelay sets the pause between chunks.
func WithChunkDelay(delay time.Duration) Option {
	return func(c *Client) { c.chunkDelay = delay }
}

func WithMaxDuration(duration time.Duration) Option {
	return func(c *Client) { c.maxDuration = duration }
}

func WithFrequency(frequency float64) Option {
	return func(c *Client) { c.frequency = frequency }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		chunkDelay:  defaultChunkDelay,
		maxDuration: defaultMaxDuration,
		frequency:   defaultFrequency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Synthesize yields mono linear16 tone chunks whose total length grows with
// the text. The sequence stops with ctx.Err() once ctx is cancelled.
func (c *Client) Synthesize(ctx context.Context, text string, opts ...texttospeech.TextToSpeechOption) iter.Seq2[[]byte, error] {
	options := texttospeech.NewTextToSpeechOptions(opts...)
	sampleRate := options.EncodingInfo.SampleRate

	return func(yield func([]byte, error) bool) {
		text = strings.TrimSpace(text)
		if text == "" {
			yield(nil, texttospeech.ErrEmptyText)
			return
		}

		duration := min(time.Duration(len(text))*perCharacter, c.maxDuration)
		total := max(int(duration.Seconds()*float64(sampleRate)), minimumChunkSamples)

		for start := 0; start < total; start += ChunkSamples {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			count := min(ChunkSamples, total-start)
			if !yield(c.tone(start, count, sampleRate), nil) {
				return
			}

			if c.chunkDelay > 0 && start+count < total {
				select {
				case <-ctx.Done():
					yield(nil, ctx.Err())
					return
				case <-time.After(c.chunkDelay):
				}
			}
		}
	}
}

func (c *Client) tone(offset, count, sampleRate int) []byte {
	chunk := make([]byte, count*2)
	for i := range count {
		t := float64(offset+i) / float64(sampleRate)
		sample := int16(amplitude * math.MaxInt16 * math.Sin(2*math.Pi*c.frequency*t))
		binary.LittleEndian.PutUint16(chunk[i*2:], uint16(sample))
	}
	return chunk
}
