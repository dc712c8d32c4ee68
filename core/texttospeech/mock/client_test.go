package mock

import (
	"context"
	"testing"
	"time"

	"github.com/koscakluka/ema-gateway/core/audio"
	"github.com/koscakluka/ema-gateway/core/texttospeech"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeYieldsBoundedChunks(t *testing.T) {
	client := NewClient(WithChunkDelay(0))

	var chunks, total int
	for chunk, err := range client.Synthesize(context.Background(), "Your order has been placed.") {
		require.NoError(t, err)
		assert.LessOrEqual(t, len(chunk), ChunkSamples*2)
		assert.Zero(t, len(chunk)%2)
		chunks++
		total += len(chunk)
	}

	assert.Greater(t, chunks, 1)
	assert.Equal(t, 27*40*time.Millisecond, audio.GetDefaultEncodingInfo().Duration(total))
}

func TestSynthesizeShortTextStillProducesAChunk(t *testing.T) {
	var chunks int
	for chunk, err := range NewClient().Synthesize(context.Background(), "k") {
		require.NoError(t, err)
		assert.Len(t, chunk, ChunkSamples*2)
		assert.Greater(t, audio.Linear16RMS(chunk), 0.1)
		chunks++
	}
	assert.Equal(t, 1, chunks)
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	for _, err := range NewClient().Synthesize(context.Background(), "  ") {
		assert.ErrorIs(t, err, texttospeech.ErrEmptyText)
	}
}

func TestSynthesizeStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := NewClient(WithChunkDelay(time.Hour))

	var chunks int
	var lastErr error
	for chunk, err := range client.Synthesize(ctx, "a long enough reply to need several chunks") {
		if err != nil {
			lastErr = err
			break
		}
		require.NotEmpty(t, chunk)
		chunks++
		cancel()
	}

	assert.Equal(t, 1, chunks)
	assert.ErrorIs(t, lastErr, context.Canceled)
}

func TestSynthesizeHonoursSampleRate(t *testing.T) {
	info := audio.EncodingInfo{SampleRate: 8000, Channels: 1, Format: audio.EncodingLinear16}
	var total int
	for chunk, err := range NewClient(WithChunkDelay(0)).Synthesize(context.Background(), "hello there", texttospeech.WithEncodingInfo(info)) {
		require.NoError(t, err)
		total += len(chunk)
	}
	assert.Equal(t, 440*time.Millisecond, info.Duration(total))
}
