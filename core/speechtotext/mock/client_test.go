package mock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/koscakluka/ema-gateway/core/audio"
	"github.com/koscakluka/ema-gateway/core/speechtotext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeUtterance(t *testing.T, pcm []byte) audio.Utterance {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.wav")
	require.NoError(t, audio.WriteWAVFile(path, pcm, audio.GetDefaultEncodingInfo()))
	return audio.Utterance{Path: path, SampleRate: audio.DefaultSampleRate, Channels: 1, ByteLength: len(pcm)}
}

func loudPCM(samples int) []byte {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		pcm[i*2] = 0x00
		pcm[i*2+1] = 0x40
	}
	return pcm
}

func TestTranscribeReturnsFixedTranscript(t *testing.T) {
	client := NewClient()
	transcript, err := client.Transcribe(context.Background(), writeUtterance(t, loudPCM(160)), speechtotext.WithLanguage("en-US"))
	require.NoError(t, err)

	assert.Equal(t, DefaultTranscript, transcript.Text)
	assert.Equal(t, "en-US", transcript.Language)
	assert.NoError(t, speechtotext.Classify(*transcript, speechtotext.DefaultMinConfidence))
	assert.Equal(t, 1, client.Calls())
}

func TestTranscribeSilenceIsNoSpeech(t *testing.T) {
	client := NewClient(WithSilenceThreshold(0.01))
	transcript, err := client.Transcribe(context.Background(), writeUtterance(t, make([]byte, 320)))
	require.NoError(t, err)
	assert.ErrorIs(t, speechtotext.Classify(*transcript, speechtotext.DefaultMinConfidence), speechtotext.ErrNoSpeech)
}

func TestTranscribeHonoursCancellation(t *testing.T) {
	client := NewClient(WithDelay(time.Minute))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Transcribe(ctx, writeUtterance(t, loudPCM(16)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTranscribeMissingFile(t *testing.T) {
	_, err := NewClient().Transcribe(context.Background(), audio.Utterance{Path: filepath.Join(t.TempDir(), "missing.wav")})
	assert.Error(t, err)
}
