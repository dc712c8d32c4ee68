package deepgram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-gateway/core/audio"
	"github.com/koscakluka/ema-gateway/core/speechtotext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeListenServer struct {
	receivedBytes atomic.Int64
	query         atomic.Pointer[string]
	auth          atomic.Pointer[string]
	results       []string
	hang          bool
}

func (f *fakeListenServer) handler(t *testing.T) http.Handler {
	upgrader := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query, auth := r.URL.RawQuery, r.Header.Get("Authorization")
		f.query.Store(&query)
		f.auth.Store(&auth)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.BinaryMessage {
				f.receivedBytes.Add(int64(len(msg)))
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				break
			}
		}

		if f.hang {
			time.Sleep(time.Second)
			return
		}
		for _, result := range f.results {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(result))
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata","request_id":"abc"}`))
	})
}

func finalResult(t *testing.T, transcript string, confidence float64) string {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"type":     "Results",
		"is_final": true,
		"channel": map[string]any{
			"alternatives": []map[string]any{{"transcript": transcript, "confidence": confidence}},
		},
	})
	require.NoError(t, err)
	return string(payload)
}

func writeUtterance(t *testing.T, byteLength int) audio.Utterance {
	t.Helper()
	path := filepath.Join(t.TempDir(), "s1_input.wav")
	require.NoError(t, audio.WriteWAVFile(path, make([]byte, byteLength), audio.GetDefaultEncodingInfo()))
	return audio.Utterance{Path: path, SampleRate: audio.DefaultSampleRate, Channels: 1, ByteLength: byteLength}
}

func newTestClient(t *testing.T, server *httptest.Server) *TranscriptionClient {
	t.Helper()
	client, err := NewClient(WithAPIKey("secret"), WithBaseURL("ws"+strings.TrimPrefix(server.URL, "http")))
	require.NoError(t, err)
	return client
}

func TestTranscribeCollectsFinalSegments(t *testing.T) {
	fake := &fakeListenServer{results: []string{
		finalResult(t, "I would like", 0.8),
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"ignored interim"}]}}`,
		finalResult(t, " to order ", 1.0),
	}}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	transcript, err := newTestClient(t, server).Transcribe(context.Background(), writeUtterance(t, 32000), speechtotext.WithLanguage("en-GB"))
	require.NoError(t, err)

	assert.Equal(t, "I would like to order", transcript.Text)
	assert.InDelta(t, 0.9, transcript.Confidence, 0.0001)
	assert.Equal(t, int64(32000), fake.receivedBytes.Load())
	assert.Equal(t, "Token secret", *fake.auth.Load())
	assert.Contains(t, *fake.query.Load(), "sample_rate=16000")
	assert.Contains(t, *fake.query.Load(), "language=en-GB")
}

func TestTranscribeWithoutResultsIsEmpty(t *testing.T) {
	server := httptest.NewServer((&fakeListenServer{}).handler(t))
	defer server.Close()

	transcript, err := newTestClient(t, server).Transcribe(context.Background(), writeUtterance(t, 640))
	require.NoError(t, err)
	assert.ErrorIs(t, speechtotext.Classify(*transcript, speechtotext.DefaultMinConfidence), speechtotext.ErrNoSpeech)
}

func TestTranscribeReportsProviderError(t *testing.T) {
	server := httptest.NewServer((&fakeListenServer{results: []string{
		`{"type":"Error","description":"bad audio"}`,
	}}).handler(t))
	defer server.Close()

	_, err := newTestClient(t, server).Transcribe(context.Background(), writeUtterance(t, 640))
	assert.ErrorIs(t, err, ErrProvider)
	assert.ErrorContains(t, err, "bad audio")
}

func TestTranscribeCancelledWhileWaiting(t *testing.T) {
	server := httptest.NewServer((&fakeListenServer{hang: true}).handler(t))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestClient(t, server).Transcribe(ctx, writeUtterance(t, 640))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConvertEncodingRejectsUnsupportedRates(t *testing.T) {
	_, err := convertEncoding(audio.EncodingInfo{SampleRate: 11025, Format: audio.EncodingLinear16})
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)

	_, err = convertEncoding(audio.EncodingInfo{SampleRate: 16000, Format: audio.EncodingMulaw})
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)

	encoding, err := convertEncoding(audio.GetDefaultEncodingInfo())
	require.NoError(t, err)
	assert.Equal(t, "linear16", encoding.Format.Name())
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "")
	_, err := NewClient()
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
