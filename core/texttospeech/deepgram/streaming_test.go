package deepgram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-gateway/core/texttospeech"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSpeakServer struct {
	mu       sync.Mutex
	received []string
	query    string
	frames   int
	hang     bool
}

func (f *fakeSpeakServer) record(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, msg)
}

func (f *fakeSpeakServer) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.received...)
}

func (f *fakeSpeakServer) handler(t *testing.T) http.Handler {
	upgrader := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.query = r.URL.RawQuery
		f.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f.record(string(msg))

			var parsed websocketMessage
			_ = json.Unmarshal(msg, &parsed)
			if parsed.Type != "Flush" {
				continue
			}
			if f.hang {
				continue
			}
			for i := range f.frames {
				_ = conn.WriteMessage(websocket.BinaryMessage, []byte{byte(i), 0, byte(i), 0})
			}
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Flushed","sequence_id":0}`))
		}
	})
}

func newTestClient(t *testing.T, server *httptest.Server) *TextToSpeechClient {
	t.Helper()
	client, err := NewTextToSpeechClient(WithAPIKey("secret"), WithBaseURL("ws"+strings.TrimPrefix(server.URL, "http")))
	require.NoError(t, err)
	return client
}

func TestSynthesizeYieldsFramesUntilFlushed(t *testing.T) {
	fake := &fakeSpeakServer{frames: 3}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	var chunks [][]byte
	for chunk, err := range newTestClient(t, server).Synthesize(context.Background(), "Your order is on its way.") {
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}

	assert.Len(t, chunks, 3)
	assert.Eventually(t, func() bool { return len(fake.messages()) >= 3 }, time.Second, 5*time.Millisecond)
	messages := fake.messages()
	assert.JSONEq(t, `{"type":"Speak","text":"Your order is on its way."}`, messages[0])
	assert.JSONEq(t, `{"type":"Flush"}`, messages[1])
	assert.JSONEq(t, `{"type":"Close"}`, messages[2])

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Contains(t, fake.query, "model=aura-2-thalia-en")
	assert.Contains(t, fake.query, "encoding=linear16")
}

func TestSynthesizeClearsWhenConsumerStops(t *testing.T) {
	fake := &fakeSpeakServer{frames: 5}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	for _, err := range newTestClient(t, server).Synthesize(context.Background(), "hello") {
		require.NoError(t, err)
		break
	}

	assert.Eventually(t, func() bool {
		for _, msg := range fake.messages() {
			if strings.Contains(msg, "Clear") {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestSynthesizeStopsOnCancellation(t *testing.T) {
	server := httptest.NewServer((&fakeSpeakServer{hang: true}).handler(t))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var lastErr error
	for _, err := range newTestClient(t, server).Synthesize(ctx, "hello") {
		lastErr = err
	}
	assert.ErrorIs(t, lastErr, context.DeadlineExceeded)
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	client, err := NewTextToSpeechClient(WithAPIKey("secret"))
	require.NoError(t, err)

	for _, err := range client.Synthesize(context.Background(), "") {
		assert.ErrorIs(t, err, texttospeech.ErrEmptyText)
	}
}

func TestNewTextToSpeechClientValidatesVoice(t *testing.T) {
	_, err := NewTextToSpeechClient(WithAPIKey("secret"), WithVoice("robot"))
	assert.ErrorIs(t, err, ErrInvalidVoice)
}
