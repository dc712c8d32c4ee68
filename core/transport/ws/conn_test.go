package ws

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-gateway/core/audio"
	"github.com/koscakluka/ema-gateway/core/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type served struct {
	conn     *Conn
	controls chan events.Control
	done     chan error
}

func startServer(t *testing.T, opts ...Option) (*websocket.Conn, <-chan served) {
	t.Helper()

	ready := make(chan served, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Accept(w, r, opts...)
		if err != nil {
			t.Errorf("accept failed: %v", err)
			return
		}

		s := served{conn: conn, controls: make(chan events.Control, 8), done: make(chan error, 1)}
		ready <- s
		s.done <- conn.Serve(context.Background(), func(control events.Control) {
			s.controls <- control
		})
	}))
	t.Cleanup(server.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, ready
}

func awaitServed(t *testing.T, ready <-chan served) served {
	t.Helper()
	select {
	case s := <-ready:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("server did not accept the connection")
		return served{}
	}
}

func TestFramesAreDrainedBeforeEndOfTrack(t *testing.T) {
	client, ready := startServer(t)
	s := awaitServed(t, ready)

	for i := range 5 {
		frame := make([]byte, 320)
		frame[0] = byte(i)
		require.NoError(t, client.WriteMessage(websocket.BinaryMessage, frame))
	}
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop_recording"}`)))

	select {
	case control := <-s.controls:
		assert.Equal(t, events.ControlStopRecording, control)
		s.conn.EndTrack()
	case <-time.After(2 * time.Second):
		t.Fatal("control message not delivered")
	}

	ctx := context.Background()
	for i := range 5 {
		frame, err := s.conn.ReadFrame(ctx)
		require.NoError(t, err)
		assert.Equal(t, byte(i), frame.Data[0])
		assert.Equal(t, audio.SampleFormatS16, frame.Format)
		assert.Equal(t, audio.DefaultSampleRate, frame.SampleRate)
		assert.Equal(t, 1, frame.Channels)
	}

	_, err := s.conn.ReadFrame(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestUnknownControlIsIgnored(t *testing.T) {
	client, ready := startServer(t)
	s := awaitServed(t, ready)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"cancel_processing"}`)))

	select {
	case control := <-s.controls:
		assert.Equal(t, events.ControlCancelProcessing, control)
	case <-time.After(2 * time.Second):
		t.Fatal("control message not delivered")
	}
	assert.True(t, s.conn.IsOpen())
}

func TestSendWritesTextMessages(t *testing.T) {
	client, ready := startServer(t)
	s := awaitServed(t, ready)

	payload, err := events.Encode(events.NewStartProcessing())
	require.NoError(t, err)
	require.NoError(t, s.conn.Send(context.Background(), payload))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	messageType, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, messageType)
	assert.JSONEq(t, `{"type":"start_processing"}`, string(data))
}

func TestConcurrentSendsDoNotInterleave(t *testing.T) {
	client, ready := startServer(t)
	s := awaitServed(t, ready)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.conn.Send(context.Background(), []byte(`{"type":"cancelled"}`)))
		}()
	}
	wg.Wait()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	for range 20 {
		_, data, err := client.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"cancelled"}`, string(data))
	}
}

func TestPeerCloseEndsTrackAndClosesChannel(t *testing.T) {
	client, ready := startServer(t)
	s := awaitServed(t, ready)

	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, make([]byte, 320)))
	require.NoError(t, client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	select {
	case err := <-s.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after peer close")
	}

	assert.False(t, s.conn.IsOpen())
	assert.ErrorIs(t, s.conn.Send(context.Background(), []byte(`{}`)), ErrClosed)

	_, err := s.conn.ReadFrame(context.Background())
	require.NoError(t, err)
	_, err = s.conn.ReadFrame(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, s.conn.Close())
}

func TestReadFrameHonoursContext(t *testing.T) {
	_, ready := startServer(t)
	s := awaitServed(t, ready)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.conn.ReadFrame(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFullBufferDropsFrames(t *testing.T) {
	dropped := make(chan struct{}, 8)
	client, ready := startServer(t, WithFrameBuffer(2), WithOnFrameDropped(func() { dropped <- struct{}{} }))
	s := awaitServed(t, ready)

	for range 4 {
		require.NoError(t, client.WriteMessage(websocket.BinaryMessage, make([]byte, 320)))
	}

	assert.Eventually(t, func() bool { return s.conn.DroppedFrames() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, dropped, 2)
}

func TestFloatFramesAreTagged(t *testing.T) {
	client, ready := startServer(t, WithSampleFormat(audio.SampleFormatF32), WithSampleRate(48000))
	s := awaitServed(t, ready)

	frame := make([]byte, 8)
	binary.LittleEndian.PutUint32(frame, math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(frame[4:], math.Float32bits(-0.5))
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, frame))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	received, err := s.conn.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, audio.SampleFormatF32, received.Format)
	assert.Equal(t, 48000, received.SampleRate)

	pcm, err := audio.ToLinear16(received)
	require.NoError(t, err)
	assert.Len(t, pcm, 4)
}

func TestCloseIsIdempotent(t *testing.T) {
	client, ready := startServer(t)
	s := awaitServed(t, ready)

	_ = s.conn.Close()
	_ = s.conn.Close()
	assert.False(t, s.conn.IsOpen())

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
