package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-gateway/core/audio"
	"github.com/koscakluka/ema-gateway/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrUnexpectedClose = errors.New("deepgram closed the stream before flushing")

type websocketMessage struct {
	Type string `json:"type"`
}

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var (
	flushMsg = websocketMessage{Type: "Flush"}
	clearMsg = websocketMessage{Type: "Clear"}
	closeMsg = websocketMessage{Type: "Close"}
)

func sendTextMsg(text string) speakMessage {
	return speakMessage{Type: "Speak", Text: text}
}

// Synthesize sends text followed by a flush and yields audio frames until
// Deepgram confirms the flush. Breaking out of the sequence clears and
// closes the stream.
func (c *TextToSpeechClient) Synthesize(ctx context.Context, text string, opts ...texttospeech.TextToSpeechOption) iter.Seq2[[]byte, error] {
	options := texttospeech.NewTextToSpeechOptions(opts...)
	voice := c.voice
	if options.Voice != "" && slices.Contains(GetAvailableVoices(), deepgramVoice(options.Voice)) {
		voice = deepgramVoice(options.Voice)
	}

	return func(yield func([]byte, error) bool) {
		ctx, span := tracer.Start(ctx, "synthesize speech", trace.WithAttributes(
			attribute.String("tts.voice", string(voice)),
			attribute.Int("tts.text_length", len(text)),
		))
		defer span.End()

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
		}

		if strings.TrimSpace(text) == "" {
			fail(texttospeech.ErrEmptyText)
			return
		}

		conn, err := c.connectWebsocket(ctx, voice, options.EncodingInfo)
		if err != nil {
			fail(fmt.Errorf("failed to open websocket: %w", err))
			return
		}
		defer conn.Close()
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		defer stop()

		if err := conn.WriteJSON(sendTextMsg(text)); err != nil {
			fail(fmt.Errorf("failed to send text to deepgram through websocket: %w", err))
			return
		}
		if err := conn.WriteJSON(flushMsg); err != nil {
			fail(fmt.Errorf("failed to flush deepgram buffer through websocket: %w", err))
			return
		}

		var frames int
		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					fail(ctx.Err())
					return
				}
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					fail(ErrUnexpectedClose)
					return
				}
				fail(fmt.Errorf("websocket read error: %w", err))
				return
			}

			switch msgType {
			case websocket.BinaryMessage:
				if len(msg) == 0 {
					continue
				}
				frames++
				if !yield(msg, nil) {
					if err := conn.WriteJSON(clearMsg); err != nil {
						logger.Debug("failed to clear deepgram buffer", "error", err)
					}
					_ = conn.WriteJSON(closeMsg)
					return
				}

			case websocket.TextMessage:
				var parsedMsg websocketMessage
				if err := json.Unmarshal(msg, &parsedMsg); err != nil {
					logger.Warn("failed to unmarshal deepgram message", "error", err)
					continue
				}

				if parsedMsg.Type == "Flushed" {
					span.SetAttributes(attribute.Int("tts.frames", frames))
					if err := conn.WriteJSON(closeMsg); err != nil {
						logger.Debug("failed to close deepgram stream", "error", err)
					}
					return
				}
			}
		}
	}
}

func (c *TextToSpeechClient) connectWebsocket(ctx context.Context, voice deepgramVoice, encodingInfo audio.EncodingInfo) (*websocket.Conn, error) {
	speakURL, err := url.Parse(strings.TrimRight(c.baseURL, "/") + "/v1/speak")
	if err != nil {
		return nil, fmt.Errorf("invalid deepgram url: %w", err)
	}

	urlValues := url.Values{}
	urlValues.Set("encoding", encodingInfo.Format.Name())
	urlValues.Set("sample_rate", strconv.Itoa(encodingInfo.SampleRate))
	urlValues.Set("model", string(voice))
	urlValues.Set("container", "none")
	speakURL.RawQuery = urlValues.Encode()

	conn, _, err := c.dialer.DialContext(ctx, speakURL.String(),
		http.Header{"Authorization": {"token " + c.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}
