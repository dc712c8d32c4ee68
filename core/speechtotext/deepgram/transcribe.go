package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-gateway/core/audio"
	"github.com/koscakluka/ema-gateway/core/speechtotext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// chunksPerSecond controls how finely the utterance is split when streamed.
const chunksPerSecond = 10

var ErrProvider = errors.New("deepgram reported an error")

// Transcribe streams the utterance to Deepgram, closes the stream and
// collects every final result until Deepgram sends its metadata summary.
func (c *TranscriptionClient) Transcribe(ctx context.Context, utterance audio.Utterance, opts ...speechtotext.TranscriptionOption) (transcript *speechtotext.Transcript, err error) {
	ctx, span := tracer.Start(ctx, "transcribe utterance")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	options := speechtotext.NewTranscriptionOptions(append([]speechtotext.TranscriptionOption{
		speechtotext.WithEncodingInfo(utterance.EncodingInfo()),
	}, opts...)...)

	pcm, fileEncoding, err := audio.ReadWAVFile(utterance.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read utterance: %w", err)
	}
	if !fileEncoding.IsZero() {
		options.EncodingInfo = fileEncoding
	}
	span.SetAttributes(
		attribute.Int("audio.bytes", len(pcm)),
		attribute.Int("audio.sample_rate", options.EncodingInfo.SampleRate),
	)

	encoding, err := convertEncoding(options.EncodingInfo)
	if err != nil {
		return nil, fmt.Errorf("invalid encoding: %w", err)
	}

	conn, err := c.connectWebsocket(ctx, connectionOptions{
		sampleRate: encoding.SampleRate,
		channels:   encoding.Channels,
		encoding:   encoding.Format.Name(),
		language:   options.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}
	defer conn.Close()

	chunkSize := max(options.EncodingInfo.BytesPerSecond()/chunksPerSecond, options.EncodingInfo.BlockAlign())
	collector := &resultCollector{language: options.Language}

	group, groupCtx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(groupCtx, func() { conn.Close() })
	defer stop()
	group.Go(func() error { return sendAudio(conn, pcm, chunkSize) })
	group.Go(func() error { return collector.readMessages(conn) })

	if err := group.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	result := collector.transcript()
	span.SetAttributes(attribute.Float64("transcript.confidence", result.Confidence))
	return &result, nil
}

type connectionOptions struct {
	sampleRate int
	channels   int
	encoding   string
	language   string
}

func (c *TranscriptionClient) connectWebsocket(ctx context.Context, options connectionOptions) (*websocket.Conn, error) {
	listenURL, err := url.Parse(strings.TrimRight(c.baseURL, "/") + "/v1/listen")
	if err != nil {
		return nil, fmt.Errorf("invalid deepgram url: %w", err)
	}

	language := options.language
	if language == "" {
		language = "en-US"
	}

	queryParams := listenURL.Query()
	queryParams.Set("encoding", options.encoding)
	queryParams.Set("sample_rate", strconv.Itoa(options.sampleRate))
	queryParams.Set("channels", strconv.Itoa(options.channels))
	queryParams.Set("model", c.model)
	queryParams.Set("language", language)
	queryParams.Set("smart_format", "true")
	queryParams.Set("punctuate", "true")
	listenURL.RawQuery = queryParams.Encode()

	conn, _, err := c.dialer.DialContext(ctx, listenURL.String(),
		http.Header{"Authorization": {"Token " + c.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

func sendAudio(conn *websocket.Conn, pcm []byte, chunkSize int) error {
	for start := 0; start < len(pcm); start += chunkSize {
		end := min(start+chunkSize, len(pcm))
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[start:end]); err != nil {
			return fmt.Errorf("failed to write to deepgram client: %w", err)
		}
	}

	if err := conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)}); err != nil {
		return fmt.Errorf("failed to close deepgram stream: %w", err)
	}
	return nil
}

type resultCollector struct {
	language string

	segments    []string
	confidences []float64
}

func (r *resultCollector) readMessages(conn *websocket.Conn) error {
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("failed to read deepgram websocket message: %w", err)
		}
		if msgType == websocket.BinaryMessage {
			continue
		}

		done, err := r.processMessage(msg)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (r *resultCollector) processMessage(msg []byte) (done bool, err error) {
	var parsedMsg struct {
		Type        string `json:"type"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Warn("failed to unmarshal deepgram message", "error", err)
		return false, nil
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.Warn("failed to unmarshal deepgram result", "error", err)
			return false, nil
		}
		if !msgResp.IsFinal || len(msgResp.Channel.Alternatives) == 0 {
			return false, nil
		}

		alternative := msgResp.Channel.Alternatives[0]
		if segment := strings.TrimSpace(alternative.Transcript); len(segment) > 0 {
			r.segments = append(r.segments, segment)
			r.confidences = append(r.confidences, alternative.Confidence)
		}

	case api.TypeMetadataResponse:
		return true, nil

	case api.TypeResponse(api.TypeErrorResponse):
		return true, fmt.Errorf("%w: %s", ErrProvider, parsedMsg.Description)
	}

	return false, nil
}

// transcript joins the final segments. Confidence is the mean across
// segments, or zero when nothing was recognised.
func (r *resultCollector) transcript() speechtotext.Transcript {
	var confidence float64
	for _, c := range r.confidences {
		confidence += c
	}
	if len(r.confidences) > 0 {
		confidence /= float64(len(r.confidences))
	}

	return speechtotext.Transcript{
		Text:       strings.Join(r.segments, " "),
		Confidence: confidence,
		Language:   r.language,
	}
}
