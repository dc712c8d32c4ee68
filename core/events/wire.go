package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"
)

var ErrUnknownEvent = errors.New("unknown event")

type StartProcessingMessage struct {
	Type Kind `json:"type" jsonschema:"enum=start_processing"`
}

type TextResponseMessage struct {
	Type     Kind   `json:"type" jsonschema:"enum=text_response_partial,enum=text_response"`
	UserText string `json:"user_text" jsonschema:"description=Transcript of the user's utterance"`
	BotText  string `json:"bot_text" jsonschema:"description=Reply produced by the dialog turn"`
}

type AudioChunkMessage struct {
	Type  Kind   `json:"type" jsonschema:"enum=audio_chunk"`
	Chunk []byte `json:"chunk" jsonschema:"description=Base64 encoded PCM audio"`
}

type EndOfSessionMessage struct {
	Type         Kind    `json:"type" jsonschema:"enum=end_of_session"`
	BotAudioPath *string `json:"bot_audio_path" jsonschema:"description=Path of the retained response audio"`
}

type ErrorMessage struct {
	Type  Kind   `json:"type" jsonschema:"enum=error"`
	Error string `json:"error"`
}

type CancelledMessage struct {
	Type Kind `json:"type" jsonschema:"enum=cancelled"`
}

// Encode renders event as a single JSON wire frame.
func Encode(event Event) ([]byte, error) {
	var message any
	switch e := event.(type) {
	case StartProcessing:
		message = StartProcessingMessage{Type: e.Kind()}
	case TranscriptPartial:
		message = TextResponseMessage{Type: e.Kind(), UserText: e.UserText, BotText: e.BotText}
	case AudioChunk:
		message = AudioChunkMessage{Type: e.Kind(), Chunk: e.Audio}
	case EndOfSession:
		message = EndOfSessionMessage{Type: e.Kind(), BotAudioPath: e.AudioRef}
	case Error:
		message = ErrorMessage{Type: e.Kind(), Error: e.Message}
	case Cancelled:
		message = CancelledMessage{Type: e.Kind()}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, event)
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", event.Kind(), err)
	}
	return payload, nil
}

// Schema describes every outbound wire frame as a oneOf of the message
// shapes.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}

	messages := []any{
		StartProcessingMessage{},
		TextResponseMessage{},
		AudioChunkMessage{},
		EndOfSessionMessage{},
		ErrorMessage{},
		CancelledMessage{},
	}

	schema := &jsonschema.Schema{
		Version: jsonschema.Version,
		Title:   "Session events",
	}
	for _, message := range messages {
		variant := reflector.Reflect(message)
		variant.Version = ""
		schema.OneOf = append(schema.OneOf, variant)
	}
	return schema
}
