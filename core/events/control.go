package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Control is an inbound command sent by the client over the signaling
// channel.
type Control string

const (
	ControlStopRecording    Control = "stop_recording"
	ControlCancelProcessing Control = "cancel_processing"
)

var ErrUnknownControl = errors.New("unknown control message")

// ParseControl decodes a `{"type": ...}` control message.
func ParseControl(payload []byte) (Control, error) {
	var message struct {
		Type Control `json:"type"`
	}
	if err := json.Unmarshal(payload, &message); err != nil {
		return "", fmt.Errorf("failed to decode control message: %w", err)
	}

	switch message.Type {
	case ControlStopRecording, ControlCancelProcessing:
		return message.Type, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownControl, message.Type)
	}
}
