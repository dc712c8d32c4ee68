// Package speechtotext holds the transcript model shared by the
// speech-to-text providers.
package speechtotext

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMinConfidence = 0.7

	// MinTranscriptLength is the shortest transcript, in characters, that is
	// treated as speech.
	MinTranscriptLength = 4
)

var (
	ErrNoSpeech      = errors.New("no speech detected")
	ErrLowConfidence = errors.New("transcript confidence too low")
)

type Transcript struct {
	Text       string
	Confidence float64
	Language   string
}

// Classify returns ErrNoSpeech for an empty or near-empty transcript and
// ErrLowConfidence when confidence is below minConfidence.
func Classify(transcript Transcript, minConfidence float64) error {
	if utf8.RuneCountInString(strings.TrimSpace(transcript.Text)) < MinTranscriptLength {
		return ErrNoSpeech
	}
	if transcript.Confidence < minConfidence {
		return ErrLowConfidence
	}
	return nil
}
