// Package texttospeech defines the options shared by speech synthesis
// providers. Providers return speech as a finite, non-restartable
// sequence of PCM chunks.
package texttospeech

import (
	"errors"

	"github.com/koscakluka/ema-gateway/core/audio"
)

var ErrEmptyText = errors.New("nothing to synthesize")

type TextToSpeechOptions struct {
	EncodingInfo audio.EncodingInfo
	Voice        string
}

type TextToSpeechOption func(*TextToSpeechOptions)

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TextToSpeechOption {
	return func(o *TextToSpeechOptions) {
		if encodingInfo.SampleRate == 0 || encodingInfo.Format == "" {
			return
		}

		o.EncodingInfo = encodingInfo
	}
}

// WithVoice selects a provider specific voice. Empty keeps the provider
// default.
func WithVoice(voice string) TextToSpeechOption {
	return func(o *TextToSpeechOptions) {
		if voice != "" {
			o.Voice = voice
		}
	}
}

func NewTextToSpeechOptions(opts ...TextToSpeechOption) TextToSpeechOptions {
	options := TextToSpeechOptions{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
