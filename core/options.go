package orchestration

import (
	"context"
	"iter"
	"time"

	"github.com/koscakluka/ema-gateway/core/audio"
	"github.com/koscakluka/ema-gateway/core/dialog"
	"github.com/koscakluka/ema-gateway/core/events"
	"github.com/koscakluka/ema-gateway/core/speechtotext"
	"github.com/koscakluka/ema-gateway/core/texttospeech"
)

const (
	DefaultChannelOpenTimeout = 5 * time.Second
	DefaultPollInterval       = 100 * time.Millisecond
	DefaultAudioURLPrefix     = "/audio_files/"
)

type OrchestratorOption func(*Orchestrator)

type SpeechToText interface {
	Transcribe(ctx context.Context, utterance audio.Utterance, opts ...speechtotext.TranscriptionOption) (*speechtotext.Transcript, error)
}

func WithSpeechToTextClient(client SpeechToText) OrchestratorOption {
	return func(o *Orchestrator) { o.speechToText = client }
}

type DialogTurn interface {
	Respond(ctx context.Context, transcript speechtotext.Transcript, opts ...dialog.TurnOption) (*dialog.Reply, error)
}

func WithDialogTurnClient(client DialogTurn) OrchestratorOption {
	return func(o *Orchestrator) { o.dialogTurn = client }
}

// TextToSpeech yields speech as a finite sequence that can be consumed
// once.
type TextToSpeech interface {
	Synthesize(ctx context.Context, text string, opts ...texttospeech.TextToSpeechOption) iter.Seq2[[]byte, error]
}

func WithTextToSpeechClient(client TextToSpeech) OrchestratorOption {
	return func(o *Orchestrator) { o.textToSpeech = client }
}

// WithChannelOpenTimeout bounds how long a finalised utterance waits for
// the signaling channel before the turn fails silently.
func WithChannelOpenTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.channelOpenTimeout = timeout
		}
	}
}

func WithPollInterval(interval time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if interval > 0 {
			o.pollInterval = interval
		}
	}
}

// WithCollaboratorTimeout limits each collaborator call. Zero disables the
// limit.
func WithCollaboratorTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.collaboratorTimeout = timeout }
}

// WithServeDir sets where retained response audio is written. An empty
// directory disables retention.
func WithServeDir(dir string) OrchestratorOption {
	return func(o *Orchestrator) { o.serveDir = dir }
}

func WithAudioURLPrefix(prefix string) OrchestratorOption {
	return func(o *Orchestrator) {
		if prefix != "" {
			o.audioURLPrefix = prefix
		}
	}
}

func WithEncodingInfo(info audio.EncodingInfo) OrchestratorOption {
	return func(o *Orchestrator) {
		if info.SampleRate > 0 {
			o.encoding.SampleRate = info.SampleRate
		}
	}
}

func WithMinConfidence(confidence float64) OrchestratorOption {
	return func(o *Orchestrator) { o.minConfidence = confidence }
}

func WithLanguage(language string) OrchestratorOption {
	return func(o *Orchestrator) { o.language = language }
}

func WithVoice(voice string) OrchestratorOption {
	return func(o *Orchestrator) { o.voice = voice }
}

// WithCleanupHook registers a function run once during cleanup, after the
// utterance file has been removed. Hooks run in registration order.
func WithCleanupHook(hook func()) OrchestratorOption {
	return func(o *Orchestrator) {
		if hook != nil {
			o.cleanupHooks = append(o.cleanupHooks, hook)
		}
	}
}

func WithStateChangedCallback(callback func(State)) OrchestratorOption {
	return func(o *Orchestrator) { o.onStateChanged = callback }
}

func WithEmitterOptions(opts ...events.EmitterOption) OrchestratorOption {
	return func(o *Orchestrator) { o.emitterOptions = append(o.emitterOptions, opts...) }
}
