// Package orchestration runs a single voice turn: it waits for the recorded
// utterance, transcribes it, asks the dialog for a reply, streams the
// synthesized reply to the client and cleans up after itself.
package orchestration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-gateway/core/audio"
	"github.com/koscakluka/ema-gateway/core/dialog"
	"github.com/koscakluka/ema-gateway/core/events"
	"github.com/koscakluka/ema-gateway/core/recorder"
	"github.com/koscakluka/ema-gateway/core/speechtotext"
	"github.com/koscakluka/ema-gateway/core/texttospeech"
	"github.com/koscakluka/ema-gateway/internal/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNoAudio             = errors.New("no audio recorded")
	ErrChannelNotReady     = errors.New("channel did not open")
	ErrAlreadyStarted      = errors.New("orchestrator already started")
	ErrMissingCollaborator = errors.New("orchestrator is missing a collaborator")
)

// User facing messages sent in Error events.
const (
	MessageNoAudio             = "no audio"
	MessageNoSpeech            = "I didn't hear anything. Could you please say that again?"
	MessageLowConfidence       = "Sorry, I'm not sure I understood. Could you please repeat that more clearly?"
	MessageTranscriptionFailed = "speech recognition failed"
	MessageDialogFailed        = "could not generate a reply"
	MessageSynthesisFailed     = "speech synthesis failed"
)

// TurnResult summarises a completed turn.
type TurnResult struct {
	Transcript    string
	ResponseText  string
	ResponseAudio *string
}

type Orchestrator struct {
	sessionID string
	channel   events.Channel
	emitter   *events.Emitter

	speechToText SpeechToText
	dialogTurn   DialogTurn
	textToSpeech TextToSpeech

	channelOpenTimeout  time.Duration
	pollInterval        time.Duration
	collaboratorTimeout time.Duration
	serveDir            string
	audioURLPrefix      string
	encoding            audio.EncodingInfo
	minConfidence       float64
	language            string
	voice               string

	emitterOptions []events.EmitterOption
	cleanupHooks   []func()
	onStateChanged func(State)

	mu            sync.Mutex
	state         State
	cancel        context.CancelFunc
	cancelled     bool
	cleanedUp     bool
	utterancePath string

	started     atomic.Bool
	cleanupOnce sync.Once
}

func NewOrchestrator(sessionID string, channel events.Channel, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		sessionID:          sessionID,
		channel:            channel,
		channelOpenTimeout: DefaultChannelOpenTimeout,
		pollInterval:       DefaultPollInterval,
		audioURLPrefix:     DefaultAudioURLPrefix,
		encoding:           audio.GetDefaultEncodingInfo(),
		minConfidence:      speechtotext.DefaultMinConfidence,
		state:              StateIdle,
	}

	for _, opt := range opts {
		opt(o)
	}

	o.encoding.Channels = 1
	o.encoding.Format = audio.EncodingLinear16
	o.emitter = events.NewEmitter(channel, o.emitterOptions...)

	return o
}

func (o *Orchestrator) SessionID() string { return o.sessionID }

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(state State) {
	o.mu.Lock()
	if o.state == state {
		o.mu.Unlock()
		return
	}
	o.state = state
	o.mu.Unlock()

	if o.onStateChanged != nil {
		o.onStateChanged(state)
	}
}

// Cancel aborts the turn. It is safe to call before Run, during Run and
// after Run has returned.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	o.cancelled = true
	cancel := o.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Run drives the turn to a terminal state and always cleans up before
// returning. recording must resolve at most once with the recorder's
// result.
//
// Contract: Run may be called once per orchestrator.
func (o *Orchestrator) Run(ctx context.Context, recording <-chan recorder.Result) (result *TurnResult, err error) {
	if !o.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}
	defer o.Cleanup()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	o.cancel = cancel
	if o.cancelled {
		cancel()
	}
	o.mu.Unlock()

	ctx, span := tracer.Start(ctx, "run turn", trace.WithAttributes(attribute.String("session.id", o.sessionID)))
	defer func() {
		span.SetAttributes(attribute.String("turn.state", o.State().String()))
		if err != nil && !errors.Is(err, context.Canceled) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if o.speechToText == nil || o.dialogTurn == nil || o.textToSpeech == nil {
		o.setState(StateFailed)
		return nil, ErrMissingCollaborator
	}

	utterance, err := o.awaitRecording(ctx, recording)
	if err != nil {
		return nil, o.abort(ctx, err)
	}

	if err := o.awaitChannel(ctx, utterance != nil); err != nil {
		if errors.Is(err, ErrChannelNotReady) {
			logger.WarnContext(ctx, "channel did not open, dropping turn", "session_id", o.sessionID, "timeout", o.channelOpenTimeout)
			o.setState(StateFailed)
			return nil, err
		}
		return nil, o.abort(ctx, err)
	}

	if utterance == nil {
		o.emit(ctx, events.NewError(MessageNoAudio))
		o.setState(StateFailed)
		return nil, ErrNoAudio
	}

	return o.process(ctx, *utterance)
}

func (o *Orchestrator) awaitRecording(ctx context.Context, recording <-chan recorder.Result) (*audio.Utterance, error) {
	select {
	case <-ctx.Done():
		go discardLateRecording(recording)
		return nil, ctx.Err()
	case result, ok := <-recording:
		if !ok {
			return nil, nil
		}
		if result.Err != nil {
			logger.WarnContext(ctx, "recording finished without audio", "session_id", o.sessionID, "error", result.Err)
		}
		if result.Utterance == nil {
			return nil, nil
		}

		o.mu.Lock()
		cleanedUp := o.cleanedUp
		if !cleanedUp {
			o.utterancePath = result.Utterance.Path
		}
		o.mu.Unlock()
		if cleanedUp {
			removeUtterance(result.Utterance.Path)
			return nil, context.Canceled
		}
		return result.Utterance, nil
	}
}

// discardLateRecording removes an utterance that was finalised after the
// turn was already abandoned.
func discardLateRecording(recording <-chan recorder.Result) {
	result, ok := <-recording
	if !ok || result.Utterance == nil {
		return
	}
	removeUtterance(result.Utterance.Path)
}

func removeUtterance(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove utterance", "path", path, "error", err)
	}
}

func (o *Orchestrator) awaitChannel(ctx context.Context, hasAudio bool) error {
	if hasAudio {
		o.setState(StateAwaitingChannel)
	}
	if o.channel != nil && o.channel.IsOpen() {
		return nil
	}

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()
	timeout := time.NewTimer(o.channelOpenTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return ErrChannelNotReady
		case <-ticker.C:
			if o.channel != nil && o.channel.IsOpen() {
				return nil
			}
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, utterance audio.Utterance) (*TurnResult, error) {
	o.setState(StateProcessing)
	o.emit(ctx, events.NewStartProcessing())

	transcript, err := runWorker(ctx, "speech-to-text", o.collaboratorTimeout, func(ctx context.Context) (*speechtotext.Transcript, error) {
		return o.speechToText.Transcribe(ctx, utterance,
			speechtotext.WithEncodingInfo(utterance.EncodingInfo()),
			speechtotext.WithLanguage(o.language),
		)
	})
	if ctx.Err() != nil {
		return nil, o.abort(ctx, ctx.Err())
	}
	if err != nil {
		return nil, o.fail(ctx, MessageTranscriptionFailed, err)
	}

	if err := speechtotext.Classify(*transcript, o.minConfidence); err != nil {
		message := MessageNoSpeech
		if errors.Is(err, speechtotext.ErrLowConfidence) {
			message = MessageLowConfidence
		}
		logger.InfoContext(ctx, "transcript rejected", "session_id", o.sessionID, "reason", err, "confidence", transcript.Confidence)
		return nil, o.fail(ctx, message, err)
	}

	reply, err := runWorker(ctx, "dialog", o.collaboratorTimeout, func(ctx context.Context) (*dialog.Reply, error) {
		return o.dialogTurn.Respond(ctx, *transcript,
			dialog.WithSessionID(o.sessionID),
			dialog.WithLanguage(o.language),
		)
	})
	if ctx.Err() != nil {
		return nil, o.abort(ctx, ctx.Err())
	}
	if err != nil {
		return nil, o.fail(ctx, MessageDialogFailed, err)
	}

	result := &TurnResult{Transcript: transcript.Text, ResponseText: reply.Text}

	if reply.AudioRef != nil {
		o.emit(ctx, events.NewTranscriptPartial(transcript.Text, reply.Text, true))
		result.ResponseAudio = reply.AudioRef
		o.emit(ctx, events.NewEndOfSession(reply.AudioRef))
		o.setState(StateCompleted)
		return result, nil
	}

	o.emit(ctx, events.NewTranscriptPartial(transcript.Text, reply.Text, false))
	o.setState(StateStreaming)

	speech, err := o.stream(ctx, reply.Text)
	if ctx.Err() != nil {
		return nil, o.abort(ctx, ctx.Err())
	}
	if err != nil {
		return nil, o.fail(ctx, MessageSynthesisFailed, err)
	}

	result.ResponseAudio = o.retainResponse(ctx, speech)
	o.emit(ctx, events.NewEndOfSession(result.ResponseAudio))
	o.setState(StateCompleted)
	return result, nil
}

type speechChunk struct {
	audio []byte
	err   error
}

// stream relays synthesized audio to the client as it is produced and
// returns everything that was sent.
func (o *Orchestrator) stream(ctx context.Context, text string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "stream speech")
	defer span.End()

	if o.collaboratorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.collaboratorTimeout)
		defer cancel()
	}

	chunks := make(chan speechChunk)
	go pullSpeech(ctx, chunks, o.textToSpeech.Synthesize(ctx, text,
		texttospeech.WithEncodingInfo(o.encoding),
		texttospeech.WithVoice(o.voice),
	))

	var buffer bytes.Buffer
	var sent int
	for {
		select {
		case <-ctx.Done():
			return buffer.Bytes(), ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				span.SetAttributes(attribute.Int("speech.chunks", sent), attribute.Int("speech.bytes", buffer.Len()))
				return buffer.Bytes(), nil
			}
			if chunk.err != nil {
				span.RecordError(chunk.err)
				span.SetStatus(codes.Error, chunk.err.Error())
				return buffer.Bytes(), chunk.err
			}
			if len(chunk.audio) == 0 {
				continue
			}

			buffer.Write(chunk.audio)
			o.emit(ctx, events.NewAudioChunk(chunk.audio))
			sent++
		}
	}
}

func pullSpeech(ctx context.Context, chunks chan<- speechChunk, speech iter.Seq2[[]byte, error]) {
	defer close(chunks)
	defer func() {
		if recovered := recover(); recovered != nil {
			select {
			case chunks <- speechChunk{err: fmt.Errorf("text-to-speech worker panicked: %v", recovered)}:
			case <-ctx.Done():
			}
		}
	}()

	for audio, err := range speech {
		select {
		case chunks <- speechChunk{audio: audio, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// retainResponse writes the streamed reply next to the other served files
// and returns the URL path it is reachable under.
func (o *Orchestrator) retainResponse(ctx context.Context, speech []byte) *string {
	if len(speech) == 0 || o.serveDir == "" {
		return nil
	}

	name := o.sessionID + "_output.wav"
	if err := audio.WriteWAVFile(filepath.Join(o.serveDir, name), speech, o.encoding); err != nil {
		logger.WarnContext(ctx, "failed to retain response audio", "session_id", o.sessionID, "error", err)
		return nil
	}

	return utils.Ptr(strings.TrimRight(o.audioURLPrefix, "/") + "/" + name)
}

func (o *Orchestrator) emit(ctx context.Context, event events.Event) {
	if err := o.emitter.Emit(ctx, event); err != nil {
		logger.DebugContext(ctx, "event not delivered", "session_id", o.sessionID, "event", event.Kind(), "error", err)
	}
}

func (o *Orchestrator) fail(ctx context.Context, message string, err error) error {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if !errors.Is(err, speechtotext.ErrNoSpeech) && !errors.Is(err, speechtotext.ErrLowConfidence) {
		logger.ErrorContext(ctx, "turn failed", "session_id", o.sessionID, "error", err)
	}

	o.emit(ctx, events.NewError(message))
	o.setState(StateFailed)
	return err
}

// abort finishes a turn that was aborted. The Cancelled event is sent
// on a detached context so it still reaches an open channel.
func (o *Orchestrator) abort(ctx context.Context, err error) error {
	logger.InfoContext(ctx, "turn cancelled", "session_id", o.sessionID, "state", o.State().String())
	o.emit(context.WithoutCancel(ctx), events.NewCancelled())
	o.setState(StateCancelled)
	return err
}

// Cleanup removes the recorded utterance and runs the cleanup hooks. Only
// the first call has any effect.
func (o *Orchestrator) Cleanup() {
	o.cleanupOnce.Do(func() {
		o.mu.Lock()
		o.cleanedUp = true
		utterancePath := o.utterancePath
		o.mu.Unlock()

		if utterancePath != "" {
			removeUtterance(utterancePath)
		}

		for _, hook := range o.cleanupHooks {
			hook()
		}
	})
}
