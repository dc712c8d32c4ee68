// Package recorder drains a live audio track into a single finalised
// utterance file.
package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/koscakluka/ema-gateway/core/audio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ErrAlreadyRecording = errors.New("recorder already active")

// Track is the inbound audio stream supplied by the transport. ReadFrame
// blocks until a frame is available and returns io.EOF once the stream has
// ended. Implementations must return when ctx is cancelled.
type Track interface {
	ReadFrame(ctx context.Context) (audio.Frame, error)
}

// Result is the outcome of one start/stop cycle. Utterance is nil when no
// audio was captured or the container could not be written.
type Result struct {
	Utterance *audio.Utterance
	Err       error
}

type Recorder struct {
	mu sync.Mutex

	encoding  audio.EncodingInfo
	writeFile func(path string, pcm []byte, info audio.EncodingInfo) error

	onStop  func(path *string)
	current *cycle
}

type cycle struct {
	cancel   context.CancelFunc
	done     chan Result
	finished chan struct{}
}

type Option func(*Recorder)

// WithEncodingInfo sets the container format. Only the sample rate is
// configurable; utterances are always mono linear16.
func WithEncodingInfo(info audio.EncodingInfo) Option {
	return func(r *Recorder) {
		if info.SampleRate > 0 {
			r.encoding.SampleRate = info.SampleRate
		}
	}
}

func WithFileWriter(write func(path string, pcm []byte, info audio.EncodingInfo) error) Option {
	return func(r *Recorder) {
		if write != nil {
			r.writeFile = write
		}
	}
}

func New(opts ...Option) *Recorder {
	r := &Recorder{
		encoding:  audio.GetDefaultEncodingInfo(),
		writeFile: audio.WriteWAVFile,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.encoding.Channels = 1
	r.encoding.Format = audio.EncodingLinear16
	return r
}

// OnStop registers callback to be invoked exactly once per start/stop cycle
// with the utterance path, or nil when nothing was captured.
func (r *Recorder) OnStop(callback func(path *string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStop = callback
}

// Start begins draining track in the background and returns immediately.
// The finalised utterance is written to destination.
func (r *Recorder) Start(ctx context.Context, track Track, destination string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		select {
		case <-r.current.finished:
		default:
			return ErrAlreadyRecording
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &cycle{
		cancel:   cancel,
		done:     make(chan Result, 1),
		finished: make(chan struct{}),
	}
	r.current = c

	go r.drain(ctx, c, track, destination)
	return nil
}

// Stop ends the current cycle and unblocks a pending frame read. Frames not
// yet read from the track are discarded. Safe to call repeatedly.
func (r *Recorder) Stop() {
	r.mu.Lock()
	c := r.current
	r.mu.Unlock()

	if c != nil {
		c.cancel()
	}
}

// Done returns the single-resolution result channel of the most recent
// Start, or nil if Start was never called.
func (r *Recorder) Done() <-chan Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return nil
	}
	return r.current.done
}

func (r *Recorder) drain(ctx context.Context, c *cycle, track Track, destination string) {
	var buffer bytes.Buffer
	var frames int
	for {
		frame, err := track.ReadFrame(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.WarnContext(ctx, "track read failed, finalising with buffered audio", "error", err, "frames", frames)
			}
			break
		}

		pcm, err := audio.ToLinear16(frame)
		if err != nil {
			logger.WarnContext(ctx, "dropping frame", "error", err)
			continue
		}
		buffer.Write(pcm)
		frames++
	}

	pcm := buffer.Bytes()
	go r.finalise(context.WithoutCancel(ctx), c, pcm, destination)
}

func (r *Recorder) finalise(ctx context.Context, c *cycle, pcm []byte, destination string) {
	_, span := tracer.Start(ctx, "finalise utterance")
	defer span.End()
	span.SetAttributes(attribute.Int("audio.bytes", len(pcm)))

	if len(pcm) == 0 {
		r.resolve(c, Result{})
		return
	}

	if err := r.writeFile(destination, pcm, r.encoding); err != nil {
		err = fmt.Errorf("failed to write utterance: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.ErrorContext(ctx, "utterance discarded", "error", err, "path", destination)
		r.resolve(c, Result{Err: err})
		return
	}

	r.resolve(c, Result{Utterance: &audio.Utterance{
		Path:       destination,
		SampleRate: r.encoding.SampleRate,
		Channels:   r.encoding.Channels,
		ByteLength: len(pcm),
	}})
}

func (r *Recorder) resolve(c *cycle, result Result) {
	r.mu.Lock()
	onStop := r.onStop
	r.mu.Unlock()

	c.cancel()
	close(c.finished)
	c.done <- result
	close(c.done)

	if onStop != nil {
		var path *string
		if result.Utterance != nil {
			path = &result.Utterance.Path
		}
		onStop(path)
	}
}
