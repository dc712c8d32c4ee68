package gateway

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	orchestration "github.com/koscakluka/ema-gateway/core"
	"github.com/koscakluka/ema-gateway/core/events"
	"github.com/koscakluka/ema-gateway/core/metrics"
	"github.com/koscakluka/ema-gateway/core/recorder"
	"github.com/koscakluka/ema-gateway/core/sessions"
	"github.com/koscakluka/ema-gateway/core/transport/ws"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Session is one connected client and the single turn it drives.
type Session struct {
	id        string
	createdAt time.Time

	conn         *ws.Conn
	recorder     *recorder.Recorder
	orchestrator *orchestration.Orchestrator
	inputPath    string

	metrics *metrics.Metrics

	mu           sync.Mutex
	turnStarted  time.Time
	unregister   func()
	releaseOnce  sync.Once
	releaseHooks []func()
}

type sessionParams struct {
	id       string
	conn     *ws.Conn
	services Services
	settings Settings
	metrics  *metrics.Metrics
}

func newSession(params sessionParams) *Session {
	s := &Session{
		id:        params.id,
		createdAt: time.Now(),
		conn:      params.conn,
		recorder:  recorder.New(recorder.WithEncodingInfo(params.settings.Encoding)),
		inputPath: filepath.Join(params.settings.ScratchDir, params.id+"_input.wav"),
		metrics:   params.metrics,
	}

	s.orchestrator = orchestration.NewOrchestrator(params.id, params.conn,
		orchestration.WithSpeechToTextClient(params.services.SpeechToText),
		orchestration.WithDialogTurnClient(params.services.DialogTurn),
		orchestration.WithTextToSpeechClient(params.services.TextToSpeech),
		orchestration.WithChannelOpenTimeout(params.settings.ChannelOpenTimeout),
		orchestration.WithPollInterval(params.settings.PollInterval),
		orchestration.WithCollaboratorTimeout(params.settings.CollaboratorTimeout),
		orchestration.WithServeDir(params.settings.ServeDir),
		orchestration.WithEncodingInfo(params.settings.Encoding),
		orchestration.WithMinConfidence(params.settings.MinConfidence),
		orchestration.WithLanguage(params.settings.Language),
		orchestration.WithVoice(params.settings.Voice),
		orchestration.WithStateChangedCallback(s.stateChanged),
		orchestration.WithEmitterOptions(
			events.WithOnSent(func(event events.Event) { s.metrics.EventSent(string(event.Kind())) }),
			events.WithOnDropped(func(event events.Event) { s.metrics.EventDropped(string(event.Kind())) }),
		),
		orchestration.WithCleanupHook(s.release),
		orchestration.WithCleanupHook(func() { params.services.forget(params.id) }),
	)

	return s
}

func (s *Session) ID() string { return s.id }

// Handle is the registry view of the session.
func (s *Session) Handle() sessions.Handle {
	return sessions.Handle{
		Cancel:    s.Cancel,
		Stop:      s.StopRecording,
		State:     func() string { return s.orchestrator.State().String() },
		CreatedAt: s.createdAt,
	}
}

// onRelease registers hook to run once the session has finished and its
// connection is closed.
func (s *Session) onRelease(hook func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseHooks = append(s.releaseHooks, hook)
}

func (s *Session) setUnregister(unregister func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unregister = unregister
}

// Run records the client's utterance and drives the turn until it reaches
// a terminal state and the connection is gone.
func (s *Session) Run(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "session", trace.WithAttributes(attribute.String("session.id", s.id)))
	defer span.End()

	if err := s.recorder.Start(ctx, s.conn, s.inputPath); err != nil {
		s.orchestrator.Cancel()
		s.release()
		return err
	}

	turnDone := make(chan struct{})
	go func() {
		defer close(turnDone)
		result, err := s.orchestrator.Run(ctx, s.recorder.Done())
		switch {
		case err == nil:
			logger.InfoContext(ctx, "turn completed", "session_id", s.id, "transcript", result.Transcript)
		case errors.Is(err, context.Canceled):
		default:
			logger.InfoContext(ctx, "turn ended", "session_id", s.id, "error", err)
		}
	}()

	serveErr := s.conn.Serve(ctx, s.handleControl)

	// A closed channel aborts whatever the turn is doing.
	s.orchestrator.Cancel()
	s.recorder.Stop()
	<-turnDone

	if serveErr != nil {
		logger.WarnContext(ctx, "connection ended with error", "session_id", s.id, "error", serveErr)
	}
	return serveErr
}

func (s *Session) handleControl(control events.Control) {
	switch control {
	case events.ControlStopRecording:
		s.StopRecording()
	case events.ControlCancelProcessing:
		s.Cancel()
	}
}

// StopRecording ends the inbound track. Frames already received are still
// recorded.
func (s *Session) StopRecording() {
	s.conn.EndTrack()
}

// Cancel aborts the turn and discards the recording in progress.
func (s *Session) Cancel() {
	s.orchestrator.Cancel()
	s.recorder.Stop()
}

func (s *Session) stateChanged(state orchestration.State) {
	s.mu.Lock()
	if s.turnStarted.IsZero() {
		s.turnStarted = time.Now()
	}
	started := s.turnStarted
	s.mu.Unlock()

	if state.IsTerminal() {
		s.metrics.TurnFinished(state.String(), time.Since(started))
	}
}

// release removes the session from the registry and closes the connection.
func (s *Session) release() {
	s.releaseOnce.Do(func() {
		s.mu.Lock()
		unregister := s.unregister
		hooks := s.releaseHooks
		s.mu.Unlock()

		if unregister != nil {
			unregister()
		}
		if err := s.conn.Close(); err != nil {
			logger.Debug("failed to close connection", "session_id", s.id, "error", err)
		}
		for _, hook := range hooks {
			hook()
		}
	})
}
