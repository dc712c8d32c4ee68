// Package gateway exposes voice sessions over HTTP: a WebSocket session
// endpoint plus the retained response audio, health, metrics, event schema
// and session listing endpoints.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-gateway/core/audio"
	"github.com/koscakluka/ema-gateway/core/events"
	"github.com/koscakluka/ema-gateway/core/metrics"
	"github.com/koscakluka/ema-gateway/core/sessions"
	"github.com/koscakluka/ema-gateway/core/transport/ws"
	"github.com/koscakluka/ema-gateway/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const AudioFilesPath = "/audio_files/"

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Settings are the per-session knobs derived from the configuration.
type Settings struct {
	Encoding            audio.EncodingInfo
	ScratchDir          string
	ServeDir            string
	FrameBuffer         int
	ChannelOpenTimeout  time.Duration
	PollInterval        time.Duration
	CollaboratorTimeout time.Duration
	MinConfidence       float64
	Language            string
	Voice               string
	APIKeys             []string
}

func SettingsFromConfig(cfg config.Config) Settings {
	encoding := audio.GetDefaultEncodingInfo()
	encoding.SampleRate = cfg.Audio.SampleRate

	return Settings{
		Encoding:            encoding,
		ScratchDir:          cfg.Audio.ScratchDir,
		ServeDir:            cfg.Audio.ServeDir,
		FrameBuffer:         cfg.Audio.FrameBuffer,
		ChannelOpenTimeout:  cfg.Session.ChannelOpenTimeout,
		PollInterval:        cfg.Session.PollInterval,
		CollaboratorTimeout: cfg.Session.CollaboratorTimeout,
		MinConfidence:       cfg.Session.MinConfidence,
		Language:            cfg.Session.Language,
		Voice:               cfg.TextToSpeech.Voice,
		APIKeys:             cfg.Auth.APIKeys,
	}
}

type Server struct {
	settings Settings
	services Services

	registry     *sessions.Registry
	metrics      *metrics.Metrics
	promRegistry *prometheus.Registry

	baseCtx context.Context
	stop    context.CancelFunc

	mux *http.ServeMux
}

type ServerOption func(*Server)

func WithRegistry(registry *sessions.Registry) ServerOption {
	return func(s *Server) { s.registry = registry }
}

func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// NewServer prepares the scratch and serve directories and the routes.
func NewServer(settings Settings, services Services, opts ...ServerOption) (*Server, error) {
	s := &Server{
		settings: settings,
		services: services,
		registry: sessions.NewRegistry(),
		metrics:  metrics.New(),
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.baseCtx, s.stop = context.WithCancel(context.Background())

	for _, dir := range []string{settings.ScratchDir, settings.ServeDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %q: %w", dir, err)
		}
	}

	promRegistry, err := metrics.NewRegistry(s.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	s.promRegistry = promRegistry

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /v1/session", s.handleSession)
	s.mux.HandleFunc("GET /v1/sessions", s.requireKey(s.handleListSessions))
	s.mux.HandleFunc("POST /v1/sessions/{id}/cancel", s.requireKey(s.handleCancelSession))
	s.mux.HandleFunc("GET /v1/schema/events", s.handleSchema)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler(s.promRegistry))
	s.mux.Handle("GET "+AudioFilesPath, http.StripPrefix(AudioFilesPath, retainedAudio(s.settings.ServeDir)))
}

func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.mux, "ema-gateway",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func (s *Server) Registry() *sessions.Registry { return s.registry }

// Shutdown cancels every session and waits for them to clean up. Sessions
// still running when ctx is done have their connections dropped.
func (s *Server) Shutdown(ctx context.Context) error {
	cancelled := s.registry.CancelAll()
	finished := s.registry.Wait(ctx)
	s.stop()
	if !finished {
		return fmt.Errorf("sessions still active after shutdown: %w", ctx.Err())
	}
	logger.Info("all sessions finished", "cancelled", cancelled)
	return nil
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if !sessionIDPattern.MatchString(sessionID) {
		http.Error(w, "invalid session_id", http.StatusBadRequest)
		return
	}

	connOpts := []ws.Option{
		ws.WithSampleRate(s.settings.Encoding.SampleRate),
		ws.WithFrameBuffer(s.settings.FrameBuffer),
		ws.WithOnFrameDropped(s.metrics.FrameDropped),
	}
	switch format := r.URL.Query().Get("format"); format {
	case "", "s16":
	case "f32":
		connOpts = append(connOpts, ws.WithSampleFormat(audio.SampleFormatF32))
	default:
		http.Error(w, "unsupported format", http.StatusBadRequest)
		return
	}

	conn, err := ws.Accept(w, r, connOpts...)
	if err != nil {
		logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	session := newSession(sessionParams{
		id:       sessionID,
		conn:     conn,
		services: s.services,
		settings: s.settings,
		metrics:  s.metrics,
	})

	unregister, err := s.registry.Register(sessionID, session.Handle())
	if err != nil {
		logger.WarnContext(r.Context(), "rejecting session", "session_id", sessionID, "error", err)
		_ = conn.CloseWithReason(websocket.ClosePolicyViolation, "session already exists")
		return
	}
	session.setUnregister(unregister)

	s.metrics.SessionStarted()
	session.onRelease(s.metrics.SessionEnded)

	logger.InfoContext(r.Context(), "session started", "session_id", sessionID, "remote", r.RemoteAddr)

	// The hijacked request context is not cancelled on shutdown.
	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()
	stop := context.AfterFunc(r.Context(), cancel)
	defer stop()

	_ = session.Run(ctx)
	logger.InfoContext(ctx, "session finished", "session_id", sessionID, "state", session.orchestrator.State().String())
}

// SessionView is the JSON shape of a listed session.
type SessionView struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	views := []SessionView{}
	if err := copier.Copy(&views, s.registry.List()); err != nil {
		http.Error(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	if !s.registry.Cancel(r.PathValue("id")) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, events.Schema())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.registry.Count(),
	})
}

func (s *Server) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// authorized accepts the key from the api_key query parameter or a bearer
// token. Every request is allowed when no keys are configured.
func (s *Server) authorized(r *http.Request) bool {
	if len(s.settings.APIKeys) == 0 {
		return true
	}

	key := r.URL.Query().Get("api_key")
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		key = strings.TrimSpace(bearer)
	}
	if key == "" {
		return false
	}

	for _, allowed := range s.settings.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(allowed)) == 1 {
			return true
		}
	}
	return false
}

// retainedAudio serves response files only. Directory listings and
// recordings that share the directory are hidden.
func retainedAudio(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path
		if strings.Contains(name, "/") || !strings.HasSuffix(name, "_output.wav") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		files.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		logger.Debug("failed to write response", "error", err)
	}
}
