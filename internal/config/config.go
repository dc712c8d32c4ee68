// Package config loads the gateway configuration from an optional YAML file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderMock     = "mock"
	ProviderDeepgram = "deepgram"
	ProviderOpenAI   = "openai"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Audio        AudioConfig        `yaml:"audio"`
	Session      SessionConfig      `yaml:"session"`
	SpeechToText SpeechToTextConfig `yaml:"speech_to_text"`
	Dialog       DialogConfig       `yaml:"dialog"`
	TextToSpeech TextToSpeechConfig `yaml:"text_to_speech"`
	Auth         AuthConfig         `yaml:"auth"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

type ServerConfig struct {
	Addr                string        `yaml:"addr"`
	ReadHeaderTimeout   time.Duration `yaml:"read_header_timeout"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`
}

type AudioConfig struct {
	SampleRate  int    `yaml:"sample_rate"`
	ScratchDir  string `yaml:"scratch_dir"`
	ServeDir    string `yaml:"serve_dir"`
	FrameBuffer int    `yaml:"frame_buffer"`
}

type SessionConfig struct {
	ChannelOpenTimeout  time.Duration `yaml:"channel_open_timeout"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	CollaboratorTimeout time.Duration `yaml:"collaborator_timeout"`
	MinConfidence       float64       `yaml:"min_confidence"`
	Language            string        `yaml:"language"`
}

type SpeechToTextConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}

type DialogConfig struct {
	Provider     string `yaml:"provider"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Model        string `yaml:"model"`
	Instructions string `yaml:"instructions"`
	MaxHistory   int    `yaml:"max_history"`
}

type TextToSpeechConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Voice    string `yaml:"voice"`
}

// AuthConfig lists the accepted client keys. Authentication is disabled
// when no keys are configured.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

func (a AuthConfig) Enabled() bool { return len(a.APIKeys) > 0 }

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:                ":8080",
			ReadHeaderTimeout:   10 * time.Second,
			ShutdownGracePeriod: 30 * time.Second,
		},
		Audio: AudioConfig{
			SampleRate:  16000,
			ScratchDir:  "temp",
			ServeDir:    "temp",
			FrameBuffer: 256,
		},
		Session: SessionConfig{
			ChannelOpenTimeout: 5 * time.Second,
			PollInterval:       100 * time.Millisecond,
			MinConfidence:      0.7,
		},
		SpeechToText: SpeechToTextConfig{Provider: ProviderMock},
		Dialog:       DialogConfig{Provider: ProviderMock, MaxHistory: 20},
		TextToSpeech: TextToSpeechConfig{Provider: ProviderMock},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			ServiceName: "ema-gateway",
		},
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookupEnv func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(lookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFrom(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) loadFromFile(fn string) error {
	f, err := os.Open(fn)
	if err != nil {
		return fmt.Errorf("cannot open configuration file %q: %w", fn, err)
	}
	defer func() {
		_ = f.Close()
	}()

	if err := c.loadFrom(f); err != nil {
		return fmt.Errorf("cannot load configuration file %q: %w", fn, err)
	}
	return nil
}

func (c *Config) applyEnv(lookupEnv func(string) (string, bool)) error {
	env := envReader{lookup: lookupEnv}

	env.setString("EMA_ADDR", &c.Server.Addr)
	env.setDuration("EMA_SHUTDOWN_GRACE_PERIOD", &c.Server.ShutdownGracePeriod)
	env.setInt("EMA_SAMPLE_RATE", &c.Audio.SampleRate)
	env.setString("EMA_SCRATCH_DIR", &c.Audio.ScratchDir)
	env.setString("EMA_SERVE_DIR", &c.Audio.ServeDir)
	env.setDuration("EMA_CHANNEL_OPEN_TIMEOUT", &c.Session.ChannelOpenTimeout)
	env.setDuration("EMA_COLLABORATOR_TIMEOUT", &c.Session.CollaboratorTimeout)
	env.setFloat("EMA_MIN_CONFIDENCE", &c.Session.MinConfidence)
	env.setString("EMA_LANGUAGE", &c.Session.Language)
	env.setString("EMA_STT_PROVIDER", &c.SpeechToText.Provider)
	env.setString("EMA_DIALOG_PROVIDER", &c.Dialog.Provider)
	env.setString("EMA_DIALOG_MODEL", &c.Dialog.Model)
	env.setString("EMA_TTS_PROVIDER", &c.TextToSpeech.Provider)
	env.setString("EMA_TTS_VOICE", &c.TextToSpeech.Voice)
	env.setList("EMA_API_KEYS", &c.Auth.APIKeys)
	env.setString("LOG_LEVEL", &c.Telemetry.LogLevel)
	env.setString("EMA_LOG_LEVEL", &c.Telemetry.LogLevel)
	env.setString("EMA_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)

	if key, ok := env.value("DEEPGRAM_API_KEY"); ok {
		if c.SpeechToText.APIKey == "" {
			c.SpeechToText.APIKey = key
		}
		if c.TextToSpeech.APIKey == "" {
			c.TextToSpeech.APIKey = key
		}
	}
	if key, ok := env.value("OPENAI_API_KEY"); ok && c.Dialog.APIKey == "" {
		c.Dialog.APIKey = key
	}

	return env.err
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		invalid("server.addr must not be empty")
	}
	if c.Audio.SampleRate <= 0 {
		invalid("audio.sample_rate must be > 0")
	}
	if strings.TrimSpace(c.Audio.ScratchDir) == "" {
		invalid("audio.scratch_dir must not be empty")
	}
	if strings.TrimSpace(c.Audio.ServeDir) == "" {
		invalid("audio.serve_dir must not be empty")
	}
	if c.Session.ChannelOpenTimeout <= 0 {
		invalid("session.channel_open_timeout must be > 0")
	}
	if c.Session.PollInterval <= 0 || c.Session.PollInterval > c.Session.ChannelOpenTimeout {
		invalid("session.poll_interval must be > 0 and not exceed the channel open timeout")
	}
	if c.Session.CollaboratorTimeout < 0 {
		invalid("session.collaborator_timeout must be >= 0")
	}
	if c.Session.MinConfidence < 0 || c.Session.MinConfidence > 1 {
		invalid("session.min_confidence must be within [0, 1]")
	}

	switch c.SpeechToText.Provider {
	case ProviderMock:
	case ProviderDeepgram:
		if c.SpeechToText.APIKey == "" {
			invalid("speech_to_text.api_key or DEEPGRAM_API_KEY is required for the deepgram provider")
		}
	default:
		invalid("speech_to_text.provider must be one of mock|deepgram, got %q", c.SpeechToText.Provider)
	}

	switch c.Dialog.Provider {
	case ProviderMock:
	case ProviderOpenAI:
		if c.Dialog.APIKey == "" {
			invalid("dialog.api_key or OPENAI_API_KEY is required for the openai provider")
		}
	default:
		invalid("dialog.provider must be one of mock|openai, got %q", c.Dialog.Provider)
	}

	switch c.TextToSpeech.Provider {
	case ProviderMock:
	case ProviderDeepgram:
		if c.TextToSpeech.APIKey == "" {
			invalid("text_to_speech.api_key or DEEPGRAM_API_KEY is required for the deepgram provider")
		}
	default:
		invalid("text_to_speech.provider must be one of mock|deepgram, got %q", c.TextToSpeech.Provider)
	}

	return errors.Join(errs...)
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) value(key string) (string, bool) {
	raw, ok := e.lookup(key)
	raw = strings.TrimSpace(raw)
	return raw, ok && raw != ""
}

func (e *envReader) setString(key string, target *string) {
	if raw, ok := e.value(key); ok {
		*target = raw
	}
}

func (e *envReader) setInt(key string, target *int) {
	raw, ok := e.value(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.err = errors.Join(e.err, fmt.Errorf("%w: %s must be an integer: %w", ErrInvalid, key, err))
		return
	}
	*target = n
}

func (e *envReader) setFloat(key string, target *float64) {
	raw, ok := e.value(key)
	if !ok {
		return
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.err = errors.Join(e.err, fmt.Errorf("%w: %s must be a number: %w", ErrInvalid, key, err))
		return
	}
	*target = n
}

func (e *envReader) setDuration(key string, target *time.Duration) {
	raw, ok := e.value(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.err = errors.Join(e.err, fmt.Errorf("%w: %s must be a duration: %w", ErrInvalid, key, err))
		return
	}
	*target = d
}

func (e *envReader) setList(key string, target *[]string) {
	raw, ok := e.value(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*target = out
}
