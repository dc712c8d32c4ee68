package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := load("", envFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 16000, cfg.Audio.SampleRate)
	assert.Equal(t, 5*time.Second, cfg.Session.ChannelOpenTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Session.PollInterval)
	assert.Equal(t, 0.7, cfg.Session.MinConfidence)
	assert.Equal(t, ProviderMock, cfg.SpeechToText.Provider)
	assert.False(t, cfg.Auth.Enabled())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
audio:
  sample_rate: 48000
  serve_dir: /srv/audio
session:
  channel_open_timeout: 2s
  collaborator_timeout: 30s
dialog:
  provider: openai
  api_key: sk-test
  model: gpt-4.1-nano
auth:
  api_keys: [alpha, beta]
`)

	cfg, err := load(path, envFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 48000, cfg.Audio.SampleRate)
	assert.Equal(t, "/srv/audio", cfg.Audio.ServeDir)
	assert.Equal(t, "temp", cfg.Audio.ScratchDir)
	assert.Equal(t, 2*time.Second, cfg.Session.ChannelOpenTimeout)
	assert.Equal(t, 30*time.Second, cfg.Session.CollaboratorTimeout)
	assert.Equal(t, ProviderOpenAI, cfg.Dialog.Provider)
	assert.Equal(t, "gpt-4.1-nano", cfg.Dialog.Model)
	assert.Equal(t, []string{"alpha", "beta"}, cfg.Auth.APIKeys)
	assert.True(t, cfg.Auth.Enabled())
}

func TestEmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := load(writeConfig(t, ""), envFrom(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestUnknownFieldsAreRejected(t *testing.T) {
	_, err := load(writeConfig(t, "server:\n  adress: \":1\"\n"), envFrom(nil))
	assert.ErrorContains(t, err, "adress")
}

func TestMissingFileFails(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "missing.yaml"), envFrom(nil))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":9090\"\n")

	cfg, err := load(path, envFrom(map[string]string{
		"EMA_ADDR":                 ":7070",
		"EMA_CHANNEL_OPEN_TIMEOUT": "750ms",
		"EMA_STT_PROVIDER":         "deepgram",
		"EMA_TTS_PROVIDER":         "deepgram",
		"DEEPGRAM_API_KEY":         "dg-key",
		"EMA_API_KEYS":             " one , two,,",
		"LOG_LEVEL":                "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 750*time.Millisecond, cfg.Session.ChannelOpenTimeout)
	assert.Equal(t, "dg-key", cfg.SpeechToText.APIKey)
	assert.Equal(t, "dg-key", cfg.TextToSpeech.APIKey)
	assert.Equal(t, []string{"one", "two"}, cfg.Auth.APIKeys)
	assert.Equal(t, "debug", cfg.Telemetry.LogLevel)
}

func TestProviderKeyFromFileWinsOverEnvironment(t *testing.T) {
	path := writeConfig(t, "dialog:\n  provider: openai\n  api_key: from-file\n")

	cfg, err := load(path, envFrom(map[string]string{"OPENAI_API_KEY": "from-env"}))
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Dialog.APIKey)
}

func TestMalformedEnvironmentValue(t *testing.T) {
	_, err := load("", envFrom(map[string]string{
		"EMA_SAMPLE_RATE":          "fast",
		"EMA_COLLABORATOR_TIMEOUT": "soon",
	}))
	require.ErrorIs(t, err, ErrInvalid)
	assert.ErrorContains(t, err, "EMA_SAMPLE_RATE")
	assert.ErrorContains(t, err, "EMA_COLLABORATOR_TIMEOUT")
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*Config)
		expect string
	}{
		{name: "unknown stt provider", modify: func(c *Config) { c.SpeechToText.Provider = "whisper" }, expect: "speech_to_text.provider"},
		{name: "deepgram without key", modify: func(c *Config) { c.TextToSpeech.Provider = ProviderDeepgram }, expect: "text_to_speech.api_key"},
		{name: "openai without key", modify: func(c *Config) { c.Dialog.Provider = ProviderOpenAI }, expect: "dialog.api_key"},
		{name: "zero sample rate", modify: func(c *Config) { c.Audio.SampleRate = 0 }, expect: "audio.sample_rate"},
		{name: "poll longer than timeout", modify: func(c *Config) { c.Session.PollInterval = time.Minute }, expect: "session.poll_interval"},
		{name: "confidence above one", modify: func(c *Config) { c.Session.MinConfidence = 1.5 }, expect: "session.min_confidence"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			cfg := Default()
			testCase.modify(&cfg)

			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.True(t, strings.Contains(err.Error(), testCase.expect), "error %q should mention %q", err, testCase.expect)
		})
	}
}
