package gateway

import (
	"fmt"

	orchestration "github.com/koscakluka/ema-gateway/core"
	dialogmock "github.com/koscakluka/ema-gateway/core/dialog/mock"
	"github.com/koscakluka/ema-gateway/core/dialog/openai"
	sttdeepgram "github.com/koscakluka/ema-gateway/core/speechtotext/deepgram"
	sttmock "github.com/koscakluka/ema-gateway/core/speechtotext/mock"
	ttsdeepgram "github.com/koscakluka/ema-gateway/core/texttospeech/deepgram"
	ttsmock "github.com/koscakluka/ema-gateway/core/texttospeech/mock"
	"github.com/koscakluka/ema-gateway/internal/config"
)

// Services are the collaborators shared by every session.
type Services struct {
	SpeechToText orchestration.SpeechToText
	DialogTurn   orchestration.DialogTurn
	TextToSpeech orchestration.TextToSpeech
}

// historyKeeper is implemented by dialog clients that remember earlier
// turns of a session.
type historyKeeper interface {
	Forget(sessionID string)
}

// NewServices builds the collaborators selected in cfg.
func NewServices(cfg config.Config) (Services, error) {
	var services Services

	switch cfg.SpeechToText.Provider {
	case config.ProviderDeepgram:
		opts := []sttdeepgram.ClientOption{sttdeepgram.WithAPIKey(cfg.SpeechToText.APIKey)}
		if cfg.SpeechToText.BaseURL != "" {
			opts = append(opts, sttdeepgram.WithBaseURL(cfg.SpeechToText.BaseURL))
		}
		if cfg.SpeechToText.Model != "" {
			opts = append(opts, sttdeepgram.WithModel(cfg.SpeechToText.Model))
		}
		client, err := sttdeepgram.NewClient(opts...)
		if err != nil {
			return Services{}, fmt.Errorf("failed to create speech-to-text client: %w", err)
		}
		services.SpeechToText = client
	default:
		services.SpeechToText = sttmock.NewClient()
	}

	switch cfg.Dialog.Provider {
	case config.ProviderOpenAI:
		opts := []openai.ClientOption{
			openai.WithAPIKey(cfg.Dialog.APIKey),
			openai.WithModel(cfg.Dialog.Model),
			openai.WithInstructions(cfg.Dialog.Instructions),
		}
		if cfg.Dialog.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Dialog.BaseURL))
		}
		if cfg.Dialog.MaxHistory > 0 {
			opts = append(opts, openai.WithMaxHistory(cfg.Dialog.MaxHistory))
		}
		client, err := openai.NewClient(opts...)
		if err != nil {
			return Services{}, fmt.Errorf("failed to create dialog client: %w", err)
		}
		services.DialogTurn = client
	default:
		services.DialogTurn = dialogmock.NewClient()
	}

	switch cfg.TextToSpeech.Provider {
	case config.ProviderDeepgram:
		opts := []ttsdeepgram.ClientOption{
			ttsdeepgram.WithAPIKey(cfg.TextToSpeech.APIKey),
			ttsdeepgram.WithVoice(cfg.TextToSpeech.Voice),
		}
		if cfg.TextToSpeech.BaseURL != "" {
			opts = append(opts, ttsdeepgram.WithBaseURL(cfg.TextToSpeech.BaseURL))
		}
		client, err := ttsdeepgram.NewTextToSpeechClient(opts...)
		if err != nil {
			return Services{}, fmt.Errorf("failed to create text-to-speech client: %w", err)
		}
		services.TextToSpeech = client
	default:
		services.TextToSpeech = ttsmock.NewClient()
	}

	return services, nil
}

func (s Services) forget(sessionID string) {
	if keeper, ok := s.DialogTurn.(historyKeeper); ok {
		keeper.Forget(sessionID)
	}
}
