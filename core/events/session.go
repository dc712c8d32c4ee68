package events

const (
	KindStartProcessing     Kind = "start_processing"
	KindTextResponsePartial Kind = "text_response_partial"
	KindTextResponse        Kind = "text_response"
	KindAudioChunk          Kind = "audio_chunk"
	KindEndOfSession        Kind = "end_of_session"
	KindError               Kind = "error"
	KindCancelled           Kind = "cancelled"
)

// StartProcessing marks the handoff of a recorded utterance to the pipeline.
type StartProcessing struct{ Base }

func NewStartProcessing() StartProcessing {
	return StartProcessing{Base: NewBase(KindStartProcessing)}
}

// TranscriptPartial pairs what the user said with the reply text. It is
// sent as text_response once Final is set.
type TranscriptPartial struct {
	Base
	UserText string
	BotText  string
	Final    bool
}

func NewTranscriptPartial(userText, botText string, final bool) TranscriptPartial {
	kind := KindTextResponsePartial
	if final {
		kind = KindTextResponse
	}
	return TranscriptPartial{Base: NewBase(kind), UserText: userText, BotText: botText, Final: final}
}

// AudioChunk carries one piece of synthesized speech.
type AudioChunk struct {
	Base
	Audio []byte
}

func NewAudioChunk(audio []byte) AudioChunk {
	return AudioChunk{Base: NewBase(KindAudioChunk), Audio: audio}
}

// EndOfSession completes a turn. AudioRef is nil when no response audio
// was retained.
type EndOfSession struct {
	Base
	AudioRef *string
}

func NewEndOfSession(audioRef *string) EndOfSession {
	return EndOfSession{Base: NewBase(KindEndOfSession), AudioRef: audioRef}
}

type Error struct {
	Base
	Message string
}

func NewError(message string) Error {
	return Error{Base: NewBase(KindError), Message: message}
}

type Cancelled struct{ Base }

func NewCancelled() Cancelled {
	return Cancelled{Base: NewBase(KindCancelled)}
}
