package audio

import "time"

const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	DefaultFormat     = "linear16"
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
		Format:     encodingFormat(DefaultFormat),
	}
}

// EncodingInfo describes the shape of a PCM stream or container.
type EncodingInfo struct {
	SampleRate int
	Channels   int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

// channels treats an unset channel count as mono.
func (e EncodingInfo) channels() int {
	if e.Channels <= 0 {
		return 1
	}
	return e.Channels
}

func (e EncodingInfo) BlockAlign() int {
	return e.channels() * e.Format.ByteSize()
}

func (e EncodingInfo) BytesPerSecond() int {
	return e.SampleRate * e.BlockAlign()
}

// Duration returns how long byteLength bytes of audio play for.
func (e EncodingInfo) Duration(byteLength int) time.Duration {
	bps := e.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(byteLength) * time.Second / time.Duration(bps)
}

func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case EncodingALaw:
		return 0x55
	case EncodingMulaw:
		return 0xFF
	case EncodingLinear16:
		return 0
	}

	return 0
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)

// Utterance is one finalised recording handed from the recorder to the
// orchestrator. The file at Path is owned by whoever holds the value.
type Utterance struct {
	Path       string
	SampleRate int
	Channels   int
	ByteLength int
}

func (u Utterance) EncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: u.SampleRate, Channels: u.Channels, Format: EncodingLinear16}
}

func (u Utterance) Duration() time.Duration {
	return u.EncodingInfo().Duration(u.ByteLength)
}
