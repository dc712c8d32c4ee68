package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// SampleFormat is the native sample layout of a frame delivered by a track.
type SampleFormat string

const (
	SampleFormatS16 SampleFormat = "s16"
	SampleFormatS32 SampleFormat = "s32"
	SampleFormatU8  SampleFormat = "u8"
	SampleFormatF32 SampleFormat = "f32"
	SampleFormatF64 SampleFormat = "f64"
)

func (f SampleFormat) ByteSize() int {
	switch f {
	case SampleFormatU8:
		return 1
	case SampleFormatS16:
		return 2
	case SampleFormatS32, SampleFormatF32:
		return 4
	case SampleFormatF64:
		return 8
	}
	return -1
}

// Frame is one block of interleaved little-endian samples as received from a
// track.
type Frame struct {
	Data       []byte
	Format     SampleFormat
	SampleRate int
	Channels   int
}

var ErrUnsupportedSampleFormat = errors.New("unsupported sample format")

const maxInt16 = math.MaxInt16

// ToLinear16 normalises a frame to mono signed 16-bit little-endian PCM.
//
// Floating point samples are scaled by the signed 16-bit maximum and then
// truncated toward zero. Multi-channel frames are averaged down to mono.
// Trailing bytes that do not form a whole sample block are dropped.
func ToLinear16(frame Frame) ([]byte, error) {
	size := frame.Format.ByteSize()
	if size <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSampleFormat, frame.Format)
	}
	channels := frame.Channels
	if channels <= 0 {
		channels = 1
	}

	blocks := len(frame.Data) / (size * channels)
	out := make([]byte, blocks*2)
	for i := range blocks {
		var sum int
		for ch := range channels {
			offset := (i*channels + ch) * size
			sum += int(sampleToInt16(frame.Format, frame.Data[offset:offset+size]))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/channels)))
	}

	return out, nil
}

func sampleToInt16(format SampleFormat, b []byte) int16 {
	switch format {
	case SampleFormatS16:
		return int16(binary.LittleEndian.Uint16(b))
	case SampleFormatS32:
		return int16(int32(binary.LittleEndian.Uint32(b)) >> 16)
	case SampleFormatU8:
		return int16(int(b[0])-128) << 8
	case SampleFormatF32:
		return floatToInt16(float64(math.Float32frombits(binary.LittleEndian.Uint32(b))))
	case SampleFormatF64:
		return floatToInt16(math.Float64frombits(binary.LittleEndian.Uint64(b)))
	}
	return 0
}

func floatToInt16(v float64) int16 {
	scaled := v * maxInt16
	switch {
	case math.IsNaN(scaled):
		return 0
	case scaled >= maxInt16:
		return maxInt16
	case scaled <= math.MinInt16:
		return math.MinInt16
	}
	return int16(scaled)
}

// Linear16RMS returns the root mean square of 16-bit PCM samples normalised
// to the 0..1 range.
func Linear16RMS(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := range samples {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / maxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(samples))
}
