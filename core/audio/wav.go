package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	wavHeaderSize = 44
	// WAVE_FORMAT_EXTENSIBLE, the largest fmt chunk in use, is 40 bytes.
	maxFormatChunkSize = 1 << 10
)

var ErrInvalidWAV = errors.New("invalid wav container")

// WriteWAV writes pcm wrapped in a canonical 44 byte RIFF/WAVE header.
// Only linear16 PCM is supported.
func WriteWAV(w io.Writer, pcm []byte, info EncodingInfo) error {
	if info.Format != EncodingLinear16 {
		return fmt.Errorf("%w: cannot write %q samples", ErrUnsupportedSampleFormat, info.Format)
	}

	channels := info.channels()
	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1)
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(info.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(info.BytesPerSecond()))
	binary.LittleEndian.PutUint16(header[32:34], uint16(info.BlockAlign()))
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write wav header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("failed to write wav data: %w", err)
	}
	return nil
}

// WriteWAVFile writes the container to a temporary sibling first and renames
// it into place so readers never observe a half written file.
func WriteWAVFile(path string, pcm []byte, info EncodingInfo) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %q: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", path, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	buffered := bufio.NewWriter(tmp)
	if err := WriteWAV(buffered, pcm, info); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := buffered.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to flush %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %q: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move wav into %q: %w", path, err)
	}
	return nil
}

// ReadWAV parses a PCM WAV container and returns its samples. Chunks other
// than "fmt " and "data" are skipped.
func ReadWAV(r io.Reader) ([]byte, EncodingInfo, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, EncodingInfo{}, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}
	if !bytes.Equal(riff[0:4], []byte("RIFF")) || !bytes.Equal(riff[8:12], []byte("WAVE")) {
		return nil, EncodingInfo{}, fmt.Errorf("%w: missing RIFF/WAVE magic", ErrInvalidWAV)
	}

	var info EncodingInfo
	var haveFormat bool
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r, chunkHeader[:]); err != nil {
			return nil, EncodingInfo{}, fmt.Errorf("%w: no data chunk: %w", ErrInvalidWAV, err)
		}
		id := string(chunkHeader[0:4])
		size := int64(binary.LittleEndian.Uint32(chunkHeader[4:8]))

		switch id {
		case "fmt ":
			if size < 16 || size > maxFormatChunkSize {
				return nil, EncodingInfo{}, fmt.Errorf("%w: fmt chunk of %d bytes", ErrInvalidWAV, size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, EncodingInfo{}, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
			}
			if audioFormat := binary.LittleEndian.Uint16(body[0:2]); audioFormat != 1 {
				return nil, EncodingInfo{}, fmt.Errorf("%w: audio format %d", ErrUnsupportedSampleFormat, audioFormat)
			}
			if bits := binary.LittleEndian.Uint16(body[14:16]); bits != 16 {
				return nil, EncodingInfo{}, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedSampleFormat, bits)
			}
			info = EncodingInfo{
				Channels:   int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate: int(binary.LittleEndian.Uint32(body[4:8])),
				Format:     EncodingLinear16,
			}
			haveFormat = true
		case "data":
			if !haveFormat {
				return nil, EncodingInfo{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			// The declared size is not trusted: a truncated or corrupt header
			// yields the samples that are actually present.
			var pcm bytes.Buffer
			if _, err := pcm.ReadFrom(io.LimitReader(r, size)); err != nil {
				return nil, EncodingInfo{}, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
			}
			return pcm.Bytes(), info, nil
		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return nil, EncodingInfo{}, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
			}
		}
	}
}

func ReadWAVFile(path string) ([]byte, EncodingInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, EncodingInfo{}, fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer f.Close()

	return ReadWAV(bufio.NewReader(f))
}
