package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

type Format string

const (
	FormatUnknown Format = ""
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
)

// DetectFormat sniffs the container from magic bytes and falls back to the
// file extension.
func DetectFormat(path string, header []byte) Format {
	switch {
	case len(header) >= 12 && string(header[:4]) == "RIFF" && string(header[8:12]) == "WAVE":
		return FormatWAV
	case len(header) >= 3 && string(header[:3]) == "ID3":
		return FormatMP3
	case len(header) >= 2 && header[0] == 0xFF && header[1]&0xE0 == 0xE0:
		return FormatMP3
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return FormatWAV
	case ".mp3":
		return FormatMP3
	default:
		return FormatUnknown
	}
}

// Load decodes the file at path into a Signal at its native rate and
// channel count.
func Load(path string) (Signal, error) {
	f, err := os.Open(path)
	if err != nil {
		return Signal{}, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	header := make([]byte, 12)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Signal{}, fmt.Errorf("read audio header: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Signal{}, fmt.Errorf("rewind audio: %w", err)
	}

	var sig Signal
	switch format := DetectFormat(path, header[:n]); format {
	case FormatWAV:
		sig, err = decodeWAV(f)
	case FormatMP3:
		sig, err = decodeMP3(f)
	default:
		return Signal{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
	if err != nil {
		return Signal{}, err
	}
	if sig.Frames() == 0 {
		return Signal{}, ErrEmptyAudio
	}
	return sig, nil
}

func decodeWAV(r io.ReadSeeker) (Signal, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return Signal{}, ErrInvalidWAV
	}
	if d.WavAudioFormat != 1 {
		return Signal{}, fmt.Errorf("%w: wav encoding %d (only integer PCM is supported)", ErrUnsupportedFormat, d.WavAudioFormat)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels <= 0 {
		return Signal{}, ErrInvalidWAV
	}

	samples, err := normalizePCM(buf)
	if err != nil {
		return Signal{}, err
	}

	return Signal{
		SampleRate: buf.Format.SampleRate,
		Channels:   deinterleave(samples, buf.Format.NumChannels),
	}, nil
}

func normalizePCM(buf *goaudio.IntBuffer) ([]float32, error) {
	out := make([]float32, len(buf.Data))
	switch buf.SourceBitDepth {
	case 8:
		// 8-bit WAV is unsigned with a 128 midpoint.
		for i, v := range buf.Data {
			out[i] = float32(v-128) / 128
		}
	case 16, 24, 32:
		scale := float32(int64(1) << (buf.SourceBitDepth - 1))
		for i, v := range buf.Data {
			out[i] = float32(v) / scale
		}
	default:
		return nil, fmt.Errorf("%w: %d-bit wav", ErrUnsupportedFormat, buf.SourceBitDepth)
	}
	return out, nil
}

// decodeMP3 relies on go-mp3 always producing 16-bit little-endian stereo.
func decodeMP3(r io.Reader) (Signal, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return Signal{}, fmt.Errorf("decode mp3: %w", err)
	}

	raw, err := io.ReadAll(d)
	if err != nil {
		return Signal{}, fmt.Errorf("decode mp3: %w", err)
	}

	const channels = 2
	count := len(raw) / 2
	count -= count % channels
	samples := make([]float32, count)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32768
	}

	return Signal{
		SampleRate: d.SampleRate(),
		Channels:   deinterleave(samples, channels),
	}, nil
}
