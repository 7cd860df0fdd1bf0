// Package audio decodes audio files into normalized float samples and
// prepares them for speaker-embedding models: channel downmix, resampling
// and loudness measurement.
package audio

import (
	"errors"
	"time"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrInvalidWAV        = errors.New("invalid wav file")
	ErrEmptyAudio        = errors.New("audio contains no samples")
)

// Signal holds planar samples in [-1, 1]. Every channel has the same length.
type Signal struct {
	SampleRate int
	Channels   [][]float32
}

func (s Signal) NumChannels() int {
	return len(s.Channels)
}

// Frames is the number of samples per channel.
func (s Signal) Frames() int {
	if len(s.Channels) == 0 {
		return 0
	}
	return len(s.Channels[0])
}

func (s Signal) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(s.Frames()) * time.Second / time.Duration(s.SampleRate)
}

// Mono averages all channels into one. A mono signal is returned unchanged.
func (s Signal) Mono() Signal {
	if len(s.Channels) <= 1 {
		return s
	}

	frames := s.Frames()
	mixed := make([]float32, frames)
	scale := 1 / float32(len(s.Channels))
	for i := 0; i < frames; i++ {
		var sum float32
		for _, ch := range s.Channels {
			sum += ch[i]
		}
		mixed[i] = sum * scale
	}

	return Signal{SampleRate: s.SampleRate, Channels: [][]float32{mixed}}
}

// Samples returns the first channel, which after Mono is the whole signal.
func (s Signal) Samples() []float32 {
	if len(s.Channels) == 0 {
		return nil
	}
	return s.Channels[0]
}

func deinterleave(interleaved []float32, channels int) [][]float32 {
	frames := len(interleaved) / channels
	out := make([][]float32, channels)
	for c := range out {
		out[c] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			out[c][i] = interleaved[i*channels+c]
		}
	}
	return out
}
