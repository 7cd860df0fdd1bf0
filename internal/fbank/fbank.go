// Package fbank computes Kaldi-style log mel filterbank features, the input
// expected by ONNX exports of ECAPA-TDNN, CAM++, ERes2Net and ResNet speaker
// models.
//
// Defaults follow the Kaldi/WeSpeaker front-end:
//
//	SampleRate:  16000
//	FrameLength: 400 (25 ms)
//	FrameShift:  160 (10 ms)
//	FFTSize:     512
//	NumMels:     80
//	LowFreq:     20
//	HighFreq:    8000 (Nyquist)
//	PreEmphasis: 0.97
//	Window:      povey
package fbank

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// ErrTooShort is returned when the input does not fill a single frame.
var ErrTooShort = errors.New("fbank: audio shorter than one frame")

type Window string

const (
	WindowPovey   Window = "povey"
	WindowHamming Window = "hamming"
)

type Config struct {
	SampleRate  int
	FrameLength int
	FrameShift  int
	FFTSize     int
	NumMels     int
	LowFreq     float64
	HighFreq    float64
	PreEmphasis float64
	Window      Window
	// InputScale multiplies samples before analysis. Kaldi models are
	// trained on int16-range audio, so [-1, 1] input is scaled by 32768.
	InputScale float64
}

func DefaultConfig() Config {
	return Config{
		SampleRate:  16000,
		FrameLength: 400,
		FrameShift:  160,
		FFTSize:     512,
		NumMels:     80,
		LowFreq:     20,
		HighFreq:    8000,
		PreEmphasis: 0.97,
		Window:      WindowPovey,
		InputScale:  32768,
	}
}

type Extractor struct {
	cfg     Config
	window  []float64
	melBank []melFilter
}

// New panics on configs that cannot describe a filterbank; callers build
// them from DefaultConfig.
func New(cfg Config) *Extractor {
	if cfg.FFTSize < cfg.FrameLength || cfg.NumMels <= 0 || cfg.FrameShift <= 0 {
		panic("fbank: invalid config")
	}
	return &Extractor{
		cfg:     cfg,
		window:  makeWindow(cfg.Window, cfg.FrameLength),
		melBank: melFilterBank(cfg.NumMels, cfg.FFTSize, cfg.SampleRate, cfg.LowFreq, cfg.HighFreq),
	}
}

func (e *Extractor) Config() Config {
	return e.cfg
}

// NumFrames mirrors Kaldi's snip_edges=true framing.
func (e *Extractor) NumFrames(numSamples int) int {
	if numSamples < e.cfg.FrameLength {
		return 0
	}
	return (numSamples-e.cfg.FrameLength)/e.cfg.FrameShift + 1
}

// Extract returns a [frames][NumMels] matrix of natural-log mel energies.
// It is safe for concurrent use.
func (e *Extractor) Extract(samples []float32) ([][]float32, error) {
	cfg := e.cfg
	numFrames := e.NumFrames(len(samples))
	if numFrames == 0 {
		return nil, ErrTooShort
	}

	// fourier.FFT keeps scratch buffers, so each call gets its own.
	fft := fourier.NewFFT(cfg.FFTSize)
	features := make([][]float32, numFrames)
	frame := make([]float64, cfg.FFTSize)
	coeffs := make([]complex128, cfg.FFTSize/2+1)
	power := make([]float64, len(coeffs))
	epsilon := 1.1920928955078125e-07 // float32 machine epsilon, as in Kaldi

	for t := 0; t < numFrames; t++ {
		start := t * cfg.FrameShift

		var mean float64
		for i := 0; i < cfg.FrameLength; i++ {
			frame[i] = float64(samples[start+i]) * cfg.InputScale
			mean += frame[i]
		}
		mean /= float64(cfg.FrameLength)
		for i := 0; i < cfg.FrameLength; i++ {
			frame[i] -= mean
		}

		// Pre-emphasis runs back to front so each step sees the raw
		// previous sample.
		for i := cfg.FrameLength - 1; i > 0; i-- {
			frame[i] -= cfg.PreEmphasis * frame[i-1]
		}
		frame[0] -= cfg.PreEmphasis * frame[0]

		for i := 0; i < cfg.FrameLength; i++ {
			frame[i] *= e.window[i]
		}
		for i := cfg.FrameLength; i < cfg.FFTSize; i++ {
			frame[i] = 0
		}

		coeffs = fft.Coefficients(coeffs, frame)
		for k, c := range coeffs {
			re, im := real(c), imag(c)
			power[k] = re*re + im*im
		}

		mel := make([]float32, cfg.NumMels)
		for m, filter := range e.melBank {
			var sum float64
			for k, w := range filter.weights {
				sum += w * power[filter.start+k]
			}
			if sum < epsilon {
				sum = epsilon
			}
			mel[m] = float32(math.Log(sum))
		}
		features[t] = mel
	}

	return features, nil
}

// MeanNormalize subtracts the per-bin mean over all frames in place
// (cepstral mean normalization without variance scaling).
func MeanNormalize(features [][]float32) {
	if len(features) == 0 {
		return
	}
	numBins := len(features[0])
	means := make([]float64, numBins)
	for _, f := range features {
		for m, v := range f {
			means[m] += float64(v)
		}
	}
	for m := range means {
		means[m] /= float64(len(features))
	}
	for _, f := range features {
		for m := range f {
			f[m] = float32(float64(f[m]) - means[m])
		}
	}
}

// Flatten converts [T][bins] to a row-major [T*bins] slice for a [1, T, bins]
// tensor.
func Flatten(features [][]float32) []float32 {
	if len(features) == 0 {
		return nil
	}
	cols := len(features[0])
	flat := make([]float32, len(features)*cols)
	for t, row := range features {
		copy(flat[t*cols:], row)
	}
	return flat
}
