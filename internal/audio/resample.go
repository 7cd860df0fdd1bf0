package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts every channel of sig to rate. A signal already at rate
// is returned as is.
func Resample(sig Signal, rate int) (Signal, error) {
	if rate <= 0 {
		return Signal{}, fmt.Errorf("invalid target sample rate %d", rate)
	}
	if sig.SampleRate <= 0 {
		return Signal{}, fmt.Errorf("invalid source sample rate %d", sig.SampleRate)
	}
	if sig.SampleRate == rate {
		return sig, nil
	}

	out := Signal{SampleRate: rate, Channels: make([][]float32, len(sig.Channels))}
	for c, ch := range sig.Channels {
		r, err := resampling.New(&resampling.Config{
			InputRate:  float64(sig.SampleRate),
			OutputRate: float64(rate),
			Channels:   1,
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if err != nil {
			return Signal{}, fmt.Errorf("create resampler: %w", err)
		}

		input := make([]float64, len(ch))
		for i, v := range ch {
			input[i] = float64(v)
		}

		resampled, err := r.Process(input)
		if err != nil {
			return Signal{}, fmt.Errorf("resample %d Hz to %d Hz: %w", sig.SampleRate, rate, err)
		}

		samples := make([]float32, len(resampled))
		for i, v := range resampled {
			samples[i] = float32(clamp(v))
		}
		out.Channels[c] = samples
	}

	// Channels may come back a sample apart; keep them aligned.
	frames := out.Frames()
	for _, ch := range out.Channels {
		frames = min(frames, len(ch))
	}
	for c := range out.Channels {
		out.Channels[c] = out.Channels[c][:frames]
	}

	return out, nil
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
