package fbank

import "math"

type melFilter struct {
	start   int
	weights []float64
}

func makeWindow(kind Window, n int) []float64 {
	w := make([]float64, n)
	a := 2 * math.Pi / float64(n-1)
	for i := range w {
		switch kind {
		case WindowHamming:
			w[i] = 0.54 - 0.46*math.Cos(a*float64(i))
		default:
			w[i] = math.Pow(0.5-0.5*math.Cos(a*float64(i)), 0.85)
		}
	}
	return w
}

func hzToMel(hz float64) float64 {
	return 1127.0 * math.Log(1.0+hz/700.0)
}

// melFilterBank builds triangular filters that are linear in mel, as Kaldi
// does, evaluated at each FFT bin centre. Bin 0 (DC) is never weighted.
func melFilterBank(numMels, fftSize, sampleRate int, lowFreq, highFreq float64) []melFilter {
	nyquist := float64(sampleRate) / 2
	if highFreq <= 0 {
		highFreq += nyquist
	}
	halfFFT := fftSize / 2
	binWidth := float64(sampleRate) / float64(fftSize)

	lowMel := hzToMel(lowFreq)
	highMel := hzToMel(highFreq)
	delta := (highMel - lowMel) / float64(numMels+1)

	bank := make([]melFilter, numMels)
	for m := range bank {
		left := lowMel + float64(m)*delta
		center := left + delta
		right := center + delta

		start := -1
		var weights []float64
		for k := 0; k < halfFFT; k++ {
			mel := hzToMel(binWidth * float64(k))
			if mel <= left || mel >= right {
				if start >= 0 {
					break
				}
				continue
			}
			var w float64
			if mel <= center {
				w = (mel - left) / (center - left)
			} else {
				w = (right - mel) / (right - center)
			}
			if start < 0 {
				start = k
			}
			weights = append(weights, w)
		}
		if start < 0 {
			start = 0
		}
		bank[m] = melFilter{start: start, weights: weights}
	}
	return bank
}
