package audio

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadPCM16StereoWAV(t *testing.T) {
	t.Parallel()

	// Left channel at +0.5, right at -0.25.
	frames := 800
	samples := make([]int16, 0, frames*2)
	for i := 0; i < frames; i++ {
		samples = append(samples, 16384, -8192)
	}
	path := writeWAV(t, "stereo.wav", makePCMWAV(samples, 44100, 2, 16))

	sig, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 44100, sig.SampleRate)
	require.Equal(t, 2, sig.NumChannels())
	require.Equal(t, frames, sig.Frames())
	require.InDelta(t, 0.5, sig.Channels[0][10], 1e-6)
	require.InDelta(t, -0.25, sig.Channels[1][10], 1e-6)

	mono := sig.Mono()
	require.Equal(t, 1, mono.NumChannels())
	require.Equal(t, frames, mono.Frames())
	require.InDelta(t, 0.125, mono.Samples()[0], 1e-6)
}

func TestLoadPCM8WAV(t *testing.T) {
	t.Parallel()

	path := writeWAV(t, "u8.wav", makePCMWAV([]int16{128, 192, 64, 128}, 8000, 1, 8))

	sig, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []float32{0, 0.5, -0.5, 0}, sig.Samples())
}

func TestLoadRejectsGarbage(t *testing.T) {
	t.Parallel()

	path := writeWAV(t, "not-audio.wav", []byte("hello there, not a riff file"))
	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalidWAV)

	path = writeWAV(t, "notes.txt", []byte("plain text"))
	_, err = Load(path)
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Load(filepath.Join(t.TempDir(), "missing.wav"))
	require.Error(t, err)
}

func TestLoadEmptyWAV(t *testing.T) {
	t.Parallel()

	path := writeWAV(t, "empty.wav", makePCMWAV(nil, 16000, 1, 16))
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMP3DecodesToStereo(t *testing.T) {
	t.Parallel()

	// 24 frames of silent MPEG-1 Layer III, 44.1 kHz, stereo, 128 kbps.
	sig, err := Load(filepath.Join("testdata", "silence_stereo_44k.mp3"))
	require.NoError(t, err)

	require.Equal(t, 44100, sig.SampleRate)
	require.Equal(t, 2, sig.NumChannels())
	require.Positive(t, sig.Frames())
	require.Len(t, sig.Channels[1], sig.Frames())
	for _, ch := range sig.Channels {
		for _, v := range ch {
			require.GreaterOrEqual(t, v, float32(-1))
			require.LessOrEqual(t, v, float32(1))
		}
	}
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	require.Equal(t, FormatWAV, DetectFormat("x.bin", []byte("RIFF\x00\x00\x00\x00WAVE")))
	require.Equal(t, FormatMP3, DetectFormat("x.bin", []byte("ID3\x04")))
	require.Equal(t, FormatMP3, DetectFormat("x.bin", []byte{0xFF, 0xFB, 0x90}))
	require.Equal(t, FormatMP3, DetectFormat("voice.MP3", nil))
	require.Equal(t, FormatUnknown, DetectFormat("voice.flac", []byte("fLaC")))
}

func TestSignalDuration(t *testing.T) {
	t.Parallel()

	sig := Signal{SampleRate: 16000, Channels: [][]float32{make([]float32, 24000)}}
	require.Equal(t, 1500*time.Millisecond, sig.Duration())
	require.Zero(t, Signal{}.Duration())
}

func TestResampleSameRateIsPassthrough(t *testing.T) {
	t.Parallel()

	sig := Signal{SampleRate: 16000, Channels: [][]float32{{0.1, 0.2, 0.3}}}
	out, err := Resample(sig, 16000)
	require.NoError(t, err)
	require.Equal(t, sig, out)
}

func TestResampleDownsamplesTo16k(t *testing.T) {
	t.Parallel()

	sig := Signal{SampleRate: 48000, Channels: [][]float32{sine(48000, 48000, 300, 0.5)}}
	out, err := Resample(sig, 16000)
	require.NoError(t, err)
	require.Equal(t, 16000, out.SampleRate)
	require.InDelta(t, 16000, out.Frames(), 1000)

	metrics := Measure(out.Samples())
	require.Greater(t, metrics.PeakdBFS, -12.0)
}

func TestResampleRejectsInvalidRates(t *testing.T) {
	t.Parallel()

	_, err := Resample(Signal{SampleRate: 16000}, 0)
	require.Error(t, err)
	_, err = Resample(Signal{}, 16000)
	require.Error(t, err)
}

func TestIsSilentDetectsSilence(t *testing.T) {
	t.Parallel()

	metrics := Measure(make([]float32, 16000))
	require.True(t, IsSilent(metrics, -65))
	require.True(t, math.IsInf(metrics.RMSdBFS, -1))
	require.True(t, math.IsInf(metrics.PeakdBFS, -1))
	require.EqualValues(t, 16000, metrics.Samples)
}

func TestIsSilentDetectsSpeechLikeSignal(t *testing.T) {
	t.Parallel()

	metrics := Measure(sine(16000, 16000, 440, 0.25))
	require.False(t, IsSilent(metrics, -65))
	require.Greater(t, metrics.PeakdBFS, -20.0)
	require.Greater(t, metrics.RMSdBFS, -20.0)
}

func TestIsSilentEmpty(t *testing.T) {
	t.Parallel()

	require.True(t, IsSilent(Measure(nil), -65))
}

func sine(rate, n int, freq, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func writeWAV(t *testing.T, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

// makePCMWAV writes integer PCM. With bitDepth 8 each sample is stored as a
// single unsigned byte.
func makePCMWAV(samples []int16, sampleRate, channels, bitDepth int) []byte {
	bytesPerSample := bitDepth / 8
	dataSize := len(samples) * bytesPerSample
	fmtChunkSize := 16
	riffSize := 4 + (8 + fmtChunkSize) + (8 + dataSize)

	out := make([]byte, 12+8+fmtChunkSize+8+dataSize)
	off := 0

	copy(out[off:], []byte("RIFF"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(riffSize))
	off += 4
	copy(out[off:], []byte("WAVE"))
	off += 4

	copy(out[off:], []byte("fmt "))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(fmtChunkSize))
	off += 4
	binary.LittleEndian.PutUint16(out[off:], 1)
	off += 2
	binary.LittleEndian.PutUint16(out[off:], uint16(channels))
	off += 2
	binary.LittleEndian.PutUint32(out[off:], uint32(sampleRate))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(sampleRate*channels*bytesPerSample))
	off += 4
	binary.LittleEndian.PutUint16(out[off:], uint16(channels*bytesPerSample))
	off += 2
	binary.LittleEndian.PutUint16(out[off:], uint16(bitDepth))
	off += 2

	copy(out[off:], []byte("data"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(dataSize))
	off += 4

	for _, s := range samples {
		if bitDepth == 8 {
			out[off] = byte(s)
			off++
			continue
		}
		binary.LittleEndian.PutUint16(out[off:], uint16(s))
		off += 2
	}

	return out
}
