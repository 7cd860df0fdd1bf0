package speaker

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fmueller/voxprint/internal/audio"
)

// fakeRunner summarizes features into a fixed-size vector so tests can
// check what reached the model.
type fakeRunner struct {
	dim  int
	dims []int64
	err  error

	mu     sync.Mutex
	frames []int
	bins   []int
	closed bool
}

func (f *fakeRunner) Run(ctx context.Context, features [][]float32) ([]float32, []int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	f.mu.Lock()
	f.frames = append(f.frames, len(features))
	f.bins = append(f.bins, len(features[0]))
	f.mu.Unlock()
	if f.err != nil {
		return nil, nil, f.err
	}

	// Per-component feature energy, so corrupted features change the output.
	energy := make([]float64, f.dim)
	for _, frame := range features {
		for m, v := range frame {
			energy[m%f.dim] += float64(v) * float64(v)
		}
	}
	out := make([]float32, f.dim)
	for i := range out {
		out[i] = float32(len(features)) + float32(i) + float32(energy[i])
	}
	dims := f.dims
	if dims == nil {
		dims = []int64{1, int64(f.dim)}
	}
	return out, dims, nil
}

func (f *fakeRunner) Dimension() int { return f.dim }

func (f *fakeRunner) Close() error {
	f.closed = true
	return nil
}

func TestEncoderEmbeddingStereo44k(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{dim: 192}
	enc, err := NewEncoder(Options{Runner: runner})
	require.NoError(t, err)

	path := writeToneWAV(t, 44100, 2, 44100, 0.3)
	emb, err := enc.Embedding(context.Background(), path)
	require.NoError(t, err)

	require.Equal(t, []int{1, 1, 192}, emb.Shape)
	require.Len(t, emb.Data, 192)
	require.Equal(t, []int{80}, runner.bins)
	require.InDelta(t, 98, runner.frames[0], 8)
	require.GreaterOrEqual(t, emb.Data[0], float32(runner.frames[0]))
}

func TestEncoderEmbeddingSignalAt16kSkipsResample(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{dim: 4, dims: []int64{4}}
	enc, err := NewEncoder(Options{Runner: runner})
	require.NoError(t, err)

	sig := audio.Signal{SampleRate: SampleRate, Channels: [][]float32{tone(SampleRate, 8000, 0.2)}}
	emb, err := enc.EmbedSignal(context.Background(), sig)
	require.NoError(t, err)
	require.Equal(t, []int{1, 1, 4}, emb.Shape)
	require.Equal(t, []int{48}, runner.frames)
}

func TestEncoderSilenceGate(t *testing.T) {
	t.Parallel()

	enc, err := NewEncoder(Options{Runner: &fakeRunner{dim: 8}, SilenceGate: true, SilenceThresholdDBFS: -65})
	require.NoError(t, err)

	silent := audio.Signal{SampleRate: SampleRate, Channels: [][]float32{make([]float32, SampleRate)}}
	_, err = enc.EmbedSignal(context.Background(), silent)
	require.ErrorIs(t, err, ErrSilentAudio)

	loud := audio.Signal{SampleRate: SampleRate, Channels: [][]float32{tone(SampleRate, SampleRate, 0.3)}}
	_, err = enc.EmbedSignal(context.Background(), loud)
	require.NoError(t, err)
}

func TestEncoderTooShort(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{dim: 8}
	enc, err := NewEncoder(Options{Runner: runner})
	require.NoError(t, err)

	short := audio.Signal{SampleRate: SampleRate, Channels: [][]float32{tone(SampleRate, 200, 0.3)}}
	_, err = enc.EmbedSignal(context.Background(), short)
	require.ErrorIs(t, err, ErrAudioTooShort)
	require.Empty(t, runner.frames)
}

func TestEncoderOneWindowAtNativeRateIsLongEnough(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{dim: 8}
	enc, err := NewEncoder(Options{Runner: runner})
	require.NoError(t, err)

	// 1103 samples at 44.1 kHz is just over 25 ms.
	sig := audio.Signal{SampleRate: 44100, Channels: [][]float32{tone(44100, 1103, 0.3)}}
	_, err = enc.EmbedSignal(context.Background(), sig)
	require.NoError(t, err)
	require.Equal(t, []int{1}, runner.frames)

	shorter := audio.Signal{SampleRate: 44100, Channels: [][]float32{tone(44100, 1000, 0.3)}}
	_, err = enc.EmbedSignal(context.Background(), shorter)
	require.ErrorIs(t, err, ErrAudioTooShort)
}

func TestEncoderEmbeddingPropagatesRunnerError(t *testing.T) {
	t.Parallel()

	boom := errors.New("session exploded")
	enc, err := NewEncoder(Options{Runner: &fakeRunner{dim: 8, err: boom}})
	require.NoError(t, err)

	path := writeToneWAV(t, SampleRate, 1, SampleRate, 0.3)
	_, err = enc.Embedding(context.Background(), path)
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, path)
}

func TestEncoderEmbeddingOrZero(t *testing.T) {
	t.Parallel()

	enc, err := NewEncoder(Options{Runner: &fakeRunner{dim: 192}})
	require.NoError(t, err)

	emb := enc.EmbeddingOrZero(context.Background(), filepath.Join(t.TempDir(), "missing.wav"))
	require.Equal(t, []int{1, 1, 192}, emb.Shape)
	require.True(t, emb.IsZero())

	path := writeToneWAV(t, SampleRate, 1, SampleRate, 0.3)
	emb = enc.EmbeddingOrZero(context.Background(), path)
	require.False(t, emb.IsZero())
}

func TestEncoderDimensionMismatch(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{dim: 256}
	_, err := NewEncoder(Options{Runner: runner, Dimension: 192})
	require.ErrorContains(t, err, "expected 192")
	require.True(t, runner.closed)
}

func TestEncoderConcurrentEmbeddings(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{dim: 16}
	enc, err := NewEncoder(Options{Runner: runner})
	require.NoError(t, err)
	defer enc.Close()

	path := writeToneWAV(t, 22050, 1, 22050, 0.3)
	want, err := enc.Embedding(context.Background(), path)
	require.NoError(t, err)

	const workers = 8
	got := make([]Embedding, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], errs[i] = enc.Embedding(context.Background(), path)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, want, got[i])
	}
	require.Len(t, runner.frames, workers+1)
}

func TestEncoderHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	enc, err := NewEncoder(Options{Runner: &fakeRunner{dim: 8}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := writeToneWAV(t, SampleRate, 1, SampleRate, 0.3)
	_, err = enc.Embedding(ctx, path)
	require.ErrorIs(t, err, context.Canceled)
}

func tone(rate, n int, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*220*float64(i)/float64(rate)))
	}
	return out
}

func writeToneWAV(t *testing.T, rate, channels, frames int, amp float64) string {
	t.Helper()

	samples := tone(rate, frames, amp)
	data := make([]byte, frames*channels*2)
	for i, s := range samples {
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(data[(i*channels+c)*2:], uint16(int16(s*32767)))
		}
	}

	header := make([]byte, 44)
	copy(header[0:], "RIFF")
	binary.LittleEndian.PutUint32(header[4:], uint32(36+len(data)))
	copy(header[8:], "WAVEfmt ")
	binary.LittleEndian.PutUint32(header[16:], 16)
	binary.LittleEndian.PutUint16(header[20:], 1)
	binary.LittleEndian.PutUint16(header[22:], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:], uint32(rate))
	binary.LittleEndian.PutUint32(header[28:], uint32(rate*channels*2))
	binary.LittleEndian.PutUint16(header[32:], uint16(channels*2))
	binary.LittleEndian.PutUint16(header[34:], 16)
	copy(header[36:], "data")
	binary.LittleEndian.PutUint32(header[40:], uint32(len(data)))

	path := filepath.Join(t.TempDir(), "tone.wav")
	require.NoError(t, os.WriteFile(path, append(header, data...), 0o644))
	return path
}
