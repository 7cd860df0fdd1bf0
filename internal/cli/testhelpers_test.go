package cli

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/fmueller/voxprint/internal/speaker"
	"github.com/stretchr/testify/require"
)

// runCommand executes the root command against an isolated config file so a
// developer's own settings never leak into tests.
func runCommand(t *testing.T, args []string) (stdout string, stderr string, err error) {
	t.Helper()
	return runCommandWithApp(t, newAppState(), args)
}

func runCommandWithApp(t *testing.T, app *appState, args []string) (stdout string, stderr string, err error) {
	t.Helper()

	cmd := newRootCmd(app)
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	full := append(slices.Clone(args), "--no-progress", "--quiet")
	if !slices.Contains(args, "--config") {
		full = append(full, "--config", filepath.Join(t.TempDir(), "config.toml"))
	}
	cmd.SetArgs(full)

	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

type fakeEmbedder struct {
	mu         sync.Mutex
	embeddings map[string]speaker.Embedding
	failures   map[string]error
	dim        int
	calls      []string
	closed     bool
}

func newFakeEmbedder(dim int) *fakeEmbedder {
	return &fakeEmbedder{
		embeddings: map[string]speaker.Embedding{},
		failures:   map[string]error{},
		dim:        dim,
	}
}

func (f *fakeEmbedder) Embedding(_ context.Context, audioPath string) (speaker.Embedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, audioPath)
	if err, ok := f.failures[audioPath]; ok {
		return speaker.Embedding{}, err
	}
	if emb, ok := f.embeddings[audioPath]; ok {
		return emb, nil
	}
	return speaker.Embedding{}, errors.New("no embedding stubbed for " + audioPath)
}

func (f *fakeEmbedder) EmbeddingOrZero(ctx context.Context, audioPath string) speaker.Embedding {
	emb, err := f.Embedding(ctx, audioPath)
	if err != nil {
		return speaker.ZeroEmbedding(f.dim)
	}
	return emb
}

func (f *fakeEmbedder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func appWithEmbedder(enc *fakeEmbedder) *appState {
	app := newAppState()
	app.encoderFn = func(context.Context) (embedder, error) {
		return enc, nil
	}
	return app
}

func embeddingOf(values ...float32) speaker.Embedding {
	return speaker.Embedding{Shape: []int{1, 1, len(values)}, Data: values}
}

func writeTestWAV(t *testing.T, dir, name string) string {
	t.Helper()

	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16((i % 64) * 256)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, makePCM16WAVForTest(samples, 16000, 1), 0o644))
	return path
}

func makePCM16WAVForTest(samples []int16, sampleRate int, channels int) []byte {
	bytesPerSample := 2
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
	binary.LittleEndian.PutUint16(out[off:], 16)
	off += 2

	copy(out[off:], []byte("data"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(dataSize))
	off += 4

	for _, s := range samples {
		binary.LittleEndian.PutUint16(out[off:], uint16(s))
		off += 2
	}

	return out
}
