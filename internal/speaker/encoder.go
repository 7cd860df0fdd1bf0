// Package speaker turns audio into speaker-identity embeddings using a
// pretrained ONNX speaker-verification model.
//
// An Encoder loads the model once and can then embed any number of files:
//
//	enc, err := speaker.NewEncoder(speaker.Options{ModelPath: "campplus.onnx"})
//	if err != nil {
//		return err
//	}
//	defer enc.Close()
//
//	emb, err := enc.Embedding(ctx, "voice.wav") // emb.Shape == [1 1 D]
//
// Audio is decoded, averaged to mono and resampled to 16 kHz before Kaldi
// filterbank features are computed and handed to the model.
package speaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fmueller/voxprint/internal/audio"
	"github.com/fmueller/voxprint/internal/fbank"
	"go.uber.org/zap"
)

// SampleRate is the rate every supported model was trained on.
const SampleRate = 16000

var (
	ErrSilentAudio   = errors.New("audio is silent")
	ErrAudioTooShort = errors.New("audio is too short for a speaker embedding")
)

type Options struct {
	// Runner replaces the ONNX session; ModelPath, LibraryPath, Device and
	// Threads are then ignored.
	Runner      Runner
	ModelPath   string
	LibraryPath string
	Device      Device
	Threads     int

	// Dimension, when set, must match the model's embedding size.
	Dimension int
	Window    fbank.Window

	SilenceGate          bool
	SilenceThresholdDBFS float64

	Logger *zap.Logger
}

type Encoder struct {
	runner    Runner
	extractor *fbank.Extractor
	device    Device
	opts      Options
	logger    *zap.Logger
}

func NewEncoder(opts Options) (*Encoder, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	runner := opts.Runner
	device := opts.Device
	if device == "" {
		device = DeviceAuto
	}

	if runner == nil {
		logger.Info("initializing speaker encoder", zap.String("model", opts.ModelPath), zap.String("device", string(device)))
		onnxRunner, err := NewONNXRunner(ONNXOptions{
			ModelPath:   opts.ModelPath,
			LibraryPath: opts.LibraryPath,
			Device:      device,
			Threads:     opts.Threads,
			Logger:      logger,
		})
		if err != nil {
			logger.Error("failed to load speaker encoder model", zap.String("model", opts.ModelPath), zap.Error(err))
			return nil, err
		}
		runner = onnxRunner
		device = onnxRunner.Device()
	}

	if opts.Dimension > 0 && runner.Dimension() != opts.Dimension {
		_ = runner.Close()
		return nil, fmt.Errorf("model produces %d-dimensional embeddings; expected %d", runner.Dimension(), opts.Dimension)
	}

	cfg := fbank.DefaultConfig()
	if opts.Window != "" {
		cfg.Window = opts.Window
	}

	logger.Info("speaker encoder loaded", zap.String("device", string(device)), zap.Int("dimension", runner.Dimension()))
	return &Encoder{
		runner:    runner,
		extractor: fbank.New(cfg),
		device:    device,
		opts:      opts,
		logger:    logger,
	}, nil
}

func (e *Encoder) Dimension() int {
	return e.runner.Dimension()
}

func (e *Encoder) Device() Device {
	return e.device
}

// Embedding decodes audioPath and returns its speaker embedding shaped
// [1, 1, D].
func (e *Encoder) Embedding(ctx context.Context, audioPath string) (Embedding, error) {
	sig, err := audio.Load(audioPath)
	if err != nil {
		e.logger.Error("failed to generate embedding", zap.String("audio", audioPath), zap.Error(err))
		return Embedding{}, fmt.Errorf("load %s: %w", audioPath, err)
	}

	emb, err := e.EmbedSignal(ctx, sig)
	if err != nil {
		e.logger.Error("failed to generate embedding", zap.String("audio", audioPath), zap.Error(err))
		return Embedding{}, fmt.Errorf("embed %s: %w", audioPath, err)
	}

	e.logger.Info("generated speaker embedding", zap.String("audio", audioPath))
	return emb, nil
}

// EmbeddingOrZero never fails: errors are logged and a zero embedding of
// the model's dimension is returned.
func (e *Encoder) EmbeddingOrZero(ctx context.Context, audioPath string) Embedding {
	emb, err := e.Embedding(ctx, audioPath)
	if err != nil {
		return ZeroEmbedding(e.Dimension())
	}
	return emb
}

// EmbedSignal embeds already decoded audio at any rate and channel count.
func (e *Encoder) EmbedSignal(ctx context.Context, sig audio.Signal) (Embedding, error) {
	started := time.Now()

	if sig.NumChannels() > 1 {
		sig = sig.Mono()
	}

	// Whether the input covers one analysis window is judged at the native
	// rate; the resampler can return a few samples short of it.
	frameLength := e.extractor.Config().FrameLength
	fillsFrame := sig.SampleRate > 0 && sig.Frames()*SampleRate >= frameLength*sig.SampleRate

	if sig.SampleRate != SampleRate {
		resampled, err := audio.Resample(sig, SampleRate)
		if err != nil {
			return Embedding{}, err
		}
		e.logger.Debug("resampled audio", zap.Int("from_hz", sig.SampleRate), zap.Int("to_hz", SampleRate))
		sig = resampled
	}

	samples := sig.Samples()
	if fillsFrame && len(samples) < frameLength {
		padded := make([]float32, frameLength)
		copy(padded, samples)
		samples = padded
	}

	if e.opts.SilenceGate {
		metrics := audio.Measure(samples)
		if audio.IsSilent(metrics, e.opts.SilenceThresholdDBFS) {
			e.logger.Debug(
				"audio considered silent",
				zap.Float64("rms_dbfs", metrics.RMSdBFS),
				zap.Float64("peak_dbfs", metrics.PeakdBFS),
				zap.Float64("threshold_dbfs", e.opts.SilenceThresholdDBFS),
			)
			return Embedding{}, ErrSilentAudio
		}
	}

	features, err := e.extractor.Extract(samples)
	if errors.Is(err, fbank.ErrTooShort) {
		return Embedding{}, fmt.Errorf("%w (%s)", ErrAudioTooShort, sig.Duration())
	}
	if err != nil {
		return Embedding{}, err
	}
	fbank.MeanNormalize(features)

	raw, dims, err := e.runner.Run(ctx, features)
	if err != nil {
		return Embedding{}, fmt.Errorf("run speaker model: %w", err)
	}

	emb, err := Reshape(raw, dims)
	if err != nil {
		return Embedding{}, err
	}

	e.logger.Debug("embedding computed", zap.Int("frames", len(features)), zap.Int("dimension", emb.Dim()), zap.Duration("elapsed", time.Since(started)))
	return emb, nil
}

func (e *Encoder) Close() error {
	return e.runner.Close()
}
