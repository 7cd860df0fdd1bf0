package speaker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fmueller/voxprint/internal/fbank"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// Runner turns a [T][bins] feature matrix into a raw model output and its
// shape. Implementations must be safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, features [][]float32) ([]float32, []int64, error)
	Dimension() int
	Close() error
}

// The ONNX Runtime environment is process-wide; sessions share it.
var (
	envMu    sync.Mutex
	envUsers int
)

func acquireEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envUsers == 0 {
		ort.SetSharedLibraryPath(libraryPath)
		if err := ort.InitializeEnvironment(); err != nil {
			if isMissingSharedLibraryError(err.Error()) {
				return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
			}
			return fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}
	envUsers++
	return nil
}

func releaseEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()

	if envUsers == 0 {
		return nil
	}
	envUsers--
	if envUsers == 0 {
		return ort.DestroyEnvironment()
	}
	return nil
}

type ONNXOptions struct {
	ModelPath   string
	LibraryPath string
	Device      Device
	Threads     int
	Logger      *zap.Logger
}

type ONNXRunner struct {
	mu          sync.Mutex
	session     *ort.DynamicAdvancedSession
	inputName   string
	outputName  string
	outputShape ort.Shape
	numBins     int
	dim         int
	device      Device
	closed      bool
}

func NewONNXRunner(opts ONNXOptions) (*ONNXRunner, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	libraryPath, err := ResolveLibraryPath(opts.LibraryPath)
	if err != nil {
		return nil, err
	}
	if err := acquireEnvironment(libraryPath); err != nil {
		return nil, err
	}
	logger.Debug("onnx runtime ready", zap.String("library", libraryPath))

	r, err := newONNXRunner(opts, logger)
	if err != nil {
		_ = releaseEnvironment()
		return nil, err
	}
	return r, nil
}

func newONNXRunner(opts ONNXOptions, logger *zap.Logger) (*ONNXRunner, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect model %s: %w", opts.ModelPath, err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("model %s has %d inputs and %d outputs; want one feature input and an embedding output", opts.ModelPath, len(inputs), len(outputs))
	}

	in, out := inputs[0], outputs[0]
	if len(in.Dimensions) != 3 {
		return nil, fmt.Errorf("model input %q has shape %v; want [batch, frames, bins]", in.Name, in.Dimensions)
	}

	numBins := int(in.Dimensions[2])
	if numBins <= 0 {
		numBins = fbank.DefaultConfig().NumMels
	}

	outputShape, dim, err := concreteOutputShape(out.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("model output %q: %w", out.Name, err)
	}

	session, device, err := openSession(opts, in.Name, out.Name, logger)
	if err != nil {
		return nil, err
	}

	return &ONNXRunner{
		session:     session,
		inputName:   in.Name,
		outputName:  out.Name,
		outputShape: outputShape,
		numBins:     numBins,
		dim:         dim,
		device:      device,
	}, nil
}

// concreteOutputShape pins a dynamic batch axis to 1. Any other dynamic axis
// leaves the embedding size unknown.
func concreteOutputShape(dims ort.Shape) (ort.Shape, int, error) {
	if len(dims) == 0 {
		return nil, 0, errors.New("output is a scalar")
	}

	shape := make(ort.Shape, len(dims))
	dim := 1
	for i, d := range dims {
		switch {
		case d > 0:
			shape[i] = d
		case i == 0:
			shape[i] = 1
		default:
			return nil, 0, fmt.Errorf("axis %d of shape %v is dynamic", i, dims)
		}
		dim *= int(shape[i])
	}
	return shape, dim, nil
}

func openSession(opts ONNXOptions, inputName, outputName string, logger *zap.Logger) (*ort.DynamicAdvancedSession, Device, error) {
	device := opts.Device
	if device == "" {
		device = DeviceAuto
	}

	if device == DeviceCUDA || device == DeviceAuto {
		session, err := newSession(opts, inputName, outputName, true)
		if err == nil {
			return session, DeviceCUDA, nil
		}
		if device == DeviceCUDA {
			return nil, "", fmt.Errorf("open model on cuda: %w", err)
		}
		logger.Debug("cuda execution provider unavailable; using cpu", zap.Error(err))
	}

	session, err := newSession(opts, inputName, outputName, false)
	if err != nil {
		return nil, "", fmt.Errorf("open model %s: %w", opts.ModelPath, err)
	}
	return session, DeviceCPU, nil
}

func newSession(opts ONNXOptions, inputName, outputName string, cuda bool) (*ort.DynamicAdvancedSession, error) {
	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer sessionOpts.Destroy()

	if opts.Threads > 0 {
		if err := sessionOpts.SetIntraOpNumThreads(opts.Threads); err != nil {
			return nil, fmt.Errorf("set intra-op threads: %w", err)
		}
	}

	if cuda {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, err
		}
		defer cudaOpts.Destroy()
		if err := sessionOpts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			return nil, err
		}
	}

	return ort.NewDynamicAdvancedSession(opts.ModelPath, []string{inputName}, []string{outputName}, sessionOpts)
}

func (r *ONNXRunner) Run(ctx context.Context, features [][]float32) ([]float32, []int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if len(features) == 0 {
		return nil, nil, errors.New("no feature frames")
	}
	if len(features[0]) != r.numBins {
		return nil, nil, fmt.Errorf("features have %d bins; model expects %d", len(features[0]), r.numBins)
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(len(features)), int64(r.numBins)), fbank.Flatten(features))
	if err != nil {
		return nil, nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](r.outputShape)
	if err != nil {
		return nil, nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer output.Destroy()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, nil, errors.New("runner is closed")
	}
	err = r.session.Run([]ort.Value{input}, []ort.Value{output})
	r.mu.Unlock()
	if err != nil {
		return nil, nil, fmt.Errorf("run %s: %w", r.outputName, err)
	}

	data := append([]float32(nil), output.GetData()...)
	return data, []int64(r.outputShape), nil
}

func (r *ONNXRunner) Dimension() int {
	return r.dim
}

// Device is the execution provider the session ended up on.
func (r *ONNXRunner) Device() Device {
	return r.device
}

func (r *ONNXRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	err := r.session.Destroy()
	return errors.Join(err, releaseEnvironment())
}
