package speaker

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/fmueller/voxprint/internal/platform"
)

// LibraryEnv overrides ONNX Runtime shared library discovery.
const LibraryEnv = "VOXPRINT_ORT_LIB"

var ErrRuntimeUnavailable = errors.New("onnx runtime library not found")

type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

func ParseDevice(value string) (Device, error) {
	switch Device(strings.ToLower(strings.TrimSpace(value))) {
	case "", DeviceAuto:
		return DeviceAuto, nil
	case DeviceCPU:
		return DeviceCPU, nil
	case DeviceCUDA, "gpu":
		return DeviceCUDA, nil
	default:
		return "", fmt.Errorf("unknown device %q (expected auto, cpu or cuda)", value)
	}
}

// ResolveLibraryPath picks the ONNX Runtime shared library: an explicit
// path first, then $VOXPRINT_ORT_LIB, then the platform candidates around
// the running executable.
func ResolveLibraryPath(explicit string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		if err := ensureLibrary(explicit); err != nil {
			return "", fmt.Errorf("onnx runtime library %s: %w", explicit, err)
		}
		return explicit, nil
	}

	if override := strings.TrimSpace(os.Getenv(LibraryEnv)); override != "" {
		if err := ensureLibrary(override); err != nil {
			return "", fmt.Errorf("%s is not usable: %w", LibraryEnv, err)
		}
		return override, nil
	}

	executable, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve voxprint executable path: %w", err)
	}

	return findLibrary(platform.RuntimeLibraryCandidates(runtime.GOOS, runtime.GOARCH, executable))
}

func findLibrary(candidates []string) (string, error) {
	for _, candidate := range candidates {
		if err := ensureLibrary(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w; install onnxruntime or set %s to %s", ErrRuntimeUnavailable, LibraryEnv, platform.RuntimeLibraryName(runtime.GOOS))
}

func ensureLibrary(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

func isMissingSharedLibraryError(message string) bool {
	value := strings.ToLower(strings.TrimSpace(message))
	if value == "" {
		return false
	}

	patterns := []string{
		"error while loading shared libraries",
		"cannot open shared object file",
		"library not loaded",
		"image not found",
		"error loading onnxruntime",
	}

	for _, pattern := range patterns {
		if strings.Contains(value, pattern) {
			return true
		}
	}

	return false
}
