// Package platform resolves per-OS locations for models, configuration and
// the ONNX Runtime shared library.
package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const appName = "voxprint"

func NormalizeArch(arch string) string {
	switch arch {
	case "x86_64":
		return "amd64"
	case "aarch64":
		return "arm64"
	default:
		return arch
	}
}

func DefaultModelDirFor(goos, homeDir, xdgDataHome string) (string, error) {
	if homeDir == "" {
		return "", errors.New("home directory is empty")
	}

	switch goos {
	case "linux":
		if xdgDataHome != "" {
			return filepath.Join(xdgDataHome, appName, "models"), nil
		}
		return filepath.Join(homeDir, ".local", "share", appName, "models"), nil
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", appName, "models"), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", goos)
	}
}

func DefaultConfigPathFor(goos, homeDir, xdgConfigHome string) (string, error) {
	if homeDir == "" {
		return "", errors.New("home directory is empty")
	}

	switch goos {
	case "linux":
		if xdgConfigHome != "" {
			return filepath.Join(xdgConfigHome, appName, "config.toml"), nil
		}
		return filepath.Join(homeDir, ".config", appName, "config.toml"), nil
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", appName, "config.toml"), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", goos)
	}
}

func ResolveModelDir(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	return DefaultModelDirFor(runtime.GOOS, homeDir, os.Getenv("XDG_DATA_HOME"))
}

func ResolveConfigPath(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	return DefaultConfigPathFor(runtime.GOOS, homeDir, os.Getenv("XDG_CONFIG_HOME"))
}

// RuntimeLibraryName is the file name of the ONNX Runtime shared library.
func RuntimeLibraryName(goos string) string {
	switch goos {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// RuntimeLibraryCandidates lists where an ONNX Runtime library is looked for,
// in order: next to the executable, then the usual system prefixes.
func RuntimeLibraryCandidates(goos, goarch, executable string) []string {
	name := RuntimeLibraryName(goos)
	binDir := filepath.Dir(executable)
	hostTarget := fmt.Sprintf("%s_%s", goos, NormalizeArch(goarch))

	candidates := []string{
		filepath.Join(binDir, "..", "lib", appName, name),
		filepath.Join(binDir, "..", "lib", name),
		filepath.Join(binDir, "lib", name),
		filepath.Join(binDir, "packaging", "onnxruntime", hostTarget, name),
		filepath.Join(binDir, name),
	}

	switch goos {
	case "darwin":
		candidates = append(candidates, "/opt/homebrew/lib/"+name, "/usr/local/lib/"+name)
	case "linux":
		candidates = append(candidates, "/usr/local/lib/"+name, "/usr/lib/"+name, "/usr/lib/x86_64-linux-gnu/"+name, "/usr/lib/aarch64-linux-gnu/"+name)
	}

	return candidates
}
