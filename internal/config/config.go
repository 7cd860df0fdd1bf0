// Package config loads voxprint settings from a TOML file. Command-line flags
// take precedence over anything read here.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Model          string        `toml:"model"`
	ModelDir       string        `toml:"model_dir"`
	Mirror         string        `toml:"mirror"`
	AutoDownload   bool          `toml:"auto_download"`
	Device         string        `toml:"device"`
	Threads        int           `toml:"threads"`
	RuntimeLibrary string        `toml:"runtime_library"`
	Silence        SilenceConfig `toml:"silence"`
	Output         OutputConfig  `toml:"output"`
}

type SilenceConfig struct {
	Gate          bool    `toml:"gate"`
	ThresholdDBFS float64 `toml:"threshold_dbfs"`
}

type OutputConfig struct {
	Format string `toml:"format"`
}

func Default() Config {
	return Config{
		Model:        "campplus",
		AutoDownload: true,
		Device:       "auto",
		Silence: SilenceConfig{
			Gate:          false,
			ThresholdDBFS: -65,
		},
		Output: OutputConfig{
			Format: "text",
		},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Default(), fmt.Errorf("config: load %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Default(), fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
	}

	return cfg, nil
}

func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	return Encode(f, cfg)
}

func Encode(w io.Writer, cfg Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return nil
}
