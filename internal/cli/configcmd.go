package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/fmueller/voxprint/internal/config"
	"github.com/fmueller/voxprint/internal/platform"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newConfigCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the voxprint config file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := platform.ResolveConfigPath(app.configPath)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective settings after config file and flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return config.Encode(cmd.OutOrStdout(), app.effectiveConfig())
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := platform.ResolveConfigPath(app.configPath)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file already exists at %s; use --force to overwrite", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("stat config file: %w", err)
			}

			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			app.log().Info("config file written", zap.String("path", path))
			fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	cmd.AddCommand(initCmd)

	return cmd
}

func (a *appState) effectiveConfig() config.Config {
	return config.Config{
		Model:          a.model,
		ModelDir:       a.modelDir,
		Mirror:         a.mirror,
		AutoDownload:   a.autoDownload,
		Device:         a.device,
		Threads:        a.threads,
		RuntimeLibrary: a.ortLib,
		Silence: config.SilenceConfig{
			Gate:          a.silenceGate,
			ThresholdDBFS: a.silenceDBFS,
		},
		Output: config.OutputConfig{
			Format: a.format,
		},
	}
}
