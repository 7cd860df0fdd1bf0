package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/fmueller/voxprint/internal/platform"
	"github.com/fmueller/voxprint/internal/speaker"
	"github.com/spf13/cobra"
)

func newModelsCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the named speaker embedding models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			modelDir, err := platform.ResolveModelDir(app.modelDir)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tDIM\tINSTALLED\tDESCRIPTION")
			for _, name := range speaker.ModelNames() {
				model, _ := speaker.LookupModel(name)

				dim := "auto"
				if model.Dimension > 0 {
					dim = strconv.Itoa(model.Dimension)
				}

				installed, err := modelInstalled(filepath.Join(modelDir, model.FileName))
				if err != nil {
					return err
				}

				label := name
				if name == speaker.DefaultModel {
					label += " (default)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", label, dim, installed, model.Description)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "\nModel directory: %s\n", modelDir)
			return nil
		},
	}
}

func modelInstalled(path string) (string, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return "yes", nil
	case errors.Is(err, os.ErrNotExist):
		return "no", nil
	default:
		return "", fmt.Errorf("stat model path: %w", err)
	}
}
