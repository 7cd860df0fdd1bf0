package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/fmueller/voxprint/internal/download"
	"github.com/fmueller/voxprint/internal/speaker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSetupCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Download and verify a speaker embedding model",
		Long: "Fetches the model selected with --model into the model directory.\n" +
			"A model already on disk is checked against its recorded SHA256 and fetched again when it does not match.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.installModel(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func (a *appState) installModel(ctx context.Context, out io.Writer) error {
	modelDir, err := a.modelStorageDir()
	if err != nil {
		return err
	}

	model, err := speaker.ResolveModel(a.model, modelDir)
	if err != nil {
		return err
	}
	if model.IsCustomPath {
		return fmt.Errorf("setup only fetches named models (%v); %s is a local file", speaker.ModelNames(), model.Path)
	}
	model = a.applyMirror(model)

	checksum, err := a.expectedChecksum(ctx, model)
	if err != nil {
		return err
	}

	if !model.NeedsDownload {
		verifyErr := download.VerifyFileChecksum(model.Path, checksum)
		if verifyErr == nil {
			a.log().Info("model verified", zap.String("model", model.Name), zap.String("path", model.Path))
			fmt.Fprintf(out, "%s is up to date (%s)\n", model.Name, model.Path)
			return nil
		}
		a.log().Warn("stored model failed verification; fetching it again", zap.String("model", model.Name), zap.Error(verifyErr))
	}

	a.log().Info("fetching model", zap.String("model", model.Name), zap.String("url", model.URL))
	if err := a.downloadModel(ctx, model, checksum); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s saved to %s\n", model.Name, model.Path)
	return nil
}

// expectedChecksum prefers a pinned digest and falls back to the published
// checksum list. Empty means the sidecar written at download time decides.
func (a *appState) expectedChecksum(ctx context.Context, model speaker.ResolvedModel) (string, error) {
	if model.SHA256 != "" || model.SHA256URL == "" {
		return model.SHA256, nil
	}
	checksum, err := download.ResolveExpectedChecksum(ctx, model.SHA256URL, filepath.Base(model.Path), nil)
	if err != nil {
		return "", fmt.Errorf("look up checksum of %s: %w", model.Name, err)
	}
	return checksum, nil
}
