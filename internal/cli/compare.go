package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/fmueller/voxprint/internal/speaker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultSameSpeakerThreshold = 0.5

func newCompareCmd(app *appState) *cobra.Command {
	threshold := defaultSameSpeakerThreshold

	cmd := &cobra.Command{
		Use:   "compare <audio-a> <audio-b> [audio-file...]",
		Short: "Score how likely audio files share a speaker",
		Long: "Embeds every file with the same model and prints the cosine similarity between them.\n" +
			"With two files a verdict is printed as well; with more, a similarity matrix.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runCompare(cmd.Context(), cmd.OutOrStdout(), args, threshold)
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", threshold, "Similarity at or above which two files count as the same speaker")

	return cmd
}

func (a *appState) runCompare(ctx context.Context, stdout io.Writer, paths []string, threshold float64) error {
	if threshold < -1 || threshold > 1 {
		return fmt.Errorf("threshold must be between -1 and 1, got %g", threshold)
	}

	encoderFn := a.encoderFn
	if encoderFn == nil {
		encoderFn = a.openEncoder
	}
	enc, err := encoderFn(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := enc.Close(); closeErr != nil {
			a.log().Warn("failed to release speaker encoder", zap.Error(closeErr))
		}
	}()

	progress := startFileProgress(a.progressEnabled(), "Embedding", len(paths), nil)
	embeddings := make([]speaker.Embedding, len(paths))
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			progress.Stop()
			return err
		}
		emb, err := enc.Embedding(ctx, filepath.Clean(path))
		if err != nil {
			progress.Stop()
			return err
		}
		embeddings[i] = emb
		progress.Advance()
	}
	progress.Stop()

	if len(paths) == 2 {
		score, err := speaker.CosineSimilarity(embeddings[0], embeddings[1])
		if err != nil {
			return err
		}
		verdict := "no"
		if score >= threshold {
			verdict = "yes"
		}
		a.log().Debug("compared embeddings", zap.String("a", paths[0]), zap.String("b", paths[1]), zap.Float64("similarity", score))
		fmt.Fprintf(stdout, "similarity: %.4f\n", score)
		fmt.Fprintf(stdout, "same speaker: %s (threshold %.2f)\n", verdict, threshold)
		return nil
	}

	return writeSimilarityMatrix(stdout, paths, embeddings)
}

func writeSimilarityMatrix(w io.Writer, paths []string, embeddings []speaker.Embedding) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i := range paths {
		fmt.Fprintf(tw, "\t[%d]", i+1)
	}
	fmt.Fprintln(tw)

	for i, path := range paths {
		fmt.Fprintf(tw, "[%d] %s", i+1, filepath.Base(path))
		for j := range paths {
			score, err := speaker.CosineSimilarity(embeddings[i], embeddings[j])
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "\t%.4f", score)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
