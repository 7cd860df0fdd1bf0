package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fmueller/voxprint/internal/speaker"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"
)

type embedOptions struct {
	output      string
	zeroOnError bool
	normalize   bool
}

func newEmbedCmd(app *appState) *cobra.Command {
	var opts embedOptions

	cmd := &cobra.Command{
		Use:   "embed <audio-file>...",
		Short: "Compute speaker embeddings for audio files",
		Long: `Compute a speaker embedding for each audio file. The model is loaded once.
Each embedding has shape [1, 1, D] where D depends on the model.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runEmbed(cmd.Context(), cmd.OutOrStdout(), args, opts)
		},
	}

	bindEmbedFlags(cmd.Flags(), app, &opts)
	return cmd
}

// bindEmbedFlags is shared by `embed` and the bare root command.
func bindEmbedFlags(flags *pflag.FlagSet, app *appState, opts *embedOptions) {
	flags.StringVarP(&app.format, "format", "f", app.format, "Output format: text|json|msgpack")
	flags.StringVarP(&opts.output, "output", "o", "", "Write embeddings to this file instead of stdout")
	flags.BoolVar(&opts.zeroOnError, "zero-on-error", false, "Emit a zero embedding for files that fail instead of aborting")
	flags.BoolVar(&opts.normalize, "normalize", false, "Scale embeddings to unit length")
}

func (a *appState) runEmbed(ctx context.Context, stdout io.Writer, paths []string, opts embedOptions) (err error) {
	format, err := parseFormat(a.format)
	if err != nil {
		return err
	}

	cleaned := make([]string, len(paths))
	for i, path := range paths {
		cleaned[i] = filepath.Clean(path)
		if _, statErr := os.Stat(cleaned[i]); statErr != nil && !opts.zeroOnError {
			return fmt.Errorf("audio file not found: %w", statErr)
		}
	}
	paths = cleaned

	w := stdout
	if opts.output == "" && isBinaryFormat(format) && isTerminal(stdout) {
		return errors.New("refusing to write msgpack to a terminal; use --output or redirect stdout")
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
	records := make([]embeddingRecord, 0, len(paths))
	for _, path := range paths {
		// EmbeddingOrZero turns cancellation into zero vectors; stop here instead.
		if err := ctx.Err(); err != nil {
			progress.Stop()
			return err
		}
		record := embeddingRecord{Path: path}
		var emb speaker.Embedding
		if opts.zeroOnError {
			emb = enc.EmbeddingOrZero(ctx, path)
			if emb.IsZero() {
				a.log().Warn("using zero embedding", zap.String("audio", path))
				record.Error = "embedding failed; zero vector substituted"
			}
		} else {
			emb, err = enc.Embedding(ctx, path)
			if err != nil {
				progress.Stop()
				return err
			}
		}
		if opts.normalize {
			emb = emb.Normalized()
		}
		record.Shape, record.Embedding = emb.Shape, emb.Data
		records = append(records, record)
		progress.Advance()
	}
	progress.Stop()

	if opts.output != "" {
		if err := os.MkdirAll(filepath.Dir(opts.output), 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
		f, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("close output file: %w", closeErr)
			}
		}()
		w = f
	}

	if err := writeRecords(w, format, records); err != nil {
		return fmt.Errorf("write embeddings: %w", err)
	}
	if opts.output != "" {
		a.log().Info("embeddings written", zap.Int("count", len(records)), zap.String("path", opts.output), zap.String("format", format))
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
