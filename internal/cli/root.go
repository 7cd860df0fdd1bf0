package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fmueller/voxprint/internal/config"
	"github.com/fmueller/voxprint/internal/download"
	"github.com/fmueller/voxprint/internal/logging"
	"github.com/fmueller/voxprint/internal/platform"
	"github.com/fmueller/voxprint/internal/speaker"
	"github.com/fmueller/voxprint/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// TokenEnv holds a bearer token sent with model downloads, for mirrors
// that require authentication.
const TokenEnv = "VOXPRINT_DOWNLOAD_TOKEN"

type embedder interface {
	Embedding(ctx context.Context, audioPath string) (speaker.Embedding, error)
	EmbeddingOrZero(ctx context.Context, audioPath string) speaker.Embedding
	Close() error
}

type appState struct {
	verbose      bool
	quiet        bool
	jsonLogs     bool
	noProgress   bool
	configPath   string
	model        string
	modelDir     string
	mirror       string
	autoDownload bool
	device       string
	threads      int
	ortLib       string
	silenceGate  bool
	silenceDBFS  float64
	format       string

	logger *zap.Logger

	encoderFn  func(ctx context.Context) (embedder, error)
	downloadFn func(ctx context.Context, opts download.Options) error
}

func newAppState() *appState {
	defaults := config.Default()
	app := &appState{
		model:        defaults.Model,
		autoDownload: defaults.AutoDownload,
		device:       defaults.Device,
		silenceGate:  defaults.Silence.Gate,
		silenceDBFS:  defaults.Silence.ThresholdDBFS,
		format:       defaults.Output.Format,
	}
	app.encoderFn = app.openEncoder
	app.downloadFn = download.DownloadFile
	return app
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(newAppState())
}

func newRootCmd(app *appState) *cobra.Command {
	var opts embedOptions

	cmd := &cobra.Command{
		Use:           "voxprint [audio-file...]",
		Short:         "Extract speaker embeddings from audio with a pretrained model",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.prepare(cmd.Flags())
		},
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return app.runEmbed(cmd.Context(), cmd.OutOrStdout(), args, opts)
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	flags := cmd.PersistentFlags()
	flags.StringVar(&app.configPath, "config", app.configPath, "Config file (default: platform config dir)/voxprint/config.toml")
	flags.BoolVar(&app.verbose, "verbose", app.verbose, "Enable verbose logs")
	flags.BoolVarP(&app.quiet, "quiet", "q", app.quiet, "Only log warnings and errors")
	flags.BoolVar(&app.jsonLogs, "json", app.jsonLogs, "Enable JSON logging")
	flags.BoolVar(&app.noProgress, "no-progress", app.noProgress, "Disable progress indicators")
	bindModelFlags(flags, app)
	bindRuntimeFlags(flags, app)
	bindSilenceFlags(flags, app)
	bindEmbedFlags(cmd.Flags(), app, &opts)

	cmd.AddCommand(newEmbedCmd(app))
	cmd.AddCommand(newCompareCmd(app))
	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newModelsCmd(app))
	cmd.AddCommand(newConfigCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func bindModelFlags(flags *pflag.FlagSet, app *appState) {
	flags.StringVar(&app.model, "model", app.model, "Model name ("+strings.Join(speaker.ModelNames(), "|")+") or path to an .onnx file")
	flags.StringVar(&app.modelDir, "model-dir", app.modelDir, "Directory where models are stored")
	flags.StringVar(&app.mirror, "mirror", app.mirror, "Base URL to download named models from instead of the upstream release")
	flags.BoolVar(&app.autoDownload, "auto-download", app.autoDownload, "Automatically download missing models")
}

func bindRuntimeFlags(flags *pflag.FlagSet, app *appState) {
	flags.StringVar(&app.device, "device", app.device, "Inference device: auto|cpu|cuda")
	flags.IntVar(&app.threads, "threads", app.threads, "Intra-op threads for inference; 0 lets ONNX Runtime decide")
	flags.StringVar(&app.ortLib, "ort-lib", app.ortLib, "Path to the ONNX Runtime shared library (or set "+speaker.LibraryEnv+")")
}

func bindSilenceFlags(flags *pflag.FlagSet, app *appState) {
	flags.BoolVar(&app.silenceGate, "silence-gate", app.silenceGate, "Refuse to embed near-silent audio")
	flags.Float64Var(&app.silenceDBFS, "silence-threshold-dbfs", app.silenceDBFS, "Silence gate threshold in dBFS")
}

// prepare applies the config file underneath any flag set on the command
// line, then builds the logger.
func (a *appState) prepare(flags *pflag.FlagSet) error {
	configPath, err := platform.ResolveConfigPath(a.configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	a.applyConfig(cfg, flags.Changed)

	logger, err := logging.New(logging.Options{Verbose: a.verbose, Quiet: a.quiet, JSON: a.jsonLogs})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	a.logger = logger
	a.log().Debug("configuration loaded", zap.String("path", configPath))
	return nil
}

func (a *appState) applyConfig(cfg config.Config, changed func(string) bool) {
	if !changed("model") && cfg.Model != "" {
		a.model = cfg.Model
	}
	if !changed("model-dir") && cfg.ModelDir != "" {
		a.modelDir = cfg.ModelDir
	}
	if !changed("mirror") && cfg.Mirror != "" {
		a.mirror = cfg.Mirror
	}
	if !changed("auto-download") {
		a.autoDownload = cfg.AutoDownload
	}
	if !changed("device") && cfg.Device != "" {
		a.device = cfg.Device
	}
	if !changed("threads") && cfg.Threads > 0 {
		a.threads = cfg.Threads
	}
	if !changed("ort-lib") && cfg.RuntimeLibrary != "" {
		a.ortLib = cfg.RuntimeLibrary
	}
	if !changed("silence-gate") {
		a.silenceGate = cfg.Silence.Gate
	}
	if !changed("silence-threshold-dbfs") {
		a.silenceDBFS = cfg.Silence.ThresholdDBFS
	}
	if !changed("format") && cfg.Output.Format != "" {
		a.format = cfg.Output.Format
	}
}

func (a *appState) openEncoder(ctx context.Context) (embedder, error) {
	device, err := speaker.ParseDevice(a.device)
	if err != nil {
		return nil, err
	}

	model, err := a.ensureModelAvailable(ctx)
	if err != nil {
		return nil, err
	}

	stopSpinner := startSpinner(a.progressEnabled(), "Loading model")
	enc, err := speaker.NewEncoder(speaker.Options{
		ModelPath:            model.Path,
		LibraryPath:          a.ortLib,
		Device:               device,
		Threads:              a.threads,
		Dimension:            model.Dimension,
		Window:               model.Window,
		SilenceGate:          a.silenceGate,
		SilenceThresholdDBFS: a.silenceDBFS,
		Logger:               a.log(),
	})
	stopSpinner()
	if err != nil {
		return nil, err
	}
	return enc, nil
}

func (a *appState) ensureModelAvailable(ctx context.Context) (speaker.ResolvedModel, error) {
	modelDir, err := a.modelStorageDir()
	if err != nil {
		return speaker.ResolvedModel{}, err
	}

	resolved, err := speaker.ResolveModel(a.model, modelDir)
	if err != nil {
		return speaker.ResolvedModel{}, err
	}
	resolved = a.applyMirror(resolved)

	if !resolved.NeedsDownload {
		return resolved, nil
	}

	if !a.autoDownload {
		return speaker.ResolvedModel{}, fmt.Errorf("model %q is missing at %s; run `voxprint setup --model %s` or use --auto-download=true", resolved.Name, resolved.Path, resolved.Name)
	}

	a.log().Info("model not found, downloading", zap.String("model", resolved.Name), zap.String("destination", resolved.Path))
	if err := a.downloadModel(ctx, resolved, resolved.SHA256); err != nil {
		return speaker.ResolvedModel{}, err
	}

	resolved.NeedsDownload = false
	return resolved, nil
}

func (a *appState) downloadModel(ctx context.Context, resolved speaker.ResolvedModel, checksum string) error {
	downloadFn := a.downloadFn
	if downloadFn == nil {
		downloadFn = download.DownloadFile
	}

	if err := downloadFn(ctx, download.Options{
		URL:            resolved.URL,
		Destination:    resolved.Path,
		ExpectedSHA256: checksum,
		ChecksumURL:    resolved.SHA256URL,
		BearerToken:    os.Getenv(TokenEnv),
		UserAgent:      "voxprint/" + version.Version,
		NoProgress:     a.noProgress,
		Logger:         a.log(),
	}); err != nil {
		return fmt.Errorf("download model %q: %w", resolved.Name, err)
	}
	return nil
}

// applyMirror points named models at the configured mirror. Pinned
// checksums still apply; an upstream checksum URL does not.
func (a *appState) applyMirror(resolved speaker.ResolvedModel) speaker.ResolvedModel {
	mirror := strings.TrimSpace(a.mirror)
	if mirror == "" || resolved.IsCustomPath {
		return resolved
	}
	base := resolved.URL[strings.LastIndex(resolved.URL, "/")+1:]
	resolved.URL = strings.TrimSuffix(mirror, "/") + "/" + base
	resolved.SHA256URL = ""
	return resolved
}

func (a *appState) modelStorageDir() (string, error) {
	dir, err := platform.ResolveModelDir(a.modelDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory %s: %w", dir, err)
	}
	return dir, nil
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
