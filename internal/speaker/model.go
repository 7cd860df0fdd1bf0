package speaker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fmueller/voxprint/internal/fbank"
)

const DefaultModel = "campplus"

const releaseBase = "https://github.com/k2-fsa/sherpa-onnx/releases/download/speaker-recongition-models/"

// Model describes a downloadable ONNX speaker encoder. Every entry takes
// [1, T, 80] log-mel features and returns one embedding. Dimension 0 means
// the size is read from the model at load time.
type Model struct {
	Name        string
	Description string
	FileName    string
	URL         string
	SHA256      string
	SHA256URL   string
	Dimension   int
	Window      fbank.Window
}

type ResolvedModel struct {
	Name          string
	Path          string
	URL           string
	SHA256        string
	SHA256URL     string
	Dimension     int
	Window        fbank.Window
	NeedsDownload bool
	IsCustomPath  bool
}

var registry = map[string]Model{
	"campplus": {
		Name:        "campplus",
		Description: "WeSpeaker CAM++ trained on VoxCeleb (English)",
		FileName:    "wespeaker_en_voxceleb_CAM++.onnx",
		URL:         releaseBase + "wespeaker_en_voxceleb_CAM++.onnx",
		Dimension:   512,
		Window:      fbank.WindowHamming,
	},
	"resnet34": {
		Name:        "resnet34",
		Description: "WeSpeaker ResNet34 trained on VoxCeleb (English)",
		FileName:    "wespeaker_en_voxceleb_resnet34.onnx",
		URL:         releaseBase + "wespeaker_en_voxceleb_resnet34.onnx",
		Dimension:   256,
		Window:      fbank.WindowHamming,
	},
	"eres2net": {
		Name:        "eres2net",
		Description: "3D-Speaker ERes2Net trained on VoxCeleb (English)",
		FileName:    "3dspeaker_speech_eres2net_sv_en_voxceleb_16k.onnx",
		URL:         releaseBase + "3dspeaker_speech_eres2net_sv_en_voxceleb_16k.onnx",
		Window:      fbank.WindowPovey,
	},
	"campplus-zh": {
		Name:        "campplus-zh",
		Description: "3D-Speaker CAM++ trained on 200k Mandarin speakers",
		FileName:    "3dspeaker_speech_campplus_sv_zh-cn_16k-common.onnx",
		URL:         releaseBase + "3dspeaker_speech_campplus_sv_zh-cn_16k-common.onnx",
		Window:      fbank.WindowPovey,
	},
}

func ModelNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func LookupModel(name string) (Model, bool) {
	model, ok := registry[name]
	return model, ok
}

// ResolveModel maps a registry name (empty means DefaultModel) or a path to
// an .onnx file onto a location on disk.
func ResolveModel(modelRef, modelDir string) (ResolvedModel, error) {
	if strings.TrimSpace(modelRef) == "" {
		modelRef = DefaultModel
	}

	if model, ok := LookupModel(modelRef); ok {
		if strings.TrimSpace(modelDir) == "" {
			return ResolvedModel{}, errors.New("model directory must not be empty for named model")
		}

		modelPath := filepath.Join(modelDir, model.FileName)
		_, statErr := os.Stat(modelPath)
		needsDownload := errors.Is(statErr, os.ErrNotExist)
		if statErr != nil && !needsDownload {
			return ResolvedModel{}, fmt.Errorf("stat model path: %w", statErr)
		}

		return ResolvedModel{
			Name:          model.Name,
			Path:          modelPath,
			URL:           model.URL,
			SHA256:        model.SHA256,
			SHA256URL:     model.SHA256URL,
			Dimension:     model.Dimension,
			Window:        model.Window,
			NeedsDownload: needsDownload,
		}, nil
	}

	if !looksLikePath(modelRef) {
		return ResolvedModel{}, fmt.Errorf("unknown model %q (known models: %s)", modelRef, strings.Join(ModelNames(), ", "))
	}

	customPath := filepath.Clean(modelRef)
	if _, err := os.Stat(customPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ResolvedModel{}, fmt.Errorf("custom model path does not exist: %s", customPath)
		}
		return ResolvedModel{}, fmt.Errorf("stat custom model path: %w", err)
	}

	return ResolvedModel{
		Name:         strings.TrimSuffix(filepath.Base(customPath), filepath.Ext(customPath)),
		Path:         customPath,
		Window:       fbank.WindowPovey,
		IsCustomPath: true,
	}, nil
}

func looksLikePath(input string) bool {
	return strings.ContainsRune(input, os.PathSeparator) || strings.HasSuffix(strings.ToLower(input), ".onnx")
}
