package downloads

import (
	"fmt"
	"path"
	"strings"

	"github.com/stevecastle/autostereo/appconfig"
)

// ONNXRuntimeVersion is the runtime release fetched for the depth models.
const ONNXRuntimeVersion = "1.22.0"

const (
	// MiDaSURL is the MiDaS v2.1 depth model (384x384, ImageNet normalization).
	MiDaSURL = "https://github.com/isl-org/MiDaS/releases/download/v2_1/model-f6b98070.onnx"
	// U2NetURL is the U²-Net salient object model used for background removal.
	U2NetURL = "https://github.com/danielgatis/rembg/releases/download/v0.0.0/u2net.onnx"
)

// midasSidecar matches the model config to the MiDaS v2.1 release, whose
// preprocessing differs from the estimator defaults.
const midasSidecar = `{
  "input_size": [384, 384],
  "mean": [0.485, 0.456, 0.406],
  "std": [0.229, 0.224, 0.225]
}
`

// Asset is one file to install. Exactly one of URL or Data is set. When
// Member is set, URL names an archive and Member picks the file to keep.
type Asset struct {
	Name   string
	URL    string
	Data   []byte
	Path   string
	Member func(name string) bool
}

// ONNXRuntimeURL returns the release archive for goos/arch.
func ONNXRuntimeURL(version, goos, arch string) (string, error) {
	base := "https://github.com/microsoft/onnxruntime/releases/download/v" + version + "/onnxruntime-"
	var platform, ext string
	switch goos + "/" + arch {
	case "windows/amd64":
		platform, ext = "win-x64", ".zip"
	case "windows/arm64":
		platform, ext = "win-arm64", ".zip"
	case "darwin/amd64":
		platform, ext = "osx-x86_64", ".tgz"
	case "darwin/arm64":
		platform, ext = "osx-arm64", ".tgz"
	case "linux/amd64":
		platform, ext = "linux-x64", ".tgz"
	case "linux/arm64":
		platform, ext = "linux-aarch64", ".tgz"
	default:
		return "", fmt.Errorf("no onnxruntime build for %s/%s", goos, arch)
	}
	return base + platform + "-" + version + ext, nil
}

// isRuntimeLibrary matches the main runtime library inside a release
// archive: onnxruntime.dll, libonnxruntime.so.1.22.0 or
// libonnxruntime.1.22.0.dylib, but not the provider plugins.
func isRuntimeLibrary(name string) bool {
	base := path.Base(name)
	if strings.Contains(base, "providers") {
		return false
	}
	base = strings.TrimPrefix(base, "lib")
	if !strings.HasPrefix(base, "onnxruntime.") {
		return false
	}
	return strings.HasSuffix(base, ".dll") || strings.Contains(base, ".so") || strings.HasSuffix(base, ".dylib")
}

// Assets lists what the configured ONNX estimator needs on goos/arch: the
// runtime library, the depth model with its sidecar and, when background
// removal is on, the matte model.
func Assets(cfg appconfig.Config, goos, arch string) ([]Asset, error) {
	ortURL, err := ONNXRuntimeURL(ONNXRuntimeVersion, goos, arch)
	if err != nil {
		return nil, err
	}
	assets := []Asset{
		{Name: "onnxruntime " + ONNXRuntimeVersion, URL: ortURL, Path: cfg.Depth.ORTSharedLibraryPath, Member: isRuntimeLibrary},
		{Name: "depth model", URL: MiDaSURL, Path: cfg.Depth.ModelPath},
	}
	if cfg.Depth.ConfigPath != "" {
		assets = append(assets, Asset{Name: "depth model config", Data: []byte(midasSidecar), Path: cfg.Depth.ConfigPath})
	}
	if cfg.PostProcess.RemoveBackground && cfg.Isolator.ModelPath != "" {
		assets = append(assets, Asset{Name: "matte model", URL: U2NetURL, Path: cfg.Isolator.ModelPath})
	}
	return assets, nil
}
