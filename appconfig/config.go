package appconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/stevecastle/autostereo/platform"
	"github.com/stevecastle/autostereo/postprocess"
	"github.com/stevecastle/autostereo/stereogram"
	"github.com/stevecastle/autostereo/storage"
)

// Estimator names accepted in DepthConfig.Estimator.
const (
	EstimatorONNX      = "onnx"
	EstimatorLuminance = "luminance"
)

// PatternConfig controls the random carrier tile.
type PatternConfig struct {
	Width int `json:"width"`
	// Seed makes renders reproducible. Nil seeds from the clock.
	Seed *uint64 `json:"seed,omitempty"`
	// Wrap tiles the pattern vertically when its height differs from the
	// depth map's.
	Wrap bool `json:"wrap,omitempty"`
}

// DepthConfig selects and configures the depth estimator.
type DepthConfig struct {
	Estimator            string `json:"estimator"`
	ModelPath            string `json:"modelPath"`
	ConfigPath           string `json:"configPath"`
	ORTSharedLibraryPath string `json:"ortSharedLibraryPath"`
	Threads              int    `json:"threads"`
	// Invert flips the luminance estimator so dark is near.
	Invert bool `json:"invert"`
}

// IsolatorConfig points at the background matting model.
type IsolatorConfig struct {
	ModelPath  string `json:"modelPath"`
	ConfigPath string `json:"configPath"`
}

// AnimateConfig controls animation renders.
type AnimateConfig struct {
	// Condition runs the post-processing chain on every frame's depth map.
	// Off by default: frames go from the estimator to the compositor.
	Condition bool `json:"condition"`
}

// Config holds application configuration: render defaults, model paths,
// output storage and the job server.
type Config struct {
	DBPath    string `json:"dbPath"`
	OutputDir string `json:"outputDir"`

	Geometry    stereogram.Geometry `json:"geometry"`
	Pattern     PatternConfig       `json:"pattern"`
	PostProcess postprocess.Options `json:"postProcess"`
	Depth       DepthConfig         `json:"depth"`
	Isolator    IsolatorConfig      `json:"isolator"`
	Animate     AnimateConfig       `json:"animate"`

	// Workers bounds row and frame parallelism. Zero uses GOMAXPROCS.
	Workers int `json:"workers"`

	S3 storage.S3Config `json:"s3"`

	ServerAddr string `json:"serverAddr"`
	// Number of render jobs run at once by the server.
	JobConcurrency int `json:"jobConcurrency"`

	// JWT Secret for authentication
	JWTSecret string `json:"jwtSecret"`
}

var (
	cfgMu sync.RWMutex
	cfg   Config
)

// DefaultDBPath returns the default job database path in the platform data
// directory.
func DefaultDBPath() string {
	return filepath.Join(platform.GetDataDir(), "autostereo.db")
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	return platform.GetDataDir()
}

func defaultModelDir() string {
	return filepath.Join(platform.GetCacheDir(), "models")
}

// defaultConfig returns a Config populated with sensible defaults.
func defaultConfig() Config {
	return Config{
		DBPath:      DefaultDBPath(),
		OutputDir:   filepath.Join(platform.GetDataDir(), "renders"),
		Geometry:    stereogram.DefaultGeometry(),
		Pattern:     PatternConfig{Width: stereogram.DefaultPatternWidth},
		PostProcess: postprocess.DefaultOptions(),
		Depth: DepthConfig{
			Estimator:            EstimatorONNX,
			ModelPath:            filepath.Join(defaultModelDir(), "midas.onnx"),
			ConfigPath:           filepath.Join(defaultModelDir(), "midas.json"),
			ORTSharedLibraryPath: filepath.Join(platform.GetCacheDir(), "onnxruntime"+platform.SharedLibExtension()),
		},
		Isolator: IsolatorConfig{
			ModelPath: filepath.Join(defaultModelDir(), "u2net.onnx"),
		},
		ServerAddr:     ":8090",
		JobConcurrency: 2,
		JWTSecret:      uuid.New().String(),
	}
}

// Default returns a fresh default config without touching disk.
func Default() Config {
	return defaultConfig()
}

// Validate rejects settings no render could use.
func (c Config) Validate() error {
	if err := c.Geometry.Validate(); err != nil {
		return err
	}
	if c.Pattern.Width <= 0 {
		return fmt.Errorf("pattern width %d must be positive", c.Pattern.Width)
	}
	if c.PostProcess.Gamma <= 0 {
		return fmt.Errorf("gamma %v: %w", c.PostProcess.Gamma, postprocess.ErrInvalidGamma)
	}
	switch c.Depth.Estimator {
	case EstimatorONNX, EstimatorLuminance:
	default:
		return fmt.Errorf("unknown depth estimator %q", c.Depth.Estimator)
	}
	return nil
}

// Get returns a copy of the current in-memory config.
func Get() Config {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return cfg
}

// Set replaces the in-memory config.
func Set(c Config) {
	cfgMu.Lock()
	cfg = c
	cfgMu.Unlock()
}

func isJSONObject(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func deepMergeJSON(dst, src map[string]json.RawMessage) {
	for k, v := range src {
		if existing, ok := dst[k]; ok && isJSONObject(existing) && isJSONObject(v) {
			var dstObj map[string]json.RawMessage
			var srcObj map[string]json.RawMessage
			if err := json.Unmarshal(existing, &dstObj); err != nil {
				dst[k] = v
				continue
			}
			if err := json.Unmarshal(v, &srcObj); err != nil {
				dst[k] = v
				continue
			}
			deepMergeJSON(dstObj, srcObj)
			merged, err := json.Marshal(dstObj)
			if err != nil {
				dst[k] = v
				continue
			}
			dst[k] = merged
			continue
		}
		dst[k] = v
	}
}

// DefaultConfigPath returns the full path to the config.json file.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the config from the default path. See LoadFile.
func Load() (Config, string, error) {
	return LoadFile(DefaultConfigPath())
}

// LoadFile reads the config at path and updates the in-memory config. If the
// file doesn't exist, it is created with default values. Missing fields are
// filled from the defaults.
func LoadFile(path string) (Config, string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Config{}, "", fmt.Errorf("failed to create config directory %s: %w", filepath.Dir(path), err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			def := defaultConfig()
			if err := os.MkdirAll(filepath.Dir(def.DBPath), 0755); err != nil {
				return Config{}, "", fmt.Errorf("failed to create database directory: %w", err)
			}
			savedPath, saveErr := SaveFile(path, def)
			if saveErr != nil {
				return Config{}, path, fmt.Errorf("failed to create default config file: %w", saveErr)
			}
			return def, savedPath, nil
		}
		return Config{}, path, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, path, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	needsSave := fillDefaults(&c, defaultConfig())

	if err := os.MkdirAll(filepath.Dir(c.DBPath), 0755); err != nil {
		return Config{}, path, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Save config if we had to fill in critical missing fields
	if needsSave {
		if _, saveErr := SaveFile(path, c); saveErr != nil {
			fmt.Printf("Warning: failed to save updated config: %v\n", saveErr)
		}
	}

	Set(c)
	return c, path, nil
}

// fillDefaults copies defaults into zero fields of c. It reports whether a
// field that must persist across runs was generated.
func fillDefaults(c *Config, def Config) bool {
	needsSave := false
	if c.DBPath == "" {
		c.DBPath = def.DBPath
		needsSave = true
	}
	if c.OutputDir == "" {
		c.OutputDir = def.OutputDir
	}
	if c.Geometry == (stereogram.Geometry{}) {
		c.Geometry = def.Geometry
	}
	if c.Geometry.EyeSeparation == 0 {
		c.Geometry.EyeSeparation = def.Geometry.EyeSeparation
	}
	if c.Geometry.FarPlane == 0 {
		c.Geometry.FarPlane = def.Geometry.FarPlane
	}
	if c.Pattern.Width == 0 {
		c.Pattern.Width = def.Pattern.Width
	}
	if c.PostProcess.Gamma == 0 {
		c.PostProcess.Gamma = def.PostProcess.Gamma
	}
	if c.PostProcess.SharpenWeight == 0 {
		c.PostProcess.SharpenWeight = def.PostProcess.SharpenWeight
	}
	if c.Depth.Estimator == "" {
		c.Depth.Estimator = def.Depth.Estimator
	}
	if c.Depth.ModelPath == "" {
		c.Depth.ModelPath = def.Depth.ModelPath
		if c.Depth.ConfigPath == "" {
			c.Depth.ConfigPath = def.Depth.ConfigPath
		}
	}
	if c.Depth.ORTSharedLibraryPath == "" {
		c.Depth.ORTSharedLibraryPath = def.Depth.ORTSharedLibraryPath
	}
	if c.Isolator.ModelPath == "" {
		c.Isolator.ModelPath = def.Isolator.ModelPath
	}
	if c.ServerAddr == "" {
		c.ServerAddr = def.ServerAddr
	}
	if c.JobConcurrency == 0 {
		c.JobConcurrency = def.JobConcurrency
	}
	if c.JWTSecret == "" {
		c.JWTSecret = uuid.New().String()
		needsSave = true
	}
	return needsSave
}

// Save writes the config to the default path. See SaveFile.
func Save(c Config) (string, error) {
	return SaveFile(DefaultConfigPath(), c)
}

// SaveFile writes the config to path, merging it over whatever the file
// already holds so unknown keys survive. Returns the path.
func SaveFile(path string, c Config) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return path, fmt.Errorf("failed to create config directory: %w", err)
	}
	base := map[string]json.RawMessage{}
	if existing, readErr := os.ReadFile(path); readErr == nil {
		var tmp map[string]json.RawMessage
		if err := json.Unmarshal(existing, &tmp); err == nil {
			base = tmp
		}
	}

	marshaled, err := json.Marshal(c)
	if err != nil {
		return path, fmt.Errorf("failed to marshal config: %w", err)
	}
	incoming := map[string]json.RawMessage{}
	if err := json.Unmarshal(marshaled, &incoming); err != nil {
		return path, fmt.Errorf("failed to map config JSON: %w", err)
	}

	deepMergeJSON(base, incoming)

	mergedData, err := json.MarshalIndent(base, "", "  ")
	if err != nil {
		return path, fmt.Errorf("failed to marshal merged config: %w", err)
	}
	if err := os.WriteFile(path, mergedData, 0644); err != nil {
		return path, fmt.Errorf("failed to write config file: %w", err)
	}
	Set(c)
	return path, nil
}
