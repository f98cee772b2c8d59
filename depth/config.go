package depth

import (
	"encoding/json"
	"os"
)

// ModelConfig is the optional JSON sidecar shipped next to a model file.
type ModelConfig struct {
	InputName   string    `json:"input_name"`
	OutputName  string    `json:"output_name"`
	InputSize   []int     `json:"input_size"`
	Mean        []float32 `json:"mean"`
	Std         []float32 `json:"std"`
	Layout      string    `json:"layout"`
	ColorOrder  string    `json:"color_order"`
	Interpolate string    `json:"interpolation"`
}

// LoadModelConfig reads and parses a JSON config file.
func LoadModelConfig(path string) (*ModelConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var cfg ModelConfig
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyToOptions copies every field set in the sidecar onto opts.
func (mc *ModelConfig) ApplyToOptions(opts *Options) {
	if mc == nil || opts == nil {
		return
	}
	if mc.InputName != "" {
		opts.InputName = mc.InputName
	}
	if mc.OutputName != "" {
		opts.OutputName = mc.OutputName
	}
	// [C,H,W] or [H,W]
	switch len(mc.InputSize) {
	case 3:
		opts.InputHeight = mc.InputSize[1]
		opts.InputWidth = mc.InputSize[2]
	case 2:
		opts.InputHeight = mc.InputSize[0]
		opts.InputWidth = mc.InputSize[1]
	}
	if len(mc.Mean) == 3 {
		opts.NormalizeMeanRGB = [3]float32{mc.Mean[0], mc.Mean[1], mc.Mean[2]}
	}
	if len(mc.Std) == 3 {
		opts.NormalizeStddevRGB = [3]float32{mc.Std[0], mc.Std[1], mc.Std[2]}
	}
	if mc.Layout != "" {
		opts.InputLayout = mc.Layout
	}
	if mc.ColorOrder != "" {
		opts.ColorOrder = mc.ColorOrder
	}
	if mc.Interpolate != "" {
		opts.Interpolation = mc.Interpolate
	}
}
