package main

import (
	"flag"

	"github.com/stevecastle/autostereo/appconfig"
)

// renderFlags are the flags shared by still and animate. Flags the user
// sets override the config file; the rest keep the configured value.
type renderFlags struct {
	fs *flag.FlagSet

	configPath *string
	in         *string
	out        *string
	depthPath  *string
	artifact   *string

	estimator  *string
	model      *string
	matteModel *string
	invert     *bool

	eye  *float64
	near *float64
	far  *float64

	gamma         *float64
	sharpenWeight *float64
	noBG          *bool
	noContrast    *bool
	noSharpen     *bool

	patternWidth *int
	seed         *uint64
	wrap         *bool
	workers      *int

	// animate only
	condition *bool
}

func newRenderFlags(name string) *renderFlags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	def := appconfig.Default()
	f := &renderFlags{
		fs:         fs,
		configPath: fs.String("config", "", "config file (default: platform config dir)"),
		in:         fs.String("in", "", "input path"),
		out:        fs.String("out", "", "output path (.png, .jpg, .gif or s3://bucket/key)"),
		depthPath:  fs.String("depth", "", "precomputed depth map; skips depth estimation"),
		artifact:   fs.String("artifact", "", "write a CBOR composition bundle to this path"),

		estimator:  fs.String("estimator", def.Depth.Estimator, "depth estimator: onnx|luminance"),
		model:      fs.String("model", "", "depth model path (default from config)"),
		matteModel: fs.String("matte-model", "", "background matting model path (default from config)"),
		invert:     fs.Bool("invert", false, "luminance estimator: treat dark as near"),

		eye:  fs.Float64("eye", def.Geometry.EyeSeparation, "eye separation"),
		near: fs.Float64("near", def.Geometry.NearPlane, "near plane"),
		far:  fs.Float64("far", def.Geometry.FarPlane, "far plane"),

		gamma:         fs.Float64("gamma", def.PostProcess.Gamma, "depth gamma"),
		sharpenWeight: fs.Float64("sharpen-weight", def.PostProcess.SharpenWeight, "depth sharpening weight"),
		noBG:          fs.Bool("no-bg", false, "keep the background"),
		noContrast:    fs.Bool("no-contrast", false, "skip the depth gamma adjustment"),
		noSharpen:     fs.Bool("no-sharpen", false, "skip depth sharpening"),

		patternWidth: fs.Int("pattern-width", def.Pattern.Width, "pattern tile width in pixels"),
		seed:         fs.Uint64("seed", 0, "pattern seed for reproducible output"),
		wrap:         fs.Bool("wrap", false, "tile the pattern vertically when heights differ"),
		workers:      fs.Int("workers", def.Workers, "row and frame workers (0 = GOMAXPROCS)"),
	}
	if name == "animate" {
		f.condition = fs.Bool("condition", def.Animate.Condition, "run the depth post-processing chain on every frame")
	}
	return f
}

func (f *renderFlags) parse(args []string) error {
	return f.fs.Parse(args)
}

// config loads the config file and applies every flag that was set.
func (f *renderFlags) config() (appconfig.Config, error) {
	cfg, err := loadConfig(*f.configPath)
	if err != nil {
		return cfg, err
	}
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "estimator":
			cfg.Depth.Estimator = *f.estimator
		case "model":
			cfg.Depth.ModelPath = *f.model
		case "matte-model":
			cfg.Isolator.ModelPath = *f.matteModel
		case "invert":
			cfg.Depth.Invert = *f.invert
		case "eye":
			cfg.Geometry.EyeSeparation = *f.eye
		case "near":
			cfg.Geometry.NearPlane = *f.near
		case "far":
			cfg.Geometry.FarPlane = *f.far
		case "gamma":
			cfg.PostProcess.Gamma = *f.gamma
		case "sharpen-weight":
			cfg.PostProcess.SharpenWeight = *f.sharpenWeight
		case "no-bg":
			cfg.PostProcess.RemoveBackground = !*f.noBG
		case "no-contrast":
			cfg.PostProcess.AdjustContrast = !*f.noContrast
		case "no-sharpen":
			cfg.PostProcess.Sharpen = !*f.noSharpen
		case "pattern-width":
			cfg.Pattern.Width = *f.patternWidth
		case "seed":
			seed := *f.seed
			cfg.Pattern.Seed = &seed
		case "wrap":
			cfg.Pattern.Wrap = *f.wrap
		case "workers":
			cfg.Workers = *f.workers
		case "condition":
			cfg.Animate.Condition = *f.condition
		}
	})
	return cfg, cfg.Validate()
}
