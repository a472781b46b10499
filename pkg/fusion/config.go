package fusion

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/abworrall/hdrmerge/pkg/align"
	"github.com/abworrall/hdrmerge/pkg/calibrate"
	"github.com/abworrall/hdrmerge/pkg/exposure"
	"github.com/abworrall/hdrmerge/pkg/merge"
	"github.com/abworrall/hdrmerge/pkg/photoset"
	"github.com/abworrall/hdrmerge/pkg/tonemap"
)

type Config struct {
	InputDir       string `yaml:"input_dir"`
	HDRPath        string `yaml:"hdr_path"`
	PreviewPath    string `yaml:"preview_path"`
	PreviewQuality int    `yaml:"preview_quality"` // JPEG quality, 1-100

	OnDecodeError   string `yaml:"on_decode_error"`  // fail, skip
	ExposureBackend string `yaml:"exposure_backend"` // exif, exiftool
	Workers         int    `yaml:"workers"`          // 0 means one per CPU

	DoAlignment       bool   `yaml:"align"`
	AlignMaxBits      int    `yaml:"align_max_bits"`
	AlignExcludeRange int    `yaml:"align_exclude_range"`
	AlignDebugDir     string `yaml:"align_debug_dir"` // if set, threshold bitmaps for each image go here

	CalibrationSamples int     `yaml:"calibration_samples"`
	CalibrationLambda  float64 `yaml:"calibration_lambda"`
	ResponsePlot       string  `yaml:"response_plot"` // if set, a PNG of the response curve goes here

	Fuser          string  `yaml:"fuser"`           // debevec, mostexposed
	FuserLuminance float64 `yaml:"fuser_luminance"` // used by mostexposed; good values in range [0.6, 0.8]

	Tonemapper string         `yaml:"tonemapper"`
	Tonemap    tonemap.Params `yaml:"tonemap"`
}

func NewConfig() Config {
	mtb := align.NewMTB()
	deb := calibrate.NewDebevec()
	return Config{
		InputDir:       "images",
		HDRPath:        "hdr.hdr",
		PreviewPath:    "hdr_preview.jpg",
		PreviewQuality: 95,

		OnDecodeError:   string(photoset.PolicyFail),
		ExposureBackend: "exif",

		DoAlignment:       true,
		AlignMaxBits:      mtb.MaxBits,
		AlignExcludeRange: mtb.ExcludeRange,

		CalibrationSamples: deb.Samples,
		CalibrationLambda:  deb.Lambda,

		Fuser:          "debevec",
		FuserLuminance: 0.8,

		Tonemapper: "reinhard05",
		Tonemap:    tonemap.DefaultParams(),
	}
}

func newConfigFromYaml(b []byte) (Config, error) {
	c := NewConfig()
	err := yaml.UnmarshalStrict(b, &c)
	return c, err
}

// LoadConfig reads a YAML config file; anything it doesn't set keeps its
// default.
func LoadConfig(filename string) (Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("config '%s': %w", filename, err)
	}
	c, err := newConfigFromYaml(b)
	if err != nil {
		return Config{}, fmt.Errorf("config '%s': %w", filename, err)
	}
	return c, nil
}

func (c Config) AsYaml() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("# can't marshal config yaml: %v\n", err)
	}
	return string(b)
}

// Validate catches bad settings before any work is done.
func (c Config) Validate() error {
	if c.InputDir == "" {
		return fmt.Errorf("no input directory")
	}
	if c.HDRPath == "" || c.PreviewPath == "" {
		return fmt.Errorf("need both an HDR path and a preview path")
	}
	if c.HDRPath == c.PreviewPath {
		return fmt.Errorf("HDR and preview would both be written to '%s'", c.HDRPath)
	}
	if _, err := photoset.ParsePolicy(c.OnDecodeError); err != nil {
		return err
	}
	if _, err := c.GetFuser(); err != nil {
		return err
	}
	if _, err := c.GetToneMapper(); err != nil {
		return err
	}
	if c.Tonemap.Gamma <= 0 {
		return fmt.Errorf("tonemap gamma %g, must be > 0", c.Tonemap.Gamma)
	}
	if c.CalibrationSamples < 2 {
		return fmt.Errorf("calibration_samples %d, need at least 2", c.CalibrationSamples)
	}
	return nil
}

func (c Config) GetLoader() photoset.Loader {
	policy, _ := photoset.ParsePolicy(c.OnDecodeError)
	return photoset.Loader{Policy: policy, Workers: c.Workers}
}

func (c Config) GetExposureReader() (exposure.Batch, error) {
	r, err := exposure.NewReader(c.ExposureBackend)
	if err != nil {
		return exposure.Batch{}, err
	}
	return exposure.Batch{Reader: r}, nil
}

func (c Config) GetAligner() align.MTB {
	return align.MTB{MaxBits: c.AlignMaxBits, ExcludeRange: c.AlignExcludeRange, Workers: c.Workers, DebugDir: c.AlignDebugDir}
}

func (c Config) GetCalibrator() calibrate.Debevec {
	return calibrate.Debevec{Samples: c.CalibrationSamples, Lambda: c.CalibrationLambda}
}

func (c Config) GetFuser() (merge.Fuser, error) {
	f, err := merge.NewFuser(c.Fuser, c.FuserLuminance)
	f.Workers = c.Workers
	return f, err
}

func (c Config) GetToneMapper() (tonemap.Operator, error) {
	return tonemap.New(c.Tonemapper, c.Tonemap)
}
