package fusion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewConfigDefaults(t *testing.T) {
	c := NewConfig()
	if c.InputDir != "images" || c.HDRPath != "hdr.hdr" || c.PreviewPath != "hdr_preview.jpg" {
		t.Errorf("paths: %q %q %q", c.InputDir, c.HDRPath, c.PreviewPath)
	}
	if c.Tonemapper != "reinhard05" || c.Tonemap.Gamma != 1.5 {
		t.Errorf("tonemap: %q gamma %g", c.Tonemapper, c.Tonemap.Gamma)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults don't validate: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hdrmerge.yaml")
	yml := `
input_dir: shots
fuser: mostexposed
tonemap:
  gamma: 2.2
  width: 800
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	want := NewConfig()
	want.InputDir = "shots"
	want.Fuser = "mostexposed"
	want.Tonemap.Gamma = 2.2
	want.Tonemap.Width = 800
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadConfig mismatch (-want +got):\n%s", diff)
	}

	// AsYaml should read back to the same thing.
	again, err := newConfigFromYaml([]byte(got.AsYaml()))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(got, again); diff != "" {
		t.Errorf("AsYaml round trip (-want +got):\n%s", diff)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}

	typo := filepath.Join(dir, "typo.yaml")
	os.WriteFile(typo, []byte("tonemaper: drago03\n"), 0o644)
	if _, err := LoadConfig(typo); err == nil {
		t.Error("expected an error for an unknown key")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no input", func(c *Config) { c.InputDir = "" }},
		{"same outputs", func(c *Config) { c.PreviewPath = c.HDRPath }},
		{"bad policy", func(c *Config) { c.OnDecodeError = "ignore" }},
		{"bad fuser", func(c *Config) { c.Fuser = "sector" }},
		{"bad tonemapper", func(c *Config) { c.Tonemapper = "fattal02" }},
		{"zero gamma", func(c *Config) { c.Tonemap.Gamma = 0 }},
		{"too few samples", func(c *Config) { c.CalibrationSamples = 1 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := NewConfig()
			tc.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("expected a validation error")
			}
			if _, err := New(c); err == nil {
				t.Error("New accepted an invalid config")
			}
		})
	}
}

func TestGetters(t *testing.T) {
	c := NewConfig()
	c.Workers = 3
	c.OnDecodeError = "skip"

	if l := c.GetLoader(); l.Workers != 3 || l.Policy != "skip" {
		t.Errorf("loader %+v", l)
	}
	if a := c.GetAligner(); a.MaxBits != 6 || a.ExcludeRange != 4 || a.Workers != 3 {
		t.Errorf("aligner %+v", a)
	}
	if d := c.GetCalibrator(); d.Samples != 70 || d.Lambda != 10 {
		t.Errorf("calibrator %+v", d)
	}
	if f, err := c.GetFuser(); err != nil || f.Name != "debevec" || f.Workers != 3 {
		t.Errorf("fuser %v %v", f.Name, err)
	}
	c.ExposureBackend = "ouija"
	if _, err := c.GetExposureReader(); err == nil {
		t.Error("expected an error for an unknown exposure backend")
	}
}
