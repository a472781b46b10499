package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/abworrall/hdrmerge/pkg/fusion"
	"github.com/abworrall/hdrmerge/pkg/radiance"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestGenerateThenMerge(t *testing.T) {
	in := filepath.Join(t.TempDir(), "shots")
	out := t.TempDir()

	if _, err := run(t, "generate", in, "--times", "1/1000,1/250,1/60", "--width", "96", "--height", "64"); err != nil {
		t.Fatal(err)
	}

	listing, err := run(t, "exposures", in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(listing, "3 images, 3 distinct exposures") {
		t.Errorf("exposures printed:\n%s", listing)
	}

	hdrPath := filepath.Join(out, "scene.hdr")
	previewPath := filepath.Join(out, "scene.png")
	if _, err := run(t, in, "-o", hdrPath, "--preview", previewPath, "--workers", "2", "--tonemapper", "drago03"); err != nil {
		t.Fatal(err)
	}
	if _, err := radiance.ReadHDR(hdrPath); err != nil {
		t.Error(err)
	}
	if _, err := os.Stat(previewPath); err != nil {
		t.Error(err)
	}
}

func TestGenerateBadTimes(t *testing.T) {
	if _, err := run(t, "generate", t.TempDir(), "--times", "1/250,fast"); err == nil {
		t.Error("expected an error for an unparseable time")
	}
}

func TestGenerateDriftingBlocks(t *testing.T) {
	in := filepath.Join(t.TempDir(), "shots")
	out := t.TempDir()
	debugDir := filepath.Join(out, "bitmaps")

	if _, err := run(t, "generate", in, "--scene", "blocks", "--drift-x", "2", "--drift-y", "-1", "--width", "96", "--height", "64"); err != nil {
		t.Fatal(err)
	}

	hdrPath := filepath.Join(out, "scene.hdr")
	if _, err := run(t, in, "-o", hdrPath, "--preview", filepath.Join(out, "scene.jpg"), "--align-debug-dir", debugDir); err != nil {
		t.Fatal(err)
	}
	if _, err := radiance.ReadHDR(hdrPath); err != nil {
		t.Error(err)
	}
	if _, err := os.Stat(filepath.Join(debugDir, "img01-mtb-0.png")); err != nil {
		t.Errorf("no alignment bitmaps: %v", err)
	}
}

func TestGenerateBadArgs(t *testing.T) {
	tests := [][]string{
		{"--scene", "forest"},
		{"--times", "1/5000000000"},
	}
	for _, args := range tests {
		if _, err := run(t, append([]string{"generate", t.TempDir()}, args...)...); err == nil {
			t.Errorf("generate %v: expected an error", args)
		}
	}
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hdrmerge.yaml")
	os.WriteFile(path, []byte("fuser: mostexposed\ntonemapper: durand\n"), 0o644)

	// Only flags marked as changed should win over the file.
	cmd := NewRootCmd()
	cmd.Flags().Set("tonemapper", "linear")
	f := flags{configFile: path, tonemapper: "linear", workers: 7}

	cfg, err := f.config(cmd, []string{"shots"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.InputDir != "shots" || cfg.Fuser != "mostexposed" || cfg.Tonemapper != "linear" {
		t.Errorf("got input %q fuser %q tonemapper %q", cfg.InputDir, cfg.Fuser, cfg.Tonemapper)
	}
	if cfg.Workers != fusion.NewConfig().Workers {
		t.Errorf("workers changed to %d without the flag", cfg.Workers)
	}
}

func TestConfigCmd(t *testing.T) {
	out, err := run(t, "config")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "tonemapper: reinhard05") {
		t.Errorf("config printed:\n%s", out)
	}
}
