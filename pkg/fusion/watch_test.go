package fusion

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abworrall/hdrmerge/pkg/bracket"
	"github.com/abworrall/hdrmerge/pkg/exposure"
)

func TestWatchRerunsOnChange(t *testing.T) {
	dir := t.TempDir()
	opts := smallOpts()
	if _, err := bracket.Write(dir, []exposure.Rational{{1, 1000}, {1, 250}}, opts); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(t, dir)
	cfg.Tonemapper = "linear"

	type outcome struct {
		res *Result
		err error
	}
	runs := make(chan outcome, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, cfg, 50*time.Millisecond, func(r *Result, err error) { runs <- outcome{r, err} })
	}()

	wait := func() outcome {
		select {
		case o := <-runs:
			return o
		case <-time.After(30 * time.Second):
			t.Fatal("timed out waiting for a run")
		}
		return outcome{}
	}

	first := wait()
	if first.err != nil {
		t.Fatal(first.err)
	}
	if first.res.Photos.Len() != 2 {
		t.Fatalf("first run saw %d photos", first.res.Photos.Len())
	}

	// A third exposure arrives.
	sub := filepath.Join(t.TempDir(), "more")
	if _, err := bracket.Write(sub, []exposure.Rational{{1, 60}}, opts); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(filepath.Join(sub, "bracket-00.jpg"), filepath.Join(dir, "bracket-02.jpg")); err != nil {
		t.Fatal(err)
	}

	second := wait()
	if second.err != nil {
		t.Fatal(second.err)
	}
	if second.res.Photos.Len() != 3 {
		t.Fatalf("second run saw %d photos", second.res.Photos.Len())
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Watch didn't stop")
	}
}

func TestWatchDirs(t *testing.T) {
	dir := t.TempDir()
	for _, d := range []string{"a", "a/b", ".hidden", ".hidden/c"} {
		os.MkdirAll(filepath.Join(dir, d), 0o755)
	}
	got, err := watchDirs(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("watchDirs = %v, want root, a, a/b", got)
	}
}
