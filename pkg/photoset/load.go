package photoset

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/karrick/godirwalk"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

var ErrDecode = errors.New("not a decodable image")

// A DecodeError names the file that would not decode.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode '%s': %v", e.Path, e.Err) }
func (e *DecodeError) Unwrap() []error { return []error{ErrDecode, e.Err} }

// DecodePolicy says what to do with a file that isn't an image.
type DecodePolicy string

const (
	PolicyFail DecodePolicy = "fail" // abort the run
	PolicySkip DecodePolicy = "skip" // log a warning, leave the file out
)

func ParsePolicy(s string) (DecodePolicy, error) {
	switch DecodePolicy(strings.ToLower(s)) {
	case "", PolicyFail:
		return PolicyFail, nil
	case PolicySkip:
		return PolicySkip, nil
	}
	return "", fmt.Errorf("no decode policy named '%s' (want fail|skip)", s)
}

// Decoded is the outcome of decoding one file: either Image or Err is set.
type Decoded struct {
	Path  string
	Image image.Image
	Err   error
}

func (d Decoded) OK() bool { return d.Err == nil && d.Image != nil }

// A Loader turns a directory of photos into decoded images.
type Loader struct {
	Policy  DecodePolicy
	Workers int // concurrent decodes; <1 means GOMAXPROCS
}

// List returns every regular file under root, sorted by path. Anything whose
// name starts with a dot (and everything below a dot-directory) is ignored.
func List(root string) ([]string, error) {
	if item, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("load %s: %w", root, err)
	} else if !item.IsDir() {
		return []string{root}, nil
	}

	found := []string{}
	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if path != root && strings.HasPrefix(filepath.Base(path), ".") {
				return godirwalk.SkipThis
			}
			if de.IsRegular() {
				found = append(found, path)
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", root, err)
	}

	// The walk is sorted per directory already, but pairing photos with
	// exposure times by index needs a total order we can rely on.
	sort.Strings(found)
	return found, nil
}

// DecodeFile decodes one image, using whichever registered format matches.
func DecodeFile(path string) Decoded {
	d := Decoded{Path: path}

	reader, err := os.Open(path)
	if err != nil {
		d.Err = fmt.Errorf("open+r img '%s': %w", path, err)
		return d
	}
	defer reader.Close()

	img, format, err := image.Decode(reader)
	if err != nil {
		d.Err = err
		return d
	}
	if img == nil || img.Bounds().Empty() {
		d.Err = fmt.Errorf("%s image has no pixels", format)
		return d
	}

	klog.V(2).Infof("decoded %s as %s %v", path, format, img.Bounds())
	d.Image = img
	return d
}

// Load lists root and decodes every file, in parallel. The results come back
// in List order. Under PolicyFail the first undecodable file (in path order)
// aborts the load; under PolicySkip it is dropped with a warning.
func (l Loader) Load(ctx context.Context, root string) ([]Decoded, error) {
	paths, err := List(root)
	if err != nil {
		return nil, err
	}

	results := make([]Decoded, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	workers := l.Workers
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(workers)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = DecodeFile(path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Decoded, 0, len(results))
	for _, d := range results {
		if d.OK() {
			out = append(out, d)
			continue
		}

		if errors.Is(d.Err, os.ErrNotExist) || errors.Is(d.Err, os.ErrPermission) {
			return nil, d.Err
		}

		derr := &DecodeError{Path: d.Path, Err: d.Err}
		if l.Policy == PolicySkip {
			klog.Warningf("skipping %v", derr)
			continue
		}
		return nil, derr
	}

	klog.V(1).Infof("loaded %d of %d files under %s", len(out), len(paths), root)
	return out, nil
}
