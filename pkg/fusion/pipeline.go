// Package fusion runs the whole job: load a folder of bracketed photos,
// read their exposure times, align them, recover the camera response,
// fuse them into a radiance image, tone map a preview, and write both out.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mdouchement/hdr"
	"k8s.io/klog/v2"

	"github.com/abworrall/hdrmerge/pkg/calibrate"
	"github.com/abworrall/hdrmerge/pkg/exposure"
	"github.com/abworrall/hdrmerge/pkg/merge"
	"github.com/abworrall/hdrmerge/pkg/photoset"
	"github.com/abworrall/hdrmerge/pkg/radiance"
)

var (
	ErrEmptyInput                    = errors.New("no decodable images")
	ErrExposureCountMismatch         = errors.New("exposure count doesn't match image count")
	ErrInsufficientExposureVariation = errors.New("need at least two different exposure times")
	ErrOutputWriteFailure            = errors.New("output write failed")
)

// The capabilities the pipeline is built from. Defaults come from the
// Config; tests swap in their own.
type (
	Loader interface {
		Load(ctx context.Context, root string) ([]photoset.Decoded, error)
	}
	ExposureReader interface {
		ReadAll(paths []string) ([]float64, error)
	}
	Aligner interface {
		Align(ctx context.Context, imgs []image.Image) ([]image.Image, error)
	}
	Calibrator interface {
		Calibrate(ctx context.Context, imgs []image.Image, times []float64) (radiance.ResponseCurve, error)
	}
	Merger interface {
		Merge(ctx context.Context, imgs []image.Image, times []float64, curve radiance.ResponseCurve) (*radiance.Image, error)
	}
	ToneMapper interface {
		ToneMap(ctx context.Context, img hdr.Image) (*image.RGBA, error)
	}
)

type Phase int

const (
	PhaseLoad Phase = iota
	PhaseReadExposures
	PhaseAlign
	PhaseCalibrate
	PhaseFuse
	PhaseToneMap
	PhaseOutput
)

func (p Phase) String() string {
	switch p {
	case PhaseLoad:
		return "load"
	case PhaseReadExposures:
		return "read-exposures"
	case PhaseAlign:
		return "align"
	case PhaseCalibrate:
		return "calibrate"
	case PhaseFuse:
		return "fuse"
	case PhaseToneMap:
		return "tonemap"
	case PhaseOutput:
		return "output"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// A PhaseError says which phase failed, and on which file if there was one.
type PhaseError struct {
	Phase Phase
	Path  string
	Err   error
}

func (e *PhaseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s '%s': %v", e.Phase, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

func phaseErr(p Phase, err error) *PhaseError {
	pe := &PhaseError{Phase: p, Err: err}
	var me *exposure.MetadataError
	var de *photoset.DecodeError
	if errors.As(err, &me) {
		pe.Path = me.Path
	} else if errors.As(err, &de) {
		pe.Path = de.Path
	}
	return pe
}

type Pipeline struct {
	Config

	Loader     Loader
	Exposures  ExposureReader
	Aligner    Aligner // nil skips alignment
	Calibrator Calibrator
	Merger     Merger
	ToneMapper ToneMapper
}

// New wires up the default implementation of each capability, as chosen
// by the config.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		Config:     cfg,
		Loader:     cfg.GetLoader(),
		Calibrator: cfg.GetCalibrator(),
	}
	if cfg.DoAlignment {
		p.Aligner = cfg.GetAligner()
	}

	var err error
	if p.Merger, err = cfg.GetFuser(); err != nil {
		return nil, err
	}
	if p.ToneMapper, err = cfg.GetToneMapper(); err != nil {
		return nil, err
	}
	if p.Exposures, err = cfg.GetExposureReader(); err != nil {
		return nil, err
	}
	return p, nil
}

// Close releases anything the capabilities hold open (e.g. an exiftool
// process).
func (p *Pipeline) Close() error {
	if c, ok := p.Exposures.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Result describes a successful run.
type Result struct {
	Photos      photoset.PhotoSet
	Curve       radiance.ResponseCurve
	Radiance    merge.Stats
	HDRPath     string
	PreviewPath string
	Durations   map[Phase]time.Duration
}

func (r Result) String() string {
	str := fmt.Sprintf("%s\n%s\nradiance %s\n", r.Photos, r.Curve, r.Radiance)
	for p := PhaseLoad; p <= PhaseOutput; p++ {
		if d, ok := r.Durations[p]; ok {
			str += fmt.Sprintf("  %-15s %v\n", p, d.Round(time.Millisecond))
		}
	}
	return str + fmt.Sprintf("wrote %s and %s", r.HDRPath, r.PreviewPath)
}

// Run executes each phase in order, once. On success both output files
// exist; on failure neither has been touched.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	res := &Result{Durations: map[Phase]time.Duration{}}
	start := time.Now()
	lap := func(ph Phase) {
		res.Durations[ph] = time.Since(start)
		start = time.Now()
	}

	// 1. Load
	klog.Infof("Loading images from %s", p.InputDir)
	decoded, err := p.Loader.Load(ctx, p.InputDir)
	if err != nil {
		return nil, phaseErr(PhaseLoad, err)
	}
	if len(decoded) == 0 {
		return nil, &PhaseError{Phase: PhaseLoad, Path: p.InputDir, Err: ErrEmptyInput}
	}
	for _, d := range decoded {
		if !d.OK() {
			return nil, phaseErr(PhaseLoad, &photoset.DecodeError{Path: d.Path, Err: d.Err})
		}
	}
	ps := photoset.New(decoded)
	lap(PhaseLoad)

	// 2. Read exposures
	times, err := p.Exposures.ReadAll(ps.Paths())
	if err != nil {
		return nil, phaseErr(PhaseReadExposures, err)
	}
	if err := ps.SetExposureTimes(times); err != nil {
		return nil, &PhaseError{Phase: PhaseReadExposures, Err: fmt.Errorf("%w: %v", ErrExposureCountMismatch, err)}
	}
	for _, photo := range ps.Photos {
		if photo.ExposureTime <= 0 {
			return nil, &PhaseError{Phase: PhaseReadExposures, Path: photo.Path,
				Err: fmt.Errorf("%w: exposure time %g", exposure.ErrMetadataMalformed, photo.ExposureTime)}
		}
	}
	klog.Infof("Loaded %s", ps)
	lap(PhaseReadExposures)

	// 3. Align
	if p.Aligner != nil {
		klog.Infof("Aligning %d images", ps.Len())
		aligned, err := p.Aligner.Align(ctx, ps.Images())
		if err != nil {
			return nil, phaseErr(PhaseAlign, err)
		}
		if err := ps.SetImages(aligned); err != nil {
			return nil, phaseErr(PhaseAlign, err)
		}
	}
	if err := ps.Validate(); err != nil {
		return nil, phaseErr(PhaseAlign, err)
	}
	lap(PhaseAlign)

	// 4. Calibrate
	if n := exposure.Distinct(times); n < 2 {
		return nil, &PhaseError{Phase: PhaseCalibrate, Path: p.InputDir,
			Err: fmt.Errorf("%w (%d images, %d distinct)", ErrInsufficientExposureVariation, ps.Len(), n)}
	}
	klog.Infof("Calibrating camera response")
	curve, err := p.Calibrator.Calibrate(ctx, ps.Images(), ps.ExposureTimes())
	if err != nil {
		return nil, phaseErr(PhaseCalibrate, err)
	}
	if p.ResponsePlot != "" {
		if err := calibrate.PlotResponse(curve, p.ResponsePlot); err != nil {
			klog.Warningf("response plot: %v", err)
		}
	}
	res.Curve = curve
	lap(PhaseCalibrate)

	// 5. Fuse
	hdrImg, err := p.Merger.Merge(ctx, ps.Images(), ps.ExposureTimes(), curve)
	if err != nil {
		return nil, phaseErr(PhaseFuse, err)
	}
	res.Radiance = merge.Summarize(hdrImg)
	lap(PhaseFuse)

	// 6. Tone map
	preview, err := p.ToneMapper.ToneMap(ctx, hdrImg)
	if err != nil {
		return nil, phaseErr(PhaseToneMap, err)
	}
	lap(PhaseToneMap)

	// 7. Output
	if err := ctx.Err(); err != nil {
		return nil, phaseErr(PhaseOutput, err)
	}
	if err := p.writeOutputs(hdrImg, preview); err != nil {
		return nil, err
	}
	lap(PhaseOutput)

	res.Photos = ps
	res.HDRPath = p.HDRPath
	res.PreviewPath = p.PreviewPath
	return res, nil
}

// tempName is a hidden sibling of path, with the same extension so the
// preview encoder still picks the right format.
func tempName(path string) string {
	dir, base := filepath.Split(path)
	ext := filepath.Ext(base)
	return filepath.Join(dir, fmt.Sprintf(".%s.%d.partial%s", strings.TrimSuffix(base, ext), os.Getpid(), ext))
}

// writeOutputs writes both files to temporaries and renames them into
// place only once both have been written.
func (p *Pipeline) writeOutputs(hdrImg *radiance.Image, preview image.Image) error {
	fail := func(path string, err error) error {
		return &PhaseError{Phase: PhaseOutput, Path: path, Err: fmt.Errorf("%w: %v", ErrOutputWriteFailure, err)}
	}

	hdrTmp, previewTmp := tempName(p.HDRPath), tempName(p.PreviewPath)
	cleanup := func() {
		os.Remove(hdrTmp)
		os.Remove(previewTmp)
	}

	if err := radiance.WriteHDR(hdrImg, hdrTmp); err != nil {
		cleanup()
		return fail(p.HDRPath, err)
	}
	if err := radiance.WritePreview(preview, previewTmp, p.PreviewQuality); err != nil {
		cleanup()
		return fail(p.PreviewPath, err)
	}

	if err := os.Rename(hdrTmp, p.HDRPath); err != nil {
		cleanup()
		return fail(p.HDRPath, err)
	}
	if err := os.Rename(previewTmp, p.PreviewPath); err != nil {
		os.Remove(p.HDRPath)
		cleanup()
		return fail(p.PreviewPath, err)
	}

	klog.Infof("Wrote %s and %s", p.HDRPath, p.PreviewPath)
	return nil
}
