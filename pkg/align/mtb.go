// Package align shifts a stack of exposures so that they line up with a
// reference exposure, using median threshold bitmaps (Ward, 2003). The
// bitmaps don't care about exposure, so differently exposed photos of the
// same scene can be compared directly.
package align

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/skypies/util/histogram"
	"k8s.io/klog/v2"

	"github.com/abworrall/hdrmerge/pkg/emath"
)

const minLevelSize = 8 // don't build pyramid levels smaller than this

// MTB is a translation-only aligner.
type MTB struct {
	MaxBits      int    // pyramid depth; the largest shift found is 2^MaxBits - 1
	ExcludeRange int    // grey levels within this of the median are ignored
	Workers      int    // goroutines scoring candidate shifts; <1 means GOMAXPROCS
	DebugDir     string // if set, each image's threshold bitmaps are written here
}

func NewMTB() MTB {
	return MTB{MaxBits: 6, ExcludeRange: 4}
}

// Align returns the images shifted to line up with the middle one. The
// slice has the same length and order as the input; the reference image
// is returned untouched.
func (m MTB) Align(ctx context.Context, imgs []image.Image) ([]image.Image, error) {
	xforms, err := m.Shifts(ctx, imgs)
	if err != nil {
		return nil, err
	}

	out := make([]image.Image, len(imgs))
	for i, xform := range xforms {
		out[i] = xform.XFormImage(imgs[i])
	}
	return out, nil
}

// Shifts works out the transform that lines each image up with the middle
// one. The middle image gets the identity.
func (m MTB) Shifts(ctx context.Context, imgs []image.Image) ([]AlignmentTransform, error) {
	xforms := make([]AlignmentTransform, len(imgs))
	if len(imgs) < 2 {
		return xforms, nil
	}

	ref := len(imgs) / 2
	size := imgs[ref].Bounds().Size()
	for i, img := range imgs {
		if img.Bounds().Size() != size {
			return nil, fmt.Errorf("image %d is %v, reference is %v", i, img.Bounds().Size(), size)
		}
	}

	refPyr := m.pyramid(imgs[ref], ref)
	for i := range imgs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if m.DebugDir != "" {
			if err := m.DumpBitmaps(imgs[i], m.DebugDir, fmt.Sprintf("img%02d", i)); err != nil {
				return nil, err
			}
		}
		if i == ref {
			continue
		}

		xform := m.CalculateShift(refPyr, m.pyramid(imgs[i], i))
		xform.Name = fmt.Sprintf("%d-%d", ref, i)
		klog.V(1).Infof("aligned image %d to %d: %s", i, ref, xform)
		xforms[i] = xform
	}

	return xforms, nil
}

// pyramid returns grey grids, full size first, each half the size of the
// one before.
func (m MTB) pyramid(img image.Image, idx int) []emath.FloatGrid {
	g := GreyGrid(img)

	if klog.V(2).Enabled() {
		h := &histogram.Histogram{NumBuckets: 16, ValMin: 0, ValMax: 256}
		for _, v := range g.Values() {
			h.Add(histogram.ScalarVal(int(v)))
		}
		klog.Infof("image %d grey levels: %v", idx, h)
	}

	levels := []emath.FloatGrid{g}
	for len(levels) < m.MaxBits {
		last := levels[len(levels)-1]
		if last.Dx()/2 < minLevelSize || last.Dy()/2 < minLevelSize {
			break
		}
		levels = append(levels, last.DownSample())
	}
	if klog.V(2).Enabled() {
		for l := range levels {
			klog.Infof("image %d level %d: %s", idx, l, levels[l].Stats())
		}
	}
	return levels
}

// CalculateShift finds the integer translation that best maps cand onto
// ref, working from the coarsest pyramid level down and refining the
// shift by at most one pixel at each level.
func (m MTB) CalculateShift(ref, cand []emath.FloatGrid) AlignmentTransform {
	levels := len(ref)
	if len(cand) < levels {
		levels = len(cand)
	}

	best := AlignmentTransform{}
	for level := levels - 1; level >= 0; level-- {
		best.TranslateByX *= 2
		best.TranslateByY *= 2

		refTB, refEB := thresholdBitmaps(&ref[level], m.ExcludeRange)
		candTB, candEB := thresholdBitmaps(&cand[level], m.ExcludeRange)

		// Candidate 0 is "no change", so it wins ties.
		xforms := []AlignmentTransform{best}
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}
				xform := best
				xform.TranslateByX += float64(dx)
				xform.TranslateByY += float64(dy)
				xforms = append(xforms, xform)
			}
		}

		best = m.scoreXFormsConcurrently(refTB, refEB, candTB, candEB, xforms)
		klog.V(2).Infof(" -- level %d: %s", level, best)
	}

	return best
}

type shiftJob struct {
	// Inputs for the job
	Index int
	XForm AlignmentTransform

	// Output
	ErrorMetric float64 // fraction of the overlap that disagrees, outside the exclusion bands
	TieBreak    float64 // fraction of the overlap that disagrees at all
}

func (a shiftJob) betterThan(b shiftJob) bool {
	if a.ErrorMetric != b.ErrorMetric {
		return a.ErrorMetric < b.ErrorMetric
	}
	if a.TieBreak != b.TieBreak {
		return a.TieBreak < b.TieBreak
	}
	return a.Index < b.Index
}

// scoreXFormsConcurrently uses a pool of goroutines to compute the
// error metrics for each of the proposed transforms, and returns the
// one with the lowest error (earliest in the list, on a tie).
func (m MTB) scoreXFormsConcurrently(refTB, refEB, candTB, candEB bitmap, xforms []AlignmentTransform) AlignmentTransform {
	var wg sync.WaitGroup
	jobsChan := make(chan shiftJob, len(xforms))
	resultsChan := make(chan shiftJob, len(xforms))

	// Kick off worker pool
	nWorkers := m.Workers
	if nWorkers < 1 {
		nWorkers = runtime.GOMAXPROCS(0)
	}
	for i := 0; i < nWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobsChan {
				dx := int(math.Round(job.XForm.TranslateByX))
				dy := int(math.Round(job.XForm.TranslateByY))
				diff, raw, overlap := diffBits(refTB, refEB, candTB, candEB, dx, dy)
				if overlap == 0 {
					job.ErrorMetric, job.TieBreak = math.Inf(1), math.Inf(1)
				} else {
					job.ErrorMetric = float64(diff) / float64(overlap)
					job.TieBreak = float64(raw) / float64(overlap)
				}
				resultsChan <- job
			}
		}()
	}

	// Feed in jobs
	for i, xform := range xforms {
		jobsChan <- shiftJob{Index: i, XForm: xform}
	}

	close(jobsChan)
	wg.Wait()
	close(resultsChan)

	// results processor
	bestResult := shiftJob{Index: len(xforms), ErrorMetric: math.Inf(1), TieBreak: math.Inf(1)}
	for result := range resultsChan {
		if result.betterThan(bestResult) {
			bestResult = result
		}
	}

	xform := bestResult.XForm
	xform.ErrorMetric = bestResult.ErrorMetric
	return xform
}

// DumpBitmaps writes each level's threshold bitmap as a PNG into dir, for
// eyeballing why an alignment went wrong.
func (m MTB) DumpBitmaps(img image.Image, dir, prefix string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir '%s': %w", dir, err)
	}
	for level, g := range m.pyramid(img, 0) {
		tb, _ := thresholdBitmaps(&g, m.ExcludeRange)
		fg := emath.NewFloatGrid(tb.w, tb.h)
		for i, on := range tb.bits {
			if on {
				fg.Values()[i] = 1
			}
		}
		name := filepath.Join(dir, fmt.Sprintf("%s-mtb-%d.png", prefix, level))
		if err := fg.ToImg(fmt.Sprintf("%s level %d", prefix, level), name); err != nil {
			return err
		}
	}
	return nil
}
