// Package tracker chains boundary detection, ellipse fitting and
// region statistics into per-lineage measurement histories across a
// time-lapse image stack. It owns the seed selections, the per-attempt
// measurement cache and the ordered result list, and supports
// cooperative cancellation with per-frame granularity.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"budtrack/internal/models"
	"budtrack/pkg/edge"
	"budtrack/pkg/ellipse"
	"budtrack/pkg/fluorescence"
)

// Config holds the measurement parameters. Radii and sizes are in
// physical units (micrometers) and are converted to pixel counts by
// dividing by PixelSize and rounding up.
type Config struct {
	// FittingMethod selects the ellipse fit: Geometric or Algebraic.
	FittingMethod ellipse.Method

	// SelectionRadius defines "same selection" for add/remove/contains
	// queries, in pixels.
	SelectionRadius float64

	// PixelSize is the physical length of one pixel.
	PixelSize float64

	// BrightfieldChannel is the channel used for boundary detection.
	BrightfieldChannel int

	// FluorescenceChannels are summarized under the fitted ellipse,
	// one Stats result per channel per measurement.
	FluorescenceChannels []int

	// CellRadius is the maximum boundary search radius, physical units.
	CellRadius float64

	// EdgeWindow is the edge search window width, physical units.
	EdgeWindow float64

	// MinRelativeDrop is the minimum edge drop relative to background,
	// in percent.
	MinRelativeDrop float64
}

// Point is one seed selection within a frame.
type Point struct {
	X, Y float64
}

// Measurement is one immutable per-frame cell observation. Geometric
// fields are in physical units; Ellipse keeps the raw pixel-space fit.
type Measurement struct {
	Lineage int
	Frame   int
	Found   bool

	// SeedX, SeedY are the pixel coordinates the detection started
	// from: the user selection on the first frame, the previous fitted
	// centroid afterwards.
	SeedX, SeedY float64

	Ellipse *ellipse.Ellipse

	XCentroid float64
	YCentroid float64
	Major     float64
	Minor     float64
	Angle     float64
	EdgeWidth float64
	Volume    float64

	Fluorescence []fluorescence.Stats
}

// cacheKey identifies one measurement attempt. The coordinates are the
// raw, possibly fractional tracked values: after the first frame seeds
// come from ellipse centroids. No quantization is applied, so only
// bit-identical revisits hit the cache; this mirrors the established
// behavior of the measurement protocol and is deliberate.
type cacheKey struct {
	frame int
	x, y  float64
}

// Tracker drives the measurement pipeline over an image stack.
//
// The seed map, cache and result list are mutated only by the
// goroutine inside Run; concurrent readers must go through Records,
// which snapshots under the same lock that guards appends.
type Tracker struct {
	stack *models.Stack
	cfg   Config

	mu         sync.Mutex
	frameOrder []int
	selections map[int][]Point
	cache      map[cacheKey]*Measurement
	records    []*Measurement
	nextID     int

	stopped atomic.Bool
}

// New creates a tracker over the given stack.
func New(stack *models.Stack, cfg Config) *Tracker {
	return &Tracker{
		stack:      stack,
		cfg:        cfg,
		selections: make(map[int][]Point),
		cache:      make(map[cacheKey]*Measurement),
		nextID:     1,
	}
}

// AddSelection records a seed at (x, y) on the given start frame.
// A selection within SelectionRadius of an existing one on the same
// frame is a duplicate and is rejected.
func (t *Tracker) AddSelection(frame int, x, y float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.nearestLocked(frame, x, y) >= 0 {
		return false
	}
	if _, ok := t.selections[frame]; !ok {
		t.frameOrder = append(t.frameOrder, frame)
	}
	t.selections[frame] = append(t.selections[frame], Point{X: x, Y: y})
	return true
}

// RemoveSelection removes the earliest-inserted selection within
// SelectionRadius of (x, y) on the given frame, reporting whether one
// was removed.
func (t *Tracker) RemoveSelection(frame int, x, y float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.nearestLocked(frame, x, y)
	if i < 0 {
		return false
	}
	pts := t.selections[frame]
	t.selections[frame] = append(pts[:i], pts[i+1:]...)
	return true
}

// ContainsSelection reports whether a selection within SelectionRadius
// of (x, y) exists on the given frame.
func (t *Tracker) ContainsSelection(frame int, x, y float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nearestLocked(frame, x, y) >= 0
}

// nearestLocked returns the index of the first selection on frame
// within the selection radius of (x, y), or -1. Callers hold t.mu.
func (t *Tracker) nearestLocked(frame int, x, y float64) int {
	for i, p := range t.selections[frame] {
		if math.Hypot(p.X-x, p.Y-y) <= t.cfg.SelectionRadius {
			return i
		}
	}
	return -1
}

// Clear drops all selections, cached measurements and results, and
// resets the lineage counter. Idempotent.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frameOrder = nil
	t.selections = make(map[int][]Point)
	t.cache = make(map[cacheKey]*Measurement)
	t.records = nil
	t.nextID = 1
}

// Records returns a snapshot copy of the measurement list in creation
// order. Safe to call while a run is active.
func (t *Tracker) Records() []*Measurement {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Measurement, len(t.records))
	copy(out, t.records)
	return out
}

// Stop requests cancellation of an active run. It takes effect at the
// next per-frame check, never mid-detection or mid-fit.
func (t *Tracker) Stop() {
	t.stopped.Store(true)
}

// Run processes every seed selection: frames are iterated from each
// seed's start frame to the end of the stack, each lineage following
// the fitted centroid forward until detection fails. Measurements are
// cached by (frame, x, y) and reused on revisit. progress, if non-nil,
// is invoked with each successfully completed frame index.
//
// Cancellation via ctx or Stop leaves all measurements produced so far
// intact. Configuration errors abort the run with an error; a
// not-found frame only terminates its own lineage.
func (t *Tracker) Run(ctx context.Context, progress func(frame int)) error {
	t.stopped.Store(false)

	t.mu.Lock()
	frames := append([]int(nil), t.frameOrder...)
	seeds := make(map[int][]Point, len(t.selections))
	for f, pts := range t.selections {
		seeds[f] = append([]Point(nil), pts...)
	}
	t.mu.Unlock()

	for _, start := range frames {
		for _, seed := range seeds[start] {
			t.mu.Lock()
			id := t.nextID
			t.nextID++
			t.mu.Unlock()

			x, y := seed.X, seed.Y
			for frame := start; frame < t.stack.Frames; frame++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if t.stopped.Load() {
					return nil
				}

				key := cacheKey{frame: frame, x: x, y: y}
				t.mu.Lock()
				m, cached := t.cache[key]
				t.mu.Unlock()

				if !cached {
					var err error
					m, err = t.measure(id, frame, x, y)
					if err != nil {
						return err
					}
					t.mu.Lock()
					t.cache[key] = m
					t.records = append(t.records, m)
					t.mu.Unlock()
				}

				if !m.Found {
					break
				}
				x = m.Ellipse.XCenter()
				y = m.Ellipse.YCenter()
				if progress != nil {
					progress(frame)
				}
			}
		}
	}
	return nil
}

// measure runs detection, fitting and fluorescence statistics for one
// (frame, x, y) attempt and assembles the immutable record. Numerical
// degeneracy in the fit is folded into a not-found record; true
// configuration errors propagate.
func (t *Tracker) measure(id, frame int, x, y float64) (*Measurement, error) {
	m := &Measurement{Lineage: id, Frame: frame, SeedX: x, SeedY: y}

	plane, err := t.stack.Plane(frame, t.cfg.BrightfieldChannel)
	if err != nil {
		return nil, fmt.Errorf("tracker: brightfield plane: %w", err)
	}

	res, err := edge.Detect(plane, x, y, edge.Params{
		MaxRadius:       physToPixels(t.cfg.CellRadius, t.cfg.PixelSize),
		Window:          physToPixels(t.cfg.EdgeWindow, t.cfg.PixelSize),
		MinRelativeDrop: t.cfg.MinRelativeDrop,
	})
	if err != nil {
		return nil, fmt.Errorf("tracker: frame %d seed (%g, %g): %w", frame, x, y, err)
	}
	if !res.Found {
		return m, nil
	}

	xs, ys := res.ValidPoints()
	e, err := ellipse.Fit(xs, ys, t.cfg.FittingMethod)
	if errors.Is(err, ellipse.ErrDegenerateFit) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tracker: frame %d seed (%g, %g): %w", frame, x, y, err)
	}

	for _, ch := range t.cfg.FluorescenceChannels {
		flPlane, err := t.stack.Plane(frame, ch)
		if err != nil {
			return nil, fmt.Errorf("tracker: fluorescence plane: %w", err)
		}
		st, err := fluorescence.Compute(flPlane, e)
		if errors.Is(err, fluorescence.ErrEmptyRegion) {
			// The fit wandered outside the image; treat like an
			// unusable boundary rather than a fatal error.
			return m, nil
		}
		if err != nil {
			return nil, err
		}
		m.Fluorescence = append(m.Fluorescence, st)
	}

	m.Found = true
	m.Ellipse = e
	m.XCentroid = t.cfg.PixelSize * e.XCenter()
	m.YCentroid = t.cfg.PixelSize * e.YCenter()
	m.Major = t.cfg.PixelSize * e.Major()
	m.Minor = t.cfg.PixelSize * e.Minor()
	m.Angle = e.Angle()
	m.EdgeWidth = t.cfg.PixelSize * res.MeanEdgeWidth
	mean := (m.Major + m.Minor) / 2
	m.Volume = 4 * math.Pi * mean * mean * mean / 3

	return m, nil
}

// physToPixels converts a physical length to a pixel count, rounding up.
func physToPixels(v, pixelSize float64) int {
	return int(math.Ceil(v / pixelSize))
}
