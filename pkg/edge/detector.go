// Package edge locates the boundary of a roughly circular cell in a
// brightfield image plane by radial intensity sampling. 360 rays are
// cast from a seed pixel, the strongest intensity drop on each ray is
// taken as a boundary candidate, and a multi-stage statistical filter
// rejects outliers before the found/not-found verdict.
package edge

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"budtrack/internal/models"
)

// rayCount is the fixed angular resolution: one ray per integer degree.
const rayCount = 360

// minValidRays is the found-verdict threshold on surviving rays.
const minValidRays = 150

// borderMargin is the minimum distance of a boundary point from any
// image edge for the found verdict to stand.
const borderMargin = 2

// ErrBadBackground is returned when the estimated background intensity
// is not positive, which breaks the relative-difference math. This is
// an input or configuration problem, not an absent cell.
var ErrBadBackground = errors.New("edge: non-positive background estimate")

// Ray is one angular boundary sample. When Valid is false all other
// fields are zero; they never hold leftover measurements.
type Ray struct {
	Valid  bool
	X, Y   float64 // boundary pixel coordinates
	Radius float64 // distance from the seed
	Drop   float64 // intensity drop magnitude across the edge
	Width  float64 // sample span of the drop
	Slope  float64 // Drop / Width
}

// Params configures one detection pass. All values are in pixels
// except MinRelativeDrop, which is a percentage of the background.
type Params struct {
	// MaxRadius is the outer sampling radius of each ray.
	MaxRadius int

	// Window is the sliding-window width used to search each ray for
	// its strongest intensity drop.
	Window int

	// MinRelativeDrop is the minimum drop magnitude relative to the
	// background, in percent, for a window to qualify as an edge.
	MinRelativeDrop float64
}

// Result is the outcome of one detection pass.
type Result struct {
	// Found reports whether enough filtered rays survived and all of
	// them sit clear of the image border.
	Found bool

	// Rays holds all 360 angular samples in degree order.
	Rays [rayCount]Ray

	// MeanEdgeWidth is the mean drop width over valid rays, in pixel
	// samples. Zero unless Found.
	MeanEdgeWidth float64

	// Background is the estimated local background intensity.
	Background float64
}

// ValidPoints returns the boundary coordinates of all valid rays.
func (r *Result) ValidPoints() (xs, ys []float64) {
	for i := range r.Rays {
		if r.Rays[i].Valid {
			xs = append(xs, r.Rays[i].X)
			ys = append(ys, r.Rays[i].Y)
		}
	}
	return xs, ys
}

// validCount returns the number of currently valid rays.
func (r *Result) validCount() int {
	n := 0
	for i := range r.Rays {
		if r.Rays[i].Valid {
			n++
		}
	}
	return n
}

// Detect runs boundary detection from the seed pixel (seedX, seedY).
// A not-found result is an expected outcome, not an error; the only
// error condition is a non-positive background estimate.
func Detect(plane models.Plane, seedX, seedY float64, p Params) (*Result, error) {
	res := &Result{}

	bg, err := estimateBackground(plane)
	if err != nil {
		return nil, err
	}
	res.Background = bg

	scanRays(plane, seedX, seedY, bg, p, res)

	sdevRad := filterRadiusOutliers(res)
	filterLocalJumps(res, sdevRad)
	filterWeakDrops(res)
	filterShallowSlopes(res)
	filterSlopeSign(res)

	res.Found = res.validCount() >= minValidRays

	// Boundary points hugging the image border invalidate the verdict
	// as a whole without un-marking individual rays.
	if res.Found {
		for i := range res.Rays {
			ray := &res.Rays[i]
			if !ray.Valid {
				continue
			}
			if ray.X < borderMargin || ray.X > float64(plane.Width-borderMargin) ||
				ray.Y < borderMargin || ray.Y > float64(plane.Height-borderMargin) {
				res.Found = false
				break
			}
		}
	}

	if res.Found {
		var sum float64
		n := 0
		for i := range res.Rays {
			if res.Rays[i].Valid {
				sum += res.Rays[i].Width
				n++
			}
		}
		res.MeanEdgeWidth = sum / float64(n)
	}

	return res, nil
}

// estimateBackground computes the local background intensity from a
// margin-trimmed sub-region: 50 px off the near sides, 100 px off the
// far sides, clamped to the image when the plane is too small. The mode
// of the region is used, falling back to the median when the mode is
// exactly zero.
func estimateBackground(plane models.Plane) (float64, error) {
	r0, r1 := 50, plane.Height-100
	if r1 <= r0 {
		r0, r1 = 0, plane.Height
	}
	c0, c1 := 50, plane.Width-100
	if c1 <= c0 {
		c0, c1 = 0, plane.Width
	}

	region := make([]float64, 0, (r1-r0)*(c1-c0))
	for row := r0; row < r1; row++ {
		region = append(region, plane.Data[row*plane.Width+c0:row*plane.Width+c1]...)
	}
	sort.Float64s(region)

	bg, _ := stat.Mode(region, nil)
	if bg == 0 {
		bg = sortedMedian(region)
	}
	if bg <= 0 {
		return 0, ErrBadBackground
	}
	return bg, nil
}

// scanRays samples all 360 rays and records the strongest qualifying
// intensity drop on each.
func scanRays(plane models.Plane, seedX, seedY, bg float64, p Params, res *Result) {
	values := make([]float64, p.MaxRadius+1)
	cols := make([]int, p.MaxRadius+1)
	rows := make([]int, p.MaxRadius+1)

	for angle := 0; angle < rayCount; angle++ {
		alpha := float64(angle) * math.Pi / 180
		cos, sin := math.Cos(alpha), math.Sin(alpha)

		for i := 0; i <= p.MaxRadius; i++ {
			cols[i] = int(seedX + math.Round(float64(i)*cos))
			rows[i] = int(seedY + math.Round(float64(i)*sin))
			if plane.Contains(cols[i], rows[i]) {
				values[i] = plane.At(rows[i], cols[i])
			} else {
				// Never read outside the array; out-of-bounds samples
				// take the background value.
				values[i] = bg
			}
		}

		var bestDrop float64
		bestIdx, bestWidth := 0, 0
		found := false

		for start := 0; start <= p.MaxRadius-p.Window; start++ {
			win := values[start : start+p.Window]
			posMax := argMax(win)
			posMin := posMax + argMin(win[posMax:])
			if posMax >= posMin {
				continue // intensity must fall moving outward
			}
			drop := win[posMax] - win[posMin]
			rel := 100 * drop / bg
			if drop > bestDrop && rel > p.MinRelativeDrop {
				found = true
				bestDrop = drop
				bestIdx = start + (posMax+posMin)/2
				bestWidth = posMin - posMax
			}
		}

		if found {
			ray := &res.Rays[angle]
			ray.Valid = true
			ray.X = float64(cols[bestIdx])
			ray.Y = float64(rows[bestIdx])
			dx := ray.X - seedX
			dy := ray.Y - seedY
			ray.Radius = math.Sqrt(dx*dx + dy*dy)
			ray.Drop = bestDrop
			ray.Width = float64(bestWidth)
			ray.Slope = bestDrop / float64(bestWidth)
		}
	}
}

// invalidate clears a ray entirely so stale measurements never leak
// past a filtering stage.
func (r *Result) invalidate(i int) {
	r.Rays[i] = Ray{}
}

// filterRadiusOutliers drops rays whose radial distance falls outside
// mean +/- 2*stdev over the currently valid set, and returns that
// stdev for reuse by the local jump filter.
func filterRadiusOutliers(res *Result) float64 {
	radii := validField(res, func(r *Ray) float64 { return r.Radius })
	if len(radii) == 0 {
		return 0
	}
	mean := stat.Mean(radii, nil)
	sdev := popStdDev(radii, mean)
	for i := range res.Rays {
		ray := &res.Rays[i]
		if ray.Valid && (ray.Radius < mean-2*sdev || ray.Radius > mean+2*sdev) {
			res.invalidate(i)
		}
	}
	return sdev
}

// filterLocalJumps walks the angle range with a coarse sliding window:
// up to 20 valid rays are accumulated, their mean radius computed, and
// any valid ray in the scanned span whose radius exceeds the window
// mean plus the global radius stdev is dropped. The scan then advances
// by half the span plus one so consecutive windows overlap.
func filterLocalJumps(res *Result, sdevRad float64) {
	angle := 0
	for angle < rayCount-1 {
		count := 0
		span := 0
		var meanRad float64

		for count < 20 && angle+span < rayCount-1 {
			if res.Rays[angle+span].Valid {
				meanRad += res.Rays[angle+span].Radius
				count++
			}
			span++
		}

		if count == 0 {
			angle++
			continue
		}
		meanRad /= float64(count)

		for j := 0; j <= span; j++ {
			idx := angle + j
			if idx < rayCount && res.Rays[idx].Valid && res.Rays[idx].Radius > meanRad+sdevRad {
				res.invalidate(idx)
			}
		}
		angle += span/2 + 1
	}
}

// filterWeakDrops removes rays whose drop magnitude is below
// mean - stdev over the currently valid set.
func filterWeakDrops(res *Result) {
	drops := validField(res, func(r *Ray) float64 { return r.Drop })
	if len(drops) == 0 {
		return
	}
	mean := stat.Mean(drops, nil)
	sdev := popStdDev(drops, mean)
	for i := range res.Rays {
		if res.Rays[i].Valid && res.Rays[i].Drop < mean-sdev {
			res.invalidate(i)
		}
	}
}

// filterShallowSlopes removes rays whose slope is below mean - stdev
// over the currently valid set.
func filterShallowSlopes(res *Result) {
	slopes := validField(res, func(r *Ray) float64 { return r.Slope })
	if len(slopes) == 0 {
		return
	}
	mean := stat.Mean(slopes, nil)
	sdev := popStdDev(slopes, mean)
	for i := range res.Rays {
		if res.Rays[i].Valid && res.Rays[i].Slope < mean-sdev {
			res.invalidate(i)
		}
	}
}

// filterSlopeSign enforces sign consistency against the median slope
// over all 360 rays, valid or not: a negative median drops valid rays
// with non-negative slope and vice versa.
func filterSlopeSign(res *Result) {
	all := make([]float64, rayCount)
	for i := range res.Rays {
		all[i] = res.Rays[i].Slope
	}
	sort.Float64s(all)
	median := sortedMedian(all)

	for i := range res.Rays {
		if !res.Rays[i].Valid {
			continue
		}
		if median < 0 && res.Rays[i].Slope >= 0 {
			res.invalidate(i)
		} else if median >= 0 && res.Rays[i].Slope < 0 {
			res.invalidate(i)
		}
	}
}

// validField collects one field over the currently valid rays.
func validField(res *Result, f func(*Ray) float64) []float64 {
	var out []float64
	for i := range res.Rays {
		if res.Rays[i].Valid {
			out = append(out, f(&res.Rays[i]))
		}
	}
	return out
}

func argMax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func argMin(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] < v[best] {
			best = i
		}
	}
	return best
}

// popStdDev is the population standard deviation about a known mean.
func popStdDev(v []float64, mean float64) float64 {
	var sq float64
	for _, x := range v {
		sq += (x - mean) * (x - mean)
	}
	return math.Sqrt(sq / float64(len(v)))
}

// sortedMedian returns the median of an ascending-sorted slice,
// averaging the middle pair for even lengths.
func sortedMedian(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
