// Package fluorescence computes intensity statistics of an image plane
// under a fitted ellipse mask. It is the measurement counterpart of the
// boundary detection: once the cell outline is known, the fluorescence
// channels are summarized over the enclosed region.
package fluorescence

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"budtrack/internal/models"
	"budtrack/pkg/ellipse"
)

// ErrEmptyRegion is returned when the ellipse mask selects no pixels,
// which happens for degenerate ellipses or ellipses entirely outside
// the image bounds.
var ErrEmptyRegion = errors.New("fluorescence: ellipse mask selects no pixels")

// Stats summarizes pixel intensities inside an elliptical region.
type Stats struct {
	Mean   float64
	Median float64
	StdDev float64
}

// Compute returns the mean, median and population standard deviation of
// all pixels of the plane inside the ellipse. It is a pure function of
// its inputs.
func Compute(plane models.Plane, e *ellipse.Ellipse) (Stats, error) {
	mask := e.Mask(plane.Height, plane.Width)

	var inside []float64
	for i, in := range mask {
		if in {
			inside = append(inside, plane.Data[i])
		}
	}
	if len(inside) == 0 {
		return Stats{}, ErrEmptyRegion
	}

	mean := stat.Mean(inside, nil)

	var sq float64
	for _, v := range inside {
		sq += (v - mean) * (v - mean)
	}
	sd := math.Sqrt(sq / float64(len(inside)))

	sort.Float64s(inside)
	var median float64
	if n := len(inside); n%2 == 1 {
		median = inside[n/2]
	} else {
		median = (inside[n/2-1] + inside[n/2]) / 2
	}

	return Stats{Mean: mean, Median: median, StdDev: sd}, nil
}
