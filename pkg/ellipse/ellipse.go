// Package ellipse fits canonical ellipse parameters to 2D boundary
// point sets. Two interchangeable methods are provided: an iterative
// geometric least-squares fit and a direct algebraic fit of the
// general conic under the ellipse constraint.
package ellipse

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Method selects the numerical fitting procedure.
type Method string

const (
	// Geometric performs a damped Gauss-Newton minimization of the
	// parametric ellipse residual over (xc, yc, a, b, theta).
	Geometric Method = "geometric"

	// Algebraic solves the constrained generalized eigenproblem for
	// the general conic coefficients and converts them to canonical
	// parameters in closed form.
	Algebraic Method = "algebraic"
)

// minPoints is the smallest point set either method accepts; a general
// conic has five degrees of freedom.
const minPoints = 5

var (
	// ErrTooFewPoints is returned when fewer than five points are supplied.
	ErrTooFewPoints = errors.New("ellipse: need at least 5 boundary points")

	// ErrDegenerateFit is returned when the point set is collinear or the
	// numerics yield no valid ellipse (no eigenvector satisfies the
	// ellipse constraint, or an axis formula degenerates).
	ErrDegenerateFit = errors.New("ellipse: degenerate point set, no valid ellipse")

	// ErrUnknownMethod is returned for a fitting method other than
	// Geometric or Algebraic.
	ErrUnknownMethod = errors.New("ellipse: unknown fitting method")
)

// Ellipse holds raw fitted parameters. A and B are the semi-axes in
// fit order, which is not major/minor order; use Major, Minor and
// Angle for the normalized view.
type Ellipse struct {
	Xc, Yc float64
	A, B   float64
	Theta  float64 // radians, rotation of the first axis
}

// Fit fits an ellipse to the boundary points using the given method.
// xs and ys must be the same length and contain at least five points.
func Fit(xs, ys []float64, method Method) (*Ellipse, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("ellipse: mismatched coordinate lengths %d and %d", len(xs), len(ys))
	}
	if len(xs) < minPoints {
		return nil, ErrTooFewPoints
	}
	switch method {
	case Geometric:
		return fitGeometric(xs, ys)
	case Algebraic:
		return fitAlgebraic(xs, ys)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

// XCenter returns the fitted center x coordinate.
func (e *Ellipse) XCenter() float64 { return e.Xc }

// YCenter returns the fitted center y coordinate.
func (e *Ellipse) YCenter() float64 { return e.Yc }

// Major returns the semi-major axis length.
func (e *Ellipse) Major() float64 { return math.Max(e.A, e.B) }

// Minor returns the semi-minor axis length.
func (e *Ellipse) Minor() float64 { return math.Min(e.A, e.B) }

// Angle returns the major-axis rotation in degrees, normalized to
// [0, 180). When the raw fit's first axis is the minor one, 90 degrees
// are added so the angle always refers to the major axis.
func (e *Ellipse) Angle() float64 {
	deg := e.Theta * 180 / math.Pi
	if e.B > e.A {
		deg += 90
	}
	deg = math.Mod(deg, 180)
	if deg < 0 {
		deg += 180
	}
	return deg
}

// residual evaluates the parametric ellipse equation at one point:
// ((x'/a)^2 + (y'/b)^2 - 1) in the rotated, centered frame. Zero on
// the ellipse, negative inside, positive outside.
func residual(xc, yc, a, b, theta, x, y float64) float64 {
	cos, sin := math.Cos(theta), math.Sin(theta)
	xr := (x-xc)*cos + (y-yc)*sin
	yr := -(x-xc)*sin + (y-yc)*cos
	return (xr/a)*(xr/a) + (yr/b)*(yr/b) - 1
}

// fitGeometric minimizes the sum of squared parametric residuals with a
// Levenberg-damped Gauss-Newton iteration. The initial guess places the
// center at the coordinate means with half-range axes and no rotation.
func fitGeometric(xs, ys []float64) (*Ellipse, error) {
	n := len(xs)

	var sx, sy float64
	minX, maxX := xs[0], xs[0]
	minY, maxY := ys[0], ys[0]
	for i := 0; i < n; i++ {
		sx += xs[i]
		sy += ys[i]
		minX = math.Min(minX, xs[i])
		maxX = math.Max(maxX, xs[i])
		minY = math.Min(minY, ys[i])
		maxY = math.Max(maxY, ys[i])
	}
	p := [5]float64{sx / float64(n), sy / float64(n), (maxX - minX) / 2, (maxY - minY) / 2, 0}
	if p[2] <= 0 || p[3] <= 0 {
		return nil, ErrDegenerateFit
	}

	cost := func(p [5]float64) float64 {
		var c float64
		for i := 0; i < n; i++ {
			r := residual(p[0], p[1], p[2], p[3], p[4], xs[i], ys[i])
			c += r * r
		}
		return c
	}

	const (
		maxIter   = 200
		tolStep   = 1e-14
		lambdaMax = 1e12
	)
	lambda := 1e-3
	prev := cost(p)

	jac := mat.NewDense(n, 5, nil)
	res := mat.NewVecDense(n, nil)

	for iter := 0; iter < maxIter; iter++ {
		xc, yc, a, b, theta := p[0], p[1], p[2], p[3], p[4]
		if a == 0 || b == 0 {
			return nil, ErrDegenerateFit
		}
		cos, sin := math.Cos(theta), math.Sin(theta)
		for i := 0; i < n; i++ {
			dx, dy := xs[i]-xc, ys[i]-yc
			xr := dx*cos + dy*sin
			yr := -dx*sin + dy*cos
			res.SetVec(i, (xr/a)*(xr/a)+(yr/b)*(yr/b)-1)
			jac.Set(i, 0, -2*xr*cos/(a*a)+2*yr*sin/(b*b))
			jac.Set(i, 1, -2*xr*sin/(a*a)-2*yr*cos/(b*b))
			jac.Set(i, 2, -2*xr*xr/(a*a*a))
			jac.Set(i, 3, -2*yr*yr/(b*b*b))
			jac.Set(i, 4, 2*xr*yr*(1/(a*a)-1/(b*b)))
		}

		// Normal equations J'J delta = -J'r with Levenberg damping on
		// the diagonal; retry with stronger damping when the damped
		// system is not positive definite or the step increases cost.
		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		var jtr mat.VecDense
		jtr.MulVec(jac.T(), res)

		stepped := false
		for lambda <= lambdaMax {
			sym := mat.NewSymDense(5, nil)
			for r := 0; r < 5; r++ {
				for c := r; c < 5; c++ {
					v := jtj.At(r, c)
					if r == c {
						v += lambda * jtj.At(r, r)
					}
					sym.SetSym(r, c, v)
				}
			}
			var chol mat.Cholesky
			if !chol.Factorize(sym) {
				lambda *= 10
				continue
			}
			var delta mat.VecDense
			if err := chol.SolveVecTo(&delta, &jtr); err != nil {
				lambda *= 10
				continue
			}
			var next [5]float64
			var norm float64
			for k := 0; k < 5; k++ {
				next[k] = p[k] - delta.AtVec(k)
				norm += delta.AtVec(k) * delta.AtVec(k)
			}
			c := cost(next)
			if c <= prev {
				p = next
				prev = c
				lambda = math.Max(lambda/10, 1e-12)
				stepped = true
				if norm < tolStep {
					iter = maxIter // converged
				}
				break
			}
			lambda *= 10
		}
		if !stepped {
			break
		}
	}

	return &Ellipse{
		Xc:    p[0],
		Yc:    p[1],
		A:     math.Abs(p[2]),
		B:     math.Abs(p[3]),
		Theta: p[4],
	}, nil
}

// fitAlgebraic performs the direct least-squares conic fit. The design
// matrix is split into quadratic and linear blocks, reduced to a 3x3
// generalized eigenproblem against the ellipse constraint matrix, and
// the eigenvector satisfying 4*A*C - B^2 > 0 is converted to canonical
// parameters.
func fitAlgebraic(xs, ys []float64) (*Ellipse, error) {
	n := len(xs)

	d1 := mat.NewDense(n, 3, nil) // [x^2, x*y, y^2]
	d2 := mat.NewDense(n, 3, nil) // [x, y, 1]
	for i := 0; i < n; i++ {
		x, y := xs[i], ys[i]
		d1.Set(i, 0, x*x)
		d1.Set(i, 1, x*y)
		d1.Set(i, 2, y*y)
		d2.Set(i, 0, x)
		d2.Set(i, 1, y)
		d2.Set(i, 2, 1)
	}

	var s1, s2, s3 mat.Dense
	s1.Mul(d1.T(), d1)
	s2.Mul(d1.T(), d2)
	s3.Mul(d2.T(), d2)

	// T = -inv(S3) * S2'; a singular S3 means the points do not span a
	// proper conic (collinear or repeated coordinates).
	var t mat.Dense
	if err := t.Solve(&s3, s2.T()); err != nil {
		return nil, ErrDegenerateFit
	}
	t.Scale(-1, &t)

	var m mat.Dense
	m.Mul(&s2, &t)
	m.Add(&s1, &m)

	// Reduced system inv(C) * M with the ellipse constraint matrix
	// C = [[0,0,2],[0,-1,0],[2,0,0]].
	cInv := mat.NewDense(3, 3, []float64{
		0, 0, 0.5,
		0, -1, 0,
		0.5, 0, 0,
	})
	var mc mat.Dense
	mc.Mul(cInv, &m)

	var eig mat.Eigen
	if !eig.Factorize(&mc, mat.EigenRight) {
		return nil, ErrDegenerateFit
	}
	var vecs mat.CDense
	eig.VectorsTo(&vecs)

	// Pick the eigenvector whose coefficients satisfy the ellipse
	// constraint 4ac - b^2 > 0. A complex or non-satisfying spectrum
	// means the conic is numerically degenerate.
	const imagTol = 1e-9
	var quad [3]float64
	selected := false
	for j := 0; j < 3; j++ {
		var v [3]float64
		ok := true
		for i := 0; i < 3; i++ {
			c := vecs.At(i, j)
			if math.Abs(imag(c)) > imagTol*(1+math.Abs(real(c))) {
				ok = false
				break
			}
			v[i] = real(c)
		}
		if ok && 4*v[0]*v[2]-v[1]*v[1] > 0 {
			quad = v
			selected = true
			break
		}
	}
	if !selected {
		return nil, ErrDegenerateFit
	}

	// Linear coefficients follow from the reduction: [D,E,F] = T * [A,B,C].
	qv := mat.NewVecDense(3, quad[:])
	var lin mat.VecDense
	lin.MulVec(&t, qv)

	return conicToEllipse(quad[0], quad[1], quad[2], lin.AtVec(0), lin.AtVec(1), lin.AtVec(2))
}

// conicToEllipse converts general conic coefficients
// Ax^2 + Bxy + Cy^2 + Dx + Ey + F = 0 to canonical parameters.
func conicToEllipse(a0, b0, c0, d0, e0, f0 float64) (*Ellipse, error) {
	// Closed form works with the halved cross terms.
	a, b, c, d, e, f := a0, b0/2, c0, d0/2, e0/2, f0

	den := b*b - a*c
	if den >= 0 {
		return nil, ErrDegenerateFit
	}

	x0 := (c*d - b*e) / den
	y0 := (a*e - b*d) / den

	num := 2 * (a*e*e + c*d*d + f*b*b - 2*b*d*e - a*c*f)
	fac := math.Sqrt((a-c)*(a-c) + 4*b*b)
	a2 := num / den / (fac - (a + c))
	b2 := num / den / (-fac - (a + c))
	if !(a2 > 0) || !(b2 > 0) {
		return nil, ErrDegenerateFit
	}

	var theta float64
	switch {
	case b == 0 && a < c:
		theta = 0
	case b == 0:
		theta = math.Pi / 2
	default:
		theta = math.Atan(2*b/(a-c)) / 2
		if a > c {
			theta += math.Pi / 2
		}
	}

	return &Ellipse{
		Xc:    x0,
		Yc:    y0,
		A:     math.Sqrt(a2),
		B:     math.Sqrt(b2),
		Theta: theta,
	}, nil
}

// GeneratePoints returns n points evenly spaced in parametric angle
// around the ellipse, rotated and translated into absolute coordinates.
// The first and last points coincide (the parameter spans the full
// closed range), matching polygon-outline consumers.
func (e *Ellipse) GeneratePoints(n int) (xs, ys []float64) {
	xs = make([]float64, n)
	ys = make([]float64, n)
	if n == 0 {
		return xs, ys
	}
	major, minor := e.Major(), e.Minor()
	angle := e.Angle() * math.Pi / 180
	cos, sin := math.Cos(angle), math.Sin(angle)
	for i := 0; i < n; i++ {
		var t float64
		if n > 1 {
			t = 2 * math.Pi * float64(i) / float64(n-1)
		}
		px := major * math.Cos(t)
		py := minor * math.Sin(t)
		xs[i] = e.Xc + px*cos - py*sin
		ys[i] = e.Yc + px*sin + py*cos
	}
	return xs, ys
}

// Mask rasterizes the ellipse interior onto a height x width grid,
// returning a row-major boolean mask. A pixel is inside when the
// rotated, scaled ellipse inequality evaluates to <= 1.
func (e *Ellipse) Mask(height, width int) []bool {
	mask := make([]bool, height*width)
	major, minor := e.Major(), e.Minor()
	if major == 0 || minor == 0 {
		return mask
	}
	angle := e.Angle() * math.Pi / 180
	cos, sin := math.Cos(angle), math.Sin(angle)
	for row := 0; row < height; row++ {
		y := float64(row) - e.Yc
		for col := 0; col < width; col++ {
			x := float64(col) - e.Xc
			xr := x*cos + y*sin
			yr := -x*sin + y*cos
			if (xr/major)*(xr/major)+(yr/minor)*(yr/minor) <= 1 {
				mask[row*width+col] = true
			}
		}
	}
	return mask
}

// RSquared computes the coefficient of determination of the conic
// residual at the fitted parameters against the supplied points.
// Purely diagnostic.
func (e *Ellipse) RSquared(xs, ys []float64) float64 {
	var ssRes, sy float64
	for i := range xs {
		r := residual(e.Xc, e.Yc, e.A, e.B, e.Theta, xs[i], ys[i])
		ssRes += r * r
		sy += ys[i]
	}
	meanY := sy / float64(len(ys))
	var ssTot float64
	for _, y := range ys {
		ssTot += (y - meanY) * (y - meanY)
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}

// ResidualSpread returns the population standard deviation of the
// parametric residuals at the fitted parameters. Purely diagnostic.
func (e *Ellipse) ResidualSpread(xs, ys []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	var sum float64
	rs := make([]float64, n)
	for i := range xs {
		rs[i] = residual(e.Xc, e.Yc, e.A, e.B, e.Theta, xs[i], ys[i])
		sum += rs[i]
	}
	mean := sum / float64(n)
	var sq float64
	for _, r := range rs {
		sq += (r - mean) * (r - mean)
	}
	return math.Sqrt(sq / float64(n))
}
