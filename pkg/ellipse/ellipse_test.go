package ellipse

import (
	"errors"
	"math"
	"testing"
)

// ellipsePoints samples n points exactly on the ellipse with the given
// canonical parameters (angle in degrees).
func ellipsePoints(n int, xc, yc, a, b, angleDeg float64) (xs, ys []float64) {
	angle := angleDeg * math.Pi / 180
	cos, sin := math.Cos(angle), math.Sin(angle)
	xs = make([]float64, n)
	ys = make([]float64, n)
	for i := 0; i < n; i++ {
		t := 2 * math.Pi * float64(i) / float64(n)
		px := a * math.Cos(t)
		py := b * math.Sin(t)
		xs[i] = xc + px*cos - py*sin
		ys[i] = yc + px*sin + py*cos
	}
	return xs, ys
}

// TestFitRoundTrip verifies that both methods recover the parameters of
// a noise-free synthetic ellipse.
func TestFitRoundTrip(t *testing.T) {
	const (
		xc, yc   = 50.0, 50.0
		major    = 30.0
		minor    = 15.0
		angleDeg = 20.0
	)
	xs, ys := ellipsePoints(36, xc, yc, major, minor, angleDeg)

	for _, method := range []Method{Geometric, Algebraic} {
		t.Run(string(method), func(t *testing.T) {
			e, err := Fit(xs, ys, method)
			if err != nil {
				t.Fatalf("Fit failed: %v", err)
			}
			if math.Abs(e.XCenter()-xc) > 1e-6 || math.Abs(e.YCenter()-yc) > 1e-6 {
				t.Errorf("center = (%v, %v), want (%v, %v)", e.XCenter(), e.YCenter(), xc, yc)
			}
			if math.Abs(e.Major()-major) > 1e-6 {
				t.Errorf("major = %v, want %v", e.Major(), major)
			}
			if math.Abs(e.Minor()-minor) > 1e-6 {
				t.Errorf("minor = %v, want %v", e.Minor(), minor)
			}
			if math.Abs(e.Angle()-angleDeg) > 1e-3 {
				t.Errorf("angle = %v, want %v", e.Angle(), angleDeg)
			}
		})
	}
}

// TestFitAxisAligned checks the B=0 rotation special cases.
func TestFitAxisAligned(t *testing.T) {
	t.Run("MajorAlongX", func(t *testing.T) {
		xs, ys := ellipsePoints(24, 10, 20, 8, 4, 0)
		e, err := Fit(xs, ys, Algebraic)
		if err != nil {
			t.Fatalf("Fit failed: %v", err)
		}
		if math.Abs(e.Angle()) > 1e-6 && math.Abs(e.Angle()-180) > 1e-6 {
			t.Errorf("angle = %v, want 0", e.Angle())
		}
	})

	t.Run("MajorAlongY", func(t *testing.T) {
		xs, ys := ellipsePoints(24, 10, 20, 4, 8, 0)
		e, err := Fit(xs, ys, Algebraic)
		if err != nil {
			t.Fatalf("Fit failed: %v", err)
		}
		if math.Abs(e.Angle()-90) > 1e-6 {
			t.Errorf("angle = %v, want 90", e.Angle())
		}
	})
}

func TestFitErrors(t *testing.T) {
	xs, ys := ellipsePoints(36, 50, 50, 30, 15, 20)

	t.Run("TooFewPoints", func(t *testing.T) {
		_, err := Fit(xs[:4], ys[:4], Algebraic)
		if !errors.Is(err, ErrTooFewPoints) {
			t.Errorf("err = %v, want ErrTooFewPoints", err)
		}
	})

	t.Run("UnknownMethod", func(t *testing.T) {
		_, err := Fit(xs, ys, Method("spline"))
		if !errors.Is(err, ErrUnknownMethod) {
			t.Errorf("err = %v, want ErrUnknownMethod", err)
		}
	})

	t.Run("MismatchedLengths", func(t *testing.T) {
		if _, err := Fit(xs, ys[:35], Algebraic); err == nil {
			t.Error("expected error for mismatched coordinate lengths")
		}
	})

	t.Run("CollinearPoints", func(t *testing.T) {
		lx := make([]float64, 10)
		ly := make([]float64, 10)
		for i := range lx {
			lx[i] = float64(i)
			ly[i] = 2*float64(i) + 1
		}
		if _, err := Fit(lx, ly, Algebraic); !errors.Is(err, ErrDegenerateFit) {
			t.Errorf("err = %v, want ErrDegenerateFit", err)
		}
	})
}

// TestGeneratePoints checks that generated outline points lie on the
// fitted ellipse and that generation is deterministic and restartable.
func TestGeneratePoints(t *testing.T) {
	xs, ys := ellipsePoints(36, 50, 50, 30, 15, 20)
	e, err := Fit(xs, ys, Algebraic)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	gx, gy := e.GeneratePoints(100)
	if len(gx) != 100 || len(gy) != 100 {
		t.Fatalf("got %d/%d points, want 100", len(gx), len(gy))
	}
	for i := range gx {
		r := residual(e.Xc, e.Yc, e.A, e.B, e.Theta, gx[i], gy[i])
		if math.Abs(r) > 1e-9 {
			t.Fatalf("point %d off ellipse, residual %v", i, r)
		}
	}

	gx2, gy2 := e.GeneratePoints(100)
	for i := range gx {
		if gx[i] != gx2[i] || gy[i] != gy2[i] {
			t.Fatal("repeated generation differs")
		}
	}
}

// TestMaskArea verifies the rasterized interior approximates pi*a*b and
// that the relative discretization error shrinks with resolution.
func TestMaskArea(t *testing.T) {
	area := func(a, b, size float64) float64 {
		e := &Ellipse{Xc: size / 2, Yc: size / 2, A: a, B: b}
		count := 0
		for _, in := range e.Mask(int(size), int(size)) {
			if in {
				count++
			}
		}
		return float64(count)
	}

	t.Run("Approximation", func(t *testing.T) {
		got := area(30, 15, 100)
		want := math.Pi * 30 * 15
		if math.Abs(got-want) > 150 {
			t.Errorf("mask area = %v, want about %v", got, want)
		}
	})

	t.Run("ErrorShrinksWithResolution", func(t *testing.T) {
		coarse := math.Abs(area(10, 10, 40)-math.Pi*100) / (math.Pi * 100)
		fine := math.Abs(area(40, 40, 160)-math.Pi*1600) / (math.Pi * 1600)
		if fine >= coarse {
			t.Errorf("relative error did not shrink: coarse %v, fine %v", coarse, fine)
		}
	})
}

func TestDiagnostics(t *testing.T) {
	xs, ys := ellipsePoints(36, 50, 50, 30, 15, 20)
	e, err := Fit(xs, ys, Geometric)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	if r2 := e.RSquared(xs, ys); r2 < 0.999 {
		t.Errorf("RSquared = %v, want close to 1 for exact points", r2)
	}
	if spread := e.ResidualSpread(xs, ys); spread > 1e-6 {
		t.Errorf("ResidualSpread = %v, want near zero for exact points", spread)
	}
}
