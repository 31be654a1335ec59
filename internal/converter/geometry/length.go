package geometry

import (
	"math"

	"seehuhn.de/go/geom/matrix"
	"seehuhn.de/go/geom/vec"

	"wallcalc/internal/converter/models"
)

// ============================================================
// Length calculator
// ============================================================

const (
	DefaultTolerance = 1e-6 // относительная погрешность адаптивной дискретизации
	DefaultMaxDepth  = 12
	circlePieces     = 32
)

// Calculator считает длины в мировых координатах: точки сначала
// преобразуются матрицей, потом измеряются.
type Calculator struct {
	Tolerance float64
	MaxDepth  int
}

var defaultCalculator = Calculator{Tolerance: DefaultTolerance, MaxDepth: DefaultMaxDepth}

// Length - длина сущности после преобразования m.
func Length(e models.Entity, m matrix.Matrix) float64 {
	return defaultCalculator.Length(e, m)
}

func (c Calculator) Length(e models.Entity, m matrix.Matrix) float64 {
	full := EntityTransform(e).Mul(m)

	switch e := e.(type) {
	case models.Line:
		return apply(full, e.End.X, e.End.Y).Sub(apply(full, e.Start.X, e.Start.Y)).Length()
	case models.Polyline:
		return c.polylineLength(e, full)
	case models.Arc:
		arc := circularArc{
			Center: vec.Vec2{X: e.Center.X, Y: e.Center.Y},
			Radius: e.Radius,
			Start:  e.StartAngle * math.Pi / 180,
			Sweep:  arcSweep(e.StartAngle, e.EndAngle),
		}
		return c.arcLength(arc, full)
	case models.Circle:
		arc := circularArc{
			Center: vec.Vec2{X: e.Center.X, Y: e.Center.Y},
			Radius: e.Radius,
			Sweep:  2 * math.Pi,
		}
		return c.arcLength(arc, full)
	case models.Spline:
		return c.splineLength(e, full)
	case models.Insert:
		// вставка измеряется через развернутые сущности блока
		return 0
	}
	return 0
}

// arcSweep - положительный угол дуги в радианах от start к end (градусы).
// Совпадающие углы дают 0.
func arcSweep(startDeg, endDeg float64) float64 {
	sweep := math.Mod(endDeg-startDeg, 360)
	if sweep < 0 {
		sweep += 360
	}
	return sweep * math.Pi / 180
}

func (c Calculator) arcLength(arc circularArc, m matrix.Matrix) float64 {
	if arc.Radius == 0 || arc.Sweep == 0 {
		return 0
	}
	if s, ok := Conformal(m); ok {
		return s * arc.length()
	}
	f := func(t float64) vec.Vec2 { return m.Apply(arc.at(t)) }
	return c.adaptive(f, 0, 1, arcPieces(arc.Sweep))
}

func (c Calculator) polylineLength(pl models.Polyline, m matrix.Matrix) float64 {
	n := len(pl.Vertices)
	segments := n - 1
	if pl.Closed {
		segments = n
	}

	scale, conformal := Conformal(m)
	total := 0.0
	for i := range segments {
		v0 := pl.Vertices[i]
		v1 := pl.Vertices[(i+1)%n]
		p := vec.Vec2{X: v0.X, Y: v0.Y}
		q := vec.Vec2{X: v1.X, Y: v1.Y}

		if v0.Bulge == 0 || pl.Is3D || p == q {
			total += m.Apply(q).Sub(m.Apply(p)).Length()
			continue
		}
		if conformal {
			total += scale * BulgeArcLength(q.Sub(p).Length(), v0.Bulge)
			continue
		}
		arc := bulgeArc(p, q, v0.Bulge)
		total += c.arcLength(arc, m)
	}
	return total
}

func (c Calculator) splineLength(s models.Spline, m matrix.Matrix) float64 {
	curve, ok := newNURBS(s)
	if !ok {
		// только точки интерполяции: длина ломаной через них
		total := 0.0
		for i := 1; i < len(s.FitPoints); i++ {
			a, b := s.FitPoints[i-1], s.FitPoints[i]
			total += apply(m, b.X, b.Y).Sub(apply(m, a.X, a.Y)).Length()
		}
		return total
	}
	t0, t1 := curve.domain()
	f := func(t float64) vec.Vec2 { return m.Apply(curve.eval(t)) }
	return c.adaptive(f, t0, t1, len(curve.ctrl))
}

// ============================================================
// Adaptive sampling
// ============================================================

// adaptive - длина кривой f на [t0, t1]: начальное разбиение на pieces
// интервалов, каждый делится пополам, пока сумма двух хорд отличается
// от хорды больше допуска или не достигнута MaxDepth.
func (c Calculator) adaptive(f func(float64) vec.Vec2, t0, t1 float64, pieces int) float64 {
	pieces = max(pieces, 1)
	tol := c.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	maxDepth := c.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	pts := make([]vec.Vec2, pieces+1)
	rough := 0.0
	for i := range pts {
		pts[i] = f(t0 + (t1-t0)*float64(i)/float64(pieces))
		if i > 0 {
			rough += pts[i].Sub(pts[i-1]).Length()
		}
	}
	abs := tol * math.Max(rough, 1e-12) / float64(pieces)

	total := 0.0
	step := (t1 - t0) / float64(pieces)
	for i := range pieces {
		a := t0 + step*float64(i)
		total += refine(f, a, a+step, pts[i], pts[i+1], abs, maxDepth)
	}
	return total
}

func refine(f func(float64) vec.Vec2, a, b float64, fa, fb vec.Vec2, tol float64, depth int) float64 {
	mid := (a + b) / 2
	fm := f(mid)
	chord := fb.Sub(fa).Length()
	split := fm.Sub(fa).Length() + fb.Sub(fm).Length()
	if depth <= 0 || split-chord <= tol {
		return split
	}
	return refine(f, a, mid, fa, fm, tol/2, depth-1) + refine(f, mid, b, fm, fb, tol/2, depth-1)
}
