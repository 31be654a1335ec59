package geometry

import (
	"math"

	"seehuhn.de/go/geom/matrix"
	"seehuhn.de/go/geom/vec"

	"wallcalc/internal/converter/models"
)

// ============================================================
// Tessellation
// ============================================================

// Tessellate возвращает мировую ломаную сущности для визуализации
// и признак замкнутости. Для INSERT возвращает nil.
func Tessellate(e models.Entity, m matrix.Matrix) ([]models.Point, bool) {
	full := EntityTransform(e).Mul(m)

	switch e := e.(type) {
	case models.Line:
		return []models.Point{
			toPoint(apply(full, e.Start.X, e.Start.Y)),
			toPoint(apply(full, e.End.X, e.End.Y)),
		}, false
	case models.Polyline:
		return tessellatePolyline(e, full), e.Closed
	case models.Arc:
		arc := circularArc{
			Center: vec.Vec2{X: e.Center.X, Y: e.Center.Y},
			Radius: e.Radius,
			Start:  e.StartAngle * math.Pi / 180,
			Sweep:  arcSweep(e.StartAngle, e.EndAngle),
		}
		pts := sampleArc(arc, full, arcPieces(arc.Sweep), true)
		if arc.Sweep == 0 {
			pts = append(pts, pts[0])
		}
		return pts, false
	case models.Circle:
		arc := circularArc{
			Center: vec.Vec2{X: e.Center.X, Y: e.Center.Y},
			Radius: e.Radius,
			Sweep:  2 * math.Pi,
		}
		return sampleArc(arc, full, circlePieces, false), true
	case models.Spline:
		return tessellateSpline(e, full), false
	}
	return nil, false
}

func toPoint(v vec.Vec2) models.Point {
	return models.Point{X: v.X, Y: v.Y}
}

// sampleArc - pieces отрезков дуги; withEnd добавляет конечную точку.
func sampleArc(arc circularArc, m matrix.Matrix, pieces int, withEnd bool) []models.Point {
	last := pieces - 1
	if withEnd {
		last = pieces
	}
	pts := make([]models.Point, 0, last+1)
	for i := 0; i <= last; i++ {
		pts = append(pts, toPoint(m.Apply(arc.at(float64(i)/float64(pieces)))))
	}
	return pts
}

func tessellatePolyline(pl models.Polyline, m matrix.Matrix) []models.Point {
	n := len(pl.Vertices)
	segments := n - 1
	if pl.Closed {
		segments = n
	}

	pts := make([]models.Point, 0, n)
	pts = append(pts, toPoint(apply(m, pl.Vertices[0].X, pl.Vertices[0].Y)))
	for i := range segments {
		v0 := pl.Vertices[i]
		v1 := pl.Vertices[(i+1)%n]
		p := vec.Vec2{X: v0.X, Y: v0.Y}
		q := vec.Vec2{X: v1.X, Y: v1.Y}
		closing := pl.Closed && i == n-1

		if v0.Bulge != 0 && !pl.Is3D && p != q {
			arc := bulgeArc(p, q, v0.Bulge)
			pieces := arcPieces(arc.Sweep)
			for k := 1; k < pieces; k++ {
				pts = append(pts, toPoint(m.Apply(arc.at(float64(k)/float64(pieces)))))
			}
		}
		if !closing {
			pts = append(pts, toPoint(m.Apply(q)))
		}
	}
	if len(pts) < 2 {
		pts = append(pts, pts[0])
	}
	return pts
}

func tessellateSpline(s models.Spline, m matrix.Matrix) []models.Point {
	curve, ok := newNURBS(s)
	if !ok {
		pts := make([]models.Point, 0, len(s.FitPoints))
		for _, p := range s.FitPoints {
			pts = append(pts, toPoint(apply(m, p.X, p.Y)))
		}
		return pts
	}

	t0, t1 := curve.domain()
	pieces := max(8, 4*len(curve.ctrl))
	pts := make([]models.Point, 0, pieces+1)
	for i := 0; i <= pieces; i++ {
		t := t0 + (t1-t0)*float64(i)/float64(pieces)
		pts = append(pts, toPoint(m.Apply(curve.eval(t))))
	}
	return pts
}
