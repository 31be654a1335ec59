package geometry

import (
	"math"

	"seehuhn.de/go/geom/matrix"
	"seehuhn.de/go/geom/vec"

	"wallcalc/internal/converter/models"
)

// ============================================================
// Transforms
// ============================================================
//
// Матрицы в строчной записи seehuhn/geom: A.Mul(B) - сначала A, потом B.
// Поэтому мировая матрица вложенного объекта - local.Mul(parentWorld).

// arbitraryAxisLimit - порог алгоритма произвольной оси DXF (1/64).
const arbitraryAxisLimit = 1.0 / 64

// OCS возвращает матрицу из плоскости OCS (на высоте elevation) в мировую XY.
func OCS(n models.Vec3, elevation float64) matrix.Matrix {
	n = normalize(n)
	if n == models.DefaultExtrusion {
		return matrix.Identity
	}

	var ax models.Vec3
	if math.Abs(n.X) < arbitraryAxisLimit && math.Abs(n.Y) < arbitraryAxisLimit {
		ax = cross(models.Vec3{Y: 1}, n)
	} else {
		ax = cross(models.Vec3{Z: 1}, n)
	}
	ax = normalize(ax)
	ay := normalize(cross(n, ax))

	return matrix.Matrix{
		ax.X, ax.Y,
		ay.X, ay.Y,
		elevation * n.X, elevation * n.Y,
	}
}

// Rotation - поворот против часовой стрелки на угол в градусах.
func Rotation(deg float64) matrix.Matrix {
	s, c := sincosDeg(deg)
	return matrix.Matrix{c, s, -s, c, 0, 0}
}

// InsertTransform строит матрицу ячейки (col, row) вставки блока:
// сдвиг базовой точки, масштаб, шаг массива, поворот, точка вставки, OCS.
func InsertTransform(ins models.Insert, base models.Vec3, col, row int) matrix.Matrix {
	m := matrix.Translate(-base.X, -base.Y)
	m = m.Mul(matrix.Scale(ins.ScaleX, ins.ScaleY))
	if col != 0 || row != 0 {
		m = m.Mul(matrix.Translate(float64(col)*ins.ColumnSpacing, float64(row)*ins.RowSpacing))
	}
	m = m.Mul(Rotation(ins.Rotation))
	m = m.Mul(matrix.Translate(ins.Position.X, ins.Position.Y))
	return m.Mul(OCS(ins.Extrusion, ins.Position.Z))
}

// EntityTransform - собственная матрица плоской сущности (OCS).
// LINE, SPLINE и 3D-полилинии заданы в WCS.
func EntityTransform(e models.Entity) matrix.Matrix {
	switch e := e.(type) {
	case models.Polyline:
		if e.Is3D {
			return matrix.Identity
		}
		return OCS(e.Extrusion, e.Elevation)
	case models.Arc:
		return OCS(e.Extrusion, e.Center.Z)
	case models.Circle:
		return OCS(e.Extrusion, e.Center.Z)
	}
	return matrix.Identity
}

// Conformal сообщает, сохраняет ли матрица углы (поворот, равномерный
// масштаб, отражение), и возвращает коэффициент масштаба.
func Conformal(m matrix.Matrix) (float64, bool) {
	a, b, c, d := m[0], m[1], m[2], m[3]
	n1 := a*a + b*b
	n2 := c*c + d*d
	eps := 1e-9 * math.Max(1, math.Max(n1, n2))
	if math.Abs(n1-n2) > eps || math.Abs(a*c+b*d) > eps {
		return 0, false
	}
	return math.Sqrt(math.Abs(a*d - b*c)), true
}

// Mirrored - матрица меняет ориентацию (отрицательный определитель).
func Mirrored(m matrix.Matrix) bool {
	return m[0]*m[3]-m[1]*m[2] < 0
}

func apply(m matrix.Matrix, x, y float64) vec.Vec2 {
	return m.Apply(vec.Vec2{X: x, Y: y})
}

// ============================================================
// Helpers
// ============================================================

// sincosDeg точен для углов, кратных 90°.
func sincosDeg(deg float64) (float64, float64) {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	switch d {
	case 0:
		return 0, 1
	case 90:
		return 1, 0
	case 180:
		return 0, -1
	case 270:
		return -1, 0
	}
	return math.Sincos(d * math.Pi / 180)
}

func cross(a, b models.Vec3) models.Vec3 {
	return models.Vec3{
		X: a.Y*b.Z - a.Z*b.Y,
		Y: a.Z*b.X - a.X*b.Z,
		Z: a.X*b.Y - a.Y*b.X,
	}
}

func normalize(v models.Vec3) models.Vec3 {
	l := math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
	if l == 0 {
		return models.DefaultExtrusion
	}
	return models.Vec3{X: v.X / l, Y: v.Y / l, Z: v.Z / l}
}
