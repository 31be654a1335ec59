package geometry

import (
	"math"

	"seehuhn.de/go/geom/vec"
)

// ============================================================
// Bulge arcs
// ============================================================
//
// bulge = tan(θ/4), θ - центральный угол дуги. b > 0 - дуга против
// часовой стрелки от начальной вершины к конечной в OCS, b < 0 - по часовой.

// circularArc - дуга, заданная центром, радиусом и знаковым углом (радианы).
type circularArc struct {
	Center vec.Vec2
	Radius float64
	Start  float64
	Sweep  float64 // > 0 - против часовой стрелки
}

func (a circularArc) at(t float64) vec.Vec2 {
	s, c := math.Sincos(a.Start + a.Sweep*t)
	return vec.Vec2{X: a.Center.X + a.Radius*c, Y: a.Center.Y + a.Radius*s}
}

func (a circularArc) length() float64 {
	return a.Radius * math.Abs(a.Sweep)
}

// BulgeArcLength - длина дуги по хорде и bulge: c·θ / (2·sin(θ/2)).
func BulgeArcLength(chord, bulge float64) float64 {
	if bulge == 0 || chord == 0 {
		return chord
	}
	theta := 4 * math.Atan(math.Abs(bulge))
	return chord * theta / (2 * math.Sin(theta/2))
}

// bulgeArc восстанавливает дугу сегмента p->q с данным bulge.
func bulgeArc(p, q vec.Vec2, bulge float64) circularArc {
	d := q.Sub(p)
	chord := d.Length()
	theta := 4 * math.Atan(bulge)

	mid := p.Add(q).Mul(0.5)
	left := vec.Vec2{X: -d.Y / chord, Y: d.X / chord}
	h := chord / 2 * (1 - bulge*bulge) / (2 * bulge)
	center := mid.Add(left.Mul(h))

	radius := chord * (1 + bulge*bulge) / (4 * math.Abs(bulge))
	start := math.Atan2(p.Y-center.Y, p.X-center.X)
	return circularArc{Center: center, Radius: radius, Start: start, Sweep: theta}
}

// arcPieces - число отрезков аппроксимации дуги: не меньше 8, шаг π/16.
func arcPieces(sweep float64) int {
	return max(8, int(math.Ceil(math.Abs(sweep)/(math.Pi/16))))
}
