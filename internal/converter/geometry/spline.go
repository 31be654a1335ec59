package geometry

import (
	"seehuhn.de/go/geom/vec"

	"wallcalc/internal/converter/models"
)

// ============================================================
// NURBS evaluation
// ============================================================

type nurbs struct {
	degree  int
	knots   []float64
	weights []float64
	ctrl    []vec.Vec2
}

// newNURBS готовит сплайн к вычислению. Неполные данные достраиваются:
// степень понижается до числа точек-1, при неверном векторе узлов
// строится равномерный зажатый, неверные веса отбрасываются.
func newNURBS(s models.Spline) (*nurbs, bool) {
	n := len(s.ControlPoints)
	if n < 2 {
		return nil, false
	}
	p := min(max(s.Degree, 1), n-1)

	ctrl := make([]vec.Vec2, n)
	for i, c := range s.ControlPoints {
		ctrl[i] = vec.Vec2{X: c.X, Y: c.Y}
	}

	knots := s.Knots
	if p != s.Degree || !validKnots(knots, n+p+1) {
		knots = clampedUniform(n, p)
	}

	weights := make([]float64, n)
	useWeights := len(s.Weights) == n
	for i := range weights {
		weights[i] = 1
		if useWeights && s.Weights[i] > 0 {
			weights[i] = s.Weights[i]
		}
	}

	return &nurbs{degree: p, knots: knots, weights: weights, ctrl: ctrl}, true
}

func validKnots(knots []float64, want int) bool {
	if len(knots) != want {
		return false
	}
	for i := 1; i < len(knots); i++ {
		if knots[i] < knots[i-1] {
			return false
		}
	}
	return knots[0] < knots[len(knots)-1]
}

func clampedUniform(n, p int) []float64 {
	knots := make([]float64, 0, n+p+1)
	for range p + 1 {
		knots = append(knots, 0)
	}
	inner := n - p
	for i := 1; i < inner; i++ {
		knots = append(knots, float64(i)/float64(inner))
	}
	for range p + 1 {
		knots = append(knots, 1)
	}
	return knots
}

func (s *nurbs) domain() (float64, float64) {
	return s.knots[s.degree], s.knots[len(s.ctrl)]
}

// eval - алгоритм де Бура в однородных координатах.
func (s *nurbs) eval(t float64) vec.Vec2 {
	p := s.degree
	n := len(s.ctrl)

	k := p
	for k < n-1 && t >= s.knots[k+1] {
		k++
	}

	type hpt struct{ x, y, w float64 }
	d := make([]hpt, p+1)
	for j := 0; j <= p; j++ {
		i := j + k - p
		w := s.weights[i]
		d[j] = hpt{s.ctrl[i].X * w, s.ctrl[i].Y * w, w}
	}

	for r := 1; r <= p; r++ {
		for j := p; j >= r; j-- {
			lo := s.knots[j+k-p]
			hi := s.knots[j+1+k-r]
			alpha := 0.0
			if hi > lo {
				alpha = (t - lo) / (hi - lo)
			}
			d[j] = hpt{
				x: (1-alpha)*d[j-1].x + alpha*d[j].x,
				y: (1-alpha)*d[j-1].y + alpha*d[j].y,
				w: (1-alpha)*d[j-1].w + alpha*d[j].w,
			}
		}
	}

	if d[p].w == 0 {
		return vec.Vec2{X: d[p].x, Y: d[p].y}
	}
	return vec.Vec2{X: d[p].x / d[p].w, Y: d[p].y / d[p].w}
}
