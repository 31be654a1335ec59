package graph

import (
	"math"
	"sort"

	"seehuhn.de/go/geom/vec"

	"wallcalc/internal/converter/models"
)

// ============================================================
// Parallel wall faces
// ============================================================

// PairOptions - параметры поиска двух граней одной стены.
type PairOptions struct {
	Thickness      float64 // ожидаемая толщина стены
	Tolerance      float64 // допуск по толщине
	AngleTolerance float64 // градусы
	MinOverlap     float64
}

func DefaultPairOptions(thickness float64) PairOptions {
	return PairOptions{Thickness: thickness, Tolerance: 1, AngleTolerance: 1, MinOverlap: 10}
}

type line struct {
	id     string
	a, b   vec.Vec2
	length float64
}

// FindParallelPairs находит пары прямых сегментов, параллельных в пределах
// AngleTolerance, на расстоянии Thickness ± Tolerance друг от друга и с
// перекрытием не меньше MinOverlap. Основной в паре - более длинный.
func FindParallelPairs(segs []models.WallSegment, opts PairOptions) []models.WallPair {
	if opts.Thickness <= 0 {
		return nil
	}
	if opts.AngleTolerance <= 0 {
		opts.AngleTolerance = 1
	}

	lines := make([]line, 0, len(segs))
	for _, s := range segs {
		if len(s.Points) != 2 || s.Closed {
			continue
		}
		a := vec.Vec2{X: s.Points[0].X, Y: s.Points[0].Y}
		b := vec.Vec2{X: s.Points[1].X, Y: s.Points[1].Y}
		l := b.Sub(a).Length()
		if l < 1e-10 {
			continue
		}
		lines = append(lines, line{id: s.ID, a: a, b: b, length: l})
	}

	minCos := math.Cos(opts.AngleTolerance * math.Pi / 180)
	var pairs []models.WallPair
	for i := 0; i < len(lines); i++ {
		for j := i + 1; j < len(lines); j++ {
			if p, ok := parallelPair(lines[i], lines[j], opts, minCos); ok {
				pairs = append(pairs, p)
			}
		}
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].PrimaryID != pairs[j].PrimaryID {
			return pairs[i].PrimaryID < pairs[j].PrimaryID
		}
		return pairs[i].SecondaryID < pairs[j].SecondaryID
	})
	return pairs
}

func parallelPair(l1, l2 line, opts PairOptions, minCos float64) (models.WallPair, bool) {
	u1 := l1.b.Sub(l1.a).Mul(1 / l1.length)
	u2 := l2.b.Sub(l2.a).Mul(1 / l2.length)
	if math.Abs(dot(u1, u2)) < minCos {
		return models.WallPair{}, false
	}

	// среднее расстояние концов l2 до прямой l1
	d1 := math.Abs(cross(u1, l2.a.Sub(l1.a)))
	d2 := math.Abs(cross(u1, l2.b.Sub(l1.a)))
	dist := (d1 + d2) / 2
	if dist < opts.Thickness-opts.Tolerance || dist > opts.Thickness+opts.Tolerance {
		return models.WallPair{}, false
	}

	// перекрытие проекций на l1
	t1, t2 := dot(u1, l2.a.Sub(l1.a)), dot(u1, l2.b.Sub(l1.a))
	if t1 > t2 {
		t1, t2 = t2, t1
	}
	start, end := math.Max(0, t1), math.Min(l1.length, t2)
	if end <= start || end-start < opts.MinOverlap {
		return models.WallPair{}, false
	}

	primary, secondary := l1, l2
	if l2.length > l1.length {
		primary, secondary = l2, l1
	}
	ps, pe := l1.a.Add(u1.Mul(start)), l1.a.Add(u1.Mul(end))
	return models.WallPair{
		PrimaryID:     primary.id,
		SecondaryID:   secondary.id,
		Distance:      dist,
		OverlapLength: end - start,
		OverlapStart:  models.Point{X: ps.X, Y: ps.Y},
		OverlapEnd:    models.Point{X: pe.X, Y: pe.Y},
	}, true
}

func dot(a, b vec.Vec2) float64 {
	return a.X*b.X + a.Y*b.Y
}

func cross(a, b vec.Vec2) float64 {
	return a.X*b.Y - a.Y*b.X
}
