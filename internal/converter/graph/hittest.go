package graph

import (
	"math"

	"wallcalc/internal/converter/models"
)

// ============================================================
// Hit testing
// ============================================================

// NearestSegment ищет сегмент, ближайший к точке p. maxDistance <= 0
// снимает ограничение; иначе сегменты дальше maxDistance не учитываются.
func NearestSegment(segs []models.WallSegment, p models.Point, maxDistance float64) (models.Hit, bool) {
	best := models.Hit{Distance: math.MaxFloat64}
	found := false

	for _, s := range segs {
		n := len(s.Points)
		if n == 0 {
			continue
		}
		count := n - 1
		if s.Closed {
			count = n
		}

		walked := 0.0
		for i := range count {
			v1, v2 := s.Points[i], s.Points[(i+1)%n]
			dist, t := pointToLineDistance(p, v1, v2)
			length := distance(v1, v2)
			if dist < best.Distance {
				best = models.Hit{
					SegmentID: s.ID,
					Distance:  dist,
					Offset:    walked + t*length,
					Point:     models.Point{X: v1.X + t*(v2.X-v1.X), Y: v1.Y + t*(v2.Y-v1.Y)},
				}
				found = true
			}
			walked += length
		}
	}

	if !found || (maxDistance > 0 && best.Distance > maxDistance) {
		return models.Hit{}, false
	}
	return best, true
}

// pointToLineDistance - расстояние от p до отрезка v1-v2 и параметр
// проекции t в [0, 1].
func pointToLineDistance(p, v1, v2 models.Point) (float64, float64) {
	// Вектор линии
	dx := v2.X - v1.X
	dy := v2.Y - v1.Y
	lineLen2 := dx*dx + dy*dy

	if lineLen2 == 0 {
		return distance(p, v1), 0
	}

	// Проекция точки на линию
	t := ((p.X-v1.X)*dx + (p.Y-v1.Y)*dy) / lineLen2
	t = math.Max(0, math.Min(1, t))

	proj := models.Point{X: v1.X + t*dx, Y: v1.Y + t*dy}
	return distance(p, proj), t
}
