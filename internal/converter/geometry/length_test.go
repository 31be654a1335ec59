package geometry

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"seehuhn.de/go/geom/matrix"
	"seehuhn.de/go/geom/vec"

	"wallcalc/internal/converter/models"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func meta(layer string) models.EntityMeta {
	return models.EntityMeta{Layer: layer, Extrusion: models.DefaultExtrusion}
}

func line(x1, y1, x2, y2 float64) models.Line {
	return models.Line{EntityMeta: meta("A-WALL"), Start: models.Vec3{X: x1, Y: y1}, End: models.Vec3{X: x2, Y: y2}}
}

func TestLengthLine(t *testing.T) {
	assert.Equal(t, 2.0, Length(line(0, 0, 2, 0), matrix.Identity))
	assert.Equal(t, 0.0, Length(line(1, 1, 1, 1), matrix.Identity))
	assert.InDelta(t, math.Sqrt(13), Length(line(0, 0, 1, 1), matrix.Scale(2, 3)), 1e-12)
}

func TestLengthClosedRectangle(t *testing.T) {
	rect := models.Polyline{
		EntityMeta: meta("A-WALL"),
		Vertices:   []models.PolylineVertex{{X: 0, Y: 0}, {X: 3, Y: 0}, {X: 3, Y: 4}, {X: 0, Y: 4}},
		Closed:     true,
	}
	assert.Equal(t, 14.0, Length(rect, matrix.Identity))

	rect.Closed = false
	assert.Equal(t, 10.0, Length(rect, matrix.Identity))
}

func TestLengthBulge(t *testing.T) {
	for _, b := range []float64{1, -1} {
		semi := models.Polyline{
			EntityMeta: meta("A-WALL"),
			Vertices:   []models.PolylineVertex{{X: 0, Y: 0, Bulge: b}, {X: 2, Y: 0}},
		}
		assert.InDelta(t, math.Pi, Length(semi, matrix.Identity), 1e-12)
		assert.InDelta(t, 2*math.Pi, Length(semi, matrix.Scale(2, 2)), 1e-12)
		// неравномерный масштаб: половина эллипса с полуосями 1 и 3
		assert.InDelta(t, halfEllipse(1, 3), Length(semi, matrix.Scale(1, 3)), 1e-4)
	}

	// quarter circle: bulge = tan(π/8)
	quarter := BulgeArcLength(math.Sqrt2, math.Tan(math.Pi/8))
	assert.InDelta(t, math.Pi/2, quarter, 1e-12)
	assert.Equal(t, 5.0, BulgeArcLength(5, 0))
}

func halfEllipse(a, b float64) float64 {
	h := (a - b) * (a - b) / ((a + b) * (a + b))
	return math.Pi * (a + b) * (1 + 3*h/(10+math.Sqrt(4-3*h))) / 2
}

func TestBulgeDirection(t *testing.T) {
	p, q := vec.Vec2{X: 0, Y: 0}, vec.Vec2{X: 2, Y: 0}

	ccw := bulgeArc(p, q, 1)
	assert.True(t, cmp.Equal(vec.Vec2{X: 1, Y: -1}, ccw.at(0.5), approx))
	assert.True(t, cmp.Equal(q, ccw.at(1), cmpopts.EquateApprox(0, 1e-12)), ccw.at(1))

	cw := bulgeArc(p, q, -1)
	assert.True(t, cmp.Equal(vec.Vec2{X: 1, Y: 1}, cw.at(0.5), approx))

	major := bulgeArc(p, q, 2)
	assert.InDelta(t, 4*math.Atan(2), major.Sweep, 1e-12)
	assert.InDelta(t, BulgeArcLength(2, 2), major.length(), 1e-12)
}

func TestLengthArc(t *testing.T) {
	arc := models.Arc{EntityMeta: meta("A-WALL"), Center: models.Vec3{X: 1, Y: 1}, Radius: 2, StartAngle: 0, EndAngle: 90}
	assert.InDelta(t, math.Pi, Length(arc, matrix.Identity), 1e-12)

	arc.StartAngle, arc.EndAngle = 90, 0
	assert.InDelta(t, 3*math.Pi, Length(arc, matrix.Identity), 1e-12)

	arc.StartAngle, arc.EndAngle = 350, 10
	assert.InDelta(t, 2*math.Pi/9, Length(arc, matrix.Identity), 1e-12)

	arc.StartAngle, arc.EndAngle = 45, 45
	assert.Equal(t, 0.0, Length(arc, matrix.Identity))
}

func TestLengthCircle(t *testing.T) {
	c := models.Circle{EntityMeta: meta("COL"), Radius: 1}
	assert.InDelta(t, 2*math.Pi, Length(c, matrix.Identity), 1e-12)
	assert.InDelta(t, 4*math.Pi, Length(c, Rotation(30).Mul(matrix.Scale(2, 2))), 1e-9)

	// эллипс 2x1, формула Рамануджана
	h := 1.0 / 9
	want := math.Pi * 3 * (1 + 3*h/(10+math.Sqrt(4-3*h)))
	assert.InDelta(t, want, Length(c, matrix.Scale(2, 1)), 1e-4)

	c.Radius = 0
	assert.Equal(t, 0.0, Length(c, matrix.Identity))
}

func TestLengthSpline(t *testing.T) {
	straight := models.Spline{
		EntityMeta:    meta("A-WALL"),
		Degree:        3,
		ControlPoints: []models.Vec3{{X: 0}, {X: 1}, {X: 2}, {X: 3}},
	}
	assert.InDelta(t, 3.0, Length(straight, matrix.Identity), 1e-9)

	// рациональный квадратичный сплайн - точная четверть окружности
	quarter := models.Spline{
		EntityMeta:    meta("A-WALL"),
		Degree:        2,
		Knots:         []float64{0, 0, 0, 1, 1, 1},
		Weights:       []float64{1, math.Sqrt2 / 2, 1},
		ControlPoints: []models.Vec3{{X: 1}, {X: 1, Y: 1}, {Y: 1}},
	}
	assert.InDelta(t, math.Pi/2, Length(quarter, matrix.Identity), 1e-5)
	assert.InDelta(t, math.Pi, Length(quarter, matrix.Scale(2, 2)), 2e-5)

	fitOnly := models.Spline{
		EntityMeta: meta("A-WALL"),
		Degree:     3,
		FitPoints:  []models.Vec3{{X: 0}, {X: 3}, {X: 3, Y: 4}},
	}
	assert.Equal(t, 7.0, Length(fitOnly, matrix.Identity))

	// степень больше числа точек - понижается
	short := models.Spline{EntityMeta: meta("A-WALL"), Degree: 3, ControlPoints: []models.Vec3{{}, {X: 3, Y: 4}}}
	assert.InDelta(t, 5.0, Length(short, matrix.Identity), 1e-12)
}

func TestLengthInsertIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Length(models.Insert{Block: "X", ScaleX: 1, ScaleY: 1}, matrix.Identity))
}

func TestLengthNonNegative(t *testing.T) {
	ents := []models.Entity{
		line(0, 0, -3, -4),
		models.Arc{EntityMeta: meta("a"), Radius: 1, StartAngle: 270, EndAngle: -90},
		models.Polyline{EntityMeta: meta("p"), Vertices: []models.PolylineVertex{{X: 1, Bulge: -0.5}, {X: -1}}},
	}
	mirror := matrix.Scale(-1, 1)
	for _, e := range ents {
		assert.GreaterOrEqual(t, Length(e, matrix.Identity), 0.0)
		assert.InDelta(t, Length(e, matrix.Identity), Length(e, mirror), 1e-9)
	}
}

func TestCalculatorDepthBound(t *testing.T) {
	c := Calculator{Tolerance: 1e-15, MaxDepth: 1}
	circle := models.Circle{EntityMeta: meta("c"), Radius: 1}
	got := c.Length(circle, matrix.Scale(2, 1))
	assert.Greater(t, got, 9.0)
	assert.Less(t, got, 9.7)
}

func TestTessellate(t *testing.T) {
	pts, closed := Tessellate(models.Circle{EntityMeta: meta("c"), Radius: 1}, matrix.Identity)
	assert.True(t, closed)
	assert.Len(t, pts, circlePieces)

	arc := models.Arc{EntityMeta: meta("a"), Radius: 1, StartAngle: 0, EndAngle: 90}
	pts, closed = Tessellate(arc, matrix.Identity)
	assert.False(t, closed)
	require.Len(t, pts, 9)
	assert.True(t, cmp.Equal(models.Point{X: 1}, pts[0], approx))
	assert.True(t, cmp.Equal(models.Point{Y: 1}, pts[8], cmpopts.EquateApprox(0, 1e-12)))

	rect := models.Polyline{
		EntityMeta: meta("p"),
		Vertices:   []models.PolylineVertex{{X: 0, Y: 0}, {X: 3, Y: 0}, {X: 3, Y: 4}, {X: 0, Y: 4}},
		Closed:     true,
	}
	pts, closed = Tessellate(rect, matrix.Translate(1, 1))
	assert.True(t, closed)
	assert.Equal(t, []models.Point{{X: 1, Y: 1}, {X: 4, Y: 1}, {X: 4, Y: 5}, {X: 1, Y: 5}}, pts)

	bulged := models.Polyline{
		EntityMeta: meta("p"),
		Vertices:   []models.PolylineVertex{{X: 0, Y: 0, Bulge: 1}, {X: 2, Y: 0}},
	}
	pts, _ = Tessellate(bulged, matrix.Identity)
	require.Len(t, pts, 17)
	assert.True(t, cmp.Equal(models.Point{X: 1, Y: -1}, pts[8], cmpopts.EquateApprox(0, 1e-12)))
	assert.Equal(t, models.Point{X: 2, Y: 0}, pts[16])
}
