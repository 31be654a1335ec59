package geometry

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"seehuhn.de/go/geom/matrix"
	"seehuhn.de/go/geom/vec"

	"wallcalc/internal/converter/models"
)

func TestOCS(t *testing.T) {
	assert.Equal(t, matrix.Identity, OCS(models.DefaultExtrusion, 0))
	assert.Equal(t, matrix.Identity, OCS(models.Vec3{Z: 5}, 0))
	assert.Equal(t, matrix.Identity, OCS(models.Vec3{}, 0))

	mirror := OCS(models.Vec3{Z: -1}, 0)
	assert.True(t, cmp.Equal(matrix.Matrix{-1, 0, 0, 1, 0, 0}, mirror, approx), mirror)
	assert.True(t, Mirrored(mirror))

	s, ok := Conformal(mirror)
	assert.True(t, ok)
	assert.InDelta(t, 1.0, s, 1e-12)
}

func TestOCSMirroredCircle(t *testing.T) {
	c := models.Circle{
		EntityMeta: models.EntityMeta{Layer: "COL", Extrusion: models.Vec3{Z: -1}},
		Center:     models.Vec3{X: 1},
		Radius:     1,
	}
	pts, closed := Tessellate(c, matrix.Identity)
	assert.True(t, closed)
	assert.True(t, cmp.Equal(models.Point{X: -2}, pts[0], approx), pts[0])

	arc := models.Arc{
		EntityMeta: models.EntityMeta{Layer: "A-WALL", Extrusion: models.Vec3{Z: -1}},
		Radius:     1,
		StartAngle: 0,
		EndAngle:   90,
	}
	pts, _ = Tessellate(arc, matrix.Identity)
	// в мировых координатах дуга идет по часовой стрелке
	assert.True(t, cmp.Equal(models.Point{X: -1}, pts[0], approx))
	assert.True(t, cmp.Equal(models.Point{Y: 1}, pts[len(pts)-1], approx))
}

func TestRotationExact(t *testing.T) {
	assert.Equal(t, matrix.Matrix{0, 1, -1, 0, 0, 0}, Rotation(90))
	assert.Equal(t, matrix.Matrix{0, 1, -1, 0, 0, 0}, Rotation(450))
	assert.Equal(t, matrix.Matrix{0, -1, 1, 0, 0, 0}, Rotation(-90))
	assert.Equal(t, matrix.Identity, Rotation(360))
}

func TestInsertTransform(t *testing.T) {
	ins := models.Insert{
		EntityMeta: models.EntityMeta{Extrusion: models.DefaultExtrusion},
		Block:      "W",
		Position:   models.Vec3{X: 5},
		ScaleX:     1, ScaleY: 1, ScaleZ: 1,
		Rotation: 90,
		Columns:  1, Rows: 1,
	}
	m := InsertTransform(ins, models.Vec3{}, 0, 0)
	assert.Equal(t, vec.Vec2{X: 5, Y: 0}, apply(m, 0, 0))
	assert.Equal(t, vec.Vec2{X: 5, Y: 1}, apply(m, 1, 0))
	assert.Equal(t, 1.0, Length(line(0, 0, 1, 0), m))

	ins.Position = models.Vec3{X: 10, Y: 10}
	ins.Rotation = 0
	m = InsertTransform(ins, models.Vec3{X: 1, Y: 1}, 0, 0)
	assert.Equal(t, vec.Vec2{X: 10, Y: 10}, apply(m, 1, 1))

	// неравномерный масштаб применяется до поворота
	ins.Position = models.Vec3{}
	ins.ScaleX, ins.Rotation = 2, 90
	m = InsertTransform(ins, models.Vec3{}, 0, 0)
	assert.Equal(t, vec.Vec2{X: 0, Y: 2}, apply(m, 1, 0))

	// ячейка MINSERT сдвигается в системе блока, до поворота
	ins.ScaleX = 1
	ins.Columns, ins.ColumnSpacing = 2, 10
	m = InsertTransform(ins, models.Vec3{}, 1, 0)
	assert.Equal(t, vec.Vec2{X: 0, Y: 10}, apply(m, 0, 0))
}

func TestTransformComposition(t *testing.T) {
	a := InsertTransform(models.Insert{
		EntityMeta: models.EntityMeta{Extrusion: models.DefaultExtrusion},
		Position:   models.Vec3{X: 3, Y: -2},
		ScaleX:     2, ScaleY: 0.5,
		Rotation: 33,
	}, models.Vec3{X: 1}, 0, 0)
	b := Rotation(-71).Mul(matrix.Translate(4, 4))
	c := OCS(models.Vec3{X: 0.2, Y: -0.1, Z: -1}, 3)

	assert.True(t, cmp.Equal(a.Mul(b).Mul(c), a.Mul(b.Mul(c)), approx))

	// вложенная вставка: точка блока B внутри A в мировых координатах
	p := vec.Vec2{X: 1.5, Y: -0.25}
	world := b.Mul(a)
	assert.True(t, cmp.Equal(a.Apply(b.Apply(p)), world.Apply(p), approx))
}

func TestConformal(t *testing.T) {
	s, ok := Conformal(Rotation(30).Mul(matrix.Scale(2, 2)))
	assert.True(t, ok)
	assert.InDelta(t, 2.0, s, 1e-12)

	_, ok = Conformal(matrix.Scale(2, 1))
	assert.False(t, ok)

	s, ok = Conformal(matrix.Scale(-3, 3))
	assert.True(t, ok)
	assert.InDelta(t, 3.0, s, 1e-12)
	assert.True(t, Mirrored(matrix.Scale(-3, 3)))
	assert.False(t, Mirrored(Rotation(180)))
}
