package flatten

import (
	"fmt"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"seehuhn.de/go/geom/matrix"
	"seehuhn.de/go/geom/vec"

	"wallcalc/internal/converter/geometry"
	"wallcalc/internal/converter/models"
)

func meta(layer string) models.EntityMeta {
	return models.EntityMeta{Layer: layer, Extrusion: models.DefaultExtrusion}
}

func unitLine(layer string) models.Line {
	return models.Line{EntityMeta: meta(layer), End: models.Vec3{X: 1}}
}

func insert(block, layer string, x, y, rot float64) models.Insert {
	return models.Insert{
		EntityMeta: meta(layer),
		Block:      block,
		Position:   models.Vec3{X: x, Y: y},
		ScaleX:     1, ScaleY: 1, ScaleZ: 1,
		Rotation: rot,
		Columns:  1, Rows: 1,
	}
}

func block(name string, ents ...models.Entity) *models.BlockDefinition {
	return &models.BlockDefinition{Name: name, Entities: ents}
}

func toVec(p models.Point) vec.Vec2 {
	return vec.Vec2{X: p.X, Y: p.Y}
}

func collect(f *Flattener, e models.Entity) []Placed {
	return slices.Collect(f.Flatten(e))
}

func world(t *testing.T, p Placed) []models.Point {
	t.Helper()
	pts, _ := geometry.Tessellate(p.Entity, p.Transform)
	return pts
}

func TestFlattenPassThrough(t *testing.T) {
	f := New(nil, Options{})
	out := collect(f, unitLine("A-WALL"))
	require.Len(t, out, 1)
	assert.Equal(t, matrix.Identity, out[0].Transform)
	assert.Equal(t, "A-WALL", out[0].Layer)
	assert.Empty(t, out[0].BlockPath)
	assert.Empty(t, f.Skipped())
}

func TestFlattenRotatedInsert(t *testing.T) {
	f := New(BlockMap{"W": block("W", unitLine("A-WALL"))}, Options{})

	out := collect(f, insert("w", "DOORS", 5, 0, 90))
	require.Len(t, out, 1)
	assert.Equal(t, []models.Point{{X: 5, Y: 0}, {X: 5, Y: 1}}, world(t, out[0]))
	assert.Equal(t, "A-WALL", out[0].Layer)
	assert.Equal(t, []string{"W"}, out[0].BlockPath)
	assert.InDelta(t, 1.0, geometry.Length(out[0].Entity, out[0].Transform), 1e-12)
	assert.Equal(t, 1, f.Expanded())
}

func TestFlattenNestedComposition(t *testing.T) {
	inner := insert("B", "0", 10, 0, 0)
	inner.ScaleX, inner.ScaleY = 2, 2
	outer := insert("A", "0", 0, 5, 90)

	blocks := BlockMap{
		"A": block("A", inner),
		"B": block("B", models.Line{EntityMeta: meta("A-WALL"), Start: models.Vec3{X: 0.5}, End: models.Vec3{X: 1, Y: 3}}),
	}
	out := collect(New(blocks, Options{}), outer)
	require.Len(t, out, 1)

	// тот же результат последовательным применением двух вставок
	in := geometry.InsertTransform(inner, models.Vec3{}, 0, 0)
	ex := geometry.InsertTransform(outer, models.Vec3{}, 0, 0)
	var want []models.Point
	for _, p := range []models.Point{{X: 0.5}, {X: 1, Y: 3}} {
		v := ex.Apply(in.Apply(toVec(p)))
		want = append(want, models.Point{X: v.X, Y: v.Y})
	}
	assert.True(t, cmp.Equal(want, world(t, out[0]), cmpopts.EquateApprox(0, 1e-9)),
		cmp.Diff(want, world(t, out[0])))
	assert.Equal(t, []string{"A", "B"}, out[0].BlockPath)
}

func TestFlattenCycle(t *testing.T) {
	blocks := BlockMap{
		"A": block("A", unitLine("L-A"), insert("B", "0", 1, 0, 0)),
		"B": block("B", unitLine("L-B"), insert("A", "0", 1, 0, 0)),
	}
	f := New(blocks, Options{})
	out := collect(f, insert("A", "0", 0, 0, 0))

	require.Len(t, out, 2)
	assert.Equal(t, "L-A", out[0].Layer)
	assert.Equal(t, "L-B", out[1].Layer)

	skipped := f.Skipped()
	require.Len(t, skipped, 1)
	assert.Equal(t, models.ReasonCyclicBlock, skipped[0].Reason)
	assert.Equal(t, "B", skipped[0].Block)
	assert.Contains(t, skipped[0].Detail, "A > B")
}

func TestFlattenSelfReference(t *testing.T) {
	f := New(BlockMap{"S": block("S", insert("s", "0", 0, 0, 0))}, Options{})
	assert.Empty(t, collect(f, insert("S", "0", 0, 0, 0)))
	require.Len(t, f.Skipped(), 1)
	assert.Equal(t, models.ReasonCyclicBlock, f.Skipped()[0].Reason)
}

func TestFlattenUnresolved(t *testing.T) {
	xref := block("XREF")
	xref.Flags = 4
	f := New(BlockMap{"XREF": xref}, Options{})

	assert.Empty(t, collect(f, insert("MISSING", "0", 0, 0, 0)))
	assert.Empty(t, collect(f, insert("XREF", "0", 0, 0, 0)))

	skipped := f.Skipped()
	require.Len(t, skipped, 2)
	for _, s := range skipped {
		assert.Equal(t, models.ReasonUnresolvedBlock, s.Reason)
		assert.Equal(t, "INSERT", s.Type)
	}
}

func TestFlattenDepthLimit(t *testing.T) {
	blocks := BlockMap{}
	for i := range 5 {
		name := fmt.Sprintf("L%d", i)
		blocks[name] = block(name, unitLine(name), insert(fmt.Sprintf("L%d", i+1), "0", 0, 0, 0))
	}
	f := New(blocks, Options{MaxDepth: 3})
	out := collect(f, insert("L0", "0", 0, 0, 0))

	layers := make([]string, 0, len(out))
	for _, p := range out {
		layers = append(layers, p.Layer)
	}
	assert.Equal(t, []string{"L0", "L1", "L2"}, layers)

	skipped := f.Skipped()
	require.Len(t, skipped, 1)
	assert.Equal(t, models.ReasonDepthExceeded, skipped[0].Reason)
}

func TestFlattenLayerZeroInheritance(t *testing.T) {
	blocks := BlockMap{
		"OUT": block("OUT", insert("IN", "0", 0, 0, 0), unitLine("FIXED")),
		"IN":  block("IN", unitLine("0")),
	}
	out := collect(New(blocks, Options{}), insert("OUT", "A-WALL-INT", 0, 0, 0))
	require.Len(t, out, 2)
	assert.Equal(t, "A-WALL-INT", out[0].Layer)
	assert.Equal(t, "FIXED", out[1].Layer)

	// на верхнем уровне "0" остается "0"
	top := collect(New(nil, Options{}), unitLine("0"))
	assert.Equal(t, "0", top[0].Layer)
}

func TestFlattenMInsert(t *testing.T) {
	m := insert("W", "0", 100, 0, 0)
	m.Columns, m.Rows = 2, 3
	m.ColumnSpacing, m.RowSpacing = 10, 20

	f := New(BlockMap{"W": block("W", unitLine("A-WALL"))}, Options{})
	out := collect(f, m)
	require.Len(t, out, 6)

	var starts []models.Point
	for _, p := range out {
		starts = append(starts, world(t, p)[0])
	}
	assert.Equal(t, []models.Point{
		{X: 100, Y: 0}, {X: 110, Y: 0},
		{X: 100, Y: 20}, {X: 110, Y: 20},
		{X: 100, Y: 40}, {X: 110, Y: 40},
	}, starts)

	m.Columns, m.Rows = 1000, 1000
	assert.Empty(t, collect(f, m))
	assert.Equal(t, models.ReasonMalformedEntity, f.Skipped()[0].Reason)
}

func TestFlattenBaseAndBreak(t *testing.T) {
	b := block("B", unitLine("A"), unitLine("B"), unitLine("C"))
	b.Base = models.Vec3{X: 1, Y: 1}
	f := New(BlockMap{"B": b}, Options{})

	n := 0
	for p := range f.Flatten(insert("B", "0", 0, 0, 0)) {
		assert.Equal(t, models.Point{X: -1, Y: -1}, world(t, p)[0])
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}
