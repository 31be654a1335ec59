package mapper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/traditionalchinese"

	"wallcalc/internal/converter/encoding"
	"wallcalc/internal/converter/models"
)

func pairs(kv ...any) string {
	var b strings.Builder
	for _, v := range kv {
		fmt.Fprintf(&b, "%v\n", v)
	}
	return b.String()
}

func section(name, body string) string {
	return pairs(0, "SECTION", 2, name) + body + pairs(0, "ENDSEC")
}

func officeDrawing() string {
	return section("HEADER", pairs(9, "$ACADVER", 1, "AC1027", 9, "$INSUNITS", 70, 4)) +
		section("TABLES", pairs(
			0, "TABLE", 2, "LAYER",
			0, "LAYER", 2, "A-WALL-EXT", 70, 0, 62, 1,
			0, "ENDTAB",
		)) +
		section("BLOCKS", pairs(
			0, "BLOCK", 2, "W", 70, 0, 10, 0, 20, 0, 30, 0,
			0, "LINE", 8, "A-WALL-INT", 10, 0, 20, 0, 11, 1, 21, 0,
			0, "ENDBLK",
		)) +
		section("ENTITIES", pairs(
			0, "LINE", 5, "1A", 8, "A-WALL-EXT", 10, 0, 20, 0, 30, 0, 11, 2, 21, 0, 31, 0,
			0, "LWPOLYLINE", 5, "1B", 8, "A-WALL", 90, 4, 70, 1,
			10, 0, 20, 0, 10, 3, 20, 0, 10, 3, 20, 4, 10, 0, 20, 4,
			0, "INSERT", 5, "1C", 8, "0", 2, "W", 10, 5, 20, 0, 30, 0, 50, 90,
			0, "CIRCLE", 5, "1D", 8, "A-WALL", 10, 0, 20, 0, 40, 0,
			0, "INSERT", 5, "1E", 8, "0", 2, "MISSING", 10, 0, 20, 0,
			0, "TEXT", 8, "ANNO", 1, "note",
			0, "LINE", 5, "1F", 8, "DIM", 10, 0, 20, 10, 11, 3, 21, 10,
		)) +
		pairs(0, "EOF")
}

var officeRules = []models.LayerRule{
	{Priority: 1, Pattern: "A-WALL-EXT*", CategoryID: "Exterior"},
	{Priority: 2, Pattern: "A-WALL*", CategoryID: "wall"},
}

var officeProject = &models.Project{
	ID: "p1",
	Buildings: []models.Building{{
		ID: "B1", Label: "Main",
		Floors: []models.Floor{{ID: "f1", Label: "1F"}, {ID: "b1", Label: "B1F", BelowGrade: true}},
	}},
}

func convert(t *testing.T, opts Options, text string) *models.Result {
	t.Helper()
	c, err := New(opts)
	require.NoError(t, err)
	res, err := c.ConvertBytes(context.Background(), []byte(text))
	require.NoError(t, err)
	return res
}

func TestConvertPipeline(t *testing.T) {
	res := convert(t, Options{
		Rules:      officeRules,
		Project:    officeProject,
		BuildingID: "B1",
		FloorID:    "f1",
		Source:     "office.dxf",
	}, officeDrawing())

	require.Len(t, res.Segments, 4)
	for i, s := range res.Segments {
		assert.Equal(t, fmt.Sprintf("seg_%05d", i+1), s.ID)
		assert.NoError(t, s.Validate())
		assert.Equal(t, models.ProvenanceAuto, s.Provenance)
		assert.Equal(t, "B1", s.BuildingID)
	}

	ext := res.Segments[0]
	assert.Equal(t, "A-WALL-EXT", ext.Layer)
	assert.Equal(t, 2.0, ext.Length)
	assert.Equal(t, "Exterior", ext.CategoryID)
	assert.Equal(t, "1A", ext.Handle)

	rect := res.Segments[1]
	assert.Equal(t, 14.0, rect.Length)
	assert.True(t, rect.Closed)
	assert.Equal(t, models.KindPolyline, rect.SourceKind)

	door := res.Segments[2]
	assert.Equal(t, "A-WALL-INT", door.Layer)
	assert.Equal(t, []models.Point{{X: 5, Y: 0}, {X: 5, Y: 1}}, door.Points)
	assert.Equal(t, []string{"W"}, door.BlockPath)
	assert.Equal(t, "wall", door.CategoryID)

	assert.Equal(t, models.UnclassifiedCategory, res.Segments[3].CategoryID)

	r := res.Report
	assert.NotEmpty(t, r.RunID)
	assert.Equal(t, "office.dxf", r.Source)
	assert.Equal(t, encoding.UTF8, r.Encoding)
	assert.False(t, r.Fallback)
	assert.Equal(t, 7, r.Decoded)
	assert.Equal(t, 4, r.SegmentsProduced)
	assert.Equal(t, 1, r.SkippedByReason[models.ReasonDegenerate])
	assert.Equal(t, 1, r.SkippedByReason[models.ReasonUnresolvedBlock])
	assert.Equal(t, 1, r.Ignored["TEXT"])
	assert.Empty(t, r.Conflicts)

	assert.Equal(t, 4, res.Header.InsUnits)
	assert.Equal(t, "A-WALL-EXT", res.Layers[0].Name)

	agg := res.Aggregation
	assert.Equal(t, "p1", agg.ProjectID)
	assert.Equal(t, models.Rollup{Length: 20, Count: 4}, agg.Project)
	assert.Equal(t, models.Rollup{Length: 20, Count: 4}, agg.Buildings["B1"])
	assert.Equal(t, models.Rollup{Length: 3, Count: 1}, agg.Unclassified["DIM"])
	assert.Empty(t, agg.Mismatched)
}

func TestConvertWarnsOnForeignFloor(t *testing.T) {
	project := &models.Project{
		ID: "p2",
		Buildings: []models.Building{
			{ID: "B1", Floors: []models.Floor{{ID: "f1", Label: "1F"}}},
			{ID: "B2", Floors: []models.Floor{{ID: "f2", Label: "2F"}}},
		},
	}
	res := convert(t, Options{Rules: officeRules, Project: project, BuildingID: "B2", FloorID: "f1"}, officeDrawing())

	agg := res.Aggregation
	assert.Len(t, agg.Mismatched, len(res.Segments))
	assert.Equal(t, agg.Project, agg.Unassigned)
	assert.Zero(t, agg.Buildings["B1"])
	require.NotEmpty(t, res.Report.Warnings)
	assert.Contains(t, res.Report.Warnings[len(res.Report.Warnings)-1], `floor "f1" does not belong to building "B2"`)
}

func TestConvertLayerPrefixFilter(t *testing.T) {
	res := convert(t, Options{WallLayerPrefix: "a-wall"}, officeDrawing())
	assert.Len(t, res.Segments, 3)
	assert.Equal(t, 1, res.Report.Filtered)

	// правила по умолчанию: A-WALL* -> wall
	for _, s := range res.Segments {
		assert.Equal(t, "wall", s.CategoryID)
	}
	assert.Equal(t, models.Rollup{Length: 17, Count: 3}, res.Aggregation.Unassigned)
}

func TestConvertFallbackEncoding(t *testing.T) {
	layer, err := traditionalchinese.Big5.NewEncoder().String("外牆")
	require.NoError(t, err)

	text := section("HEADER", pairs(9, "$ACADVER", 1, "AC1027")) +
		section("ENTITIES", pairs(0, "LINE", 8, layer, 10, 0, 20, 0, 11, 2, 21, 0)) +
		pairs(0, "EOF")

	res := convert(t, Options{Rules: []models.LayerRule{{Pattern: "外牆", CategoryID: "ext"}}}, text)
	assert.Equal(t, encoding.CP950, res.Report.Encoding)
	assert.Equal(t, encoding.UTF8, res.Report.DeclaredEncoding)
	assert.True(t, res.Report.Fallback)
	assert.NotEmpty(t, res.Report.Warnings)

	require.Len(t, res.Segments, 1)
	assert.Equal(t, "外牆", res.Segments[0].Layer)
	assert.Equal(t, "ext", res.Segments[0].CategoryID)
}

func TestConvertDecodeError(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)

	_, err = c.ConvertBytes(context.Background(), []byte("AutoCAD Binary DXF\r\n\x1a\x00"))
	var de *encoding.DecodeError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, err.Error(), "re-export")

	c, err = New(Options{DisableRecovery: true})
	require.NoError(t, err)
	data := []byte("0\nSECTION\n2\n\xff\xfe\n")
	_, err = c.Convert(context.Background(), bytes.NewReader(data), int64(len(data)))
	assert.True(t, errors.As(err, &de))
}

func TestConvertCancelled(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.ConvertBytes(ctx, []byte(officeDrawing()))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFailsOnInvalidConfig(t *testing.T) {
	_, err := New(Options{Rules: []models.LayerRule{{Pattern: "", CategoryID: "x"}}})
	assert.Error(t, err)

	_, err = New(Options{Project: &models.Project{Buildings: []models.Building{{ID: "A"}, {ID: "A"}}}})
	assert.Error(t, err)
}

func TestReclassifyKeepsManual(t *testing.T) {
	c, err := New(Options{Rules: officeRules, Project: officeProject, BuildingID: "B1", FloorID: "b1"})
	require.NoError(t, err)
	res, err := c.ConvertBytes(context.Background(), []byte(officeDrawing()))
	require.NoError(t, err)
	assert.Equal(t, models.Rollup{Length: 20, Count: 4}, res.Aggregation.Shared)

	res.Segments[0].CategoryID = "Curtain"
	res.Segments[0].Provenance = models.ProvenanceManual

	out, err := c.Reclassify(res, []models.LayerRule{{Pattern: "*", CategoryID: "any"}})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Manual)
	assert.Equal(t, "Curtain", res.Segments[0].CategoryID)
	for _, s := range res.Segments[1:] {
		assert.Equal(t, "any", s.CategoryID)
	}

	var curtain float64
	for _, b := range res.Aggregation.Buckets {
		if b.Key.CategoryID == "Curtain" {
			curtain += b.Length
		}
	}
	assert.Equal(t, 2.0, curtain)

	_, err = c.Reclassify(res, []models.LayerRule{{Pattern: "A*B", CategoryID: "x"}})
	assert.Error(t, err)
	assert.Equal(t, []models.LayerRule{{Pattern: "*", CategoryID: "any"}}, c.Rules())
}
