package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallcalc/internal/converter/mapper"
	"wallcalc/internal/converter/models"
)

func dxf(entities ...any) string {
	var b strings.Builder
	for _, v := range []any{0, "SECTION", 2, "HEADER", 9, "$ACADVER", 1, "AC1027", 0, "ENDSEC",
		0, "SECTION", 2, "TABLES", 0, "TABLE", 2, "LAYER",
		0, "LAYER", 2, "A-WALL", 70, 0, 62, 7,
		0, "LAYER", 2, "HIDDEN", 70, 1, 62, -3,
		0, "ENDTAB", 0, "ENDSEC", 0, "SECTION", 2, "ENTITIES"} {
		fmt.Fprintf(&b, "%v\n", v)
	}
	for _, v := range entities {
		fmt.Fprintf(&b, "%v\n", v)
	}
	b.WriteString("0\nENDSEC\n0\nEOF\n")
	return b.String()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

var tower = &models.Project{
	ID: "tower",
	Buildings: []models.Building{{
		ID: "B1", Label: "Main",
		Floors: []models.Floor{{ID: "f1", Label: "1F"}, {ID: "f2", Label: "2F"}},
	}},
}

func TestParseTargets(t *testing.T) {
	got := parseTargets([]string{"a.dxf@B1/f1", "plain.dxf", "odd@name.dxf", "dir@x/plan.dxf@B2/b1"})
	assert.Equal(t, []target{
		{Path: "a.dxf", BuildingID: "B1", FloorID: "f1"},
		{Path: "plain.dxf"},
		{Path: "odd@name.dxf"},
		{Path: "dir@x/plan.dxf", BuildingID: "B2", FloorID: "b1"},
	}, got)
}

func TestConvertFilesAndCombine(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "1f.dxf", dxf(0, "LINE", 8, "A-WALL", 10, 0, 20, 0, 11, 4, 21, 0))
	second := writeFile(t, dir, "2f.dxf", dxf(
		0, "LINE", 8, "A-WALL", 10, 0, 20, 0, 11, 0, 21, 3,
		0, "LINE", 8, "A-WALL", 10, 0, 20, 0, 11, 0, 21, 2,
	))

	opts := mapper.Options{Project: tower}
	results, err := convertFiles(context.Background(), []target{
		{Path: first, BuildingID: "B1", FloorID: "f1"},
		{Path: second, BuildingID: "B1", FloorID: "f2"},
		{Path: filepath.Join(dir, "missing.dxf")},
	}, opts, 2)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Empty(t, results[0].Error)
	assert.Equal(t, "1f.dxf", results[0].Result.Report.Source)
	assert.Equal(t, "f1", results[0].Result.Segments[0].FloorID)
	assert.Len(t, results[1].Result.Segments, 2)
	assert.NotEmpty(t, results[2].Error)
	assert.Nil(t, results[2].Result)

	agg, err := combine(opts, results)
	require.NoError(t, err)
	assert.Equal(t, models.Rollup{Length: 9, Count: 3}, agg.Project)
	assert.Equal(t, models.Rollup{Length: 9, Count: 3}, agg.Buildings["B1"])
	require.Len(t, agg.Buckets, 2)
	assert.Equal(t, "f1", agg.Buckets[0].Key.FloorID)
	assert.Equal(t, 5.0, agg.Buckets[1].Length)
}

func TestConvertFilesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := convertFiles(ctx, []target{{Path: "x.dxf"}}, mapper.Options{}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrintFileAndLayers(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "plan.dxf", dxf(
		0, "LINE", 8, "A-WALL", 10, 0, 20, 0, 11, 4, 21, 0,
		0, "LINE", 8, "STRAY", 10, 0, 20, 0, 11, 1, 21, 0,
		0, "CIRCLE", 8, "A-WALL", 10, 0, 20, 0, 40, 0,
	))

	r := convertFile(context.Background(), target{Path: path}, mapper.Options{})
	require.Empty(t, r.Error)

	rows := layerRows(r.Result)
	require.Len(t, rows, 3)
	assert.Equal(t, "A-WALL", rows[0].Name)
	assert.Equal(t, 1, rows[0].Segments)
	assert.Equal(t, 4.0, rows[0].Length)
	assert.Equal(t, "HIDDEN", rows[1].Name)
	assert.True(t, rows[1].Off)
	assert.Zero(t, rows[1].Segments)
	assert.Equal(t, "STRAY", rows[2].Name)

	var out bytes.Buffer
	printFile(&out, r)
	text := out.String()
	assert.Contains(t, text, "== "+path)
	assert.Contains(t, text, "segments: 2")
	assert.Contains(t, text, "degenerate_geometry: 1")
	assert.Contains(t, text, "project: 5.000 (2)")
	assert.Contains(t, text, "unassigned: 5.000 (2)")

	out.Reset()
	printFile(&out, fileResult{Path: "bad.dxf", Error: "boom"})
	assert.Equal(t, "== bad.dxf\nerror: boom\n", out.String())
}

func TestRootFlags(t *testing.T) {
	root := newRootCmd()

	f := root.PersistentFlags().Lookup("no-recovery")
	require.NotNil(t, f)
	assert.Equal(t, "false", f.DefValue)
	assert.Contains(t, f.Usage, "replacement characters")
	assert.NotContains(t, f.Usage, "falling back")

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"parse", "layers", "version"})
}
