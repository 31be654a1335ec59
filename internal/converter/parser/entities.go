package parser

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"wallcalc/internal/converter/models"
)

// ============================================================
// Entity records
// ============================================================

var (
	errStopped     = errors.New("iteration stopped")
	errUnsupported = errors.New("unsupported entity")
)

// readEntities читает записи до ENDSEC/ENDBLK и отдает успешно
// разобранные сущности в yield. Битые записи пропускаются и
// учитываются в st. Возвращает встреченный терминатор.
func readEntities(sc *Scanner, st *Stats, yield func(models.Entity) bool) (string, error) {
	for {
		head, err := next(sc)
		if err != nil {
			return "", err
		}
		if head.Code != 0 {
			continue
		}
		typ := strings.ToUpper(head.Value)
		switch typ {
		case "ENDSEC", "ENDBLK", "EOF":
			return typ, nil
		}

		ent, err := readRecord(sc, head, typ, st)
		if err != nil {
			return "", err
		}
		if ent == nil {
			continue
		}
		st.Decoded++
		if !yield(ent) {
			return "", errStopped
		}
	}
}

// readRecord читает одну запись (вместе с VERTEX/ATTRIB/SEQEND).
// nil без ошибки - запись пропущена или проигнорирована.
func readRecord(sc *Scanner, head Pair, typ string, st *Stats) (models.Entity, error) {
	pairs, err := collect(sc)
	if isSyntax(err) {
		st.skip(models.ReasonMalformedEntity, typ, head, "", err.Error())
		return nil, sc.Resync()
	}
	if err != nil {
		return nil, err
	}

	var vertices [][]Pair
	switch typ {
	case "POLYLINE":
		vertices, err = readSubRecords(sc, "VERTEX")
	case "INSERT":
		_, err = readSubRecords(sc, "ATTRIB")
	}
	if isSyntax(err) {
		st.skip(models.ReasonMalformedEntity, typ, head, "", err.Error())
		return nil, sc.Resync()
	}
	if err != nil {
		return nil, err
	}

	f := &fields{pairs: pairs}
	meta := f.meta(head)
	if f.int(67, 0) == 1 {
		st.Ignored["PAPERSPACE"]++
		return nil, nil
	}

	var ent models.Entity
	switch typ {
	case "LINE":
		ent, err = decodeLine(f, meta)
	case "LWPOLYLINE":
		ent, err = decodeLWPolyline(f, meta)
	case "POLYLINE":
		ent, err = decodePolyline(f, meta, vertices)
	case "ARC":
		ent, err = decodeArc(f, meta)
	case "CIRCLE":
		ent, err = decodeCircle(f, meta)
	case "SPLINE":
		ent, err = decodeSpline(f, meta)
	case "INSERT":
		ent, err = decodeInsert(f, meta)
	default:
		st.Ignored[typ]++
		return nil, nil
	}

	switch {
	case errors.Is(err, errUnsupported):
		st.skip(models.ReasonUnsupportedEntity, typ, head, meta.Handle, err.Error())
		return nil, nil
	case err != nil:
		st.skip(models.ReasonMalformedEntity, typ, head, meta.Handle, err.Error())
		return nil, nil
	}
	return ent, nil
}

// readSubRecords забирает следующие за записью подзаписи (VERTEX, ATTRIB)
// и завершающий SEQEND.
func readSubRecords(sc *Scanner, typ string) ([][]Pair, error) {
	var out [][]Pair
	for {
		p, err := sc.Peek()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		switch {
		case p.Is(0, typ):
			sc.Next()
			pairs, err := collect(sc)
			if err != nil {
				return out, err
			}
			out = append(out, pairs)
		case p.Is(0, "SEQEND"):
			sc.Next()
			_, err := collect(sc)
			return out, err
		default:
			return out, nil
		}
	}
}

// ============================================================
// Field access
// ============================================================

// fields - значения групповых кодов записи; первая ошибка разбора сохраняется.
type fields struct {
	pairs []Pair
	err   error
}

func (f *fields) fail(format string, args ...any) {
	if f.err == nil {
		f.err = fmt.Errorf(format, args...)
	}
}

func (f *fields) lookup(code int) (Pair, bool) {
	for _, p := range f.pairs {
		if p.Code == code {
			return p, true
		}
	}
	return Pair{}, false
}

func (f *fields) has(code int) bool {
	_, ok := f.lookup(code)
	return ok
}

func (f *fields) str(code int, def string) string {
	if p, ok := f.lookup(code); ok {
		return p.Value
	}
	return def
}

func (f *fields) parse(p Pair) float64 {
	v, err := strconv.ParseFloat(p.Value, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		f.fail("line %d: code %d: bad number %q", p.Line, p.Code, p.Value)
		return 0
	}
	return v
}

func (f *fields) float(code int, def float64) float64 {
	if p, ok := f.lookup(code); ok {
		return f.parse(p)
	}
	return def
}

func (f *fields) required(code int) float64 {
	p, ok := f.lookup(code)
	if !ok {
		f.fail("missing group code %d", code)
		return 0
	}
	return f.parse(p)
}

func (f *fields) int(code int, def int) int {
	p, ok := f.lookup(code)
	if !ok {
		return def
	}
	v, err := strconv.Atoi(p.Value)
	if err != nil {
		// некоторые экспортеры пишут целые как "1.0"
		fv := f.parse(p)
		if fv != math.Trunc(fv) {
			f.fail("line %d: code %d: bad integer %q", p.Line, p.Code, p.Value)
		}
		return int(fv)
	}
	return v
}

// point читает точку по кодам base, base+10, base+20.
func (f *fields) point(base int, def models.Vec3) models.Vec3 {
	if !f.has(base) {
		return def
	}
	return models.Vec3{
		X: f.float(base, 0),
		Y: f.float(base+10, 0),
		Z: f.float(base+20, 0),
	}
}

func (f *fields) requiredPoint(base int) models.Vec3 {
	return models.Vec3{
		X: f.required(base),
		Y: f.required(base + 10),
		Z: f.float(base+20, 0),
	}
}

func (f *fields) meta(head Pair) models.EntityMeta {
	extrusion := f.point(210, models.DefaultExtrusion)
	if extrusion == (models.Vec3{}) {
		extrusion = models.DefaultExtrusion
	}
	return models.EntityMeta{
		Handle:    f.str(5, ""),
		Layer:     f.str(8, "0"),
		Extrusion: extrusion,
		Line:      head.Line,
	}
}

// ============================================================
// Decoders
// ============================================================

func decodeLine(f *fields, meta models.EntityMeta) (models.Entity, error) {
	e := models.Line{
		EntityMeta: meta,
		Start:      f.requiredPoint(10),
		End:        f.requiredPoint(11),
	}
	return e, f.err
}

func decodeLWPolyline(f *fields, meta models.EntityMeta) (models.Entity, error) {
	var verts []models.PolylineVertex
	for _, p := range f.pairs {
		switch p.Code {
		case 10:
			verts = append(verts, models.PolylineVertex{X: f.parse(p)})
		case 20, 42:
			if len(verts) == 0 {
				f.fail("line %d: code %d before first vertex", p.Line, p.Code)
				continue
			}
			if p.Code == 20 {
				verts[len(verts)-1].Y = f.parse(p)
			} else {
				verts[len(verts)-1].Bulge = f.parse(p)
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(verts) < 2 {
		return nil, fmt.Errorf("polyline has %d vertices", len(verts))
	}

	elevation := f.float(38, 0)
	for i := range verts {
		verts[i].Z = elevation
	}
	e := models.Polyline{
		EntityMeta: meta,
		Vertices:   verts,
		Closed:     f.int(70, 0)&1 != 0,
		Elevation:  elevation,
		Light:      true,
	}
	return e, f.err
}

func decodePolyline(f *fields, meta models.EntityMeta, vertices [][]Pair) (models.Entity, error) {
	flags := f.int(70, 0)
	switch {
	case flags&16 != 0:
		return nil, fmt.Errorf("polygon mesh: %w", errUnsupported)
	case flags&64 != 0:
		return nil, fmt.Errorf("polyface mesh: %w", errUnsupported)
	}
	elevation := f.point(10, models.Vec3{}).Z

	verts := make([]models.PolylineVertex, 0, len(vertices))
	for _, pairs := range vertices {
		vf := &fields{pairs: pairs}
		vflags := vf.int(70, 0)
		// 16 - управляющая точка сплайна, 128 без 64 - грань polyface
		if vflags&16 != 0 || (vflags&128 != 0 && vflags&64 == 0) {
			continue
		}
		p := vf.requiredPoint(10)
		v := models.PolylineVertex{X: p.X, Y: p.Y, Z: p.Z, Bulge: vf.float(42, 0)}
		if flags&8 == 0 {
			v.Z = elevation
		}
		if vf.err != nil {
			return nil, fmt.Errorf("vertex %d: %w", len(verts), vf.err)
		}
		verts = append(verts, v)
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(verts) < 2 {
		return nil, fmt.Errorf("polyline has %d vertices", len(verts))
	}

	e := models.Polyline{
		EntityMeta: meta,
		Vertices:   verts,
		Closed:     flags&1 != 0,
		Is3D:       flags&8 != 0,
		Elevation:  elevation,
	}
	return e, nil
}

func decodeArc(f *fields, meta models.EntityMeta) (models.Entity, error) {
	e := models.Arc{
		EntityMeta: meta,
		Center:     f.requiredPoint(10),
		Radius:     f.required(40),
		StartAngle: f.float(50, 0),
		EndAngle:   f.float(51, 0),
	}
	if f.err == nil && e.Radius < 0 {
		return nil, fmt.Errorf("negative radius %g", e.Radius)
	}
	return e, f.err
}

func decodeCircle(f *fields, meta models.EntityMeta) (models.Entity, error) {
	e := models.Circle{
		EntityMeta: meta,
		Center:     f.requiredPoint(10),
		Radius:     f.required(40),
	}
	if f.err == nil && e.Radius < 0 {
		return nil, fmt.Errorf("negative radius %g", e.Radius)
	}
	return e, f.err
}

func decodeSpline(f *fields, meta models.EntityMeta) (models.Entity, error) {
	e := models.Spline{
		EntityMeta: meta,
		Degree:     f.int(71, 3),
		Flags:      f.int(70, 0),
	}

	for _, p := range f.pairs {
		switch p.Code {
		case 40:
			e.Knots = append(e.Knots, f.parse(p))
		case 41:
			e.Weights = append(e.Weights, f.parse(p))
		case 10:
			e.ControlPoints = append(e.ControlPoints, models.Vec3{X: f.parse(p)})
		case 20, 30:
			if len(e.ControlPoints) == 0 {
				f.fail("line %d: code %d before first control point", p.Line, p.Code)
				continue
			}
			setCoord(&e.ControlPoints[len(e.ControlPoints)-1], p.Code/10, f.parse(p))
		case 11:
			e.FitPoints = append(e.FitPoints, models.Vec3{X: f.parse(p)})
		case 21, 31:
			if len(e.FitPoints) == 0 {
				f.fail("line %d: code %d before first fit point", p.Line, p.Code)
				continue
			}
			setCoord(&e.FitPoints[len(e.FitPoints)-1], p.Code/10, f.parse(p))
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	switch {
	case e.Degree < 1:
		return nil, fmt.Errorf("spline degree %d", e.Degree)
	case len(e.ControlPoints) == 1:
		return nil, errors.New("spline has a single control point")
	case len(e.ControlPoints) == 0 && len(e.FitPoints) < 2:
		return nil, errors.New("spline has no usable points")
	}
	return e, nil
}

func setCoord(v *models.Vec3, axis int, value float64) {
	if axis == 2 {
		v.Y = value
	} else {
		v.Z = value
	}
}

func decodeInsert(f *fields, meta models.EntityMeta) (models.Entity, error) {
	name := f.str(2, "")
	if name == "" {
		return nil, errors.New("insert without block name")
	}
	e := models.Insert{
		EntityMeta:    meta,
		Block:         name,
		Position:      f.point(10, models.Vec3{}),
		ScaleX:        f.float(41, 1),
		ScaleY:        f.float(42, 1),
		ScaleZ:        f.float(43, 1),
		Rotation:      f.float(50, 0),
		Columns:       max(f.int(70, 1), 1),
		Rows:          max(f.int(71, 1), 1),
		ColumnSpacing: f.float(44, 0),
		RowSpacing:    f.float(45, 0),
	}
	return e, f.err
}
