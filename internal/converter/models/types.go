package models

// ============================================================
// Geometry primitives
// ============================================================

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// DefaultExtrusion - нормаль OCS по умолчанию (мировая ось Z).
var DefaultExtrusion = Vec3{Z: 1}

// ============================================================
// Raw entities
// ============================================================

type EntityKind string

const (
	KindLine     EntityKind = "LINE"
	KindPolyline EntityKind = "POLYLINE"
	KindArc      EntityKind = "ARC"
	KindCircle   EntityKind = "CIRCLE"
	KindSpline   EntityKind = "SPLINE"
	KindInsert   EntityKind = "INSERT"
)

// Entity - закрытый вариант над поддерживаемыми сущностями чертежа.
// Реализуют только типы этого пакета.
type Entity interface {
	Kind() EntityKind
	Meta() EntityMeta
	isEntity()
}

// EntityMeta - общие атрибуты любой сущности.
type EntityMeta struct {
	Handle    string `json:"handle,omitempty"`
	Layer     string `json:"layer"`
	Extrusion Vec3   `json:"extrusion"`
	Line      int    `json:"line,omitempty"` // строка исходного файла с кодом 0
}

type Line struct {
	EntityMeta
	Start Vec3
	End   Vec3
}

// PolylineVertex - вершина полилинии. Bulge относится к сегменту,
// который начинается в этой вершине.
type PolylineVertex struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z,omitempty"`
	Bulge float64 `json:"bulge,omitempty"`
}

// Polyline покрывает и LWPOLYLINE, и POLYLINE с VERTEX.
type Polyline struct {
	EntityMeta
	Vertices  []PolylineVertex
	Closed    bool
	Is3D      bool // координаты в WCS, bulge игнорируется
	Elevation float64
	Light     bool // LWPOLYLINE
}

// Arc - дуга против часовой стрелки в OCS, углы в градусах.
type Arc struct {
	EntityMeta
	Center     Vec3
	Radius     float64
	StartAngle float64
	EndAngle   float64
}

type Circle struct {
	EntityMeta
	Center Vec3
	Radius float64
}

type Spline struct {
	EntityMeta
	Degree        int
	Flags         int
	Knots         []float64
	Weights       []float64
	ControlPoints []Vec3
	FitPoints     []Vec3
}

func (s Spline) Closed() bool { return s.Flags&1 != 0 }

// Insert - ссылка на блок (для MINSERT Columns/Rows > 1).
type Insert struct {
	EntityMeta
	Block         string
	Position      Vec3
	ScaleX        float64
	ScaleY        float64
	ScaleZ        float64
	Rotation      float64 // градусы
	Columns       int
	Rows          int
	ColumnSpacing float64
	RowSpacing    float64
}

func (e Line) Kind() EntityKind     { return KindLine }
func (e Polyline) Kind() EntityKind { return KindPolyline }
func (e Arc) Kind() EntityKind      { return KindArc }
func (e Circle) Kind() EntityKind   { return KindCircle }
func (e Spline) Kind() EntityKind   { return KindSpline }
func (e Insert) Kind() EntityKind   { return KindInsert }

func (e Line) Meta() EntityMeta     { return e.EntityMeta }
func (e Polyline) Meta() EntityMeta { return e.EntityMeta }
func (e Arc) Meta() EntityMeta      { return e.EntityMeta }
func (e Circle) Meta() EntityMeta   { return e.EntityMeta }
func (e Spline) Meta() EntityMeta   { return e.EntityMeta }
func (e Insert) Meta() EntityMeta   { return e.EntityMeta }

func (Line) isEntity()     {}
func (Polyline) isEntity() {}
func (Arc) isEntity()      {}
func (Circle) isEntity()   {}
func (Spline) isEntity()   {}
func (Insert) isEntity()   {}

// ============================================================
// Blocks, layers, header
// ============================================================

type BlockDefinition struct {
	Name     string
	Base     Vec3
	Flags    int
	Layer    string
	Entities []Entity
}

// IsExternal сообщает, что блок - внешняя ссылка (xref) и геометрии не содержит.
func (b *BlockDefinition) IsExternal() bool {
	return b.Flags&(4|8) != 0
}

type Layer struct {
	Name     string `json:"name"`
	Color    int    `json:"color"`
	LineType string `json:"lineType,omitempty"`
	Off      bool   `json:"off"`
	Frozen   bool   `json:"frozen"`
}

type Header struct {
	Version  string  `json:"version,omitempty"`
	CodePage string  `json:"codePage,omitempty"`
	InsUnits int     `json:"insUnits"`
	DimScale float64 `json:"dimScale"`
	ExtMin   *Vec3   `json:"extMin,omitempty"`
	ExtMax   *Vec3   `json:"extMax,omitempty"`
}

// unitsToMM - коэффициенты $INSUNITS -> миллиметры.
var unitsToMM = map[int]float64{
	0:  1,
	1:  25.4,
	2:  304.8,
	3:  1609344,
	4:  1,
	5:  10,
	6:  1000,
	7:  1e6,
	8:  2.54e-5,
	9:  0.0254,
	10: 914.4,
	11: 1e-7,
	12: 1e-6,
	13: 0.001,
	14: 100,
	15: 10000,
	16: 100000,
}

// UnitsToMillimetres возвращает множитель перевода единиц чертежа в мм.
// Неизвестный код трактуется как безразмерный (1).
func UnitsToMillimetres(insUnits int) float64 {
	if f, ok := unitsToMM[insUnits]; ok {
		return f
	}
	return 1
}

// MillimetresPerUnit - множитель для единиц этого чертежа.
func (h Header) MillimetresPerUnit() float64 {
	return UnitsToMillimetres(h.InsUnits)
}
