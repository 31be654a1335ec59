package models

import "fmt"

// ============================================================
// Wall segments
// ============================================================

type Provenance string

const (
	ProvenanceAuto   Provenance = "auto"
	ProvenanceManual Provenance = "manual"
)

// UnclassifiedCategory - категория для сегментов, не попавших ни под одно правило.
const UnclassifiedCategory = "unclassified"

// WallSegment - плоский классифицированный сегмент стены в мировых координатах.
type WallSegment struct {
	ID         string     `json:"id"`
	Layer      string     `json:"layer"`
	SourceKind EntityKind `json:"sourceKind"`
	Handle     string     `json:"handle,omitempty"`
	BlockPath  []string   `json:"blockPath,omitempty"`
	Points     []Point    `json:"points"`
	Closed     bool       `json:"closed"`
	Length     float64    `json:"length"`
	CategoryID string     `json:"categoryId,omitempty"`
	Provenance Provenance `json:"provenance"`
	BuildingID string     `json:"buildingId,omitempty"`
	FloorID    string     `json:"floorId,omitempty"`
}

func (s WallSegment) IsManual() bool {
	return s.Provenance == ProvenanceManual
}

// Validate проверяет инварианты сегмента (>=2 точки, длина >= 0).
func (s WallSegment) Validate() error {
	if len(s.Points) < 2 {
		return fmt.Errorf("segment %s: %d points, need at least 2", s.ID, len(s.Points))
	}
	if s.Length < 0 {
		return fmt.Errorf("segment %s: negative length %g", s.ID, s.Length)
	}
	return nil
}

// ============================================================
// Layer mapping & categories
// ============================================================

// LayerRule - правило сопоставления слоя категории.
// Pattern без '*' - точное совпадение, с '*' на конце - префикс.
type LayerRule struct {
	Priority   int    `json:"priority" yaml:"priority"`
	Pattern    string `json:"pattern" yaml:"pattern"`
	CategoryID string `json:"category" yaml:"category"`
}

// RuleSet - переиспользуемый набор правил; категории могут лежать в том же файле.
type RuleSet struct {
	Name       string         `json:"name" yaml:"name"`
	Rules      []LayerRule    `json:"rules" yaml:"rules"`
	Categories []WallCategory `json:"categories,omitempty" yaml:"categories,omitempty"`
}

type WallCategory struct {
	ID            string `json:"id" yaml:"id"`
	Code          string `json:"code,omitempty" yaml:"code,omitempty"`
	Label         string `json:"label" yaml:"label"`
	PositionType  string `json:"positionType,omitempty" yaml:"position_type,omitempty"`
	HeightType    string `json:"heightType,omitempty" yaml:"height_type,omitempty"`
	HeightFormula string `json:"heightFormula,omitempty" yaml:"height_formula,omitempty"`
	Color         string `json:"color,omitempty" yaml:"color,omitempty"`
}

// ClassificationConflict - сегмент в состоянии, которое классификатор
// не имеет права исправлять сам.
type ClassificationConflict struct {
	SegmentID string `json:"segmentId"`
	Reason    string `json:"reason"`
}

func (c *ClassificationConflict) Error() string {
	return fmt.Sprintf("classification conflict on %s: %s", c.SegmentID, c.Reason)
}

// SegmentEdit - запись журнала ручной смены категории.
type SegmentEdit struct {
	ID          int64  `json:"id"`
	RunID       string `json:"runId"`
	SegmentID   string `json:"segmentId"`
	OldCategory string `json:"oldCategory"`
	NewCategory string `json:"newCategory"`
	EditedAt    string `json:"editedAt"`
}
