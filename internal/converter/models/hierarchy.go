package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ============================================================
// Project hierarchy
// ============================================================

// SharedScope - синтетический ключ здания для подземных этажей.
const SharedScope = "__shared__"

// UnassignedScope - ключ для сегментов без этажа или с неизвестным этажом.
const UnassignedScope = "__unassigned__"

type Project struct {
	ID           string     `json:"id" yaml:"id"`
	Name         string     `json:"name" yaml:"name"`
	Buildings    []Building `json:"buildings" yaml:"buildings"`
	SharedFloors []Floor    `json:"sharedFloors,omitempty" yaml:"shared_floors,omitempty"`
}

type Building struct {
	ID     string  `json:"id" yaml:"id"`
	Label  string  `json:"label" yaml:"label"`
	Floors []Floor `json:"floors" yaml:"floors"`
}

// Floor - этаж. BelowGrade-этажи общие для всего проекта.
// Label вида "7~8F" описывает объединенный этаж.
type Floor struct {
	ID         string `json:"id" yaml:"id"`
	Label      string `json:"label" yaml:"label"`
	BelowGrade bool   `json:"belowGrade" yaml:"below_grade"`
	Levels     []int  `json:"levels,omitempty" yaml:"levels,omitempty"`
}

// PhysicalLevels возвращает уровни этажа: явные или разобранные из метки.
func (f Floor) PhysicalLevels() []int {
	if len(f.Levels) > 0 {
		return f.Levels
	}
	levels, err := ParseFloorLabel(f.Label)
	if err != nil {
		return nil
	}
	return levels
}

func (f Floor) IsMerged() bool {
	return len(f.PhysicalLevels()) > 1
}

// ParseFloorLabel разбирает метки "3F", "B1F", "7~8F", "B2~B1".
// Подземные уровни отрицательные.
func ParseFloorLabel(label string) ([]int, error) {
	s := strings.ToUpper(strings.TrimSpace(label))
	if s == "" {
		return nil, fmt.Errorf("empty floor label")
	}
	parts := strings.Split(s, "~")
	if len(parts) > 2 {
		return nil, fmt.Errorf("floor label %q: too many ranges", label)
	}

	bounds := make([]int, 0, 2)
	for _, p := range parts {
		p = strings.TrimSuffix(strings.TrimSpace(p), "F")
		sign := 1
		if strings.HasPrefix(p, "B") {
			sign = -1
			p = p[1:]
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("floor label %q: bad level %q", label, p)
		}
		bounds = append(bounds, sign*n)
	}

	if len(bounds) == 1 {
		return bounds, nil
	}
	lo, hi := bounds[0], bounds[1]
	if lo > hi {
		lo, hi = hi, lo
	}
	levels := make([]int, 0, hi-lo+1)
	for l := lo; l <= hi; l++ {
		if l == 0 {
			continue
		}
		levels = append(levels, l)
	}
	return levels, nil
}

// ============================================================
// Aggregation result
// ============================================================

type BucketKey struct {
	BuildingID string `json:"buildingId"`
	FloorID    string `json:"floorId"`
	CategoryID string `json:"categoryId"`
}

type Rollup struct {
	Length float64 `json:"length"`
	Count  int     `json:"count"`
}

func (r *Rollup) Add(length float64) {
	r.Length += length
	r.Count++
}

func (r *Rollup) Merge(o Rollup) {
	r.Length += o.Length
	r.Count += o.Count
}

// Bucket - строка статистики (здание, этаж, категория).
type Bucket struct {
	Key           BucketKey `json:"key"`
	BuildingLabel string    `json:"buildingLabel"`
	FloorLabel    string    `json:"floorLabel"`
	CategoryLabel string    `json:"categoryLabel"`
	HeightType    string    `json:"heightType,omitempty"`
	HeightFormula string    `json:"heightFormula,omitempty"`
	Rollup
}

type AggregationResult struct {
	ProjectID string            `json:"projectId"`
	Buckets   []Bucket          `json:"buckets"`
	Buildings map[string]Rollup `json:"buildings"`
	Shared    Rollup            `json:"shared"`
	// Unassigned - сегменты без этажа или с чужим этажом; входят в Project.
	Unassigned Rollup `json:"unassigned"`
	Project    Rollup `json:"project"`
	// Unclassified - неклассифицированные сегменты по слоям.
	Unclassified map[string]Rollup `json:"unclassified,omitempty"`
	// Mismatched - сегменты, чей этаж не сходится со зданием; лежат в Unassigned.
	Mismatched []ScopeMismatch `json:"mismatched,omitempty"`
}

// ScopeMismatch - сегмент, который нельзя отнести к зданию и этажу.
type ScopeMismatch struct {
	SegmentID  string `json:"segmentId"`
	BuildingID string `json:"buildingId,omitempty"`
	FloorID    string `json:"floorId"`
	Reason     string `json:"reason"`
}
