package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"wallcalc/internal/converter/models"
)

// ============================================================
// Hierarchical aggregator
// ============================================================

var ErrInvalidHierarchy = errors.New("invalid hierarchy")

// floorKey - надземный этаж внутри своего здания.
type floorKey struct {
	building string
	floor    string
}

// Aggregator раскладывает сегменты по (здание, этаж, категория).
// Подземные этажи принадлежат проекту и считаются один раз; надземные
// этажи разных зданий могут иметь одинаковые id.
type Aggregator struct {
	project    models.Project
	buildings  map[string]models.Building
	shared     map[string]models.Floor
	owned      map[floorKey]models.Floor
	owners     map[string][]string // id надземного этажа -> здания
	categories map[string]models.WallCategory
}

func New(project models.Project, categories []models.WallCategory) (*Aggregator, error) {
	a := &Aggregator{
		project:    project,
		buildings:  make(map[string]models.Building),
		shared:     make(map[string]models.Floor),
		owned:      make(map[floorKey]models.Floor),
		owners:     make(map[string][]string),
		categories: make(map[string]models.WallCategory),
	}

	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidHierarchy, fmt.Sprintf(format, args...))
	}

	addShared := func(f models.Floor, where string) error {
		if strings.TrimSpace(f.ID) == "" {
			return invalid("%s: floor with empty id", where)
		}
		if owners := a.owners[f.ID]; len(owners) > 0 {
			return invalid("floor %q is both shared and owned by building %q", f.ID, owners[0])
		}
		if _, ok := a.shared[f.ID]; !ok {
			a.shared[f.ID] = f
		}
		return nil
	}

	for _, f := range project.SharedFloors {
		f.BelowGrade = true
		if err := addShared(f, "shared floors"); err != nil {
			return nil, err
		}
	}

	for _, b := range project.Buildings {
		if strings.TrimSpace(b.ID) == "" {
			return nil, invalid("building with empty id")
		}
		if _, ok := a.buildings[b.ID]; ok {
			return nil, invalid("duplicate building id %q", b.ID)
		}
		if b.ID == models.SharedScope || b.ID == models.UnassignedScope {
			return nil, invalid("building id %q is reserved", b.ID)
		}
		a.buildings[b.ID] = b

		for _, f := range b.Floors {
			if f.BelowGrade {
				if err := addShared(f, "building "+b.ID); err != nil {
					return nil, err
				}
				continue
			}
			if strings.TrimSpace(f.ID) == "" {
				return nil, invalid("building %q: floor with empty id", b.ID)
			}
			if _, ok := a.shared[f.ID]; ok {
				return nil, invalid("floor %q is both shared and owned by building %q", f.ID, b.ID)
			}
			key := floorKey{building: b.ID, floor: f.ID}
			if _, ok := a.owned[key]; ok {
				return nil, invalid("building %q: duplicate floor id %q", b.ID, f.ID)
			}
			a.owned[key] = f
			a.owners[f.ID] = append(a.owners[f.ID], b.ID)
		}
	}

	for _, c := range categories {
		a.categories[c.ID] = c
	}
	return a, nil
}

// scope - здание и этаж, в которые попадает сегмент. Надземный этаж
// ищется в здании сегмента; без здания - у единственного владельца.
// Непустой reason означает, что сегмент отнесен к Unassigned из-за
// несогласованной привязки.
func (a *Aggregator) scope(s models.WallSegment) (building, floor, reason string) {
	if s.FloorID == "" {
		return models.UnassignedScope, models.UnassignedScope, ""
	}
	if _, ok := a.shared[s.FloorID]; ok {
		return models.SharedScope, s.FloorID, ""
	}

	owners := a.owners[s.FloorID]
	switch {
	case len(owners) == 0:
		reason = fmt.Sprintf("unknown floor %q", s.FloorID)
	case s.BuildingID == "" && len(owners) == 1:
		return owners[0], s.FloorID, ""
	case s.BuildingID == "":
		reason = fmt.Sprintf("floor %q exists in buildings %s; building required", s.FloorID, strings.Join(owners, ", "))
	default:
		if _, ok := a.owned[floorKey{building: s.BuildingID, floor: s.FloorID}]; ok {
			return s.BuildingID, s.FloorID, ""
		}
		reason = fmt.Sprintf("floor %q does not belong to building %q", s.FloorID, s.BuildingID)
	}
	return models.UnassignedScope, models.UnassignedScope, reason
}

// Aggregate считает статистику. Сумма длин всех корзин равна Project.
func (a *Aggregator) Aggregate(segs []models.WallSegment) *models.AggregationResult {
	res := &models.AggregationResult{
		ProjectID:    a.project.ID,
		Buckets:      []models.Bucket{},
		Buildings:    make(map[string]models.Rollup),
		Unclassified: make(map[string]models.Rollup),
	}
	for id := range a.buildings {
		res.Buildings[id] = models.Rollup{}
	}

	buckets := make(map[models.BucketKey]*models.Bucket)
	for _, s := range segs {
		building, floor, reason := a.scope(s)
		if reason != "" {
			res.Mismatched = append(res.Mismatched, models.ScopeMismatch{
				SegmentID:  s.ID,
				BuildingID: s.BuildingID,
				FloorID:    s.FloorID,
				Reason:     reason,
			})
		}
		category := s.CategoryID
		if category == "" {
			category = models.UnclassifiedCategory
		}
		key := models.BucketKey{BuildingID: building, FloorID: floor, CategoryID: category}

		b, ok := buckets[key]
		if !ok {
			b = a.newBucket(key)
			buckets[key] = b
		}
		b.Add(s.Length)

		switch building {
		case models.SharedScope:
			res.Shared.Add(s.Length)
		case models.UnassignedScope:
			res.Unassigned.Add(s.Length)
		default:
			r := res.Buildings[building]
			r.Add(s.Length)
			res.Buildings[building] = r
		}

		if category == models.UnclassifiedCategory {
			r := res.Unclassified[s.Layer]
			r.Add(s.Length)
			res.Unclassified[s.Layer] = r
		}
	}

	for _, r := range res.Buildings {
		res.Project.Merge(r)
	}
	res.Project.Merge(res.Shared)
	res.Project.Merge(res.Unassigned)

	for _, b := range buckets {
		res.Buckets = append(res.Buckets, *b)
	}
	sort.Slice(res.Buckets, func(i, j int) bool {
		return a.less(res.Buckets[i].Key, res.Buckets[j].Key)
	})
	return res
}

func (a *Aggregator) newBucket(key models.BucketKey) *models.Bucket {
	b := &models.Bucket{Key: key, CategoryLabel: key.CategoryID}

	switch key.BuildingID {
	case models.SharedScope:
		b.BuildingLabel = "Shared"
	case models.UnassignedScope:
		b.BuildingLabel = "Unassigned"
	default:
		b.BuildingLabel = a.buildings[key.BuildingID].Label
	}
	if f, ok := a.Floor(key.BuildingID, key.FloorID); ok {
		b.FloorLabel = f.Label
	} else {
		b.FloorLabel = "Unassigned"
	}
	if c, ok := a.categories[key.CategoryID]; ok {
		b.CategoryLabel = c.Label
		b.HeightType = c.HeightType
		b.HeightFormula = c.HeightFormula
	}
	return b
}

// less упорядочивает корзины: здания по id, затем общие, затем без этажа;
// этажи снизу вверх; категории по id.
func (a *Aggregator) less(x, y models.BucketKey) bool {
	if rx, ry := scopeRank(x.BuildingID), scopeRank(y.BuildingID); rx != ry {
		return rx < ry
	}
	if x.BuildingID != y.BuildingID {
		return x.BuildingID < y.BuildingID
	}
	if x.FloorID != y.FloorID {
		lx, ly := a.lowestLevel(x), a.lowestLevel(y)
		if lx != ly {
			return lx < ly
		}
		return x.FloorID < y.FloorID
	}
	return x.CategoryID < y.CategoryID
}

func scopeRank(building string) int {
	switch building {
	case models.SharedScope:
		return 1
	case models.UnassignedScope:
		return 2
	}
	return 0
}

func (a *Aggregator) lowestLevel(key models.BucketKey) int {
	f, _ := a.Floor(key.BuildingID, key.FloorID)
	levels := f.PhysicalLevels()
	if len(levels) == 0 {
		return 0
	}
	lo := levels[0]
	for _, l := range levels[1:] {
		lo = min(lo, l)
	}
	return lo
}

// Floor возвращает этаж по зданию и id. Общие этажи ищутся по
// models.SharedScope или пустому зданию.
func (a *Aggregator) Floor(buildingID, floorID string) (models.Floor, bool) {
	if buildingID == "" || buildingID == models.SharedScope {
		f, ok := a.shared[floorID]
		return f, ok
	}
	f, ok := a.owned[floorKey{building: buildingID, floor: floorID}]
	return f, ok
}
