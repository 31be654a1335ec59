package classify

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"wallcalc/internal/converter/models"
)

// ============================================================
// Layer classifier
// ============================================================

// DefaultWallPrefix - принятый префикс архитектурных слоев стен.
const DefaultWallPrefix = "A-WALL"

const DefaultCategory = "wall"

var ErrSegmentNotFound = errors.New("segment not found")

// DefaultRules - набор по умолчанию: все слои A-WALL* в категорию wall.
func DefaultRules() []models.LayerRule {
	return []models.LayerRule{{Priority: 100, Pattern: DefaultWallPrefix + "*", CategoryID: DefaultCategory}}
}

func DefaultCategories() []models.WallCategory {
	return []models.WallCategory{{ID: DefaultCategory, Label: "Wall"}}
}

type matcher struct {
	rule   models.LayerRule
	text   string
	prefix bool
}

func (m matcher) match(layer string) bool {
	layer = strings.ToUpper(layer)
	if m.prefix {
		return strings.HasPrefix(layer, m.text)
	}
	return layer == m.text
}

// Classifier назначает категории по слоям. Правила применяются по
// возрастанию Priority, при равенстве - в порядке объявления.
type Classifier struct {
	rules    []models.LayerRule
	matchers []matcher
}

func New(rules []models.LayerRule) (*Classifier, error) {
	c := &Classifier{rules: slices.Clone(rules)}
	for i, r := range rules {
		pattern := strings.TrimSpace(r.Pattern)
		if pattern == "" {
			return nil, fmt.Errorf("rule %d: empty pattern", i)
		}
		if strings.TrimSpace(r.CategoryID) == "" {
			return nil, fmt.Errorf("rule %d (%s): empty category", i, pattern)
		}
		text, prefix := strings.CutSuffix(pattern, "*")
		if strings.Contains(text, "*") {
			return nil, fmt.Errorf("rule %d (%s): '*' is only allowed at the end", i, pattern)
		}
		c.matchers = append(c.matchers, matcher{rule: r, text: strings.ToUpper(text), prefix: prefix})
	}
	slices.SortStableFunc(c.matchers, func(a, b matcher) int {
		return a.rule.Priority - b.rule.Priority
	})
	return c, nil
}

// Rules возвращает правила в исходном виде.
func (c *Classifier) Rules() []models.LayerRule {
	return slices.Clone(c.rules)
}

// Match - категория для слоя и признак совпадения с правилом.
func (c *Classifier) Match(layer string) (string, bool) {
	for _, m := range c.matchers {
		if m.match(layer) {
			return m.rule.CategoryID, true
		}
	}
	return models.UnclassifiedCategory, false
}

type Result struct {
	Assigned     int                             `json:"assigned"`
	Changed      int                             `json:"changed"`
	Unclassified int                             `json:"unclassified"`
	Manual       int                             `json:"manual"`
	Conflicts    []models.ClassificationConflict `json:"conflicts,omitempty"`
}

// Classify проставляет категории сегментам на месте. Ручные сегменты
// не трогаются никогда; повторный вызов с теми же правилами ничего не меняет.
func (c *Classifier) Classify(segs []models.WallSegment) Result {
	var res Result
	for i := range segs {
		s := &segs[i]
		switch s.Provenance {
		case models.ProvenanceManual:
			res.Manual++
			if strings.TrimSpace(s.CategoryID) == "" {
				res.Conflicts = append(res.Conflicts, models.ClassificationConflict{
					SegmentID: s.ID,
					Reason:    "manual segment has no category",
				})
			}
			continue
		case models.ProvenanceAuto, "":
		default:
			res.Conflicts = append(res.Conflicts, models.ClassificationConflict{
				SegmentID: s.ID,
				Reason:    fmt.Sprintf("unknown provenance %q", s.Provenance),
			})
			continue
		}

		category, ok := c.Match(s.Layer)
		if !ok {
			res.Unclassified++
		} else {
			res.Assigned++
		}
		if s.CategoryID != category {
			res.Changed++
		}
		s.CategoryID = category
		s.Provenance = models.ProvenanceAuto
	}
	return res
}

// SetManual фиксирует ручной выбор категории пользователем.
func SetManual(segs []models.WallSegment, id, category string) error {
	if strings.TrimSpace(category) == "" {
		return fmt.Errorf("segment %s: empty category", id)
	}
	for i := range segs {
		if segs[i].ID == id {
			segs[i].CategoryID = category
			segs[i].Provenance = models.ProvenanceManual
			return nil
		}
	}
	return fmt.Errorf("%s: %w", id, ErrSegmentNotFound)
}

// ClearManual возвращает сегмент под управление правил.
func ClearManual(segs []models.WallSegment, id string) error {
	for i := range segs {
		if segs[i].ID == id {
			segs[i].Provenance = models.ProvenanceAuto
			return nil
		}
	}
	return fmt.Errorf("%s: %w", id, ErrSegmentNotFound)
}
