package flatten

import (
	"fmt"
	"iter"
	"log"
	"slices"
	"strings"

	"seehuhn.de/go/geom/matrix"

	"wallcalc/internal/converter/geometry"
	"wallcalc/internal/converter/models"
)

// ============================================================
// Block expansion
// ============================================================

const (
	DefaultMaxDepth = 64
	DefaultMaxCells = 10000 // предел ячеек одного MINSERT
	inheritLayer    = "0"   // слой "0" внутри блока берет слой вставки
)

// Blocks - источник определений блоков; *parser.Drawing его реализует.
type Blocks interface {
	Block(name string) (*models.BlockDefinition, bool)
}

// BlockMap - Blocks поверх обычной карты, ключи без учета регистра.
type BlockMap map[string]*models.BlockDefinition

func (m BlockMap) Block(name string) (*models.BlockDefinition, bool) {
	if b, ok := m[name]; ok {
		return b, true
	}
	for k, b := range m {
		if strings.EqualFold(k, name) {
			return b, true
		}
	}
	return nil, false
}

type Options struct {
	MaxDepth int
	MaxCells int
}

// Placed - листовая сущность в мировых координатах. Transform переводит
// локальные координаты сущности (до ее собственной OCS) в мировые.
type Placed struct {
	Entity    models.Entity
	Transform matrix.Matrix
	Layer     string
	BlockPath []string
}

type Flattener struct {
	blocks   Blocks
	opts     Options
	skipped  []models.SkippedEntity
	expanded int
}

func New(blocks Blocks, opts Options) *Flattener {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.MaxCells <= 0 {
		opts.MaxCells = DefaultMaxCells
	}
	if blocks == nil {
		blocks = BlockMap{}
	}
	return &Flattener{blocks: blocks, opts: opts}
}

// frame - элемент явного стека обхода.
type frame struct {
	entity models.Entity
	world  matrix.Matrix
	layer  string // эффективный слой охватывающей вставки, "" на верхнем уровне
	path   []string
}

// Flatten разворачивает сущность верхнего уровня в листовые сущности.
// Обход итеративный; порядок вывода совпадает с порядком в блоках.
func (f *Flattener) Flatten(e models.Entity) iter.Seq[Placed] {
	return func(yield func(Placed) bool) {
		stack := []frame{{entity: e, world: matrix.Identity}}

		for len(stack) > 0 {
			fr := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			layer := effectiveLayer(fr.entity.Meta().Layer, fr.layer)

			ins, ok := fr.entity.(models.Insert)
			if !ok {
				if !yield(Placed{Entity: fr.entity, Transform: fr.world, Layer: layer, BlockPath: fr.path}) {
					return
				}
				continue
			}

			children := f.expand(ins, fr, layer)
			for i := len(children) - 1; i >= 0; i-- {
				stack = append(stack, children[i])
			}
		}
	}
}

// expand возвращает кадры содержимого блока или nil, если вставка пропущена.
func (f *Flattener) expand(ins models.Insert, fr frame, layer string) []frame {
	block, ok := f.blocks.Block(ins.Block)
	switch {
	case !ok:
		f.skip(models.ReasonUnresolvedBlock, ins, fr.path, fmt.Sprintf("block %q not defined", ins.Block))
		return nil
	case block.IsExternal():
		f.skip(models.ReasonUnresolvedBlock, ins, fr.path, fmt.Sprintf("block %q is an external reference", ins.Block))
		return nil
	}

	for _, name := range fr.path {
		if strings.EqualFold(name, block.Name) {
			f.skip(models.ReasonCyclicBlock, ins, fr.path,
				fmt.Sprintf("block %q already on path %s", block.Name, strings.Join(fr.path, " > ")))
			return nil
		}
	}
	if len(fr.path)+1 > f.opts.MaxDepth {
		f.skip(models.ReasonDepthExceeded, ins, fr.path, fmt.Sprintf("nesting deeper than %d", f.opts.MaxDepth))
		return nil
	}

	cols, rows := max(ins.Columns, 1), max(ins.Rows, 1)
	if cols*rows > f.opts.MaxCells {
		f.skip(models.ReasonMalformedEntity, ins, fr.path, fmt.Sprintf("array of %dx%d cells", cols, rows))
		return nil
	}

	f.expanded++
	path := append(slices.Clip(fr.path), block.Name)
	children := make([]frame, 0, cols*rows*len(block.Entities))
	for row := range rows {
		for col := range cols {
			world := geometry.InsertTransform(ins, block.Base, col, row).Mul(fr.world)
			for _, child := range block.Entities {
				children = append(children, frame{entity: child, world: world, layer: layer, path: path})
			}
		}
	}
	return children
}

func (f *Flattener) skip(reason models.SkipReason, ins models.Insert, path []string, detail string) {
	s := models.SkippedEntity{
		Reason: reason,
		Type:   string(models.KindInsert),
		Handle: ins.Handle,
		Line:   ins.Line,
		Detail: detail,
	}
	if len(path) > 0 {
		s.Block = path[len(path)-1]
	}
	log.Printf("[FLATTEN] skip insert %s (line %d): %s", ins.Handle, ins.Line, detail)
	f.skipped = append(f.skipped, s)
}

// Skipped - пропущенные вставки с начала работы Flattener.
func (f *Flattener) Skipped() []models.SkippedEntity {
	return slices.Clone(f.skipped)
}

// Expanded - число развернутых вставок (ячейка MINSERT не считается отдельно).
func (f *Flattener) Expanded() int {
	return f.expanded
}

func effectiveLayer(own, parent string) string {
	if own == inheritLayer && parent != "" {
		return parent
	}
	if own == "" {
		if parent != "" {
			return parent
		}
		return inheritLayer
	}
	return own
}
