package parser

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log"
	"maps"
	"strings"
	"sync"

	"wallcalc/internal/converter/models"
)

// ============================================================
// Drawing
// ============================================================

// Source - декодированный документ, который можно перечитать с начала.
type Source interface {
	Open() io.Reader
}

// Stats - итоги прохода по сущностям.
type Stats struct {
	Decoded      int                    `json:"decoded"`
	BlockDecoded int                    `json:"blockDecoded"`
	Skipped      []models.SkippedEntity `json:"skipped"`
	Ignored      map[string]int         `json:"ignored"`
	Err          error                  `json:"-"`
}

func newStats() *Stats {
	return &Stats{Ignored: make(map[string]int)}
}

func (s *Stats) skip(reason models.SkipReason, typ string, p Pair, handle, detail string) {
	s.Skipped = append(s.Skipped, models.SkippedEntity{
		Reason: reason,
		Type:   typ,
		Handle: handle,
		Line:   p.Line,
		Detail: detail,
	})
}

// Drawing - заголовок, слои и блоки чертежа. Сущности секции ENTITIES
// не хранятся, а читаются заново при каждом вызове Entities.
type Drawing struct {
	src Source

	Header   models.Header
	Layers   []models.Layer
	Blocks   map[string]*models.BlockDefinition
	Warnings []string

	hasEntities bool
	blockStats  *Stats

	mu   sync.Mutex
	last *Stats
}

// Open читает HEADER, TABLES и BLOCKS и останавливается на ENTITIES.
func Open(src Source) (*Drawing, error) {
	d := &Drawing{
		src:        src,
		Blocks:     make(map[string]*models.BlockDefinition),
		blockStats: newStats(),
		last:       newStats(),
	}
	d.Header.DimScale = 1

	sc := NewScanner(src.Open())
	blocksSeen := false
	for {
		name, err := nextSection(sc)
		if err == io.EOF {
			break
		}
		if errors.Is(err, ErrTruncated) {
			d.warn(err.Error())
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read drawing: %w", err)
		}

		switch name {
		case "HEADER":
			err = d.readHeader(sc)
		case "TABLES":
			err = d.readTables(sc)
		case "BLOCKS":
			blocksSeen = true
			err = d.readBlocks(sc)
		case "ENTITIES":
			d.hasEntities = true
			if blocksSeen {
				return d, nil
			}
			err = skipSection(sc)
		default:
			err = skipSection(sc)
		}

		if errors.Is(err, ErrTruncated) || err == io.EOF {
			d.warn(fmt.Sprintf("section %s: %v", name, ErrTruncated))
			break
		}
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", name, err)
		}
	}

	if !d.hasEntities {
		d.warn("drawing has no ENTITIES section")
	}
	return d, nil
}

func (d *Drawing) warn(msg string) {
	log.Printf("[PARSER] %s", msg)
	d.Warnings = append(d.Warnings, msg)
}

// Block ищет определение блока без учета регистра имени.
func (d *Drawing) Block(name string) (*models.BlockDefinition, bool) {
	b, ok := d.Blocks[strings.ToUpper(name)]
	return b, ok
}

// Entities лениво отдает сущности верхнего уровня. Каждый вызов
// начинает чтение документа заново; продолжить прерванный проход нельзя.
func (d *Drawing) Entities() iter.Seq[models.Entity] {
	return func(yield func(models.Entity) bool) {
		st := newStats()
		defer func() {
			d.mu.Lock()
			d.last = st
			d.mu.Unlock()
		}()
		if !d.hasEntities {
			return
		}

		sc := NewScanner(d.src.Open())
		for {
			name, err := nextSection(sc)
			if err != nil {
				if err != io.EOF {
					st.Err = err
				}
				return
			}
			if name == "ENTITIES" {
				break
			}
			if err := skipSection(sc); err != nil {
				st.Err = err
				return
			}
		}

		_, err := readEntities(sc, st, yield)
		switch {
		case err == io.EOF:
			st.Err = fmt.Errorf("entities: %w", ErrTruncated)
		case err != nil && err != errStopped:
			st.Err = err
		}
	}
}

// Stats объединяет итоги разбора блоков и последнего прохода Entities.
func (d *Drawing) Stats() Stats {
	d.mu.Lock()
	last := d.last
	d.mu.Unlock()

	out := Stats{
		Decoded:      last.Decoded,
		BlockDecoded: d.blockStats.Decoded,
		Ignored:      maps.Clone(d.blockStats.Ignored),
		Err:          last.Err,
	}
	out.Skipped = append(out.Skipped, d.blockStats.Skipped...)
	out.Skipped = append(out.Skipped, last.Skipped...)
	for typ, n := range last.Ignored {
		out.Ignored[typ] += n
	}
	return out
}

// ============================================================
// Sections
// ============================================================

// nextSection пропускает пары до "0 SECTION" и возвращает имя секции.
func nextSection(sc *Scanner) (string, error) {
	for {
		p, err := next(sc)
		if err != nil {
			return "", err
		}
		if p.Is(0, "EOF") {
			return "", io.EOF
		}
		if !p.Is(0, "SECTION") {
			continue
		}

		name, err := sc.Peek()
		if err != nil {
			return "", err
		}
		if name.Code != 2 {
			continue
		}
		sc.Next()
		return strings.ToUpper(name.Value), nil
	}
}

func skipSection(sc *Scanner) error {
	for {
		p, err := next(sc)
		if err != nil {
			return err
		}
		if p.Is(0, "ENDSEC") {
			return nil
		}
	}
}

// next - sc.Next с восстановлением после синтаксической ошибки.
func next(sc *Scanner) (Pair, error) {
	for {
		p, err := sc.Next()
		if !isSyntax(err) {
			return p, err
		}
		if err := sc.Resync(); err != nil {
			return Pair{}, err
		}
	}
}

func isSyntax(err error) bool {
	var syn *SyntaxError
	return errors.As(err, &syn)
}

// collect читает пары записи до следующего кода 0.
func collect(sc *Scanner) ([]Pair, error) {
	var pairs []Pair
	for {
		p, err := sc.Peek()
		if err == io.EOF {
			return pairs, nil
		}
		if err != nil {
			return pairs, err
		}
		if p.Code == 0 {
			return pairs, nil
		}
		sc.Next()
		pairs = append(pairs, p)
	}
}

// ============================================================
// HEADER
// ============================================================

func (d *Drawing) readHeader(sc *Scanner) error {
	for {
		p, err := next(sc)
		if err != nil {
			return err
		}
		if p.Is(0, "ENDSEC") {
			return nil
		}
		if p.Code != 9 {
			continue
		}

		pairs, err := collect(sc)
		if isSyntax(err) {
			if err := sc.Resync(); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		f := &fields{pairs: pairs}
		switch p.Value {
		case "$ACADVER":
			d.Header.Version = f.str(1, "")
		case "$DWGCODEPAGE":
			d.Header.CodePage = f.str(3, "")
		case "$INSUNITS":
			d.Header.InsUnits = f.int(70, 0)
		case "$DIMSCALE":
			d.Header.DimScale = f.float(40, 1)
		case "$EXTMIN":
			v := f.point(10, models.Vec3{})
			d.Header.ExtMin = &v
		case "$EXTMAX":
			v := f.point(10, models.Vec3{})
			d.Header.ExtMax = &v
		}
		if f.err != nil {
			d.warn(fmt.Sprintf("header %s: %v", p.Value, f.err))
		}
	}
}

// ============================================================
// TABLES
// ============================================================

func (d *Drawing) readTables(sc *Scanner) error {
	for {
		p, err := next(sc)
		if err != nil {
			return err
		}
		if p.Is(0, "ENDSEC") {
			return nil
		}
		if !p.Is(0, "LAYER") {
			continue
		}

		pairs, err := collect(sc)
		if isSyntax(err) {
			if err := sc.Resync(); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		f := &fields{pairs: pairs}
		name := f.str(2, "")
		if name == "" {
			continue
		}
		color := f.int(62, 7)
		d.Layers = append(d.Layers, models.Layer{
			Name:     name,
			Color:    abs(color),
			LineType: f.str(6, ""),
			Off:      color < 0,
			Frozen:   f.int(70, 0)&1 != 0,
		})
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// ============================================================
// BLOCKS
// ============================================================

func (d *Drawing) readBlocks(sc *Scanner) error {
	for {
		p, err := next(sc)
		if err != nil {
			return err
		}
		if p.Is(0, "ENDSEC") {
			return nil
		}
		if !p.Is(0, "BLOCK") {
			continue
		}

		pairs, err := collect(sc)
		if isSyntax(err) {
			d.warn(fmt.Sprintf("line %d: malformed block header", p.Line))
			if err := sc.Resync(); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		f := &fields{pairs: pairs}
		block := &models.BlockDefinition{
			Name:  f.str(2, ""),
			Base:  f.point(10, models.Vec3{}),
			Flags: f.int(70, 0),
			Layer: f.str(8, "0"),
		}

		st := newStats()
		term, err := readEntities(sc, st, func(e models.Entity) bool {
			block.Entities = append(block.Entities, e)
			return true
		})
		for i := range st.Skipped {
			st.Skipped[i].Block = block.Name
		}
		d.blockStats.Decoded += st.Decoded
		d.blockStats.Skipped = append(d.blockStats.Skipped, st.Skipped...)
		for typ, n := range st.Ignored {
			d.blockStats.Ignored[typ] += n
		}
		if err != nil {
			return err
		}

		switch {
		case block.Name == "":
			d.warn(fmt.Sprintf("line %d: block without a name dropped", p.Line))
		case f.err != nil:
			d.warn(fmt.Sprintf("block %s: %v", block.Name, f.err))
			d.Blocks[strings.ToUpper(block.Name)] = block
		default:
			d.Blocks[strings.ToUpper(block.Name)] = block
		}

		if term == "ENDSEC" {
			return nil
		}
	}
}
