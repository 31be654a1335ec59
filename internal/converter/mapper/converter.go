package mapper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/google/uuid"

	"wallcalc/internal/converter/aggregate"
	"wallcalc/internal/converter/classify"
	"wallcalc/internal/converter/encoding"
	"wallcalc/internal/converter/flatten"
	"wallcalc/internal/converter/geometry"
	"wallcalc/internal/converter/models"
	"wallcalc/internal/converter/parser"
)

// ============================================================
// Converter
// ============================================================

type Options struct {
	WallLayerPrefix string // пусто - берутся все слои
	Rules           []models.LayerRule
	Categories      []models.WallCategory
	Project         *models.Project
	BuildingID      string // здание и этаж, к которым относится файл
	FloorID         string
	MaxBlockDepth   int
	SplineTolerance float64
	DisableRecovery bool
	Encoding        string // предпочитаемая кодировка
	Source          string // имя файла для отчета
}

// Converter - конвейер одного файла: кодировка, разбор, развертка блоков,
// длины, классификация, агрегация. Из состояния только текущие правила,
// их меняет Reclassify.
type Converter struct {
	opts       Options
	classifier *classify.Classifier
	aggregator *aggregate.Aggregator
	calc       geometry.Calculator
}

func New(opts Options) (*Converter, error) {
	if opts.Rules == nil {
		opts.Rules = classify.DefaultRules()
	}
	if opts.Categories == nil {
		opts.Categories = classify.DefaultCategories()
	}
	project := models.Project{}
	if opts.Project != nil {
		project = *opts.Project
	}

	classifier, err := classify.New(opts.Rules)
	if err != nil {
		return nil, fmt.Errorf("layer rules: %w", err)
	}
	aggregator, err := aggregate.New(project, opts.Categories)
	if err != nil {
		return nil, err
	}

	return &Converter{
		opts:       opts,
		classifier: classifier,
		aggregator: aggregator,
		calc: geometry.Calculator{
			Tolerance: opts.SplineTolerance,
			MaxDepth:  geometry.DefaultMaxDepth,
		},
	}, nil
}

// Convert прогоняет файл через весь конвейер. Ошибка возвращается только
// при неудачном декодировании, невозможности читать файл или отмене ctx;
// все остальное попадает в отчет.
func (c *Converter) Convert(ctx context.Context, src io.ReaderAt, size int64) (*models.Result, error) {
	runID := uuid.NewString()
	report := models.NewReport(runID)
	report.Source = c.opts.Source

	var encOpts []encoding.Option
	if c.opts.DisableRecovery {
		encOpts = append(encOpts, encoding.WithoutRecovery())
	}
	if c.opts.Encoding != "" {
		encOpts = append(encOpts, encoding.WithPreferred(c.opts.Encoding))
	}

	doc, err := encoding.Resolve(src, size, encOpts...)
	if err != nil {
		log.Printf("[PIPELINE] run %s: %v", runID, err)
		return nil, err
	}
	doc.Apply(report)

	drawing, err := parser.Open(doc)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	for _, w := range drawing.Warnings {
		report.Warn(w)
	}

	segs, err := c.extract(ctx, drawing, report)
	if err != nil {
		return nil, err
	}

	res := c.classifier.Classify(segs)
	report.Conflicts = res.Conflicts
	report.SegmentsProduced = len(segs)

	log.Printf("[PIPELINE] run %s: %d segments, %d decoded, %d skipped, encoding %s",
		runID, len(segs), report.Decoded, report.SkippedCount(), report.Encoding)

	agg := c.aggregator.Aggregate(segs)
	if n := len(agg.Mismatched); n > 0 {
		report.Warn(fmt.Sprintf("%d segments do not match the project hierarchy: %s", n, agg.Mismatched[0].Reason))
	}

	return &models.Result{
		Report:      report,
		Header:      drawing.Header,
		Layers:      drawing.Layers,
		Categories:  c.opts.Categories,
		Segments:    segs,
		Aggregation: agg,
	}, nil
}

// ConvertBytes - Convert для файла в памяти.
func (c *Converter) ConvertBytes(ctx context.Context, data []byte) (*models.Result, error) {
	return c.Convert(ctx, bytes.NewReader(data), int64(len(data)))
}

// extract разворачивает сущности в сегменты. Отмена проверяется между
// сущностями верхнего уровня.
func (c *Converter) extract(ctx context.Context, drawing *parser.Drawing, report *models.Report) ([]models.WallSegment, error) {
	fl := flatten.New(drawing, flatten.Options{MaxDepth: c.opts.MaxBlockDepth})
	segs := []models.WallSegment{}
	seq := 0

	for e := range drawing.Entities() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for p := range fl.Flatten(e) {
			if !c.keepLayer(p.Layer) {
				report.Filtered++
				continue
			}

			meta := p.Entity.Meta()
			pts, closed := geometry.Tessellate(p.Entity, p.Transform)
			length := c.calc.Length(p.Entity, p.Transform)
			if len(pts) < 2 || !(length > 0) {
				skipped := models.SkippedEntity{
					Reason: models.ReasonDegenerate,
					Type:   string(p.Entity.Kind()),
					Handle: meta.Handle,
					Line:   meta.Line,
					Detail: fmt.Sprintf("length %g", length),
				}
				if len(p.BlockPath) > 0 {
					skipped.Block = p.BlockPath[len(p.BlockPath)-1]
				}
				report.AddSkipped(skipped)
				continue
			}

			seq++
			segs = append(segs, models.WallSegment{
				ID:         fmt.Sprintf("seg_%05d", seq),
				Layer:      p.Layer,
				SourceKind: p.Entity.Kind(),
				Handle:     meta.Handle,
				BlockPath:  p.BlockPath,
				Points:     pts,
				Closed:     closed,
				Length:     length,
				Provenance: models.ProvenanceAuto,
				BuildingID: c.opts.BuildingID,
				FloorID:    c.opts.FloorID,
			})
		}
	}

	stats := drawing.Stats()
	report.Decoded = stats.Decoded + stats.BlockDecoded
	report.AddSkipped(stats.Skipped...)
	report.AddIgnored(stats.Ignored)
	if stats.Err != nil {
		report.Warn(stats.Err.Error())
	}
	report.AddSkipped(fl.Skipped()...)
	return segs, nil
}

func (c *Converter) keepLayer(layer string) bool {
	prefix := c.opts.WallLayerPrefix
	return prefix == "" || strings.HasPrefix(strings.ToUpper(layer), strings.ToUpper(prefix))
}

// ============================================================
// Re-classification
// ============================================================

// Reclassify применяет новый набор правил к готовому результату и
// пересчитывает агрегацию. Ручные назначения сохраняются; при успехе
// правила становятся текущими.
func (c *Converter) Reclassify(result *models.Result, rules []models.LayerRule) (classify.Result, error) {
	classifier, err := classify.New(rules)
	if err != nil {
		return classify.Result{}, fmt.Errorf("layer rules: %w", err)
	}
	c.classifier = classifier
	res := classifier.Classify(result.Segments)
	result.Report.Conflicts = res.Conflicts
	result.Aggregation = c.aggregator.Aggregate(result.Segments)
	return res, nil
}

// Reaggregate пересчитывает статистику после ручных правок.
func (c *Converter) Reaggregate(result *models.Result) {
	result.Aggregation = c.aggregator.Aggregate(result.Segments)
}

// Rules - текущие правила конвертера.
func (c *Converter) Rules() []models.LayerRule {
	return c.classifier.Rules()
}
