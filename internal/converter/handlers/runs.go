package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"

	"wallcalc/internal/converter/aggregate"
	"wallcalc/internal/converter/classify"
	"wallcalc/internal/converter/graph"
	"wallcalc/internal/converter/mapper"
	"wallcalc/internal/converter/models"
	"wallcalc/internal/project/repository"
	"wallcalc/internal/project/service"
)

// ============================================================
// Routes
// ============================================================

func (h *Handler) Register(r fiber.Router) {
	r.Post("/convert", h.Convert)

	r.Get("/runs/:id", h.GetRun)
	r.Get("/runs/:id/segments", h.ListSegments)
	r.Post("/runs/:id/classify", h.Classify)
	r.Put("/runs/:id/segments/:sid/category", h.SetCategory)
	r.Get("/runs/:id/summary", h.Summary)
	r.Get("/runs/:id/hit", h.HitTest)
	r.Get("/runs/:id/pairs", h.Pairs)
	r.Get("/runs/:id/topology", h.Topology)
	r.Post("/runs/:id/persist", h.Persist)
	r.Get("/runs/:id/history", h.History)
}

// ============================================================
// Run lookup
// ============================================================

func (h *Handler) run(c fiber.Ctx) (*service.Run, bool) {
	return h.runs.Get(c.Params("id"))
}

func notFound(c fiber.Ctx, what string) error {
	return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": what + " not found"})
}

// GetRun отдает результат прогона. Прогон, вытесненный из кэша, читается
// из хранилища, если он был сохранен.
func (h *Handler) GetRun(c fiber.Ctx) error {
	if run, ok := h.run(c); ok {
		return run.Do(func(res *models.Result, _ *mapper.Converter) error {
			return c.JSON(res)
		})
	}
	if h.repo != nil {
		res, err := h.repo.LoadRun(c.Context(), c.Params("id"))
		if err == nil {
			return c.JSON(res)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
	}
	return notFound(c, "run")
}

// ListSegments отдает сегменты с необязательными фильтрами layer и category.
func (h *Handler) ListSegments(c fiber.Ctx) error {
	run, ok := h.run(c)
	if !ok {
		return notFound(c, "run")
	}
	layer, category := c.Query("layer"), c.Query("category")

	return run.Do(func(res *models.Result, _ *mapper.Converter) error {
		out := make([]models.WallSegment, 0, len(res.Segments))
		for _, s := range res.Segments {
			if layer != "" && !strings.EqualFold(s.Layer, layer) {
				continue
			}
			if category != "" && s.CategoryID != category {
				continue
			}
			out = append(out, s)
		}
		return c.JSON(out)
	})
}

type classifyResponse struct {
	classify.Result
	Aggregation *models.AggregationResult `json:"aggregation"`
}

// Classify переклассифицирует прогон новым набором правил (тело - RuleSet
// в JSON). Ручные назначения не трогаются. Сохраненный прогон обновляется
// и в хранилище.
func (h *Handler) Classify(c fiber.Ctx) error {
	run, ok := h.run(c)
	if !ok {
		return notFound(c, "run")
	}
	if len(c.Body()) == 0 {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "empty body"})
	}

	var rs models.RuleSet
	if err := json.Unmarshal(c.Body(), &rs); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid json"})
	}

	return run.Do(func(res *models.Result, conv *mapper.Converter) error {
		out, err := conv.Reclassify(res, rs.Rules)
		if err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		log.Printf("[CONVERTER] run %s reclassified: %d changed, %d manual kept, %d conflicts",
			run.ID(), out.Changed, out.Manual, len(out.Conflicts))
		if h.repo != nil {
			err := h.repo.UpdateClassification(c.Context(), res)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				log.Printf("[CONVERTER] run %s: failed to store reclassification: %v", run.ID(), err)
			}
		}
		return c.JSON(classifyResponse{Result: out, Aggregation: res.Aggregation})
	})
}

type categoryRequest struct {
	Category string `json:"category"`
}

// SetCategory - ручное назначение категории сегменту. Пустая категория
// возвращает сегмент под управление правил. Для сохраненного прогона
// правка и ее снятие пишутся и в журнал хранилища.
func (h *Handler) SetCategory(c fiber.Ctx) error {
	run, ok := h.run(c)
	if !ok {
		return notFound(c, "run")
	}
	var req categoryRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid json"})
	}
	sid := c.Params("sid")
	category := strings.TrimSpace(req.Category)

	return run.Do(func(res *models.Result, conv *mapper.Converter) error {
		var err error
		if category == "" {
			if err = classify.ClearManual(res.Segments, sid); err == nil {
				_, err = conv.Reclassify(res, conv.Rules())
			}
		} else if err = classify.SetManual(res.Segments, sid, category); err == nil {
			conv.Reaggregate(res)
		}
		if err != nil {
			return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
		}

		seg, _ := res.Segment(sid)
		if h.repo != nil {
			if category != "" {
				_, err = h.repo.SetSegmentCategory(c.Context(), run.ID(), sid, category)
			} else {
				_, err = h.repo.ClearSegmentCategory(c.Context(), run.ID(), sid, seg.CategoryID)
			}
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				log.Printf("[CONVERTER] run %s: failed to record edit of %s: %v", run.ID(), sid, err)
			}
		}
		return c.JSON(seg)
	})
}

type summaryResponse struct {
	RunID            string                    `json:"runId"`
	SegmentsProduced int                       `json:"segmentsProduced"`
	Skipped          int                       `json:"skipped"`
	SkippedByReason  map[models.SkipReason]int `json:"skippedByReason"`
	Conflicts        int                       `json:"conflicts"`
	MillimetresUnit  float64                   `json:"millimetresPerUnit"`
	Layers           []models.LayerTotal       `json:"layers"`
	Aggregation      *models.AggregationResult `json:"aggregation"`
}

// Summary - сводка прогона: по слоям и по иерархии проекта.
func (h *Handler) Summary(c fiber.Ctx) error {
	run, ok := h.run(c)
	if !ok {
		return notFound(c, "run")
	}
	return run.Do(func(res *models.Result, _ *mapper.Converter) error {
		return c.JSON(summaryResponse{
			RunID:            res.Report.RunID,
			SegmentsProduced: res.Report.SegmentsProduced,
			Skipped:          res.Report.SkippedCount(),
			SkippedByReason:  res.Report.SkippedByReason,
			Conflicts:        len(res.Report.Conflicts),
			MillimetresUnit:  res.Header.MillimetresPerUnit(),
			Layers:           res.LayerSummary(),
			Aggregation:      res.Aggregation,
		})
	})
}

// ============================================================
// Geometry queries
// ============================================================

// HitTest ищет сегмент у точки (x, y); max ограничивает расстояние.
func (h *Handler) HitTest(c fiber.Ctx) error {
	run, ok := h.run(c)
	if !ok {
		return notFound(c, "run")
	}
	x, errX := strconv.ParseFloat(c.Query("x"), 64)
	y, errY := strconv.ParseFloat(c.Query("y"), 64)
	if errX != nil || errY != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "x and y query parameters required"})
	}
	maxDist := queryFloat(c, "max", 0)

	return run.Do(func(res *models.Result, _ *mapper.Converter) error {
		hit, ok := graph.NearestSegment(res.Segments, models.Point{X: x, Y: y}, maxDist)
		if !ok {
			return notFound(c, "segment")
		}
		return c.JSON(hit)
	})
}

// Pairs ищет пары параллельных граней стен заданной толщины.
func (h *Handler) Pairs(c fiber.Ctx) error {
	run, ok := h.run(c)
	if !ok {
		return notFound(c, "run")
	}
	thickness := queryFloat(c, "thickness", 0)
	if thickness <= 0 {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "positive thickness required"})
	}
	opts := graph.DefaultPairOptions(thickness)
	opts.Tolerance = queryFloat(c, "tolerance", opts.Tolerance)
	opts.AngleTolerance = queryFloat(c, "angle", opts.AngleTolerance)
	opts.MinOverlap = queryFloat(c, "min_overlap", opts.MinOverlap)

	return run.Do(func(res *models.Result, _ *mapper.Converter) error {
		pairs := graph.FindParallelPairs(res.Segments, opts)
		if pairs == nil {
			pairs = []models.WallPair{}
		}
		return c.JSON(pairs)
	})
}

// Topology - граф вершин и ребер для отрисовки.
func (h *Handler) Topology(c fiber.Ctx) error {
	run, ok := h.run(c)
	if !ok {
		return notFound(c, "run")
	}
	opts := graph.DefaultOptions()
	opts.VertexTolerance = queryFloat(c, "tolerance", opts.VertexTolerance)

	return run.Do(func(res *models.Result, _ *mapper.Converter) error {
		return c.JSON(graph.NewGraphBuilder(opts).Build(res.Segments))
	})
}

func queryFloat(c fiber.Ctx, key string, def float64) float64 {
	if v := c.Query(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// ============================================================
// Persistence
// ============================================================

// Persist сохраняет прогон в базу и его результат рядом с загрузкой.
func (h *Handler) Persist(c fiber.Ctx) error {
	if h.repo == nil {
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": "project storage is not configured"})
	}
	run, ok := h.run(c)
	if !ok {
		return notFound(c, "run")
	}

	return run.Do(func(res *models.Result, _ *mapper.Converter) error {
		if err := h.repo.SaveRun(c.Context(), run.ProjectID, res); err != nil {
			log.Printf("[CONVERTER] run %s: persist failed: %v", run.ID(), err)
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		if h.storage != nil {
			if _, err := h.storage.SaveResult(res); err != nil {
				log.Printf("[CONVERTER] run %s: failed to write result file: %v", run.ID(), err)
			}
		}
		return c.JSON(fiber.Map{
			"runId":     run.ID(),
			"projectId": run.ProjectID,
			"segments":  len(res.Segments),
		})
	})
}

// History - журнал ручных правок сохраненного прогона.
func (h *Handler) History(c fiber.Ctx) error {
	if h.repo == nil {
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": "project storage is not configured"})
	}
	edits, err := h.repo.History(c.Context(), c.Params("id"), c.Query("segment"))
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(edits)
}

// statusFor сопоставляет ошибкам слоев HTTP-статус.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, classify.ErrSegmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, aggregate.ErrInvalidHierarchy):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
