package handlers

import (
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"

	"github.com/gofiber/fiber/v3"

	"wallcalc/internal/converter/aggregate"
	"wallcalc/internal/converter/classify"
	"wallcalc/internal/converter/encoding"
	"wallcalc/internal/converter/mapper"
	"wallcalc/internal/converter/models"
	"wallcalc/internal/converter/parser"
	"wallcalc/internal/project/repository"
	"wallcalc/internal/project/service"
)

// ============================================================
// Handler
// ============================================================

// Settings - параметры конвейера по умолчанию; запрос может их уточнить.
type Settings struct {
	WallLayerPrefix string
	MaxBlockDepth   int
	SplineTolerance float64
	Rules           []models.LayerRule
	Categories      []models.WallCategory
}

type Handler struct {
	settings Settings
	runs     *service.RunCache
	storage  *service.FileStorage   // nil - загрузки не сохраняются
	repo     *repository.Repository // nil - без проектов и сохранения
}

func New(settings Settings, runs *service.RunCache, storage *service.FileStorage, repo *repository.Repository) *Handler {
	return &Handler{
		settings: settings,
		runs:     runs,
		storage:  storage,
		repo:     repo,
	}
}

// ============================================================
// Convert Handler
// ============================================================

// Convert разбирает DXF из multipart/form-data.
//
// Поля формы: file (обязательно), rules (YAML/JSON набор правил, файлом или
// текстом), hierarchy (YAML иерархия проекта), project_id, rule_set,
// building, floor, encoding, layer_prefix.
func (h *Handler) Convert(c fiber.Ctx) error {
	log.Printf("[CONVERTER] Received request")
	log.Printf("[CONVERTER] Content-Type: %s", c.Get("Content-Type"))

	file, err := c.FormFile("file")
	if err != nil {
		log.Printf("[CONVERTER] FormFile error: %v", err)
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "file required in multipart/form-data",
		})
	}
	log.Printf("[CONVERTER] File received: %s, size: %d", file.Filename, file.Size)

	data, err := readFormFile(file)
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to read file",
		})
	}

	opts, projectID, status, err := h.options(c)
	if err != nil {
		log.Printf("[CONVERTER] Invalid options: %v", err)
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}
	opts.Source = file.Filename

	conv, err := mapper.New(opts)
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	log.Printf("[CONVERTER] Starting conversion, data size: %d bytes", len(data))
	res, err := conv.ConvertBytes(c.Context(), data)
	if err != nil {
		log.Printf("[CONVERTER] Conversion error: %v", err)
		return convertError(c, err)
	}

	runID := res.Report.RunID
	if h.storage != nil {
		if _, err := h.storage.SaveUpload(runID, file.Filename, data); err != nil {
			log.Printf("[CONVERTER] Failed to store upload for run %s: %v", runID, err)
		}
	}
	h.runs.Put(projectID, res, conv)

	log.Printf("[CONVERTER] Conversion successful, run %s", runID)
	c.Set("X-Run-ID", runID)
	return c.Status(http.StatusCreated).JSON(res)
}

// options собирает параметры конвейера из настроек, проекта и полей формы.
func (h *Handler) options(c fiber.Ctx) (mapper.Options, string, int, error) {
	opts := mapper.Options{
		WallLayerPrefix: h.settings.WallLayerPrefix,
		MaxBlockDepth:   h.settings.MaxBlockDepth,
		SplineTolerance: h.settings.SplineTolerance,
		Rules:           h.settings.Rules,
		Categories:      h.settings.Categories,
		BuildingID:      c.FormValue("building"),
		FloorID:         c.FormValue("floor"),
		Encoding:        c.FormValue("encoding"),
	}
	if prefix := c.FormValue("layer_prefix"); prefix != "" {
		opts.WallLayerPrefix = prefix
	}

	projectID := c.FormValue("project_id")
	if projectID != "" {
		if h.repo == nil {
			return opts, "", http.StatusServiceUnavailable, errors.New("project storage is not configured")
		}
		ctx := c.Context()
		project, err := h.repo.GetProject(ctx, projectID)
		if err != nil {
			return opts, "", statusFor(err), err
		}
		opts.Project = project

		cats, err := h.repo.ListCategories(ctx, projectID)
		if err != nil {
			return opts, "", http.StatusInternalServerError, err
		}
		if len(cats) > 0 {
			opts.Categories = cats
		}

		if name := c.FormValue("rule_set"); name != "" {
			rs, err := h.repo.GetRuleSet(ctx, projectID, name)
			if err != nil {
				return opts, "", statusFor(err), err
			}
			opts.Rules = rs.Rules
		}
	}

	if raw, ok := formText(c, "hierarchy"); ok {
		project, err := aggregate.ParseProject(raw)
		if err != nil {
			return opts, "", http.StatusBadRequest, err
		}
		opts.Project = project
		if projectID == "" {
			projectID = project.ID
		}
	}

	if raw, ok := formText(c, "rules"); ok {
		rs, err := classify.ParseRuleSet(raw)
		if err != nil {
			return opts, "", http.StatusBadRequest, err
		}
		opts.Rules = rs.Rules
		if len(rs.Categories) > 0 {
			opts.Categories = rs.Categories
		}
	}

	return opts, projectID, http.StatusOK, nil
}

// formText читает поле формы, переданное файлом или строкой.
func formText(c fiber.Ctx, name string) ([]byte, bool) {
	if fh, err := c.FormFile(name); err == nil {
		data, err := readFormFile(fh)
		if err == nil && len(data) > 0 {
			return data, true
		}
	}
	if v := c.FormValue(name); v != "" {
		return []byte(v), true
	}
	return nil, false
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func convertError(c fiber.Ctx, err error) error {
	var de *encoding.DecodeError
	if errors.As(err, &de) {
		return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":    err.Error(),
			"attempts": de.Attempts,
		})
	}
	var se *parser.SyntaxError
	if errors.As(err, &se) {
		return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
}
