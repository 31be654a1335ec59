package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"wallcalc/internal/common/config"
	"wallcalc/internal/common/middleware"
	"wallcalc/internal/converter/classify"
	"wallcalc/internal/converter/handlers"
	"wallcalc/internal/project/repository"
	"wallcalc/internal/project/service"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
)

// ============================================================
// Converter Service
// ============================================================

func main() {
	cfg := config.Load()

	db, err := repository.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	repo := repository.New(db)
	if err := repo.Init(context.Background()); err != nil {
		log.Fatalf("init db: %v", err)
	}

	settings := handlers.Settings{
		WallLayerPrefix: cfg.WallLayerPrefix,
		MaxBlockDepth:   cfg.MaxBlockDepth,
		SplineTolerance: cfg.SplineTolerance,
	}
	if cfg.RulesFile != "" {
		rs, err := classify.LoadRuleSet(cfg.RulesFile)
		if err != nil {
			log.Fatalf("load rules: %v", err)
		}
		settings.Rules = rs.Rules
		settings.Categories = rs.Categories
		log.Printf("Loaded rule set %q: %d rules", rs.Name, len(rs.Rules))
	}

	runs, err := service.NewRunCache(cfg.RunCacheSize)
	if err != nil {
		log.Fatalf("run cache: %v", err)
	}
	storage := service.NewFileStorage(cfg.UploadDir)
	handler := handlers.New(settings, runs, storage, repo)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		BodyLimit:    cfg.BodyLimitMB * 1024 * 1024,
		AppName:      "Wall Quantity Service",
	})

	// ============================================================
	// Global Middleware
	// ============================================================

	app.Use(recover.New())
	app.Use(middleware.Logger())
	app.Use(middleware.CORS(cfg.CORSOrigins))

	// ============================================================
	// Health Check Routes
	// ============================================================

	app.Get("/health/live", handler.Live)
	app.Get("/health/ready", handler.Ready)

	// ============================================================
	// Converter Routes
	// ============================================================

	handler.Register(app)

	// ============================================================
	// Server Start
	// ============================================================

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Printf("Starting Wall Quantity Service on %s (env: %s)", addr, cfg.Environment)

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
