package handlers

import (
	"log"
	"net/http"

	"github.com/gofiber/fiber/v3"
)

// ============================================================
// Health Check
// ============================================================

func (h *Handler) Live(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "alive"})
}

// Ready проверяет доступность базы, если она подключена.
func (h *Handler) Ready(c fiber.Ctx) error {
	if h.repo != nil {
		if err := h.repo.Ping(c.Context()); err != nil {
			log.Printf("[CONVERTER] readiness check failed: %v", err)
			return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
	}
	return c.JSON(fiber.Map{
		"status": "ready",
		"runs":   h.runs.Len(),
	})
}
