package middleware

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

// ============================================================
// Logger Middleware
// ============================================================

// Logger пишет строку на запрос; для загрузок видны размер и run id.
func Logger() fiber.Handler {
	return logger.New(logger.Config{
		Format:     "[${time}] ${status} - ${latency} ${method} ${path} | in: ${bytesReceived}B out: ${bytesSent}B | run: ${respHeader:X-Run-ID}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	})
}
