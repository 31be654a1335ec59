package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ============================================================
// Configuration
// ============================================================

type Config struct {
	Port         string
	Environment  string
	ReadTimeout  int
	WriteTimeout int
	BodyLimitMB  int
	CORSOrigins  []string

	DBPath       string
	UploadDir    string
	RunCacheSize int

	WallLayerPrefix string
	MaxBlockDepth   int
	SplineTolerance float64
	RulesFile       string
}

// Load загружает конфигурацию из переменных окружения; .env в рабочем
// каталоге подхватывается, если он есть.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:         getEnv("PORT", "3001"),
		Environment:  getEnv("ENV", "development"),
		ReadTimeout:  getEnvAsInt("READ_TIMEOUT", 10),
		WriteTimeout: getEnvAsInt("WRITE_TIMEOUT", 30),
		BodyLimitMB:  getEnvAsInt("BODY_LIMIT_MB", 64),
		CORSOrigins:  getEnvAsList("CORS_ORIGINS", []string{"*"}),

		DBPath:       getEnv("DB_PATH", "data/db/wallcalc.db"),
		UploadDir:    getEnv("UPLOAD_DIR", "data/runs"),
		RunCacheSize: getEnvAsInt("RUN_CACHE_SIZE", 64),

		WallLayerPrefix: getEnv("WALL_LAYER_PREFIX", ""),
		MaxBlockDepth:   getEnvAsInt("MAX_BLOCK_DEPTH", 64),
		SplineTolerance: getEnvAsFloat("SPLINE_TOLERANCE", 1e-6),
		RulesFile:       getEnv("RULES_FILE", ""),
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvAsList разбирает список через запятую.
func getEnvAsList(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
