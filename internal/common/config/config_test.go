package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DB_PATH", "RUN_CACHE_SIZE", "CORS_ORIGINS", "SPLINE_TOLERANCE", "WALL_LAYER_PREFIX"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	assert.Equal(t, "3001", cfg.Port)
	assert.Equal(t, "data/db/wallcalc.db", cfg.DBPath)
	assert.Equal(t, 64, cfg.RunCacheSize)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, 1e-6, cfg.SplineTolerance)
	assert.Empty(t, cfg.WallLayerPrefix)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("ENV", "production")
	t.Setenv("RUN_CACHE_SIZE", "8")
	t.Setenv("MAX_BLOCK_DEPTH", "not-a-number")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("SPLINE_TOLERANCE", "0.01")
	t.Setenv("WALL_LAYER_PREFIX", "A-WALL")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 8, cfg.RunCacheSize)
	assert.Equal(t, 64, cfg.MaxBlockDepth)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 0.01, cfg.SplineTolerance)
	assert.Equal(t, "A-WALL", cfg.WallLayerPrefix)
}
