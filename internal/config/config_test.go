package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range env {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, ":3000", cfg.Addr())
	assert.Equal(t, "admin123", cfg.HostSecret)
	assert.Equal(t, "game-data.json", cfg.DataFile)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, 5, cfg.TotalRounds)
	assert.Equal(t, int64(100), cfg.LotCap)
	assert.Equal(t, "1000000", cfg.StartingCash.String())

	lvl, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
}

func TestLoad_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("ADMIN_PASSWORD", "s3cret")
	t.Setenv("TOTAL_ROUNDS", "8")
	t.Setenv("STARTING_CASH", "250000.50")
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "s3cret", cfg.HostSecret)
	assert.Equal(t, 8, cfg.TotalRounds)
	assert.Equal(t, "250000.5", cfg.StartingCash.String())
	assert.Equal(t, 90*time.Second, cfg.CacheTTL)

	lvl, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestLoad_FileWithEnvOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "tradesim.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 4000\ntotal_rounds: 3\ndata_file: /tmp/x.json\n"), 0o644))
	t.Setenv("TOTAL_ROUNDS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, 7, cfg.TotalRounds)
	assert.Equal(t, "/tmp/x.json", cfg.DataFile)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"TOTAL_ROUNDS":  "0",
		"LOT_CAP":       "-1",
		"STARTING_CASH": "lots",
		"LOG_LEVEL":     "chatty",
		"PORT":          "70000",
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(name, value)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
