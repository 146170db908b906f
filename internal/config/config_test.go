package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "hello")
	assert.Equal(t, "hello", envStr("TEST_STR", "fallback"))
	assert.Equal(t, "fallback", envStr("TEST_STR_MISSING", "fallback"))

	t.Setenv("TEST_INT", "42")
	assert.Equal(t, 42, envInt("TEST_INT", 0))
	assert.Equal(t, 99, envInt("TEST_INT_MISSING", 99))

	t.Setenv("TEST_INT_BAD", "abc")
	assert.Equal(t, 7, envInt("TEST_INT_BAD", 7), "unparseable values fall back")

	t.Setenv("TEST_FLOAT", "2.5")
	assert.Equal(t, 2.5, envFloat("TEST_FLOAT", 0))

	t.Setenv("TEST_DUR", "5s")
	assert.Equal(t, 5*time.Second, envDuration("TEST_DUR", 0))
	assert.Equal(t, time.Minute, envDuration("TEST_DUR_MISSING", time.Minute))
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "tsumugi", cfg.ServiceName)
	assert.Equal(t, 30*time.Second, cfg.RunLogCacheTTL)
	assert.Equal(t, 5*time.Minute, cfg.StreamMarkerTTL)
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("TSUMUGI_PORT", "9191")
	t.Setenv("TSUMUGI_RUNLOG_URL", "http://orchestrator:7000")
	t.Setenv("TSUMUGI_RUNLOG_CACHE_TTL", "10s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Port)
	assert.Equal(t, "http://orchestrator:7000", cfg.RunLogBaseURL)
	assert.Equal(t, 10*time.Second, cfg.RunLogCacheTTL)
}

func TestValidateRejectsMissingRequired(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.DatabaseURL = ""
	require.Error(t, cfg.Validate())

	cfg, _ = Load()
	cfg.RunLogBaseURL = ""
	require.Error(t, cfg.Validate())

	cfg, _ = Load()
	cfg.RunLogTimeout = 0
	require.Error(t, cfg.Validate())
}
