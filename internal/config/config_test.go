package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONFIG_FILE", "LISTEN_ADDR", "DATABASE_URL", "REPORT_SPOOL_DIR",
		"REDIS_ADDR", "NATS_URL", "KEYFRAME_DIR", "JWT_SECRET",
		"VISION_BASE_URL", "VISION_API_KEY", "VISION_MODEL", "VISION_EVAL_MODEL",
		"SPEECH_BASE_URL", "SPEECH_API_KEY", "SPEECH_MODEL",
		"REMOTE_GPU_BASE_URL", "REMOTE_GPU_API_KEY", "REMOTE_GPU_MODEL",
		"DEDUP_MAX_KEYS", "DEDUP_TTL_SECONDS",
	} {
		os.Unsetenv(k)
	}
}

func TestDefault_HasSaneBaseline(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "gpt-4o", cfg.Vision.Model)
	assert.NotEmpty(t, cfg.RateLimits)
}

func TestLoad_NoFileFallsBackToDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("CONFIG_FILE", "/nonexistent/path/default.yaml")
	defer clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, config.Default().ListenAddr, cfg.ListenAddr)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	yamlPath := dir + "/default.yaml"
	require.NoError(t, os.WriteFile(yamlPath, []byte("listen_addr: \":9090\"\n"), 0644))

	os.Setenv("CONFIG_FILE", yamlPath)
	os.Setenv("LISTEN_ADDR", ":9999")
	defer clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddr, "env must win over yaml")
}

func TestLoad_YAMLAppliesWhenEnvAbsent(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	yamlPath := dir + "/default.yaml"
	require.NoError(t, os.WriteFile(yamlPath, []byte("listen_addr: \":9090\"\n"), 0644))
	os.Setenv("CONFIG_FILE", yamlPath)
	defer clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
}

func TestLoad_DedupTTLFromEnv(t *testing.T) {
	clearEnv(t)
	os.Setenv("CONFIG_FILE", "/nonexistent/path/default.yaml")
	os.Setenv("DEDUP_TTL_SECONDS", "45")
	defer clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.DedupTTL)
}

func TestWatcher_CurrentReflectsInitialLoad(t *testing.T) {
	clearEnv(t)
	os.Setenv("CONFIG_FILE", "/nonexistent/path/default.yaml")
	defer clearEnv(t)

	w, err := config.NewWatcher()
	require.NoError(t, err)
	assert.Equal(t, config.Default().ListenAddr, w.Current().ListenAddr)
}
