package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentworkforce/relaytimeline/internal/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "dev-secret", cfg.JWTSecret)
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.LogJSON)
	assert.False(t, cfg.Redis.Enabled())
	assert.Empty(t, cfg.Warnings)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("RELAYTIMELINE_ADDR", "127.0.0.1:9000")
	t.Setenv("RELAYTIMELINE_RATE_LIMIT_MAX", "25")
	t.Setenv("RELAYTIMELINE_RATE_LIMIT_WINDOW", "30s")
	t.Setenv("RELAYTIMELINE_LOG_JSON", "false")
	t.Setenv("RELAYTIMELINE_REDIS_ADDR", "localhost:6379")
	t.Setenv("RELAYTIMELINE_REDIS_DB", "2")
	t.Setenv("RELAYTIMELINE_BACKEND_PROFILE", " Memory ")

	cfg := Load()
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, 25, cfg.RateLimitMax)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.False(t, cfg.LogJSON)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "memory", cfg.BackendProfile)
}

func TestLoadFallsBackOnInvalidValues(t *testing.T) {
	t.Setenv("RELAYTIMELINE_MAX_BODY_BYTES", "lots")
	t.Setenv("RELAYTIMELINE_RATE_LIMIT_WINDOW", "soon")

	cfg := Load()
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	require.Len(t, cfg.Warnings, 2)
	assert.Contains(t, cfg.Warnings[0], "RELAYTIMELINE_MAX_BODY_BYTES")
}

func TestResolveStateBackendDSN(t *testing.T) {
	dsn, err := Config{}.ResolveStateBackendDSN()
	require.NoError(t, err)
	assert.Empty(t, dsn)

	dsn, err = Config{BackendProfile: "memory", StateBackendDSN: "sqlite:///tmp/x.db"}.ResolveStateBackendDSN()
	require.NoError(t, err)
	assert.Equal(t, "sqlite:///tmp/x.db", dsn)

	dsn, err = Config{BackendProfile: "durable-local", DataDir: "/var/lib/rt"}.ResolveStateBackendDSN()
	require.NoError(t, err)
	assert.Equal(t, "file:///var/lib/rt/timelines", dsn)

	_, err = Config{BackendProfile: "production"}.ResolveStateBackendDSN()
	require.Error(t, err)

	dsn, err = Config{BackendProfile: "prod", PostgresDSN: "postgres://db/rt"}.ResolveStateBackendDSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://db/rt", dsn)

	_, err = Config{BackendProfile: "cloud"}.ResolveStateBackendDSN()
	require.Error(t, err)
}

func TestBuildStateBackendFromProfile(t *testing.T) {
	backend, err := Config{BackendProfile: "memory"}.BuildStateBackend()
	require.NoError(t, err)
	assert.IsType(t, &timeline.InMemoryStateBackend{}, backend)

	dir := t.TempDir()
	backend, err = Config{BackendProfile: "durable-local", DataDir: dir}.BuildStateBackend()
	require.NoError(t, err)
	require.NoError(t, backend.Save("c1", &timeline.ConversationTimeline{ByID: map[string]timeline.TimelineEntity{}}))
	_, err = os.Stat(filepath.Join(dir, "timelines", "c1.json"))
	require.NoError(t, err)
}

func TestParseAdaptersKeepsFileOrder(t *testing.T) {
	registry, err := ParseAdapters([]byte(`
adapters:
  - customKind: hypercard.widget.v1
  - customKind: Hypercard.Card.V2
    enabled: true
`))
	require.NoError(t, err)
	assert.Equal(t, []string{timeline.CustomKindHypercardWidget, timeline.CustomKindHypercardCard}, registry.Kinds())
}

func TestParseAdaptersSkipsDisabled(t *testing.T) {
	registry, err := ParseAdapters([]byte(`
adapters:
  - customKind: hypercard.card.v2
    enabled: false
  - customKind: hypercard.widget.v1
`))
	require.NoError(t, err)
	_, ok := registry.Lookup(timeline.CustomKindHypercardCard)
	assert.False(t, ok)
	assert.Equal(t, []string{timeline.CustomKindHypercardWidget}, registry.Kinds())
}

func TestParseAdaptersRejectsUnknownKinds(t *testing.T) {
	_, err := ParseAdapters([]byte("adapters:\n  - customKind: acme.chart.v1\n"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "acme.chart.v1"))

	_, err = ParseAdapters([]byte("adapters:\n  - enabled: true\n"))
	require.Error(t, err)
}

func TestLoadAdaptersDefaultsAndFile(t *testing.T) {
	registry, err := LoadAdapters("")
	require.NoError(t, err)
	assert.Len(t, registry.Kinds(), 2)

	path := filepath.Join(t.TempDir(), "adapters.yaml")
	require.NoError(t, os.WriteFile(path, []byte("adapters:\n  - customKind: hypercard.card.v2\n"), 0o644))
	registry, err = LoadAdapters(path)
	require.NoError(t, err)
	assert.Equal(t, []string{timeline.CustomKindHypercardCard}, registry.Kinds())

	_, err = LoadAdapters(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
