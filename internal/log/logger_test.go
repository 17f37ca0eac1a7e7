package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithComponentAddsField(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf})
	t.Cleanup(func() { Configure(Config{}) })

	l := WithComponent("engine")
	l.Info().Str("session", "abc").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "engine", entry["component"])
	assert.Equal(t, "abc", entry["session"])
	assert.Equal(t, "hello", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestConfigureLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "warn", Output: &buf})
	t.Cleanup(func() { Configure(Config{}) })

	l := Base()
	l.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	l.Warn().Msg("kept")
	assert.NotZero(t, buf.Len())
}

func TestEnvLevelFallback(t *testing.T) {
	t.Setenv("LIVEWALL_LOG_LEVEL", "error")
	var buf bytes.Buffer
	Configure(Config{Output: &buf})
	t.Cleanup(func() { Configure(Config{}) })

	l := Base()
	l.Warn().Msg("dropped")
	assert.Zero(t, buf.Len())
}

func TestValidLevel(t *testing.T) {
	assert.True(t, ValidLevel("debug"))
	assert.True(t, ValidLevel("info"))
	assert.False(t, ValidLevel("loud"))
}

func TestLevelFromEnv(t *testing.T) {
	t.Setenv(EnvLevel, "debug")
	assert.Equal(t, "debug", LevelFromEnv())
}
