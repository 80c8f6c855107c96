package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "attendance_db", cfg.DBName)
	assert.Equal(t, 10*time.Second, cfg.CallableTimeout)
	assert.False(t, cfg.IsLocalDev)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("CALLABLE_TIMEOUT", "3s")
	t.Setenv("IS_LOCAL_DEV", "true")
	t.Setenv("CALLABLE_BASE_URL", "http://functions.local/")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 3*time.Second, cfg.CallableTimeout)
	assert.True(t, cfg.IsLocalDev)
	assert.Equal(t, "http://functions.local/", cfg.CallableBaseURL)
}
