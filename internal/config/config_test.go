package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "city-service", cfg.ServiceName)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.Sync.Cooldown)
	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Sync.DeliveryTimeout)
	assert.True(t, cfg.Sync.MarkProcessedOnPublish)
	require.Len(t, cfg.Endpoints, 3)
	assert.Equal(t, "vehicle-service", cfg.Endpoints[0].Name)
	assert.True(t, cfg.Endpoints[0].Active)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service_name: city-core
sync:
  max_retries: 7
endpoints:
  - name: parts-service
    base_url: "http://parts:9000"
    active: false
`), 0o600))

	t.Setenv("CITYSYNC_LOG_LEVEL", "debug")
	t.Setenv("CITYSYNC_SYNC_BATCH_SIZE", "10")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "city-core", cfg.ServiceName)
	assert.Equal(t, 7, cfg.Sync.MaxRetries)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10, cfg.Sync.BatchSize)
	require.Len(t, cfg.Endpoints, 1)
	assert.Equal(t, "parts-service", cfg.Endpoints[0].Name)
	assert.False(t, cfg.Endpoints[0].Active)
}
