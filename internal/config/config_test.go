package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"chansync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("CHANSYNC_TEST_API_KEY", "secret-from-env")

	yamlContent := `
database:
  path: "test.db"
sync:
  workers: 2
  retry:
    initial_delay: 3s
providers:
  rest:
    enabled: true
    base_url: "https://cm.example.com"
    api_key: "${CHANSYNC_TEST_API_KEY}"
    transient_codes: ["TEMPORARILY_LOCKED"]
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "test.db", cfg.Database.Path)
	assert.Equal(t, 2, cfg.Sync.Workers)
	assert.Equal(t, 3*time.Second, cfg.Sync.Retry.InitialDelay)
	assert.Equal(t, "secret-from-env", cfg.Providers.REST.APIKey)
	assert.Equal(t, []string{"TEMPORARILY_LOCKED"}, cfg.Providers.REST.TransientCodes)
	assert.Equal(t, QueueBackendMemory, cfg.Sync.QueueBackend)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		c := Config{Database: DatabaseConfig{Path: "path"}}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "unknown queue backend", mutate: func(c *Config) { c.Sync.QueueBackend = "kafka" }, wantErr: true},
		{name: "max records above limit", mutate: func(c *Config) { c.Sync.MaxRecords = 5000 }, wantErr: true},
		{name: "rest without base url", mutate: func(c *Config) { c.Providers.REST.Enabled = true }, wantErr: true},
		{name: "sheets without credentials", mutate: func(c *Config) { c.Providers.Sheets.Enabled = true }, wantErr: true},
		{
			name: "telegram without chats",
			mutate: func(c *Config) {
				c.Alerts.Telegram.Enabled = true
				c.Alerts.Telegram.BotToken = "token"
			},
			wantErr: true,
		},
		{
			name: "telegram placeholder token",
			mutate: func(c *Config) {
				c.Alerts.Telegram.Enabled = true
				c.Alerts.Telegram.BotToken = "YOUR_BOT_TOKEN_HERE"
				c.Alerts.Telegram.ChatIDs = []int64{1}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	assert.Equal(t, 8080, cfg.API.HTTP.Port)
	assert.Equal(t, "x-api-key", cfg.API.Auth.HeaderAPIKey)
	assert.Equal(t, models.DefaultStatusPageSize, cfg.Sync.StatusPageSize)
	assert.Equal(t, models.MaxRecordsPerRequest, cfg.Sync.MaxRecords)
	assert.Equal(t, models.DefaultRetryBudget, cfg.Sync.Retry.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Sync.Retry.InitialDelay)
	assert.Equal(t, 2.0, cfg.Sync.Retry.BackoffFactor)
	assert.Equal(t, 45*time.Second, cfg.Providers.REST.Timeout)
	assert.Equal(t, "chansync", cfg.Redis.KeyPrefix)
	assert.Equal(t, "ARI", cfg.Providers.Sheets.SheetName)
}
