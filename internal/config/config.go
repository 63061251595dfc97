package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"chansync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Sync       SyncConfig       `yaml:"sync"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Alerts     AlertsConfig     `yaml:"alerts"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
	CORS      APICORSConfig      `yaml:"cors"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type APICORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// SyncConfig controls the worker pool and the queues it drains.
type SyncConfig struct {
	Workers        int           `yaml:"workers"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	StatsInterval  time.Duration `yaml:"stats_interval"`
	StatusPageSize int           `yaml:"status_page_size"`
	MaxRecords     int           `yaml:"max_records"`
	QueueBackend   string        `yaml:"queue_backend"`
	Retry          RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type ProvidersConfig struct {
	REST   RESTProviderConfig   `yaml:"rest"`
	Sheets SheetsProviderConfig `yaml:"sheets"`
}

type RESTProviderConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Type            string        `yaml:"type"`
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	Timeout         time.Duration `yaml:"timeout"`
	ProtocolVersion string        `yaml:"protocol_version"`
	RPS             float64       `yaml:"rps"`
	Burst           int           `yaml:"burst"`
	TransientCodes  []string      `yaml:"transient_codes"`
}

type SheetsProviderConfig struct {
	Enabled         bool     `yaml:"enabled"`
	CredentialsFile string   `yaml:"credentials_file"`
	SpreadsheetID   string   `yaml:"spreadsheet_id"`
	SheetName       string   `yaml:"sheet_name"`
	TransientCodes  []string `yaml:"transient_codes"`
}

type AlertsConfig struct {
	Telegram TelegramAlertConfig `yaml:"telegram"`
}

type TelegramAlertConfig struct {
	Enabled  bool    `yaml:"enabled"`
	BotToken string  `yaml:"bot_token"`
	ChatIDs  []int64 `yaml:"chat_ids"`
	Debug    bool    `yaml:"debug"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional, the environment may already be populated
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Sync.Workers < 1 {
		return errors.New("sync.workers must be at least 1")
	}

	if c.Sync.MaxRecords < 1 || c.Sync.MaxRecords > models.MaxRecordsPerRequest {
		return fmt.Errorf("sync.max_records must be between 1 and %d", models.MaxRecordsPerRequest)
	}

	switch c.Sync.QueueBackend {
	case QueueBackendMemory, QueueBackendRedis:
	default:
		return fmt.Errorf("unknown sync.queue_backend %q", c.Sync.QueueBackend)
	}

	if c.Sync.Retry.BackoffFactor < 1 {
		return errors.New("sync.retry.backoff_factor must be >= 1")
	}

	if c.Providers.REST.Enabled && c.Providers.REST.BaseURL == "" {
		return errors.New("providers.rest.base_url is required when the rest provider is enabled")
	}

	if c.Providers.Sheets.Enabled && c.Providers.Sheets.CredentialsFile == "" {
		return errors.New("providers.sheets.credentials_file is required when the sheets provider is enabled")
	}

	if c.Alerts.Telegram.Enabled {
		if c.Alerts.Telegram.BotToken == "" || c.Alerts.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE" {
			return errors.New("alerts.telegram.bot_token is required when telegram alerts are enabled")
		}
		if len(c.Alerts.Telegram.ChatIDs) == 0 {
			return errors.New("alerts.telegram.chat_ids must not be empty")
		}
	}

	return nil
}

const (
	QueueBackendMemory = "memory"
	QueueBackendRedis  = "redis"
)

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "chansync"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 20
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 40
	}

	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "chansync"
	}

	if c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}

	if c.Sync.Workers == 0 {
		c.Sync.Workers = 4
	}
	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = 500 * time.Millisecond
	}
	if c.Sync.StatsInterval == 0 {
		c.Sync.StatsInterval = 15 * time.Second
	}
	if c.Sync.StatusPageSize == 0 {
		c.Sync.StatusPageSize = models.DefaultStatusPageSize
	}
	if c.Sync.MaxRecords == 0 {
		c.Sync.MaxRecords = models.MaxRecordsPerRequest
	}
	c.Sync.QueueBackend = strings.ToLower(strings.TrimSpace(c.Sync.QueueBackend))
	if c.Sync.QueueBackend == "" {
		c.Sync.QueueBackend = QueueBackendMemory
	}
	if c.Sync.Retry.MaxRetries == 0 {
		c.Sync.Retry.MaxRetries = models.DefaultRetryBudget
	}
	if c.Sync.Retry.InitialDelay == 0 {
		c.Sync.Retry.InitialDelay = models.DefaultRetryDelay
	}
	if c.Sync.Retry.MaxDelay == 0 {
		c.Sync.Retry.MaxDelay = 5 * time.Minute
	}
	if c.Sync.Retry.BackoffFactor == 0 {
		c.Sync.Retry.BackoffFactor = 2
	}

	if c.Providers.REST.Type == "" {
		c.Providers.REST.Type = models.ProviderREST
	}
	if c.Providers.REST.Timeout == 0 {
		c.Providers.REST.Timeout = models.ProviderCallTimeout
	}
	if c.Providers.REST.ProtocolVersion == "" {
		c.Providers.REST.ProtocolVersion = "2024-06"
	}
	if c.Providers.REST.RPS == 0 {
		c.Providers.REST.RPS = 10
	}
	if c.Providers.REST.Burst == 0 {
		c.Providers.REST.Burst = 5
	}
	if c.Providers.Sheets.SheetName == "" {
		c.Providers.Sheets.SheetName = "ARI"
	}
}
