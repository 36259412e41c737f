package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"draftsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Remote     RemoteConfig     `yaml:"remote"`
	Sync       SyncConfig       `yaml:"sync"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`

	// TTL of mirrored drafts; zero keeps them until removed.
	TTL time.Duration `yaml:"ttl"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

const (
	RemoteModeHTTP   = "http"
	RemoteModeMemory = "memory"
)

type RemoteConfig struct {
	Mode    string        `yaml:"mode"`
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// SyncConfig holds the tunables of the sync core. The backoff and grace values
// are empirical and kept configurable.
type SyncConfig struct {
	AutosaveInterval time.Duration `yaml:"autosave_interval"`
	ProbeInterval    time.Duration `yaml:"probe_interval"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	MaxRetries       int           `yaml:"max_retries"`
	GracePeriod      time.Duration `yaml:"grace_period"`
	DeadLetterLimit  int           `yaml:"dead_letter_limit"`
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
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return errors.New("storage path is required")
	}

	switch c.Remote.Mode {
	case RemoteModeHTTP:
		if strings.TrimSpace(c.Remote.BaseURL) == "" {
			return errors.New("remote.base_url is required in http mode")
		}
	case RemoteModeMemory:
	default:
		return fmt.Errorf("unknown remote mode %q", c.Remote.Mode)
	}

	return c.Sync.Validate()
}

func (s SyncConfig) Validate() error {
	if s.MaxRetries < 1 {
		return fmt.Errorf("sync.max_retries must be >= 1, got %d", s.MaxRetries)
	}
	if s.BaseDelay <= 0 {
		return errors.New("sync.base_delay must be positive")
	}
	if s.MaxDelay > 0 && s.MaxDelay < s.BaseDelay {
		return errors.New("sync.max_delay must not be below sync.base_delay")
	}
	if s.GracePeriod < 0 {
		return errors.New("sync.grace_period must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "draftsync"
	}
	if c.Remote.Mode == "" {
		c.Remote.Mode = RemoteModeHTTP
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = 15 * time.Second
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	c.Sync.applyDefaults()
}

func (s *SyncConfig) applyDefaults() {
	if s.AutosaveInterval == 0 {
		s.AutosaveInterval = models.DefaultAutosaveInterval
	}
	if s.ProbeInterval == 0 {
		s.ProbeInterval = models.DefaultProbeInterval
	}
	if s.PollInterval == 0 {
		s.PollInterval = models.DefaultPollInterval
	}
	if s.BaseDelay == 0 {
		s.BaseDelay = models.DefaultBaseDelay
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = models.DefaultMaxRetries
	}
	if s.GracePeriod == 0 {
		s.GracePeriod = models.DefaultGracePeriod
	}
	if s.DeadLetterLimit == 0 {
		s.DeadLetterLimit = models.DefaultDeadLetterLimit
	}
}
