// Package config provides configuration loading and structs for the storyhook server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/storyhook/internal/media"
)

// EnvPrefix prefixes every environment override, e.g. STORYHOOK_SERVER_PORT.
const EnvPrefix = "STORYHOOK_"

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug" env:"DEBUG"`
	Log         LogConfig         `yaml:"log" envPrefix:"LOG_"`
	Server      ServerConfig      `yaml:"server" envPrefix:"SERVER_"`
	Storage     StorageConfig     `yaml:"storage" envPrefix:"STORAGE_"`
	Media       MediaConfig       `yaml:"media" envPrefix:"MEDIA_"`
	Source      SourceConfig      `yaml:"source" envPrefix:"SOURCE_"`
	Webhook     WebhookConfig     `yaml:"webhook" envPrefix:"WEBHOOK_"`
	Site        SiteConfig        `yaml:"site" envPrefix:"SITE_"`
	Credentials CredentialsConfig `yaml:"credentials" envPrefix:"CREDENTIALS_"`
	Events      EventsConfig      `yaml:"events" envPrefix:"EVENTS_"`
}

// LogConfig selects the zap level and encoder. Debug overrides both.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host" env:"HOST"`
	Port           int           `yaml:"port" env:"PORT"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
}

// StorageConfig holds paths for the database and search index.
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path" env:"DATABASE_PATH"`
	SearchIndexPath string `yaml:"search_index_path" env:"SEARCH_INDEX_PATH"`
}

// MediaConfig controls sideloading of remote images.
type MediaConfig struct {
	Directory        string         `yaml:"directory" env:"DIRECTORY"`
	BaseURL          string         `yaml:"base_url" env:"BASE_URL"`
	AllowedDomains   []string       `yaml:"allowed_domains" env:"ALLOWED_DOMAINS"`
	OriginalPatterns []media.Family `yaml:"original_patterns"`
	DownloadTimeout  time.Duration  `yaml:"download_timeout" env:"DOWNLOAD_TIMEOUT"`
	MaxDownloadBytes int64          `yaml:"max_download_bytes" env:"MAX_DOWNLOAD_BYTES"`
}

// SourceConfig holds source service client settings.
type SourceConfig struct {
	APIBase           string        `yaml:"api_base" env:"API_BASE"`
	Timeout           time.Duration `yaml:"timeout" env:"TIMEOUT"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	Burst             int           `yaml:"burst" env:"BURST"`
	MaxContentBytes   int64         `yaml:"max_content_bytes" env:"MAX_CONTENT_BYTES"`
	UserAgent         string        `yaml:"user_agent" env:"USER_AGENT"`
}

// WebhookConfig holds inbound webhook settings.
type WebhookConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	StripWrappingDiv *bool    `yaml:"strip_wrapping_div" env:"STRIP_WRAPPING_DIV"`
	AdminURL         string   `yaml:"admin_url" env:"ADMIN_URL"`
}

// StripWrappingDivOrDefault returns whether to strip a wrapping div; defaults to true when unset.
func (w *WebhookConfig) StripWrappingDivOrDefault() bool {
	if w.StripWrappingDiv != nil {
		return *w.StripWrappingDiv
	}
	return true
}

// SiteConfig describes this installation to the source service when registering a target.
type SiteConfig struct {
	Name       string `yaml:"name" env:"NAME"`
	WebhookURL string `yaml:"webhook_url" env:"WEBHOOK_URL"`
	TargetType string `yaml:"target_type" env:"TARGET_TYPE"`
}

// CredentialsConfig holds the token encryption secret. When EncryptionKey is empty the
// key is read from (or generated into) KeyFile.
type CredentialsConfig struct {
	EncryptionKey string `yaml:"encryption_key" env:"ENCRYPTION_KEY"`
	KeyFile       string `yaml:"key_file" env:"KEY_FILE"`
}

// EventsConfig holds the optional NATS forwarder settings.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url" env:"NATS_URL"`
	SubjectPrefix string `yaml:"subject_prefix" env:"SUBJECT_PREFIX"`
}

// Load reads and parses the config file at path, then a .env file next to it, then
// STORYHOOK_* environment overrides. Paths are expanded and defaults applied.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	// godotenv.Load never overrides variables that are already set.
	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	ApplyDefaults(&cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.SearchIndexPath = expandPath(cfg.Storage.SearchIndexPath, configDir)
	cfg.Media.Directory = expandPath(cfg.Media.Directory, configDir)
	cfg.Credentials.KeyFile = expandPath(cfg.Credentials.KeyFile, configDir)

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Addr returns host:port for the HTTP listener.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// EditURL returns the admin edit link for a record.
func (c *Config) EditURL(recordID int64) string {
	return fmt.Sprintf("%s/post.php?action=edit&post=%d", strings.TrimRight(c.Webhook.AdminURL, "/"), recordID)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
