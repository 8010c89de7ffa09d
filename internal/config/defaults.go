package config

import (
	"time"

	"github.com/hyperjump/storyhook/internal/airstory"
	"github.com/hyperjump/storyhook/internal/media"
)

// DefaultAllowedOrigins is the webhook CORS allow-list: the source service's web app.
var DefaultAllowedOrigins = []string{"https://app.airstory.co"}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 2 * time.Minute
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/storyhook/data/db/storyhook.db"
	}
	if cfg.Storage.SearchIndexPath == "" {
		cfg.Storage.SearchIndexPath = "/usr/local/var/storyhook/data/indices/bleve"
	}
	if cfg.Media.Directory == "" {
		cfg.Media.Directory = "/usr/local/var/storyhook/data/media"
	}
	if cfg.Media.BaseURL == "" {
		cfg.Media.BaseURL = "/media"
	}
	if cfg.Media.AllowedDomains == nil {
		cfg.Media.AllowedDomains = append([]string(nil), media.DefaultAllowedDomains...)
	}
	if cfg.Media.OriginalPatterns == nil {
		cfg.Media.OriginalPatterns = append([]media.Family(nil), media.DefaultFamilies...)
	}
	if cfg.Media.DownloadTimeout == 0 {
		cfg.Media.DownloadTimeout = 30 * time.Second
	}
	if cfg.Media.MaxDownloadBytes == 0 {
		cfg.Media.MaxDownloadBytes = 25 << 20
	}
	if cfg.Source.APIBase == "" {
		cfg.Source.APIBase = airstory.DefaultBaseURL
	}
	if cfg.Source.Timeout == 0 {
		cfg.Source.Timeout = airstory.DefaultTimeout
	}
	if cfg.Source.RequestsPerSecond == 0 {
		cfg.Source.RequestsPerSecond = 5
	}
	if cfg.Source.Burst == 0 {
		cfg.Source.Burst = 10
	}
	if cfg.Source.MaxContentBytes == 0 {
		cfg.Source.MaxContentBytes = airstory.DefaultMaxContentBytes
	}
	if cfg.Source.UserAgent == "" {
		cfg.Source.UserAgent = "storyhook"
	}
	if cfg.Webhook.AllowedOrigins == nil {
		cfg.Webhook.AllowedOrigins = append([]string(nil), DefaultAllowedOrigins...)
	}
	if cfg.Webhook.AdminURL == "" {
		cfg.Webhook.AdminURL = "http://localhost:8080/admin"
	}
	if cfg.Site.Name == "" {
		cfg.Site.Name = "storyhook"
	}
	if cfg.Site.WebhookURL == "" {
		cfg.Site.WebhookURL = "http://" + cfg.Addr() + "/api/v1/webhook"
	}
	if cfg.Credentials.KeyFile == "" {
		cfg.Credentials.KeyFile = "/usr/local/var/storyhook/data/credentials.key"
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "storyhook"
	}
}
