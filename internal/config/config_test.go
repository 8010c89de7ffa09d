package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/hyperjump/storyhook/internal/media"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
media:
  allowed_domains: ["images.airstory.co", "*.cloudinary.com"]
  download_timeout: 10s
webhook:
  admin_url: "https://example.com/wp-admin/"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
	if want := []string{"images.airstory.co", "*.cloudinary.com"}; !reflect.DeepEqual(cfg.Media.AllowedDomains, want) {
		t.Errorf("allowed_domains = %v, want %v", cfg.Media.AllowedDomains, want)
	}
	if cfg.Media.DownloadTimeout != 10*time.Second {
		t.Errorf("download_timeout = %v", cfg.Media.DownloadTimeout)
	}
	if got := cfg.EditURL(42); got != "https://example.com/wp-admin/post.php?action=edit&post=42" {
		t.Errorf("EditURL = %s", got)
	}
}

func TestLoad_originalPatterns(t *testing.T) {
	path := writeConfig(t, `
media:
  original_patterns:
    - host: img.example.com
      path_prefix: /assets
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := []media.Family{{Host: "img.example.com", PathPrefix: "/assets"}}
	if !reflect.DeepEqual(cfg.Media.OriginalPatterns, want) {
		t.Errorf("original_patterns = %+v, want %+v", cfg.Media.OriginalPatterns, want)
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/db/storyhook.db"
media:
  directory: "./data/media"
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data", "db", "storyhook.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, want)
	}
	if want := filepath.Join(dir, "data", "media"); cfg.Media.Directory != want {
		t.Errorf("media directory = %s, want %s", cfg.Media.Directory, want)
	}
}

func TestLoad_environmentOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
webhook:
  strip_wrapping_div: true
`)
	t.Setenv("STORYHOOK_SERVER_PORT", "9100")
	t.Setenv("STORYHOOK_WEBHOOK_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("STORYHOOK_WEBHOOK_STRIP_WRAPPING_DIV", "false")
	t.Setenv("STORYHOOK_SOURCE_TIMEOUT", "5s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want env override 9100", cfg.Server.Port)
	}
	if want := []string{"https://a.example", "https://b.example"}; !reflect.DeepEqual(cfg.Webhook.AllowedOrigins, want) {
		t.Errorf("allowed_origins = %v", cfg.Webhook.AllowedOrigins)
	}
	if cfg.Webhook.StripWrappingDivOrDefault() {
		t.Error("strip_wrapping_div should be overridden to false")
	}
	if cfg.Source.Timeout != 5*time.Second {
		t.Errorf("source timeout = %v", cfg.Source.Timeout)
	}
}

func TestLoad_dotEnvNextToConfig(t *testing.T) {
	const key = "STORYHOOK_CREDENTIALS_ENCRYPTION_KEY"
	if _, set := os.LookupEnv(key); set {
		t.Skipf("%s already set", key)
	}
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	path := writeConfig(t, "debug: true\n")
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := os.WriteFile(envFile, []byte(key+"=from-dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Credentials.EncryptionKey != "from-dotenv" {
		t.Errorf("encryption key = %q, want value from .env", cfg.Credentials.EncryptionKey)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if !reflect.DeepEqual(cfg.Media.AllowedDomains, media.DefaultAllowedDomains) {
		t.Errorf("default allowed domains: got %v", cfg.Media.AllowedDomains)
	}
	if len(cfg.Media.OriginalPatterns) != len(media.DefaultFamilies) {
		t.Errorf("default original patterns: got %v", cfg.Media.OriginalPatterns)
	}
	if !reflect.DeepEqual(cfg.Webhook.AllowedOrigins, DefaultAllowedOrigins) {
		t.Errorf("default origins: got %v", cfg.Webhook.AllowedOrigins)
	}
	if !cfg.Webhook.StripWrappingDivOrDefault() {
		t.Error("strip_wrapping_div should default to true")
	}
	if cfg.Site.WebhookURL != "http://localhost:8080/api/v1/webhook" {
		t.Errorf("default webhook url: got %s", cfg.Site.WebhookURL)
	}
	if cfg.Events.SubjectPrefix != "storyhook" {
		t.Errorf("default subject prefix: got %s", cfg.Events.SubjectPrefix)
	}

	// Defaults are copies; editing the config must not touch package defaults.
	cfg.Media.AllowedDomains[0] = "changed"
	if media.DefaultAllowedDomains[0] == "changed" {
		t.Error("ApplyDefaults aliased media.DefaultAllowedDomains")
	}
}

func TestApplyDefaults_explicitEmptyListKept(t *testing.T) {
	cfg := &Config{Webhook: WebhookConfig{AllowedOrigins: []string{}}}
	ApplyDefaults(cfg)
	if len(cfg.Webhook.AllowedOrigins) != 0 {
		t.Errorf("explicit empty origins should stay empty, got %v", cfg.Webhook.AllowedOrigins)
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DatabasePath: "/tmp/db"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
}

func TestLive(t *testing.T) {
	path := writeConfig(t, `
media:
  allowed_domains: ["one.example"]
webhook:
  allowed_origins: ["https://one.example"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	live := NewLive(cfg)
	if got := live.AllowedDomains(); !reflect.DeepEqual(got, []string{"one.example"}) {
		t.Errorf("domains = %v", got)
	}

	if err := os.WriteFile(path, []byte("media:\n  allowed_domains: [\"two.example\"]\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := live.Reload(path); err != nil {
		t.Fatal(err)
	}
	if got := live.AllowedDomains(); !reflect.DeepEqual(got, []string{"two.example"}) {
		t.Errorf("domains after reload = %v", got)
	}
	if got := live.AllowedOrigins(); !reflect.DeepEqual(got, DefaultAllowedOrigins) {
		t.Errorf("origins after reload = %v", got)
	}

	if err := os.WriteFile(path, []byte("media: [broken"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := live.Reload(path); err == nil {
		t.Error("expected parse error")
	}
	if got := live.AllowedDomains(); !reflect.DeepEqual(got, []string{"two.example"}) {
		t.Errorf("failed reload must keep previous snapshot, got %v", got)
	}
}
