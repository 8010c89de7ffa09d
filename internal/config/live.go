package config

import (
	"sync/atomic"
)

// allowLists is an immutable snapshot of the hot-reloadable settings.
type allowLists struct {
	domains []string
	origins []string
}

// Live serves the settings that may change while the server runs: the media
// domain allow-list and the webhook CORS allow-list. Readers always see a
// complete snapshot; Update swaps it atomically.
type Live struct {
	v atomic.Pointer[allowLists]
}

// NewLive returns a Live initialised from cfg.
func NewLive(cfg *Config) *Live {
	l := &Live{}
	l.Update(cfg)
	return l
}

// Update replaces the snapshot with the lists in cfg.
func (l *Live) Update(cfg *Config) {
	l.v.Store(&allowLists{
		domains: append([]string(nil), cfg.Media.AllowedDomains...),
		origins: append([]string(nil), cfg.Webhook.AllowedOrigins...),
	})
}

// Reload loads the config file at path and applies its lists. On error the
// current snapshot is kept.
func (l *Live) Reload(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	l.Update(cfg)
	return nil
}

// AllowedDomains returns the current media domain allow-list. Callers must not modify it.
func (l *Live) AllowedDomains() []string { return l.v.Load().domains }

// AllowedOrigins returns the current webhook CORS allow-list. Callers must not modify it.
func (l *Live) AllowedOrigins() []string { return l.v.Load().origins }
