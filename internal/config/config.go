package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Notifications controls what incoming-event notifications reveal.
type Notifications struct {
	// Enabled toggles SMS notifications entirely.
	Enabled bool `toml:"enabled"`
	// ShowSender includes the resolved contact name (or number) in the title.
	ShowSender bool `toml:"show_sender"`
	// ShowBody includes the message text in the notification body.
	ShowBody bool `toml:"show_body"`
	// Calls toggles incoming/missed call notifications.
	Calls bool `toml:"calls"`
	// Files toggles received-file notifications.
	Files bool `toml:"files"`
}

// Sms holds tunables for conversation and message loading.
type Sms struct {
	// PageSize is the number of messages requested per page.
	PageSize int `toml:"page_size"`
	// CacheThreads is the per-device LRU capacity of cached message threads.
	CacheThreads int `toml:"cache_threads"`
}

// Config represents the global config.toml.
type Config struct {
	Notifications Notifications `toml:"notifications"`
	Sms           Sms           `toml:"sms"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Notifications: Notifications{
			Enabled:    true,
			ShowSender: true,
			ShowBody:   true,
			Calls:      true,
			Files:      true,
		},
		Sms: Sms{
			PageSize:     25,
			CacheThreads: 10,
		},
	}
}

// Load reads config from the given path, applying defaults for missing
// fields. A missing file yields the default config without error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.clamp()
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) clamp() {
	if c.Sms.PageSize < 5 {
		c.Sms.PageSize = 5
	}
	if c.Sms.PageSize > 200 {
		c.Sms.PageSize = 200
	}
	if c.Sms.CacheThreads < 1 {
		c.Sms.CacheThreads = 1
	}
	if c.Sms.CacheThreads > 64 {
		c.Sms.CacheThreads = 64
	}
}
