package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const appName = "tootrank"

// Config holds all application configuration
type Config struct {
	Version  int            `toml:"version"`
	Instance InstanceConfig `toml:"instance"`
	Ranking  RankingConfig  `toml:"ranking"`
	Timeline TimelineConfig `toml:"timeline"`
	Digest   DigestConfig   `toml:"digest"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Email    EmailConfig    `toml:"email"`
}

type InstanceConfig struct {
	URL           string `toml:"url"`
	TimelineLimit int    `toml:"timeline_limit"`
}

type RankingConfig struct {
	RecommendationLimit int `toml:"recommendation_limit"`
	// RecalculateSchedule is a cron spec, e.g. "*/30 * * * *".
	RecalculateSchedule string `toml:"recalculate_schedule"`
}

type TimelineConfig struct {
	CacheTTLMinutes        int `toml:"cache_ttl_minutes"`
	RefreshIntervalMinutes int `toml:"refresh_interval_minutes"`
	CandidateRetentionDays int `toml:"candidate_retention_days"`
}

type DigestConfig struct {
	MaxPosts int    `toml:"max_posts"`
	Timezone string `toml:"timezone"`
	// SendAt is the daily "15:04" time the digest is mailed; empty disables.
	SendAt string `toml:"send_at"`
}

// EmailConfig is only used when Provider is set.
type EmailConfig struct {
	Provider string `toml:"provider"`
	SMTPHost string `toml:"smtp_host"`
	SMTPPort int    `toml:"smtp_port"`
	SMTPUser string `toml:"smtp_user"`
	SMTPPass string `toml:"smtp_pass"`
	FromAddr string `toml:"from_address"`
	ToAddr   string `toml:"to_address"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version: 1,
		Instance: InstanceConfig{
			URL:           "https://mastodon.social",
			TimelineLimit: 40,
		},
		Ranking: RankingConfig{
			RecommendationLimit: 20,
			RecalculateSchedule: "*/30 * * * *",
		},
		Timeline: TimelineConfig{
			CacheTTLMinutes:        5,
			RefreshIntervalMinutes: 15,
			CandidateRetentionDays: 14,
		},
		Digest: DigestConfig{
			MaxPosts: 20,
			Timezone: "Local",
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
		Email: EmailConfig{
			SMTPPort: 587,
		},
	}
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, appName), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// CacheDir returns the platform-appropriate cache directory.
// On macOS this is ~/Library/Caches/tootrank/
func CacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, appName), nil
}

// DataDir returns the directory holding the on-device database.
func DataDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "data"), nil
}

// DBPath returns the full path to the SQLite database
func DBPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tootrank.db"), nil
}

// Load reads config from the default location
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads config from path. Keys missing from the file keep their
// default values.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the default location
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes config to path, creating parent directories as needed.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}
