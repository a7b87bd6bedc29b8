// Package config loads the studyboard TOML configuration and the small
// persisted client state.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/abelbrown/studyboard/internal/score"
)

// Duration is a time.Duration written as "5m" or "250ms" in TOML.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the persistent application configuration.
type Config struct {
	Client  ClientConfig  `toml:"client"`
	Cache   CacheConfig   `toml:"cache"`
	Batch   BatchConfig   `toml:"batch"`
	Offload OffloadConfig `toml:"offload"`
	Weights score.Weights `toml:"weights"`
	Server  ServerConfig  `toml:"server"`
	Log     LogConfig     `toml:"log"`
}

// ClientConfig points the store at an analytics backend.
type ClientConfig struct {
	BaseURL    string   `toml:"base-url"`
	UserID     string   `toml:"user"`
	Timeout    Duration `toml:"timeout"`
	Rate       float64  `toml:"rate"` // requests per second
	Burst      int      `toml:"burst"`
	MaxRetries int      `toml:"max-retries"`
	Realtime   bool     `toml:"realtime"`
	Zone       string   `toml:"zone"` // IANA zone for day bucketing, empty = local
}

// CacheConfig sizes the request cache.
type CacheConfig struct {
	TTL        Duration `toml:"ttl"`
	MaxEntries int      `toml:"max-entries"`
}

// BatchConfig tunes batched session writes.
type BatchConfig struct {
	Size     int      `toml:"size"`
	Debounce Duration `toml:"debounce"`
}

// OffloadConfig bounds the background worker pool.
type OffloadConfig struct {
	MaxWorkers int      `toml:"max-workers"` // 0 = number of CPUs
	Timeout    Duration `toml:"timeout"`
	Advanced   bool     `toml:"advanced-scoring"`
}

// ServerConfig configures `studyboard serve`.
type ServerConfig struct {
	Addr string `toml:"addr"`
	DB   string `toml:"db"`
}

// LogConfig controls the text log and the JSONL event trace.
type LogConfig struct {
	Level string `toml:"level"`
	Dir   string `toml:"dir"`   // empty = stderr
	Trace string `toml:"trace"` // JSONL event file, empty = off
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			BaseURL:    "http://localhost:8080",
			Timeout:    Duration(30 * time.Second),
			Rate:       10,
			Burst:      5,
			MaxRetries: 2,
			Realtime:   true,
		},
		Cache: CacheConfig{
			TTL:        Duration(5 * time.Minute),
			MaxEntries: 1024,
		},
		Batch: BatchConfig{
			Size:     50,
			Debounce: Duration(100 * time.Millisecond),
		},
		Offload: OffloadConfig{
			Timeout:  Duration(30 * time.Second),
			Advanced: true,
		},
		Weights: score.DefaultWeights,
		Server: ServerConfig{
			Addr: ":8080",
			DB:   DefaultDBPath(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the TOML file at path over the defaults and then applies
// environment overrides. A missing file is not an error. An empty path
// means DefaultConfigPath.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config: %w", err)
		}
	} else if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	cfg.AutoPopulateFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// AutoPopulateFromEnv applies STUDYBOARD_* overrides.
func (c *Config) AutoPopulateFromEnv() {
	if v := os.Getenv("STUDYBOARD_BASE_URL"); v != "" {
		c.Client.BaseURL = v
	}
	if v := os.Getenv("STUDYBOARD_USER"); v != "" {
		c.Client.UserID = v
	}
	if v := os.Getenv("STUDYBOARD_DB"); v != "" {
		c.Server.DB = v
	}
	if v := os.Getenv("STUDYBOARD_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("STUDYBOARD_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("STUDYBOARD_REALTIME"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Client.Realtime = b
		}
	}
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return fmt.Errorf("weights: %w", err)
	}
	if c.Cache.TTL <= 0 {
		return errors.New("cache.ttl must be positive")
	}
	if c.Batch.Size <= 0 {
		return errors.New("batch.size must be positive")
	}
	if c.Batch.Debounce < 0 {
		return errors.New("batch.debounce must not be negative")
	}
	if c.Offload.MaxWorkers < 0 {
		return errors.New("offload.max-workers must not be negative")
	}
	if c.Offload.Timeout <= 0 {
		return errors.New("offload.timeout must be positive")
	}
	if c.Client.Zone != "" {
		if _, err := time.LoadLocation(c.Client.Zone); err != nil {
			return fmt.Errorf("client.zone: %w", err)
		}
	}
	return nil
}

// Location returns the configured zone, or time.Local.
func (c *Config) Location() *time.Location {
	if c.Client.Zone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Client.Zone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Save writes the config as TOML, creating the directory.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}
