package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that round-trips through TOML as a string
// like "12h" or "6s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Engine holds sync-engine tuning knobs.
type Engine struct {
	PeerKeyTTL     Duration `toml:"peer_key_ttl"`
	PresenceTTL    Duration `toml:"presence_ttl"`
	DecryptWorkers int      `toml:"decrypt_workers"`
	UploadWorkers  int      `toml:"upload_workers"`
	UploadMaxBytes int64    `toml:"upload_max_bytes"`
	HDMaxDimension int      `toml:"hd_max_dimension"`
	SDMaxDimension int      `toml:"sd_max_dimension"`
}

// Config represents the global ~/.pingy/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	Engine         Engine `toml:"engine"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: Engine{
			PeerKeyTTL:     Duration(12 * time.Hour),
			PresenceTTL:    Duration(6 * time.Second),
			DecryptWorkers: 4,
			UploadWorkers:  3,
			UploadMaxBytes: 16 << 20,
			HDMaxDimension: 4096,
			SDMaxDimension: 1600,
		},
	}
}

// Load reads config from the given path and fills unset engine fields with
// defaults. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadOrDefault reads config from the given path, falling back to defaults
// if the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
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

func (c *Config) applyDefaults() {
	def := Default().Engine
	if c.Engine.PeerKeyTTL == 0 {
		c.Engine.PeerKeyTTL = def.PeerKeyTTL
	}
	if c.Engine.PresenceTTL == 0 {
		c.Engine.PresenceTTL = def.PresenceTTL
	}
	if c.Engine.DecryptWorkers <= 0 {
		c.Engine.DecryptWorkers = def.DecryptWorkers
	}
	if c.Engine.UploadWorkers <= 0 {
		c.Engine.UploadWorkers = def.UploadWorkers
	}
	if c.Engine.UploadMaxBytes <= 0 {
		c.Engine.UploadMaxBytes = def.UploadMaxBytes
	}
	if c.Engine.HDMaxDimension <= 0 {
		c.Engine.HDMaxDimension = def.HDMaxDimension
	}
	if c.Engine.SDMaxDimension <= 0 {
		c.Engine.SDMaxDimension = def.SDMaxDimension
	}
}
