// Package config loads tuitest settings from ~/.tuitest/config.yaml and
// TUITEST_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GeorgePearse/mcp-tui-test/internal/harness"
	"github.com/GeorgePearse/mcp-tui-test/internal/logs"
	"github.com/GeorgePearse/mcp-tui-test/internal/session"
)

// Config is the on-disk configuration.
type Config struct {
	Version  int            `yaml:"version" json:"version"`
	Defaults DefaultsConfig `yaml:"defaults" json:"defaults"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// DefaultsConfig holds the values applied to launches and queries that do
// not set their own.
type DefaultsConfig struct {
	Dimensions    string   `yaml:"dimensions" json:"dimensions"`         // WIDTHxHEIGHT
	Mode          string   `yaml:"mode" json:"mode"`                     // stream | buffer
	LaunchTimeout Duration `yaml:"launch_timeout" json:"launch_timeout"` // default expect timeout of a new session
	ExpectTimeout Duration `yaml:"expect_timeout" json:"expect_timeout"`
	KeyDelay      Duration `yaml:"key_delay" json:"key_delay"` // pause after send_keys
	PollInterval  Duration `yaml:"poll_interval" json:"poll_interval"`
	CloseGrace    Duration `yaml:"close_grace" json:"close_grace"` // SIGTERM to SIGKILL
	Shell         string   `yaml:"shell" json:"shell"`
}

// LoggingConfig selects the log level, format and destination.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // auto | text | json
	// File appends logs to this path instead of stderr.
	File string `yaml:"file,omitempty" json:"file,omitempty"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() *Config {
	d := harness.DefaultDefaults()
	return &Config{
		Version: 1,
		Defaults: DefaultsConfig{
			Dimensions:    d.Dimensions,
			Mode:          d.Mode,
			LaunchTimeout: Duration(d.LaunchTimeout),
			ExpectTimeout: Duration(d.ExpectTimeout),
			KeyDelay:      Duration(d.KeyDelay),
			PollInterval:  Duration(d.PollInterval),
			CloseGrace:    Duration(d.CloseGrace),
			Shell:         d.Shell,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: string(logs.FormatAuto),
		},
	}
}

// Path returns the config file location: $TUITEST_HOME/config.yaml, or
// ~/.tuitest/config.yaml.
func Path() string {
	if home := os.Getenv("TUITEST_HOME"); home != "" {
		return filepath.Join(home, "config.yaml")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".tuitest", "config.yaml")
	}
	return filepath.Join(homeDir, ".tuitest", "config.yaml")
}

// Load reads the config at Path. A missing file yields the defaults.
func Load() (*Config, error) {
	return read(Path(), true)
}

// LoadFile reads the config at path, which must exist.
func LoadFile(path string) (*Config, error) {
	return read(path, false)
}

func read(path string, missingOK bool) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && missingOK:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path atomically.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := c.Marshal()
	if err != nil {
		return err
	}

	// Write to a temp file, fsync, then rename.
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Marshal renders the config as YAML with a header comment.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	header := []byte("# tuitest configuration\n\n")
	return append(header, data...), nil
}

// Validate checks that all configuration values are usable. Errors match
// harness.ErrConfig.
func (c *Config) Validate() error {
	if c.Version < 1 {
		return fmt.Errorf("%w: version must be >= 1", harness.ErrConfig)
	}

	d := c.Defaults
	if _, _, err := harness.ParseDimensions(d.Dimensions); err != nil {
		return fmt.Errorf("defaults.dimensions: %w", err)
	}
	if _, err := session.ParseMode(d.Mode); err != nil {
		return fmt.Errorf("%w: defaults.mode: %w", harness.ErrConfig, err)
	}
	for _, f := range []struct {
		name string
		v    Duration
	}{
		{"defaults.launch_timeout", d.LaunchTimeout},
		{"defaults.expect_timeout", d.ExpectTimeout},
		{"defaults.key_delay", d.KeyDelay},
		{"defaults.poll_interval", d.PollInterval},
		{"defaults.close_grace", d.CloseGrace},
	} {
		if f.v < 0 {
			return fmt.Errorf("%w: %s cannot be negative", harness.ErrConfig, f.name)
		}
	}
	if d.PollInterval.Duration() < time.Millisecond {
		return fmt.Errorf("%w: defaults.poll_interval must be at least 1ms", harness.ErrConfig)
	}
	if strings.TrimSpace(d.Shell) == "" {
		return fmt.Errorf("%w: defaults.shell cannot be empty", harness.ErrConfig)
	}

	if _, err := logs.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging.level: %w", harness.ErrConfig, err)
	}
	if _, err := logs.ParseFormat(c.Logging.Format); err != nil {
		return fmt.Errorf("%w: logging.format: %w", harness.ErrConfig, err)
	}
	return nil
}

// ApplyEnvOverrides updates the config from TUITEST_* environment variables.
// Unparseable durations are ignored.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("TUITEST_DIMENSIONS"); v != "" {
		c.Defaults.Dimensions = v
	}
	if v := os.Getenv("TUITEST_MODE"); v != "" {
		c.Defaults.Mode = v
	}
	if v := os.Getenv("TUITEST_SHELL"); v != "" {
		c.Defaults.Shell = v
	}
	envDuration("TUITEST_LAUNCH_TIMEOUT", &c.Defaults.LaunchTimeout)
	envDuration("TUITEST_EXPECT_TIMEOUT", &c.Defaults.ExpectTimeout)
	envDuration("TUITEST_KEY_DELAY", &c.Defaults.KeyDelay)
	envDuration("TUITEST_POLL_INTERVAL", &c.Defaults.PollInterval)
	envDuration("TUITEST_CLOSE_GRACE", &c.Defaults.CloseGrace)

	if v := os.Getenv("TUITEST_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TUITEST_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("TUITEST_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
}

func envDuration(name string, dst *Duration) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = Duration(d)
	}
}

// HarnessDefaults converts the defaults section for harness.New.
func (c *Config) HarnessDefaults() harness.Defaults {
	d := c.Defaults
	return harness.Defaults{
		Dimensions:    d.Dimensions,
		Mode:          d.Mode,
		LaunchTimeout: d.LaunchTimeout.Duration(),
		ExpectTimeout: d.ExpectTimeout.Duration(),
		KeyDelay:      d.KeyDelay.Duration(),
		PollInterval:  d.PollInterval.Duration(),
		CloseGrace:    d.CloseGrace.Duration(),
		Shell:         d.Shell,
	}
}

// LogOptions converts the logging section for logs.New.
func (c *Config) LogOptions() logs.Options {
	return logs.Options{Level: c.Logging.Level, Format: logs.Format(c.Logging.Format)}
}
