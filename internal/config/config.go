// Package config loads feedcard's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Source kinds.
const (
	SourceGraphQL = "graphql"
	SourceRSS     = "rss"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// Config is the persistent application configuration.
type Config struct {
	// DataDir holds the database, event log and log files. Defaults to ~/.feedcard.
	DataDir string `yaml:"data_dir"`

	// Languages the user can cycle through; Language is the one selected at startup.
	Languages []string `yaml:"languages"`
	Language  string   `yaml:"language"`

	Source    SourceConfig    `yaml:"source"`
	Store     StoreConfig     `yaml:"store"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// SourceConfig selects where items come from.
type SourceConfig struct {
	Kind      string        `yaml:"kind"` // "graphql" or "rss"
	Endpoint  string        `yaml:"endpoint"`
	Timeout   time.Duration `yaml:"timeout"`
	Retries   int           `yaml:"retries"`
	RateLimit float64       `yaml:"rate_limit"` // requests per second, 0 = unlimited
	UserAgent string        `yaml:"user_agent"`

	// Feeds maps a language tag to the RSS/Atom URLs read for it (kind: rss).
	Feeds map[string][]string `yaml:"feeds"`
}

// StoreConfig configures the seen-set persistence.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "badger"
	Path   string `yaml:"path"`   // file (sqlite) or directory (badger); relative to DataDir
	Key    string `yaml:"key"`    // name of the record holding the seen set
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool              `yaml:"enabled"`
	ServiceName string            `yaml:"service_name"`
	Endpoint    string            `yaml:"endpoint"`
	Protocol    string            `yaml:"protocol"` // "grpc" or "http/protobuf"
	Headers     map[string]string `yaml:"headers"`
	Insecure    bool              `yaml:"insecure"`
	SampleRatio float64           `yaml:"sample_ratio"`
}

// Default returns sensible defaults.
func Default() *Config {
	return &Config{
		DataDir:   defaultDataDir(),
		Languages: []string{"en", "hi"},
		Language:  "en",
		Source: SourceConfig{
			Kind:      SourceGraphQL,
			Endpoint:  "http://localhost:4000/graphql",
			Timeout:   30 * time.Second,
			Retries:   2,
			RateLimit: 2,
			UserAgent: "feedcard/0.1",
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
			Path:   "feedcard.db",
			Key:    "readArticles",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "feedcard",
			Protocol:    "grpc",
			SampleRatio: 1,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".feedcard"
	}
	return filepath.Join(home, ".feedcard")
}

// Path returns the config file location: $FEEDCARD_CONFIG or DataDir/config.yaml.
func Path() string {
	if p := envString("FEEDCARD_CONFIG", ""); p != "" {
		return p
	}
	return filepath.Join(defaultDataDir(), "config.yaml")
}

// Load reads config from path on top of Default(). A missing file is not an
// error. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to path as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Language) == "" {
		return errors.New("config: language is required")
	}
	if !c.HasLanguage(c.Language) {
		c.Languages = append(c.Languages, c.Language)
	}

	switch c.Source.Kind {
	case SourceGraphQL:
		if strings.TrimSpace(c.Source.Endpoint) == "" {
			return errors.New("config: source.endpoint is required for graphql")
		}
	case SourceRSS:
		if len(c.Source.Feeds) == 0 {
			return errors.New("config: source.feeds is required for rss")
		}
	default:
		return fmt.Errorf("config: unknown source.kind %q (expected graphql or rss)", c.Source.Kind)
	}
	if c.Source.Timeout <= 0 {
		return errors.New("config: source.timeout must be > 0")
	}
	if c.Source.Retries < 0 {
		return errors.New("config: source.retries must be >= 0")
	}

	switch c.Store.Driver {
	case DriverSQLite, DriverBadger:
	default:
		return fmt.Errorf("config: unknown store.driver %q (expected sqlite or badger)", c.Store.Driver)
	}
	if strings.TrimSpace(c.Store.Key) == "" {
		return errors.New("config: store.key is required")
	}

	c.Telemetry.SampleRatio = clamp01(c.Telemetry.SampleRatio)
	return nil
}

// HasLanguage reports whether lang is one of the configured languages.
func (c *Config) HasLanguage(lang string) bool {
	for _, l := range c.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// StorePath resolves Store.Path against DataDir. ":memory:" passes through.
func (c *Config) StorePath() string {
	p := c.Store.Path
	if p == ":memory:" || p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// EventLogPath is where the JSONL event log is written.
func (c *Config) EventLogPath() string {
	return filepath.Join(c.DataDir, "feedcard.events.jsonl")
}

// LogDir is where the human-readable log files are written.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}
