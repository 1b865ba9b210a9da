// Package config loads the tabular application configuration from YAML,
// with defaults for every field and a small set of environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tabular configuration.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Source  SourceConfig  `yaml:"source"`
	Logging LoggingConfig `yaml:"logging"`
	Layout  LayoutConfig  `yaml:"layout"`
}

// EngineConfig tunes the table engine.
type EngineConfig struct {
	// Mode selects where the row pipeline runs: "client" or "server".
	Mode string `yaml:"mode"`

	PageSize  int     `yaml:"page_size"`
	Overscan  int     `yaml:"overscan"`
	RowHeight float64 `yaml:"row_height"`

	// DebounceMS is the delay applied to global-filter input before a
	// server fetch is issued.
	DebounceMS int `yaml:"debounce_ms"`

	// Strict makes duplicate row ids fatal instead of deduplicated
	// (development configuration).
	Strict bool `yaml:"strict"`

	// DropSelectionOnRemoval drops a row's selection when the row
	// disappears from the data set; default keeps selection by id.
	DropSelectionOnRemoval bool `yaml:"drop_selection_on_removal"`

	// EditScope is "table" (one edit session per table, default) or "row".
	EditScope string `yaml:"edit_scope"`
}

// Debounce returns the configured debounce duration.
func (e EngineConfig) Debounce() time.Duration {
	return time.Duration(e.DebounceMS) * time.Millisecond
}

// SourceConfig selects and configures the data source.
type SourceConfig struct {
	// Driver is "csv", "sqlite" or "memory".
	Driver string `yaml:"driver"`

	// Path is the CSV or SQLite file path.
	Path string `yaml:"path"`

	// Table, IDColumn and Columns configure the sqlite driver.
	Table    string   `yaml:"table"`
	IDColumn string   `yaml:"id_column"`
	Columns  []string `yaml:"columns"`

	// Watch enables file-change refresh for the csv driver.
	Watch bool `yaml:"watch"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	File        string `yaml:"file"`
}

// LayoutConfig configures layout-state persistence.
type LayoutConfig struct {
	// Path of the persisted layout JSON; empty disables persistence.
	Path string `yaml:"path"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			Mode:       "client",
			Overscan:   5,
			RowHeight:  1,
			DebounceMS: 300,
			EditScope:  "table",
		},
		Source: SourceConfig{
			Driver: "csv",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults plus environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv layers TABULAR_* environment overrides on top of file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("TABULAR_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TABULAR_MODE"); v != "" {
		c.Engine.Mode = v
	}
	if v := os.Getenv("TABULAR_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.PageSize = n
		}
	}
	if v := os.Getenv("TABULAR_SOURCE_PATH"); v != "" {
		c.Source.Path = v
	}
}

func (c *Config) validate() error {
	switch c.Engine.Mode {
	case "client", "server":
	default:
		return fmt.Errorf("config: engine.mode must be client or server, got %q", c.Engine.Mode)
	}
	switch c.Engine.EditScope {
	case "table", "row":
	default:
		return fmt.Errorf("config: engine.edit_scope must be table or row, got %q", c.Engine.EditScope)
	}
	switch c.Source.Driver {
	case "csv", "sqlite", "memory":
	default:
		return fmt.Errorf("config: source.driver must be csv, sqlite or memory, got %q", c.Source.Driver)
	}
	if c.Engine.PageSize < 0 {
		return fmt.Errorf("config: engine.page_size must not be negative")
	}
	return nil
}
